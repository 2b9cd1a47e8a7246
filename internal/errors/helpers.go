package errors

import (
	"fmt"
	"net/http"
)

// NewAlreadyConnectedError is returned when a session already holds a client handle.
func NewAlreadyConnectedError(tenant string) *AppError {
	return New(ErrCodeAlreadyConnected, "connection already exists").
		WithContext("tenant", tenant).
		WithUserMessage("Connection already exists")
}

// NewNotConnectedError is returned when no live client handle exists for a tenant.
func NewNotConnectedError(tenant string) *AppError {
	return New(ErrCodeNotConnected, "connection does not exist").
		WithContext("tenant", tenant).
		WithUserMessage("Connection does not exist")
}

func NewIdentityMismatchError(tenant, resolved string) *AppError {
	return New(ErrCodeIdentityMismatch, "resolved identity does not match tenant").
		WithContext("tenant", tenant).
		WithContext("resolved", resolved)
}

func NewStatusNotFoundError(jid string) *AppError {
	return New(ErrCodeStatusNotFound, "phone status not found").
		WithContext("jid", jid).
		WithUserMessage("Phone status not found")
}

// NewCommitError marks an exhausted credential store commit.
func NewCommitError(attempts int, err error) *AppError {
	return WrapRetryable(err, ErrCodeStoreCommit, fmt.Sprintf("commit failed after %d attempts", attempts)).
		WithContext("attempts", attempts).
		WithUserMessage("Credential store unavailable")
}

func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreAccess, fmt.Sprintf("credential store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Credential store unavailable")
}

func NewDeliveryError(statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeWebhookDelivery, "webhook delivery failed")
	if statusCode > 0 {
		appErr = appErr.WithContext("status_code", statusCode)
	}
	return appErr
}

func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotConnected, ErrCodeNotFound, ErrCodeStatusNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyConnected:
		return http.StatusConflict
	case ErrCodeWebhookDelivery, ErrCodeMediaDownload:
		return http.StatusBadGateway
	case ErrCodeStoreCommit, ErrCodeStoreAccess:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			// tenant numbers and tokens never leave the process
			if k != "token" && k != "secret" && k != "tenant" && k != "resolved" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
