package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Session lifecycle errors
	ErrCodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrCodeIdentityMismatch ErrorCode = "IDENTITY_MISMATCH"
	ErrCodeStatusNotFound   ErrorCode = "STATUS_NOT_FOUND"

	// Credential store errors
	ErrCodeStoreCommit ErrorCode = "STORE_COMMIT"
	ErrCodeStoreAccess ErrorCode = "STORE_ACCESS"

	// Delivery errors
	ErrCodeWebhookDelivery ErrorCode = "WEBHOOK_DELIVERY"
	ErrCodeMediaDownload   ErrorCode = "MEDIA_DOWNLOAD"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Request errors
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error chain
func GetCode(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	appErr, ok := As(err)
	for ok {
		if appErr.Code == code {
			return true
		}
		appErr, ok = As(appErr.Cause)
	}
	return false
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "An internal error occurred"
}
