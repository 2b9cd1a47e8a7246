package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/privacy"
	"wagateway/internal/tracing"
	"wagateway/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type dataResponse struct {
	Data interface{} `json:"data"`
}

// tenant returns the normalized phone number path parameter.
func (s *Server) tenant(r *http.Request) (string, error) {
	phone, err := validation.NormalizePhoneNumber(mux.Vars(r)["phoneNumber"])
	if err != nil {
		return "", apperrors.NewValidationError("phoneNumber", err.Error())
	}
	return phone, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, s.cfg.MaxBodyBytes); err != nil {
		return apperrors.NewValidationError("body", err.Error())
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.NewValidationError("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.NewValidationError("body", "request body is empty")
		default:
			return apperrors.NewValidationError("body", "malformed JSON")
		}
	}
	return nil
}

func (s *Server) writeData(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, dataResponse{Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	requestID := tracing.GetRequestID(r.Context())

	fields := logrus.Fields{
		constants.LogFieldRequestID:  requestID,
		constants.LogFieldStatusCode: status,
	}
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, tplErr := route.GetPathTemplate(); tplErr == nil {
			fields[constants.LogFieldURL] = tpl
		}
	}
	if phone := mux.Vars(r)["phoneNumber"]; phone != "" {
		fields[constants.LogFieldTenant] = privacy.MaskPhoneNumber(phone)
	}
	entry := s.logger.WithFields(fields).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
