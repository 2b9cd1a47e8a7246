package main

import (
	"encoding/json"
	"net/http"

	"wagateway/internal/metrics"
	"wagateway/internal/tracing"

	"github.com/sirupsen/logrus"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.gateway.Len()})
	}
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		s.logger.WithFields(logrus.Fields{
			"request_id": requestInfo.RequestID,
			"trace_id":   requestInfo.TraceID,
			"endpoint":   "/metrics",
		}).Debug("Serving metrics endpoint")

		snapshot := metrics.GetSnapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestInfo.RequestID,
				"trace_id":   requestInfo.TraceID,
				"error":      err,
			}).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
}
