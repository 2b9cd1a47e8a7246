package middleware

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"wagateway/internal/constants"
	"wagateway/internal/httputil"
	"wagateway/internal/metrics"
	"wagateway/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HeaderRequestID echoes the request id back to the caller.
const HeaderRequestID = "X-Request-Id"

// Observability adds request ids, a span, metrics and access logs to every request
func Observability(logger *logrus.Logger, ips *httputil.ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracing.WithOtelTracing(r.Context(), "http_request")
			defer span.End()

			requestID := tracing.GenerateRequestID()
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, start)
			if tracing.GetTraceID(ctx) == "" {
				ctx = tracing.WithTraceID(ctx, requestID)
			}
			r = r.WithContext(ctx)
			w.Header().Set(HeaderRequestID, requestID)

			route := routeTemplate(r)
			clientIP := ips.ClientIP(r)
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP),
			)

			requestInfo := tracing.GetRequestInfo(ctx)
			logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID: requestInfo.RequestID,
				constants.LogFieldTraceID:   requestInfo.TraceID,
				constants.LogFieldMethod:    r.Method,
				constants.LogFieldURL:       route,
				constants.LogFieldRemoteIP:  clientIP,
				constants.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			status := strconv.Itoa(wrapper.statusCode)
			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}

			labels := map[string]string{"method": r.Method, "route": route, "status_code": status}
			metrics.IncrementCounter(metrics.HTTPRequests, labels)
			metrics.RecordTimer(metrics.HTTPRequestDuration, duration, map[string]string{"method": r.Method, "route": route})

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID:  requestInfo.RequestID,
				constants.LogFieldTraceID:    requestInfo.TraceID,
				constants.LogFieldMethod:     r.Method,
				constants.LogFieldURL:        route,
				constants.LogFieldStatusCode: wrapper.statusCode,
				constants.LogFieldDuration:   duration.Milliseconds(),
				constants.LogFieldRemoteIP:   clientIP,
				constants.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeTemplate keeps phone numbers and message ids out of metric labels.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (rw *responseWrapper) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
