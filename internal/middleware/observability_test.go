package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"wagateway/internal/httputil"
	"wagateway/internal/metrics"
	"wagateway/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func TestObservability(t *testing.T) {
	logger, logs := bufferedLogger()

	router := mux.NewRouter()
	router.Use(Observability(logger, nil))
	router.HandleFunc("/connections/{phoneNumber}", func(w http.ResponseWriter, r *http.Request) {
		info := tracing.GetRequestInfo(r.Context())
		assert.NotEmpty(t, info.RequestID)
		assert.NotEmpty(t, info.TraceID)
		assert.False(t, info.StartTime.IsZero())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}).Methods(http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/connections/5511999999999", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get(HeaderRequestID), "req_"))

	labels := map[string]string{"method": "POST", "route": "/connections/{phoneNumber}", "status_code": "201"}
	assert.GreaterOrEqual(t, metrics.GetRegistry().Counter(metrics.HTTPRequests, labels), float64(1))

	out := logs.String()
	assert.Contains(t, out, "HTTP request started")
	assert.Contains(t, out, "HTTP request completed")
	assert.Contains(t, out, `"url":"/connections/{phoneNumber}"`)
	assert.NotContains(t, out, "5511999999999", "raw tenant numbers stay out of access logs")
	assert.Contains(t, out, `"size_bytes":7`)
}

func TestObservability_ErrorStatusLogLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warning"},
		{http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, logs := bufferedLogger()
			logger.SetLevel(logrus.InfoLevel)
			h := Observability(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status_code"])
			assert.Equal(t, "unmatched", entry["url"])
		})
	}
}

func TestObservability_UsesTrustedClientIP(t *testing.T) {
	logger, logs := bufferedLogger()
	logger.SetLevel(logrus.InfoLevel)
	ips, err := httputil.NewClientIPResolver([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	h := Observability(logger, ips)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, logs.String(), `"remote_ip":"198.51.100.7"`)
}

func TestResponseWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, rw.statusCode, "first status wins")
	assert.Equal(t, int64(5), rw.responseSize)
	assert.Same(t, rec, rw.Unwrap())

	rw.Flush()
	assert.True(t, rec.Flushed)

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")

	var _ http.Hijacker = rw
	var _ http.Flusher = rw
}

func TestObservability_ConcurrentRequests(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	h := Observability(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			ids <- w.Header().Get(HeaderRequestID)
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "request ids are unique")
		seen[id] = true
	}
	assert.Len(t, seen, 20)
}
