package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/httputil"
	"wagateway/internal/tracing"

	"github.com/sirupsen/logrus"
)

// HeaderAPIKey carries the shared API key.
const HeaderAPIKey = "x-api-key"

// APIKey rejects requests whose x-api-key header does not match the key
// returned by current. An empty key disables the check. Paths in open are
// always allowed.
func APIKey(current func() string, ips *httputil.ClientIPResolver, logger *logrus.Logger, open ...string) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(open))
	for _, p := range open {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			expected := current()
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(HeaderAPIKey)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				logger.WithFields(logrus.Fields{
					constants.LogFieldRemoteIP: ips.ClientIP(r),
					constants.LogFieldURL:      r.URL.Path,
				}).Warn("Rejected request with invalid API key")

				reason := "invalid api key"
				if provided == "" {
					reason = "missing api key"
				}
				err := apperrors.NewAuthError(reason)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apperrors.HTTPStatusCode(err))
				_ = json.NewEncoder(w).Encode(apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
