package httputil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(remote string, headers map[string]string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIP(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.0/8", "::1/128"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      *http.Request
		expected string
	}{
		{
			name:     "direct peer without headers",
			req:      request("203.0.113.5:4321", nil),
			expected: "203.0.113.5",
		},
		{
			name:     "untrusted peer cannot spoof forwarding headers",
			req:      request("203.0.113.5:4321", map[string]string{"X-Forwarded-For": "1.2.3.4"}),
			expected: "203.0.113.5",
		},
		{
			name:     "trusted proxy, first forwarded address wins",
			req:      request("10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"}),
			expected: "198.51.100.7",
		},
		{
			name:     "trusted proxy, X-Real-IP fallback",
			req:      request("10.1.2.3:80", map[string]string{"X-Real-IP": "198.51.100.8"}),
			expected: "198.51.100.8",
		},
		{
			name:     "trusted proxy without headers",
			req:      request("10.1.2.3:80", nil),
			expected: "10.1.2.3",
		},
		{
			name:     "bracketed IPv6 trusted peer",
			req:      request("[::1]:8080", map[string]string{"X-Forwarded-For": "2001:db8::1"}),
			expected: "2001:db8::1",
		},
		{
			name:     "remote addr without port",
			req:      request("192.0.2.1", nil),
			expected: "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolver.ClientIP(tt.req))
		})
	}
}

func TestClientIP_NoTrustedProxies(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	require.NoError(t, err)
	req := request("10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, "10.1.2.3", resolver.ClientIP(req))
}

func TestNewClientIPResolver_InvalidCIDR(t *testing.T) {
	_, err := NewClientIPResolver([]string{"not-a-cidr"})
	assert.Error(t, err)
}
