package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller address, honoring X-Forwarded-For and
// X-Real-IP only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

func NewClientIPResolver(trustedCIDRs []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

// ClientIP returns the best-known client address for req.
func (c *ClientIPResolver) ClientIP(req *http.Request) string {
	peer := remoteHost(req.RemoteAddr)
	if !c.isTrusted(peer) {
		return peer
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (c *ClientIPResolver) isTrusted(host string) bool {
	if c == nil || len(c.trusted) == 0 {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range c.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteHost strips the port, including bracketed IPv6 forms.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}
