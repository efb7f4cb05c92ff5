package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig controls which upstreams may assert a client IP on behalf of the
// real client.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP resolves the client IP for rate limiting and audit records.
// Forwarding headers are honored only when the direct peer sits inside a
// trusted proxy range; anything else could spoof its way past per-IP limits.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := peerAddr(r)

	if config != nil && fromTrustedProxy(remoteIP, config.TrustedProxies) {
		// X-Forwarded-For may hold a chain; the first parseable entry is
		// the originating client.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, hop := range strings.Split(xff, ",") {
				hop = strings.TrimSpace(hop)
				if _, err := netip.ParseAddr(hop); err == nil {
					return hop
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if _, err := netip.ParseAddr(xri); err == nil {
				return xri
			}
		}
	}

	return remoteIP
}

// peerAddr strips the port from RemoteAddr if present.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func fromTrustedProxy(ip string, trustedProxies []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue // ignore malformed config entries
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
