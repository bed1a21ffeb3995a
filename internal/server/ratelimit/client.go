package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the key a request is limited under: the first usable
// X-Forwarded-For hop, then X-Real-IP, then the peer address. Ports are
// dropped so that one client maps to one bucket.
func ClientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := hostOnly(hop); ip != "" && !strings.EqualFold(ip, "unknown") {
			return ip
		}
	}
	if ip := hostOnly(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
