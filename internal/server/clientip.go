package server

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the identifier used to rate limit r. Forwarding headers are
// honoured only when trustProxy is set; trustedProxyCount is the number of
// proxies we control at the right-hand end of X-Forwarded-For.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := max(trustedProxyCount, 1)
	idx := max(len(ips)-proxies-1, 0)

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
