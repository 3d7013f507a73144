package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's address. Forwarding headers are only
// honored when trustProxy is set; trustedProxyCount is the number of proxies
// we control at the right end of X-Forwarded-For (0 is treated as 1).
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
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

// clientFromXFF picks the entry just left of the trusted proxies.
//
//	X-Forwarded-For: "1.2.3.4, untrusted-ip, proxy2-ip" with 2 trusted proxies -> "1.2.3.4"
func clientFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(ips) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
