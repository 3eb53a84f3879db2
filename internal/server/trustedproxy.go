package server

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies manages IP-based trusted proxy detection for client IP
// extraction in the access log.
type TrustedProxies struct {
	networks []*net.IPNet
}

// NewTrustedProxies creates a TrustedProxies from a list of CIDR strings.
// Single IPs are accepted as /32 or /128; invalid entries are ignored.
func NewTrustedProxies(cidrs []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip != nil {
				if ip.To4() != nil {
					_, network, _ = net.ParseCIDR(ip.String() + "/32")
				} else {
					_, network, _ = net.ParseCIDR(ip.String() + "/128")
				}
			}
		}
		if network != nil {
			tp.networks = append(tp.networks, network)
		}
	}
	return tp
}

// IsTrusted reports whether the IP is within any trusted proxy range.
func (tp *TrustedProxies) IsTrusted(ip net.IP) bool {
	for _, network := range tp.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the real client IP from a request. X-Forwarded-For is
// honored only when the direct peer is a trusted proxy.
func (tp *TrustedProxies) ClientIP(r *http.Request) string {
	direct := parseRemoteAddr(r.RemoteAddr)
	if direct == nil || !tp.IsTrusted(direct) {
		if direct == nil {
			return r.RemoteAddr
		}
		return direct.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return direct.String()
	}
	// Leftmost entry is the original client.
	first := strings.TrimSpace(strings.Split(xff, ",")[0])
	if ip := net.ParseIP(first); ip != nil {
		return ip.String()
	}
	return direct.String()
}

func parseRemoteAddr(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
