package utils

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// IsTrustedIP reports whether addr is listed in trustedList, a comma
// separated mix of addresses and CIDR ranges.
func IsTrustedIP(addr string, trustedList string) bool {
	clientIP := net.ParseIP(addr)
	if clientIP == nil {
		return false
	}

	for _, item := range strings.Split(trustedList, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if strings.Contains(item, "/") {
			_, subnet, err := net.ParseCIDR(item)
			if err == nil && subnet.Contains(clientIP) {
				return true
			}
		} else if ip := net.ParseIP(item); ip != nil && ip.Equal(clientIP) {
			return true
		}
	}
	return false
}

type ProxyConfig struct {
	TrustedIPs    string
	TrustProxy    bool
	UseCloudflare bool
}

// ClientIP returns the address a request originated from. Forwarding
// headers are honoured only when the direct peer is a trusted proxy.
func ClientIP(c echo.Context, cfg ProxyConfig) string {
	peer := c.Request().RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !IsTrustedIP(peer, cfg.TrustedIPs) {
		return peer
	}

	if cfg.UseCloudflare {
		if cfIP := strings.TrimSpace(c.Request().Header.Get("CF-Connecting-IP")); net.ParseIP(cfIP) != nil {
			return cfIP
		}
	}

	if cfg.TrustProxy {
		if xff := c.Request().Header.Get(echo.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRealIP)); net.ParseIP(xri) != nil {
			return xri
		}
	}

	return peer
}
