package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	DLNBaseURL     = "https://dln.debridge.finance/v1.0"
	DLNExplorerURL = "https://app.debridge.finance/order"
)

var allowedAPIURLs = []string{DLNBaseURL}

// IsAllowedAPIURL reports whether endpoint may be used as the swap API base.
// Loopback hosts are accepted over plain http for local testing.
func IsAllowedAPIURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	for _, raw := range allowedAPIURLs {
		allowed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
			continue
		}
		if normalizedURLPort(parsed) != normalizedURLPort(allowed) {
			continue
		}
		if normalizedURLPath(parsed.Path) == normalizedURLPath(allowed.Path) {
			return true
		}
	}
	return false
}

// OrderExplorerURL links to the public order page.
func OrderExplorerURL(orderID string) string {
	return DLNExplorerURL + "?orderId=" + url.QueryEscape(strings.TrimSpace(orderID))
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if parsed == nil {
		return ""
	}
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func normalizedURLPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
