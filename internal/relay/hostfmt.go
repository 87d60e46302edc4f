package relay

import (
	"fmt"
	"strings"
)

// FormatHost brackets IPv6 literals for use in a URL authority. Hostnames,
// IPv4 literals and already-bracketed hosts are returned unchanged.
func FormatHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

// BuildTransportURL returns the RTSP URL the appliance dials for a stream.
func BuildTransportURL(host string, port int, identifier string) string {
	return fmt.Sprintf("rtsp://%s:%d/%s", FormatHost(host), port, identifier)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.Trim(host, "[]")) {
	case "127.0.0.1", "localhost", "::1":
		return true
	default:
		return false
	}
}
