package requestip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParsePrefixes parses a comma-separated list of CIDR ranges or bare IPs.
// Bare IPs become single-host prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if strings.Contains(trimmed, "/") {
				prefix, err := netip.ParsePrefix(trimmed)
				if err != nil {
					return nil, fmt.Errorf("invalid CIDR %q: %w", trimmed, err)
				}
				prefixes = append(prefixes, prefix.Masked())
				continue
			}
			addr, err := netip.ParseAddr(trimmed)
			if err != nil {
				return nil, fmt.Errorf("invalid IP %q: %w", trimmed, err)
			}
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return prefixes, nil
}

// ClientIP returns the client address of r. Forwarded headers are honored
// only when the peer is inside trusted.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !Contains(trusted, remote) {
		return remote.String()
	}

	if addr, ok := forwardedFor(r, trusted); ok {
		return addr.String()
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, ok := parseAddr(xri); ok {
			return addr.String()
		}
	}
	return remote.String()
}

// forwardedFor walks X-Forwarded-For from the nearest hop outwards and
// returns the first address not inside trusted. Entries left of that point
// were written by the client. When every hop is trusted the leftmost wins.
func forwardedFor(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	var hops []netip.Addr
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			if addr, ok := parseAddr(part); ok {
				hops = append(hops, addr)
			}
		}
	}
	if len(hops) == 0 {
		return netip.Addr{}, false
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !Contains(trusted, hops[i]) {
			return hops[i], true
		}
	}
	return hops[0], true
}

// Contains reports whether addr falls inside any prefix.
func Contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseAddr accepts "ip", "ip:port" and bracketed IPv6 forms.
func ParseAddr(value string) (netip.Addr, bool) {
	return parseAddr(value)
}

func parseAddr(value string) (netip.Addr, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		trimmed = host
	}
	trimmed = strings.Trim(trimmed, "[]")
	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
