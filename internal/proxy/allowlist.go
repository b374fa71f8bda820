package proxy

import (
	"net"
	"strings"
)

// AllowList matches hosts against exact names and "*.suffix" wildcards.
// A wildcard matches any subdomain of suffix, not suffix itself.
type AllowList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewAllowList builds an allow-list from host patterns
func NewAllowList(patterns []string) *AllowList {
	a := &AllowList{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case strings.HasPrefix(p, "*."):
			a.suffixes = append(a.suffixes, p[1:])
		default:
			a.exact[p] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether host may be proxied. Ports are ignored.
func (a *AllowList) Allowed(host string) bool {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return false
	}

	if _, ok := a.exact[host]; ok {
		return true
	}
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns
func (a *AllowList) Len() int {
	return len(a.exact) + len(a.suffixes)
}
