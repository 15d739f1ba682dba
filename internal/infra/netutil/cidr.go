package netutil

import (
	"net"
	"strings"
)

// ParseCIDRs parses CIDR strings into networks. Entries that fail to parse
// are returned separately so the caller can report them.
func ParseCIDRs(cidrs []string) (out []*net.IPNet, invalid []string) {
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		out = append(out, n)
	}
	return out, invalid
}

// Contains reports whether ip is inside any of nets.
func Contains(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
