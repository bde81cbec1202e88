// Package smtp receives mail over SMTP and hands each message to the relay.
package smtp

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Allowlist decides which client addresses may open a session.
// An empty Allowlist admits every client.
type Allowlist struct {
	prefixes []netip.Prefix
}

// ParseAllowlist builds an Allowlist from CIDR blocks or single addresses.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", e, err)
			}
			a.prefixes = append(a.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}

		p, err := netip.ParsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", e, err)
		}
		// Client addresses are matched in their IPv4 form, so mapped
		// prefixes are stored that way too.
		if p.Addr().Is4In6() {
			if p.Bits() < 96 {
				return nil, fmt.Errorf("invalid network %q: IPv4-mapped prefix shorter than /96", e)
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		a.prefixes = append(a.prefixes, p.Masked())
	}
	return a, nil
}

// Open returns true if no networks are configured.
func (a *Allowlist) Open() bool {
	return a == nil || len(a.prefixes) == 0
}

// Allows reports whether a client at addr may connect.
func (a *Allowlist) Allows(addr net.Addr) bool {
	if a.Open() {
		return true
	}

	ip, ok := clientIP(addr)
	if !ok {
		return false
	}
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// String lists the configured networks, comma separated.
func (a *Allowlist) String() string {
	if a.Open() {
		return ""
	}
	s := make([]string, len(a.prefixes))
	for i, p := range a.prefixes {
		s[i] = p.String()
	}
	return strings.Join(s, ",")
}

func clientIP(addr net.Addr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ip, ok := netip.AddrFromSlice(tcp.IP)
		return ip.Unmap(), ok
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
