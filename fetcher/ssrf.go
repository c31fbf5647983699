package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrNonPublicHost is returned when a host is an IP literal or resolves into
// the blocked CIDR union.
var ErrNonPublicHost = errors.New("fetcher: non-public host")

// ErrNotHTTPS is returned for any non-https URL, including redirect targets
// and renderer-returned final URLs.
var ErrNotHTTPS = errors.New("fetcher: only https URLs are allowed")

// blockedV4 is the IPv4 blocked CIDR union: "this" network, RFC 1918,
// CGNAT, loopback, link-local, protocol assignments, documentation ranges,
// benchmarking, multicast, reserved.
var blockedV4 = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

// blockedV6 is the IPv6 blocked CIDR union: unspecified, loopback, ULA,
// link-local, multicast, documentation.
var blockedV6 = mustPrefixes(
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"2001:db8::/32",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// blockedIP reports whether addr falls inside the blocked union.
// IPv4-mapped IPv6 addresses are checked against the IPv4 table.
func blockedIP(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is4() {
		for _, p := range blockedV4 {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}
	for _, p := range blockedV6 {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// checkHost resolves host and fails if it is an IP literal or any resolved
// address is non-public. Resolution errors fail closed: an unresolvable
// host cannot be proven safe.
func checkHost(ctx context.Context, resolver *net.Resolver, host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrNonPublicHost)
	}

	// IP literals are refused outright, public or not: the proxy talks to
	// names, never to raw addresses.
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return fmt.Errorf("%w: IP literal %s", ErrNonPublicHost, addr)
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrNonPublicHost, host, err)
	}
	for _, a := range addrs {
		if blockedIP(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrNonPublicHost, host, a)
		}
	}
	return nil
}

// checkURL enforces the https-only scheme and the SSRF guard on u.
func checkURL(ctx context.Context, resolver *net.Resolver, u *url.URL) error {
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: got %q", ErrNotHTTPS, u.Scheme)
	}
	return checkHost(ctx, resolver, u.Hostname())
}
