package guard

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// LookupHostFunc resolves a hostname to IP strings. Tests inject a
// fake; production uses net.LookupHost.
type LookupHostFunc func(host string) ([]string, error)

// NetworkPolicy is the effective policy applied to URL-bearing tool
// actions before they execute.
type NetworkPolicy struct {
	AllowedURLPrefixes []string
	DenyPrivateIPs     bool
	ResolveDNS         bool
	FollowRedirects    bool
	AllowProxy         bool

	LookupHost LookupHostFunc
}

// CheckHost rejects hosts that are, or resolve to, private/loopback
// addresses when DenyPrivateIPs is set.
func (p NetworkPolicy) CheckHost(host string) error {
	if !p.DenyPrivateIPs {
		return nil
	}
	return ResolveAndCheckHost(host, p.ResolveDNS, p.LookupHost)
}

// CheckURL applies the prefix allowlist and the host policy to a raw
// URL.
func (p NetworkPolicy) CheckURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty url")
	}
	if !URLAllowedByPrefixes(raw, p.AllowedURLPrefixes) {
		return fmt.Errorf("url not in allowlist: %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return p.CheckHost(u.Hostname())
}

// IsDeniedPrivateHost reports whether host is a literal address that
// must never be fetched: empty, localhost, loopback, private ranges,
// link-local, or unspecified. Non-IP hostnames are not denied at the
// literal level; pair with DNS resolution for those.
func IsDeniedPrivateHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return isDeniedIP(ip)
}

func isDeniedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ResolveAndCheckHost checks the literal host first, then (when
// resolveDNS is set) every address it resolves to. A hostname whose
// records point at a private address is rejected, closing the DNS
// rebinding door.
func ResolveAndCheckHost(host string, resolveDNS bool, lookup LookupHostFunc) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if IsDeniedPrivateHost(host) {
		return fmt.Errorf("host is private or loopback: %s", host)
	}
	if !resolveDNS {
		return nil
	}
	if net.ParseIP(host) != nil {
		// Literal, already checked.
		return nil
	}
	if lookup == nil {
		lookup = net.LookupHost
	}
	addrs, err := lookup(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		ip := net.ParseIP(strings.TrimSpace(a))
		if ip == nil {
			continue
		}
		if isDeniedIP(ip) {
			return fmt.Errorf("host %s resolves to private address %s", host, a)
		}
	}
	return nil
}

// URLAllowedByPrefixes reports whether raw matches at least one
// allowed prefix. An empty allowlist allows nothing (fail-closed).
func URLAllowedByPrefixes(raw string, prefixes []string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(raw, p) {
			return true
		}
	}
	return false
}
