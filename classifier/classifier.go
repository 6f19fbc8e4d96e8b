// Package classifier decides which labels of a host constitute a legitimate
// cookie scope. It wraps golang.org/x/net/publicsuffix — the same
// authoritative public-suffix list net/http/cookiejar is built on — and
// layers the localhost/IP-literal/single-unlisted-label exceptions the
// engine needs on top, the way the ble-cookiejar publicsuffixes.go rule
// table layers exceptions over its own hand-rolled rule matcher.
package classifier

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// IsValidCookieScope reports whether label is specific enough to be used
// as a cookie's Domain attribute. It rejects bare public suffixes (TLDs
// and known multi-part suffixes like co.uk) while allowing localhost, IP
// literals, and single unlisted labels such as an intranet hostname.
func IsValidCookieScope(label string) bool {
	label = strings.TrimSuffix(strings.ToLower(label), ".")
	if label == "" {
		return false
	}
	if label == "localhost" {
		return true
	}
	if isIPLiteral(label) {
		return true
	}

	suffix, icann := publicsuffix.PublicSuffix(label)
	if label == suffix {
		// The whole label IS a public suffix (bare TLD, or a multi-part
		// suffix like "co.uk" with nothing in front of it) -- reject,
		// unless the suffix lookup found no rule at all (icann is false
		// and suffix == label only by virtue of the "*" default rule),
		// in which case treat it as an unlisted single label.
		if icann || strings.Contains(suffix, ".") {
			return false
		}
		return true
	}
	return true
}

func isIPLiteral(host string) bool {
	h := strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return net.ParseIP(h) != nil
}

// ParentDomainWalk returns the sequence of parent domains starting at host
// and walking up one label at a time, stopping the moment the next parent
// would fail IsValidCookieScope. For "a.b.example.co.uk" this yields
// {a.b.example.co.uk, b.example.co.uk, example.co.uk}.
func ParentDomainWalk(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if isIPLiteral(host) || host == "localhost" {
		return []string{host}
	}

	labels := strings.Split(host, ".")
	var out []string
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if !IsValidCookieScope(candidate) {
			break
		}
		out = append(out, candidate)
	}
	return out
}

// EffectiveTLDPlusOne returns the registrable domain (public suffix plus
// one label), mirroring publicsuffix.EffectiveTLDPlusOne but tolerating
// IP literals and localhost by returning the host unchanged.
func EffectiveTLDPlusOne(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if isIPLiteral(host) || host == "localhost" {
		return host, nil
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}
