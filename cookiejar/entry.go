// Package cookiejar implements the partitioned, per-session cookie store
// (C1). The entry/submap shape and the domain/path matching rules below
// are adapted directly from the teacher's cookiejar.go — entry,
// shouldSend, domainMatch, pathMatch, hasDotSuffix — re-keyed by session
// instead of by eTLD+1 alone, since a partition per session (not per
// public-suffix bucket) is the unit this engine persists. Persistence
// itself serializes through persistence.CookieRecord (JSON), not the
// teacher's gob-encoded submaps.
package cookiejar

import (
	"strings"
	"time"
)

// SameSite mirrors the four states an RFC 6265bis cookie attribute can
// take; the engine stores it but does not enforce it (the host browser's
// own outgoing requests apply SameSite filtering).
type SameSite string

const (
	SameSiteUnspecified SameSite = ""
	SameSiteStrict      SameSite = "Strict"
	SameSiteLax         SameSite = "Lax"
	SameSiteNone        SameSite = "None"
)

// Cookie is the engine's cookie value type (§3 data model).
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HttpOnly bool
	SameSite SameSite
	// Expires is nil for a session cookie (lives until the session is
	// deleted).
	Expires *time.Time
}

// Expired reports whether the cookie has passed its expiry at instant now.
func (c *Cookie) Expired(now time.Time) bool {
	return c.Expires != nil && !c.Expires.After(now)
}

// entry is the in-memory representation used inside the jar; it carries
// the bookkeeping fields (Creation/LastAccess/seqNum) the teacher's entry
// type uses to keep Cookies() output deterministic. It never leaves the
// jar directly -- persistence goes through persistence.CookieRecord.
type entry struct {
	Name       string
	Value      string
	Domain     string
	Path       string
	SameSite   SameSite
	Secure     bool
	HttpOnly   bool
	Persistent bool
	HostOnly   bool
	Expires    time.Time
	Creation   time.Time
	LastAccess time.Time
	seqNum     uint64
}

func (e entry) toCookie() *Cookie {
	c := &Cookie{
		Name:     e.Name,
		Value:    e.Value,
		Domain:   e.Domain,
		Path:     e.Path,
		Secure:   e.Secure,
		HttpOnly: e.HttpOnly,
		SameSite: e.SameSite,
	}
	if e.Persistent {
		exp := e.Expires
		c.Expires = &exp
	}
	return c
}

func newEntry(c *Cookie, now time.Time, hostOnly bool) entry {
	e := entry{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		SameSite: c.SameSite,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		HostOnly: hostOnly,
		Creation: now,
		LastAccess: now,
	}
	if c.Expires != nil {
		e.Persistent = true
		e.Expires = *c.Expires
	}
	return e
}

func (e entry) expired(now time.Time) bool {
	return e.Persistent && !e.Expires.After(now)
}

// shouldSend reports whether e should be attached to a request for the
// given scheme/host/path, identical in spirit to the teacher's
// shouldSend/domainMatch/pathMatch trio.
func (e entry) shouldSend(https bool, host, path string) bool {
	return (!e.Secure || https) &&
		domainMatch(host, e.Domain, e.HostOnly) &&
		pathMatch(path, e.Path)
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if host == domain {
		return true
	}
	if !hostOnly && hasDotSuffix(host, domain) {
		return true
	}
	return false
}

func hasDotSuffix(s, suffix string) bool {
	return len(s) > len(suffix) && s[len(s)-len(suffix)-1] == '.' && s[len(s)-len(suffix):] == suffix
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		if cookiePath != "" && cookiePath[len(cookiePath)-1] == '/' {
			return true
		}
		if requestPath[len(cookiePath)] == '/' {
			return true
		}
	}
	return false
}

func defaultPath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(requestPath, "/")
	if i == 0 {
		return "/"
	}
	return requestPath[:i]
}
