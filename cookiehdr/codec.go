package cookiehdr

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/meraf-solutions/tabsession/cookiejar"
)

// ParseSetCookie parses a single Set-Cookie header value in the context of
// requestURL (the response's originating URL). It returns nil if the
// header is malformed or its Domain attribute fails domain validation
// against requestURL (§4.3): the cookie's domain must equal the request
// host or be a parent of it, never a more specific host.
//
// Max-Age takes precedence over Expires per RFC 6265, matching the
// teacher's newEntry in cookiejar.go.
func ParseSetCookie(header string, requestURL *url.URL) *cookiejar.Cookie {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return nil
	}
	nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nv) != 2 || nv[0] == "" {
		return nil
	}

	c := &cookiejar.Cookie{Name: strings.TrimSpace(nv[0]), Value: strings.TrimSpace(nv[1])}
	var maxAge *int
	var expiresAttr *time.Time

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}

		switch key {
		case "domain":
			c.Domain = val
		case "path":
			c.Path = val
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "samesite":
			switch strings.ToLower(val) {
			case "strict":
				c.SameSite = cookiejar.SameSiteStrict
			case "lax":
				c.SameSite = cookiejar.SameSiteLax
			case "none":
				c.SameSite = cookiejar.SameSiteNone
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				maxAge = &n
			}
		case "expires":
			if t, err := http.ParseTime(val); err == nil {
				expiresAttr = &t
			}
		}
	}

	now := time.Now()
	switch {
	case maxAge != nil:
		exp := now.Add(time.Duration(*maxAge) * time.Second)
		c.Expires = &exp
	case expiresAttr != nil:
		c.Expires = expiresAttr
	}

	if requestURL != nil {
		host := strings.ToLower(requestURL.Hostname())
		if c.Domain == "" {
			c.Domain = host
		} else if !isValidCookieDomain(strings.ToLower(strings.TrimPrefix(c.Domain, ".")), host) {
			return nil
		}
		if c.Path == "" && requestURL.Path != "" {
			c.Path = requestURL.Path
		}
	}
	if c.Path == "" {
		c.Path = "/"
	}

	return c
}

// isValidCookieDomain enforces that a cookie's Domain attribute can only
// claim the request host or a parent of it -- never the reverse.
func isValidCookieDomain(cookieDomain, requestHost string) bool {
	if cookieDomain == requestHost {
		return true
	}
	return strings.HasSuffix(requestHost, "."+cookieDomain)
}

// SerializeCookieHeader joins cookies into a single Cookie request-header
// value, "name=value" pairs separated by "; ".
func SerializeCookieHeader(cookies []*cookiejar.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
