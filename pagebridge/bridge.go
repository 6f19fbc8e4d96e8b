// Package pagebridge implements the host-side endpoint for partitioned
// document.cookie / Web Storage access from page scripts (C6). Requests
// are a typed sum type with one variant per operation, dispatched through
// a single entry point -- the "tag-dispatched message handler -> sum
// type" redesign the design notes call for, replacing a string-keyed
// switch on message.action.
package pagebridge

import (
	"strings"
	"sync"
	"time"

	"github.com/meraf-solutions/tabsession/cookiehdr"
	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/session"
)

// Op identifies a bridge operation.
type Op int

const (
	OpCookieGet Op = iota
	OpCookieSet
	OpStorageGet
	OpStorageSet
	OpStorageRemove
	OpStorageClear
)

// Request is the single message shape sent from the page context.
type Request struct {
	Op        Op
	TabID     hostapi.TabID
	URL       string // document URL
	CookieVal string // for OpCookieSet: "name=value; attr=..."
	Key       string // for storage ops
	Value     string // for OpStorageSet
	Session   bool   // true = sessionStorage, false = localStorage
}

// Response is the single reply shape.
type Response struct {
	OK    bool
	Value string
	Error string
}

const cacheTTL = 500 * time.Millisecond

type cacheEntry struct {
	value string
	at    time.Time
}

// Bridge dispatches page-script requests against the partitioned cookie
// jar and a per-origin, per-session storage namespace map.
type Bridge struct {
	Jar   *cookiejar.Jar
	Reg   *session.Registry
	Canon *cookiehdr.Canonicalizer

	mu      sync.Mutex
	cookieCache map[hostapi.SessionID]map[string]cacheEntry // session -> document URL -> cache
	storage     map[hostapi.SessionID]map[string]map[string]string // session -> namespace (kind + origin) -> key -> value
}

// New returns a Bridge.
func New(jar *cookiejar.Jar, reg *session.Registry) *Bridge {
	return &Bridge{
		Jar:         jar,
		Reg:         reg,
		Canon:       cookiehdr.NewCanonicalizer(),
		cookieCache: map[hostapi.SessionID]map[string]cacheEntry{},
		storage:     map[hostapi.SessionID]map[string]map[string]string{},
	}
}

// Dispatch is the bridge's single entry point: a total match over Op.
func (b *Bridge) Dispatch(req Request) Response {
	sessionID, bound := b.Reg.SessionFor(req.TabID)
	if !bound {
		return Response{OK: false, Error: "tab not bound to a session"}
	}

	switch req.Op {
	case OpCookieGet:
		return b.cookieGet(sessionID, req.URL)
	case OpCookieSet:
		return b.cookieSet(sessionID, req.URL, req.CookieVal)
	case OpStorageGet:
		return b.storageGet(sessionID, req)
	case OpStorageSet:
		return b.storageSet(sessionID, req)
	case OpStorageRemove:
		return b.storageRemove(sessionID, req)
	case OpStorageClear:
		return b.storageClear(sessionID, req)
	default:
		return Response{OK: false, Error: "unknown operation"}
	}
}

func (b *Bridge) cookieGet(sessionID hostapi.SessionID, docURL string) Response {
	b.mu.Lock()
	if cache, ok := b.cookieCache[sessionID]; ok {
		if entry, ok := cache[docURL]; ok && time.Since(entry.at) < cacheTTL {
			b.mu.Unlock()
			return Response{OK: true, Value: entry.value}
		}
	}
	b.mu.Unlock()

	cookies := b.Jar.Get(sessionID, docURL)
	var visible []*cookiejar.Cookie
	for _, c := range cookies {
		if !c.HttpOnly {
			visible = append(visible, c)
		}
	}
	value := cookiehdr.SerializeCookieHeader(visible)

	b.mu.Lock()
	if b.cookieCache[sessionID] == nil {
		b.cookieCache[sessionID] = map[string]cacheEntry{}
	}
	b.cookieCache[sessionID][docURL] = cacheEntry{value: value, at: time.Now()}
	b.mu.Unlock()

	return Response{OK: true, Value: value}
}

func (b *Bridge) cookieSet(sessionID hostapi.SessionID, docURL, raw string) Response {
	u, err := b.Canon.Parse(docURL)
	if err != nil {
		return Response{OK: false, Error: "invalid document URL"}
	}
	c := cookiehdr.ParseSetCookie(raw, u)
	if c == nil {
		return Response{OK: false, Error: "invalid cookie"}
	}
	if !b.Jar.Put(sessionID, docURL, c) {
		return Response{OK: false, Error: "cookie rejected"}
	}

	// Speculatively update the cache so a synchronous read-your-write
	// from the page observes the value it just set, without waiting for
	// the next cache refresh.
	b.mu.Lock()
	if b.cookieCache[sessionID] == nil {
		b.cookieCache[sessionID] = map[string]cacheEntry{}
	}
	existing := b.cookieCache[sessionID][docURL].value
	updated := mergeCookieString(existing, c.Name, c.Value)
	b.cookieCache[sessionID][docURL] = cacheEntry{value: updated, at: time.Now()}
	b.mu.Unlock()

	return Response{OK: true}
}

func mergeCookieString(existing, name, value string) string {
	parts := strings.Split(existing, "; ")
	out := make([]string, 0, len(parts)+1)
	replaced := false
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, name+"=") {
			out = append(out, name+"="+value)
			replaced = true
		} else {
			out = append(out, p)
		}
	}
	if !replaced {
		out = append(out, name+"="+value)
	}
	return strings.Join(out, "; ")
}

func (b *Bridge) namespace(sessionID hostapi.SessionID, req Request) string {
	kind := "local"
	if req.Session {
		kind = "session"
	}
	origin := ""
	if u, err := b.Canon.Parse(req.URL); err == nil {
		origin = u.Scheme + "://" + u.Host
	}
	return "__SID_" + string(sessionID) + "__" + kind + "\x00" + origin
}

func (b *Bridge) storageGet(sessionID hostapi.SessionID, req Request) Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns := b.namespace(sessionID, req)
	v, ok := b.storage[sessionID][ns][req.Key]
	if !ok {
		return Response{OK: true, Value: ""}
	}
	return Response{OK: true, Value: v}
}

func (b *Bridge) storageSet(sessionID hostapi.SessionID, req Request) Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns := b.namespace(sessionID, req)
	if b.storage[sessionID] == nil {
		b.storage[sessionID] = map[string]map[string]string{}
	}
	if b.storage[sessionID][ns] == nil {
		b.storage[sessionID][ns] = map[string]string{}
	}
	b.storage[sessionID][ns][req.Key] = req.Value
	return Response{OK: true}
}

func (b *Bridge) storageRemove(sessionID hostapi.SessionID, req Request) Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns := b.namespace(sessionID, req)
	delete(b.storage[sessionID][ns], req.Key)
	return Response{OK: true}
}

func (b *Bridge) storageClear(sessionID hostapi.SessionID, req Request) Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns := b.namespace(sessionID, req)
	delete(b.storage[sessionID], ns)
	return Response{OK: true}
}
