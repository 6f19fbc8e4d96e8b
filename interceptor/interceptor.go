// Package interceptor implements the request/response interceptor (C5):
// a total, non-blocking rewrite of outgoing Cookie headers and a strip of
// every incoming Set-Cookie header, gated on the initialization manager's
// READY signal. The shape mirrors the teacher's pure
// handleOnRequest/handleOnResponseHeaders split in collector.go. The hooks
// rewrite the headers in place and update the in-memory jar and registry,
// but perform no persistence I/O: they return an Effect telling the caller
// whether to schedule a commit, per the design notes' "async-over-sync
// smuggling" redesign guidance.
package interceptor

import (
	"net/http"
	"time"

	"github.com/meraf-solutions/tabsession/cookiehdr"
	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/logging"
	"github.com/meraf-solutions/tabsession/session"
)

// Effect is a side-effect the caller must apply after a hook returns; the
// hooks themselves never perform I/O or take the persistence lock.
type Effect struct {
	Persist bool // a jar/registry mutation happened, schedule a debounced commit
}

// Interceptor ties the cookie jar, the session registry, and the header
// codec together. Ready must report the initialization manager's gate
// (§4.9); until it returns true every hook is a pass-through, per §4.5.
type Interceptor struct {
	Jar    *cookiejar.Jar
	Reg    *session.Registry
	Ready  func() bool
	Log    logging.Logger
	Canon  *cookiehdr.Canonicalizer
}

// New returns an Interceptor. A nil logger disables logging.
func New(jar *cookiejar.Jar, reg *session.Registry, ready func() bool, log logging.Logger) *Interceptor {
	if log == nil {
		log = logging.Nop{}
	}
	return &Interceptor{Jar: jar, Reg: reg, Ready: ready, Log: log, Canon: cookiehdr.NewCanonicalizer()}
}

// OnRequest rewrites req's Cookie header in place with the bound
// session's jar contents. It never blocks and never errors: any
// unresolvable state (no binding, not ready, bad URL) simply leaves the
// headers untouched, matching §4.5's "must be total" requirement.
func (i *Interceptor) OnRequest(req *hostapi.InterceptedRequest) Effect {
	if i.Ready != nil && !i.Ready() {
		return Effect{}
	}

	sessionID, bound := i.Reg.SessionFor(req.TabID)
	if !bound {
		return Effect{}
	}

	u, err := i.Canon.Parse(req.URL)
	if err != nil {
		return Effect{}
	}
	i.Reg.Touch(sessionID, u.Hostname(), time.Now())

	cookies := i.Jar.Get(sessionID, req.URL)
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.Headers.Del("Cookie")
	if len(cookies) > 0 {
		req.Headers.Set("Cookie", cookiehdr.SerializeCookieHeader(cookies))
	}
	return Effect{Persist: true}
}

// OnResponse captures every Set-Cookie header into the bound session's
// jar and strips all of them from the response, so the host's native
// cookie jar never observes them (§4.5).
func (i *Interceptor) OnResponse(resp *hostapi.InterceptedResponse) Effect {
	if i.Ready != nil && !i.Ready() {
		return Effect{}
	}
	sessionID, bound := i.Reg.SessionFor(resp.TabID)
	if !bound || resp.Headers == nil {
		if resp.Headers != nil {
			resp.Headers.Del("Set-Cookie")
		}
		return Effect{}
	}

	u, err := i.Canon.Parse(resp.URL)
	if err != nil {
		resp.Headers.Del("Set-Cookie")
		return Effect{}
	}

	effect := Effect{}
	for _, raw := range resp.Headers.Values("Set-Cookie") {
		if c := cookiehdr.ParseSetCookie(raw, u); c != nil {
			if i.Jar.Put(sessionID, resp.URL, c) {
				effect.Persist = true
			}
		} else {
			i.Log.Log(logging.WarnLevel, logging.NewEvent("interceptor", "set-cookie-rejected").With("url", resp.URL))
		}
	}
	resp.Headers.Del("Set-Cookie")
	return effect
}
