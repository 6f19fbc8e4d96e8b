// Package lifecycle implements tab lifecycle and session inheritance
// (C7): assigning sessions to newly created tabs, touching activity on
// navigation, and cleaning up bindings on close. "Blank tab" detection
// uses host-supplied github.com/gobwas/glob patterns, the same library
// the teacher uses for its own URL allow/deny filters in filter/glob.go,
// so the set of "not a real URL" patterns stays configurable per host
// family instead of hard-coded string prefixes.
package lifecycle

import (
	"time"

	"github.com/gobwas/glob"

	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/logging"
	"github.com/meraf-solutions/tabsession/session"
)

// AutoRestorePolicy decides what happens when a session's last tab
// closes.
type AutoRestorePolicy interface {
	// DeleteOnLastTabClosed reports whether sessionID should be deleted
	// outright (true, Enterprise with auto-restore enabled) or marked
	// Dormant (false).
	DeleteOnLastTabClosed(sessionID hostapi.SessionID) bool
}

// Manager wires the session registry to host tab events.
type Manager struct {
	Reg           *session.Registry
	Policy        AutoRestorePolicy
	Log           logging.Logger
	InheritWindow time.Duration
	blankPatterns []glob.Glob
}

// DefaultBlankPatterns matches the common "this is not a real page"
// URLs across browser families: about:blank, empty string, and each
// vendor's new-tab page.
var DefaultBlankPatterns = []string{
	"about:blank",
	"",
	"chrome://newtab/*",
	"edge://newtab/*",
	"about:newtab",
}

// New returns a Manager. blankURLPatterns are compiled with glob.Compile;
// an invalid pattern is skipped rather than failing construction, since a
// host misconfiguration here should degrade (treat more URLs as "real")
// rather than crash.
func New(reg *session.Registry, policy AutoRestorePolicy, log logging.Logger, inheritWindow time.Duration, blankURLPatterns []string) *Manager {
	if log == nil {
		log = logging.Nop{}
	}
	m := &Manager{Reg: reg, Policy: policy, Log: log, InheritWindow: inheritWindow}
	for _, p := range blankURLPatterns {
		if g, err := glob.Compile(p); err == nil {
			m.blankPatterns = append(m.blankPatterns, g)
		}
	}
	return m
}

func (m *Manager) isBlank(url string) bool {
	for _, g := range m.blankPatterns {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// OnCreated handles a new tab with a known opener (or no opener at all).
// openerSession is the session bound to the opener tab, if any.
func (m *Manager) OnCreated(tab hostapi.TabID, url string, opener hostapi.TabID, openerBound bool, openerSession hostapi.SessionID, now time.Time) {
	if m.isBlank(url) {
		return
	}
	if openerBound {
		m.inherit(tab, openerSession, url, now)
		return
	}
	if host := hostOf(url); host != "" {
		if s, ok := m.Reg.MostRecentActivity(host, m.InheritWindow, now); ok {
			m.inherit(tab, s, url, now)
		}
	}
}

// OnNavigationTarget handles a tab created as an explicit navigation
// target (window.open/target=_blank popups), which always inherits the
// source tab's session.
func (m *Manager) OnNavigationTarget(source, target hostapi.TabID, url string, now time.Time) {
	sourceSession, ok := m.Reg.SessionFor(source)
	if !ok {
		return
	}
	m.inherit(target, sourceSession, url, now)
}

func (m *Manager) inherit(tab hostapi.TabID, s hostapi.SessionID, url string, now time.Time) {
	m.Reg.Bind(tab, s, session.TabMeta{URL: url})
	m.Reg.Touch(s, hostOf(url), now)
	m.Log.Log(logging.DebugLevel, logging.NewEvent("lifecycle", "inherit").With("session", string(s)).With("tab", string(tab)))
}

// OnActivity touches last_accessed for the tab's session on navigation,
// page-complete, or activation.
func (m *Manager) OnActivity(tab hostapi.TabID, url string, now time.Time) {
	s, ok := m.Reg.SessionFor(tab)
	if !ok {
		return
	}
	m.Reg.Touch(s, hostOf(url), now)
}

// OnClosed unbinds tab and applies the auto-restore policy if it was the
// session's last tab.
func (m *Manager) OnClosed(tab hostapi.TabID) {
	s, ok := m.Reg.Unbind(tab)
	if !ok {
		return
	}
	session, found := m.Reg.Get(s)
	if !found || len(session.Tabs) > 0 {
		return
	}
	if m.Policy != nil && m.Policy.DeleteOnLastTabClosed(s) {
		m.Reg.Delete(s)
	}
}

func hostOf(rawURL string) string {
	// Cheap host extraction avoiding a second URL parse on the hot path;
	// callers that need strict parsing use cookiehdr.Canonicalizer.
	s := rawURL
	for _, scheme := range []string{"https://", "http://"} {
		if len(s) > len(scheme) && s[:len(scheme)] == scheme {
			s = s[len(scheme):]
			break
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' || s[i] == '?' || s[i] == '#' {
			return s[:i]
		}
	}
	return s
}
