package pagebridge

import (
	"testing"

	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/session"
)

func newTestBridge(t *testing.T) (*Bridge, *session.Registry) {
	t.Helper()
	jar := cookiejar.NewJar()
	reg := session.NewRegistry(nil)
	return New(jar, reg), reg
}

func TestDispatchUnboundTabRejected(t *testing.T) {
	b, _ := newTestBridge(t)
	resp := b.Dispatch(Request{Op: OpCookieGet, TabID: "t1", URL: "https://example.com/"})
	if resp.OK {
		t.Fatal("expected an unbound tab to be rejected")
	}
}

func TestCookieSetThenGetRoundTrips(t *testing.T) {
	b, reg := newTestBridge(t)
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})

	setResp := b.Dispatch(Request{Op: OpCookieSet, TabID: "t1", URL: "https://example.com/", CookieVal: "p=1"})
	if !setResp.OK {
		t.Fatalf("cookie set failed: %s", setResp.Error)
	}

	getResp := b.Dispatch(Request{Op: OpCookieGet, TabID: "t1", URL: "https://example.com/"})
	if !getResp.OK || getResp.Value != "p=1" {
		t.Fatalf("cookie get = %+v, want OK with value p=1", getResp)
	}
}

func TestCookieGetHidesHttpOnly(t *testing.T) {
	b, reg := newTestBridge(t)
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})

	if ok := b.Jar.Put(s.ID, "https://example.com/", &cookiejar.Cookie{Name: "sid", Value: "abc", HttpOnly: true}); !ok {
		t.Fatal("Put rejected a valid cookie")
	}
	if ok := b.Jar.Put(s.ID, "https://example.com/", &cookiejar.Cookie{Name: "p", Value: "1"}); !ok {
		t.Fatal("Put rejected a valid cookie")
	}

	resp := b.Dispatch(Request{Op: OpCookieGet, TabID: "t1", URL: "https://example.com/"})
	if !resp.OK || resp.Value != "p=1" {
		t.Fatalf("cookie get = %+v, want only the non-HttpOnly cookie visible", resp)
	}
}

func TestCookieSetRejectsCrossSiteDomain(t *testing.T) {
	b, reg := newTestBridge(t)
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})

	resp := b.Dispatch(Request{Op: OpCookieSet, TabID: "t1", URL: "https://evil.com/", CookieVal: "sid=x; Domain=example.com"})
	if resp.OK {
		t.Fatal("expected a cross-site cookie domain to be rejected")
	}
}

func TestStorageIsNamespacedPerSession(t *testing.T) {
	b, reg := newTestBridge(t)
	s1, _ := reg.Create(session.TierFree, "")
	s2, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s1.ID, session.TabMeta{})
	reg.Bind("t2", s2.ID, session.TabMeta{})

	b.Dispatch(Request{Op: OpStorageSet, TabID: "t1", Key: "k", Value: "one"})
	b.Dispatch(Request{Op: OpStorageSet, TabID: "t2", Key: "k", Value: "two"})

	r1 := b.Dispatch(Request{Op: OpStorageGet, TabID: "t1", Key: "k"})
	r2 := b.Dispatch(Request{Op: OpStorageGet, TabID: "t2", Key: "k"})
	if r1.Value != "one" || r2.Value != "two" {
		t.Fatalf("storage leaked across sessions: t1=%q t2=%q", r1.Value, r2.Value)
	}

	b.Dispatch(Request{Op: OpStorageRemove, TabID: "t1", Key: "k"})
	r1 = b.Dispatch(Request{Op: OpStorageGet, TabID: "t1", Key: "k"})
	if r1.Value != "" {
		t.Fatalf("expected key removed, got %q", r1.Value)
	}
}

func TestStorageSessionAndLocalAreDistinctNamespaces(t *testing.T) {
	b, reg := newTestBridge(t)
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})

	b.Dispatch(Request{Op: OpStorageSet, TabID: "t1", Key: "k", Value: "local-val", Session: false})
	b.Dispatch(Request{Op: OpStorageSet, TabID: "t1", Key: "k", Value: "session-val", Session: true})

	localResp := b.Dispatch(Request{Op: OpStorageGet, TabID: "t1", Key: "k", Session: false})
	sessionResp := b.Dispatch(Request{Op: OpStorageGet, TabID: "t1", Key: "k", Session: true})
	if localResp.Value != "local-val" || sessionResp.Value != "session-val" {
		t.Fatalf("local/session storage bled together: local=%q session=%q", localResp.Value, sessionResp.Value)
	}
}
