package engine

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/hostapi/fake"
	"github.com/meraf-solutions/tabsession/initmgr"
	"github.com/meraf-solutions/tabsession/interceptor"
	"github.com/meraf-solutions/tabsession/lifecycle"
	"github.com/meraf-solutions/tabsession/pagebridge"
	"github.com/meraf-solutions/tabsession/persistence"
	"github.com/meraf-solutions/tabsession/session"
)

// memL2 is a filesystem-free stand-in for badgerkv.Store, used only so
// the engine's own tests never touch disk.
type memL2 struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemL2() *memL2 { return &memL2{data: map[string][]byte{}} }

func (m *memL2) Commit(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memL2) Read(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// newTestEngine wires the same components engine.New does but with
// in-memory L1/L2 stand-ins and no L3, so the suite never touches disk.
func newTestEngine(t *testing.T) (*Engine, *fake.CookieStore, *fake.Tabs) {
	t.Helper()
	jar := cookiejar.NewJar()
	reg := session.NewRegistry(nil)
	coord := persistence.NewCoordinator(fake.NewKV(), newMemL2(), nil, time.Second, nil)

	cookies := fake.NewCookieStore()
	tabs := fake.NewTabs()
	host := hostapi.Host{Cookies: cookies, Tabs: tabs, L1: fake.NewKV()}

	e := &Engine{
		Reg:         reg,
		Jar:         jar,
		Persist:     coord,
		host:        host,
		autoRestore: map[hostapi.SessionID]bool{},
	}
	e.Interceptor = interceptor.New(jar, reg, e.isReady, nil)
	e.Bridge = pagebridge.New(jar, reg)
	e.Lifecycle = lifecycle.New(reg, e, nil, 30*time.Second, lifecycle.DefaultBlankPatterns)
	e.Init = initmgr.New(map[initmgr.State]initmgr.Phase{})

	if err := e.Init.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e, cookies, tabs
}

func TestCreateBindInterceptRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)

	s, err := e.CreateSession(session.TierFree, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := e.BindTab("tab1", s.ID, session.TabMeta{URL: "https://example.com/"}); err != nil {
		t.Fatalf("BindTab: %v", err)
	}

	resp := &hostapi.InterceptedResponse{TabID: "tab1", URL: "https://example.com/", Headers: http.Header{"Set-Cookie": {"sid=abc123; Path=/"}}}
	e.Interceptor.OnResponse(resp)
	if len(resp.Headers.Values("Set-Cookie")) != 0 {
		t.Fatal("Set-Cookie header should have been stripped")
	}

	req := &hostapi.InterceptedRequest{TabID: "tab1", URL: "https://example.com/page", Method: "GET"}
	e.Interceptor.OnRequest(req)
	if req.Headers.Get("Cookie") != "sid=abc123" {
		t.Fatalf("Cookie header = %q, want sid=abc123", req.Headers.Get("Cookie"))
	}
}

func TestTwoSessionsDoNotLeakCookies(t *testing.T) {
	e, _, _ := newTestEngine(t)

	s1, _ := e.CreateSession(session.TierFree, "")
	s2, _ := e.CreateSession(session.TierFree, "")
	e.BindTab("tab1", s1.ID, session.TabMeta{URL: "https://example.com/"})
	e.BindTab("tab2", s2.ID, session.TabMeta{URL: "https://example.com/"})

	e.Interceptor.OnResponse(&hostapi.InterceptedResponse{TabID: "tab1", URL: "https://example.com/", Headers: http.Header{"Set-Cookie": {"sid=for-one; Path=/"}}})

	req2 := &hostapi.InterceptedRequest{TabID: "tab2", URL: "https://example.com/", Method: "GET"}
	e.Interceptor.OnRequest(req2)
	if req2.Headers.Get("Cookie") != "" {
		t.Fatalf("session two must not see session one's cookie, got %q", req2.Headers.Get("Cookie"))
	}
}

func TestFreeTierLimitEnforcedThroughEngine(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for i := 0; i < 3; i++ {
		s, err := e.CreateSession(session.TierFree, "")
		if err != nil {
			t.Fatalf("CreateSession %d: %v", i, err)
		}
		e.BindTab(hostapi.TabID(s.ID), s.ID, session.TabMeta{})
	}
	if allowed, _, _ := e.CanCreateSession(session.TierFree); allowed {
		t.Fatal("expected the fourth free-tier session to be denied")
	}
}

func TestRenameFreeTierRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, _ := e.CreateSession(session.TierFree, "")
	if err := e.RenameSession(s.ID, "work"); err != session.ErrTierRestriction {
		t.Fatalf("err = %v, want ErrTierRestriction", err)
	}
}

func TestSetAutoRestoreRequiresEnterprise(t *testing.T) {
	e, _, _ := newTestEngine(t)
	free, _ := e.CreateSession(session.TierFree, "")
	if err := e.SetAutoRestore(free.ID, true); err != session.ErrTierRestriction {
		t.Fatalf("err = %v, want ErrTierRestriction", err)
	}

	ent, _ := e.CreateSession(session.TierEnterprise, "")
	if err := e.SetAutoRestore(ent.ID, true); err != nil {
		t.Fatalf("SetAutoRestore: %v", err)
	}
	e.BindTab("tabE", ent.ID, session.TabMeta{})
	e.Lifecycle.OnClosed("tabE")
	if _, ok := e.Reg.Get(ent.ID); ok {
		t.Fatal("expected auto-restore-enabled enterprise session to be deleted on last tab close")
	}
}

func TestSaveAndLoadSnapshotRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, _ := e.CreateSession(session.TierFree, "")
	e.BindTab("tab1", s.ID, session.TabMeta{URL: "https://example.com/"})
	e.Interceptor.OnResponse(&hostapi.InterceptedResponse{TabID: "tab1", URL: "https://example.com/", Headers: http.Header{"Set-Cookie": {"sid=xyz; Path=/"}}})

	if err := e.SaveSnapshot(context.Background(), true); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	snap, ok, err := e.Persist.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if _, present := snap.Sessions[string(s.ID)]; !present {
		t.Fatalf("snapshot missing session %s", s.ID)
	}
	if len(snap.Jars[string(s.ID)]) != 1 {
		t.Fatalf("expected 1 persisted cookie, got %d", len(snap.Jars[string(s.ID)]))
	}
}

func TestSnapshotRetainsDormantSessions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, _ := e.CreateSession(session.TierFree, "")
	e.BindTab("tab1", s.ID, session.TabMeta{URL: "https://example.com/"})
	e.Interceptor.OnResponse(&hostapi.InterceptedResponse{TabID: "tab1", URL: "https://example.com/", Headers: http.Header{"Set-Cookie": {"sid=alice; Path=/"}}})

	e.Lifecycle.OnClosed("tab1")
	if got, _ := e.Reg.Get(s.ID); got.State != session.StateDormant {
		t.Fatalf("state = %v, want Dormant before snapshotting", got.State)
	}

	if err := e.SaveSnapshot(context.Background(), true); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, ok, err := e.Persist.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if _, present := snap.Sessions[string(s.ID)]; !present {
		t.Fatal("dormant session dropped from snapshot; reopening it would lose its jar")
	}
	if len(snap.Jars[string(s.ID)]) != 1 {
		t.Fatalf("expected the dormant session's cookie to survive, got %d", len(snap.Jars[string(s.ID)]))
	}
}

func TestReopenDormantAfterRestart(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, _ := e.CreateSession(session.TierFree, "")
	e.BindTab("tab1", s.ID, session.TabMeta{URL: "https://example.com/checkout", Title: "Checkout"})
	e.Lifecycle.OnClosed("tab1")

	if err := e.SaveSnapshot(context.Background(), true); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// Simulate a fresh process reading the same L2 store back: a brand
	// new engine with an empty in-memory registry, loaded through
	// phaseSessionLoad.
	e2, _, _ := newTestEngine(t)
	e2.Persist = e.Persist
	if err := e2.phaseSessionLoad(context.Background()); err != nil {
		t.Fatalf("phaseSessionLoad: %v", err)
	}

	specs, err := e2.ReopenDormant(s.ID)
	if err != nil {
		t.Fatalf("ReopenDormant: %v", err)
	}
	if len(specs) != 1 || specs[0].URL != "https://example.com/checkout" {
		t.Fatalf("specs = %+v, want one spec for https://example.com/checkout", specs)
	}
}

func TestOrphanSweepDeletesFromL2(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, _ := e.CreateSession(session.TierFree, "")
	e.BindTab("tab1", s.ID, session.TabMeta{URL: "https://example.com/"})
	if err := e.SaveSnapshot(context.Background(), true); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// The session no longer exists in the live registry (simulating the
	// orphan sweep's view: a persisted session absent from memory), but
	// its data is still in the persisted snapshot until deleteFromL2 runs.
	e.Reg.Delete(s.ID)
	e.deleteFromL2(s.ID)

	snap, ok, err := e.Persist.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if _, present := snap.Sessions[string(s.ID)]; present {
		t.Fatal("orphaned session still present in L2 snapshot after deleteFromL2")
	}
	if _, present := snap.Jars[string(s.ID)]; present {
		t.Fatal("orphaned session's jar still present in L2 snapshot after deleteFromL2")
	}
	if _, present := snap.TabMetadata["tab1"]; present {
		t.Fatal("orphaned session's tab metadata still present in L2 snapshot after deleteFromL2")
	}
}
