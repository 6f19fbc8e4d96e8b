package cleanup

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/logging"
	"github.com/meraf-solutions/tabsession/session"
)

type nativeStore struct {
	cookies map[string][]*http.Cookie
}

func (n *nativeStore) ListForDomain(ctx context.Context, domain string) ([]*http.Cookie, error) {
	return n.cookies[domain], nil
}

func (n *nativeStore) Delete(ctx context.Context, url, name string) error {
	for domain, list := range n.cookies {
		kept := list[:0]
		for _, c := range list {
			if c.Name != name {
				kept = append(kept, c)
			}
		}
		n.cookies[domain] = kept
	}
	return nil
}

var _ hostapi.CookieStoreAccess = (*nativeStore)(nil)

func TestLeakageSweepCapturesAndDeletesNativeCookies(t *testing.T) {
	reg := session.NewRegistry(nil)
	jar := cookiejar.NewJar()
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("tab1", s.ID, session.TabMeta{URL: "https://example.com/"})

	store := &nativeStore{cookies: map[string][]*http.Cookie{
		"example.com": {{Name: "leaked", Value: "v1", Domain: "example.com", Path: "/"}},
	}}
	hostOf := func(tab hostapi.TabID) (string, string, bool) {
		return "example.com", "https://example.com/", true
	}

	sweep := LeakageSweep(reg, jar, store, hostOf, logging.Nop{})
	sweep()

	cookies := jar.Get(s.ID, "https://example.com/")
	if len(cookies) != 1 || cookies[0].Name != "leaked" {
		t.Fatalf("expected the leaked cookie to be captured into the session jar, got %+v", cookies)
	}
	if len(store.cookies["example.com"]) != 0 {
		t.Fatalf("expected the native cookie to be deleted after capture, still present: %+v", store.cookies["example.com"])
	}
}

func TestExpirySweepRemovesExpiredCookies(t *testing.T) {
	reg := session.NewRegistry(nil)
	jar := cookiejar.NewJar()
	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("tab1", s.ID, session.TabMeta{})

	past := time.Now().Add(-time.Hour)
	jar.Restore(s.ID, []*cookiejar.Cookie{{Name: "old", Value: "v", Domain: "example.com", Path: "/", Expires: &past}})

	ExpirySweep(reg, jar)()

	if got := jar.Snapshot(s.ID); len(got) != 0 {
		t.Fatalf("expected expired cookie to be swept, got %+v", got)
	}
}

func TestRetentionSweepDeletesIdleFreeSessionsOnly(t *testing.T) {
	reg := session.NewRegistry(nil)
	jar := cookiejar.NewJar()

	free, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", free.ID, session.TabMeta{})
	reg.Unbind("t1")

	ent, _ := reg.Create(session.TierEnterprise, "")
	reg.Bind("t2", ent.ID, session.TabMeta{})
	reg.Unbind("t2")

	s1, _ := reg.Get(free.ID)
	s1.LastAccessed = time.Now().Add(-8 * 24 * time.Hour)
	s2, _ := reg.Get(ent.ID)
	s2.LastAccessed = time.Now().Add(-8 * 24 * time.Hour)

	var notified []hostapi.SessionID
	RetentionSweep(reg, jar, 7*24*time.Hour, func(id hostapi.SessionID) { notified = append(notified, id) })()

	if _, ok := reg.Get(free.ID); ok {
		t.Fatal("expected the idle free-tier session to be deleted")
	}
	if _, ok := reg.Get(ent.ID); !ok {
		t.Fatal("expected the enterprise session to be exempt from retention")
	}
	if len(notified) != 1 || notified[0] != free.ID {
		t.Fatalf("notified = %v, want [%s]", notified, free.ID)
	}
}

func TestOrphanSweepDeletesSessionsAbsentFromRegistry(t *testing.T) {
	reg := session.NewRegistry(nil)
	var deleted []hostapi.SessionID

	persistedIDs := func() []hostapi.SessionID { return []hostapi.SessionID{"ghost-session"} }
	OrphanSweep(reg, persistedIDs, func(id hostapi.SessionID) { deleted = append(deleted, id) })()

	if len(deleted) != 1 || deleted[0] != "ghost-session" {
		t.Fatalf("deleted = %v, want [ghost-session]", deleted)
	}
}

func TestSchedulerSkipsRunsWhileNotReady(t *testing.T) {
	ready := false
	ran := make(chan struct{}, 4)
	s := New(func() bool { return ready })
	s.Register(Job{Name: "probe", Interval: 5 * time.Millisecond, Run: func() { ran <- struct{}{} }})
	s.Start()
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-ran:
		t.Fatal("job ran while not ready")
	default:
	}

	ready = true
	select {
	case <-ran:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("job never ran once ready")
	}
}
