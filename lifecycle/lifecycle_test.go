package lifecycle

import (
	"testing"
	"time"

	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/session"
)

type alwaysDormant struct{}

func (alwaysDormant) DeleteOnLastTabClosed(hostapi.SessionID) bool { return false }

type alwaysDelete struct{}

func (alwaysDelete) DeleteOnLastTabClosed(hostapi.SessionID) bool { return true }

func TestBlankTabNeverInherits(t *testing.T) {
	reg := session.NewRegistry(nil)
	m := New(reg, alwaysDormant{}, nil, 30*time.Second, DefaultBlankPatterns)

	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("opener", s.ID, session.TabMeta{})

	m.OnCreated("blank1", "about:blank", "opener", true, s.ID, time.Now())
	if _, bound := reg.SessionFor("blank1"); bound {
		t.Fatal("blank tab inherited a session")
	}
}

func TestOpenerInheritance(t *testing.T) {
	reg := session.NewRegistry(nil)
	m := New(reg, alwaysDormant{}, nil, 30*time.Second, DefaultBlankPatterns)

	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("opener", s.ID, session.TabMeta{})

	m.OnCreated("child", "https://example.com/report", "opener", true, s.ID, time.Now())
	got, bound := reg.SessionFor("child")
	if !bound || got != s.ID {
		t.Fatalf("child session = %v %v, want %v true", got, bound, s.ID)
	}
}

func TestNoopenerInheritsWithinWindow(t *testing.T) {
	reg := session.NewRegistry(nil)
	m := New(reg, alwaysDormant{}, nil, 30*time.Second, DefaultBlankPatterns)

	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})
	now := time.Now()
	reg.Touch(s.ID, "example.com", now)

	m.OnCreated("noopener-child", "https://example.com/x", "", false, "", now.Add(5*time.Second))
	got, bound := reg.SessionFor("noopener-child")
	if !bound || got != s.ID {
		t.Fatalf("noopener child session = %v %v, want %v true", got, bound, s.ID)
	}
}

func TestNoopenerDoesNotInheritAfterWindow(t *testing.T) {
	reg := session.NewRegistry(nil)
	m := New(reg, alwaysDormant{}, nil, 30*time.Second, DefaultBlankPatterns)

	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})
	now := time.Now()
	reg.Touch(s.ID, "example.com", now)

	m.OnCreated("late-child", "https://example.com/x", "", false, "", now.Add(time.Minute))
	if _, bound := reg.SessionFor("late-child"); bound {
		t.Fatal("expected no inheritance past the 30s window")
	}
}

func TestCloseLastTabAppliesPolicy(t *testing.T) {
	reg := session.NewRegistry(nil)
	m := New(reg, alwaysDelete{}, nil, 30*time.Second, DefaultBlankPatterns)

	s, _ := reg.Create(session.TierFree, "")
	reg.Bind("t1", s.ID, session.TabMeta{})

	m.OnClosed("t1")
	if _, ok := reg.Get(s.ID); ok {
		t.Fatal("expected session to be deleted under the auto-restore policy")
	}
}
