package cleanup

import (
	"context"
	"net/http"
	"time"

	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/logging"
	"github.com/meraf-solutions/tabsession/session"
)

// LeakageSweep removes any cookie the host's native cookie jar picked up
// for a bound tab's host, capturing it into the session jar first if it
// was not already known there (§4.10, runs every 2s).
func LeakageSweep(reg *session.Registry, jar *cookiejar.Jar, cookies hostapi.CookieStoreAccess, hostOf func(hostapi.TabID) (host, docURL string, ok bool), log logging.Logger) func() {
	return func() {
		for _, s := range reg.ListActive() {
			for tab := range s.Tabs {
				host, docURL, ok := hostOf(tab)
				if !ok {
					continue
				}
				native, err := cookies.ListForDomain(context.Background(), host)
				if err != nil || len(native) == 0 {
					continue
				}
				for _, nc := range native {
					captureIfNew(jar, s.ID, docURL, nc)
					if err := cookies.Delete(context.Background(), docURL, nc.Name); err != nil {
						log.Log(logging.WarnLevel, logging.NewEvent("cleanup", "leakage-delete-failed").With("name", nc.Name).With("err", err.Error()))
					}
				}
			}
		}
	}
}

func captureIfNew(jar *cookiejar.Jar, sessionID hostapi.SessionID, docURL string, nc *http.Cookie) {
	existing := jar.Get(sessionID, docURL)
	for _, c := range existing {
		if c.Name == nc.Name {
			return
		}
	}
	c := &cookiejar.Cookie{Name: nc.Name, Value: nc.Value, Domain: nc.Domain, Path: nc.Path, Secure: nc.Secure, HttpOnly: nc.HttpOnly}
	jar.Put(sessionID, docURL, c)
}

// ExpirySweep removes expired cookies from every session's jar (§4.10,
// runs every 60s).
func ExpirySweep(reg *session.Registry, jar *cookiejar.Jar) func() {
	return func() {
		for _, s := range reg.ListActive() {
			jar.RemoveExpired(s.ID)
		}
		for _, s := range reg.Dormant() {
			jar.RemoveExpired(s.ID)
		}
	}
}

// RetentionSweep deletes free-tier sessions idle past retention and
// notifies the user (§4.10, runs every 6h). Premium/Enterprise are
// exempt.
func RetentionSweep(reg *session.Registry, jar *cookiejar.Jar, retention time.Duration, notify func(sessionID hostapi.SessionID)) func() {
	return func() {
		now := time.Now()
		for _, s := range reg.Dormant() {
			if s.Tier != session.TierFree {
				continue
			}
			if now.Sub(s.LastAccessed) > retention {
				jar.Clear(s.ID)
				reg.Delete(s.ID)
				if notify != nil {
					notify(s.ID)
				}
			}
		}
	}
}

// OrphanSweep deletes any persisted session absent from the in-memory
// registry (§4.10).
func OrphanSweep(reg *session.Registry, persistedIDs func() []hostapi.SessionID, deleteFromL2 func(hostapi.SessionID)) func() {
	return func() {
		for _, id := range persistedIDs() {
			if _, ok := reg.Get(id); !ok {
				deleteFromL2(id)
			}
		}
	}
}
