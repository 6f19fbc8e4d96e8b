// Package persistence implements the three-tier persistence layer (C8): a
// fast in-memory L1, a durable transactional L2, and a small cross-device
// L3, composed behind a single Coordinator with one write entry point,
// persist(immediate bool), following the debounce-then-flush discipline
// §4.8 requires.
package persistence

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/logging"
)

const SchemaVersion = 3

// SessionRecord is the persisted shape of a session, independent of the
// in-memory session.Session type so the schema can evolve without
// dragging registry internals along.
type SessionRecord struct {
	ID           string
	Tier         int
	Color        string
	CustomColor  bool
	Name         string
	CreatedAt    int64
	LastAccessed int64
	State        int
}

type TabMetaRecord struct {
	URL       string
	Title     string
	Index     int
	Pinned    bool
	WindowID  string
	SessionID string
}

type AutoRestore struct {
	Enabled           bool
	DontShowNotice    bool
	DisabledReason    string
	DisabledAt        int64
	PreviousTier      int
	NewTier           int
}

// Snapshot is the full persisted state (§6 "Persisted state layout").
type Snapshot struct {
	SchemaVersion int
	Sessions      map[string]SessionRecord
	Jars          map[string][]CookieRecord // session id -> cookies
	Bindings      map[string]string         // tab id -> session id
	TabMetadata   map[string]TabMetaRecord  // tab id -> metadata
	AutoRestoreState AutoRestore
	LastSavedMs   int64
}

// CookieRecord is the persisted shape of a cookiejar.Cookie.
type CookieRecord struct {
	Name, Value, Domain, Path string
	Secure, HttpOnly          bool
	SameSite                  string
	ExpiresUnixMs             int64 // 0 means session cookie
}

// ToCookieRecord converts an in-memory cookie into its persisted form.
func ToCookieRecord(c *cookiejar.Cookie) CookieRecord {
	r := CookieRecord{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Secure: c.Secure, HttpOnly: c.HttpOnly, SameSite: string(c.SameSite)}
	if c.Expires != nil {
		r.ExpiresUnixMs = c.Expires.UnixMilli()
	}
	return r
}

// ToCookie converts a persisted cookie record back into the in-memory
// representation used by the cookie jar.
func (r CookieRecord) ToCookie() *cookiejar.Cookie {
	c := &cookiejar.Cookie{Name: r.Name, Value: r.Value, Domain: r.Domain, Path: r.Path, Secure: r.Secure, HttpOnly: r.HttpOnly, SameSite: cookiejar.SameSite(r.SameSite)}
	if r.ExpiresUnixMs != 0 {
		t := time.UnixMilli(r.ExpiresUnixMs)
		c.Expires = &t
	}
	return c
}

// L1 is the fast, primary key-value tier: no I/O, always consulted first.
type L1 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// L2 is the durable object store: Commit must not return until the write
// is durable; Read is the fallback path when L1 is empty.
type L2 interface {
	Commit(ctx context.Context, key string, value []byte) error
	Read(ctx context.Context, key string) ([]byte, bool, error)
}

// L3 is the optional cross-device, small-quota store carrying only
// critical metadata (tier, preferences, session count).
type L3 interface {
	PutMetadata(ctx context.Context, fields map[string]string) error
	GetMetadata(ctx context.Context) (map[string]string, error)
}

const snapshotKey = "snapshot"

// Coordinator composes the three tiers behind persist(immediate bool),
// the spec's single write entry point.
type Coordinator struct {
	mu       sync.Mutex
	l1       L1
	l2       L2
	l3       L3
	log      logging.Logger
	debounce time.Duration
	timer    *time.Timer
	pending  *Snapshot
}

// NewCoordinator returns a Coordinator. l3 may be nil (L3 is optional).
func NewCoordinator(l1 L1, l2 L2, l3 L3, debounce time.Duration, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Nop{}
	}
	return &Coordinator{l1: l1, l2: l2, l3: l3, debounce: debounce, log: log}
}

// Persist schedules snapshot to be written. immediate=true cancels any
// pending debounce and writes through synchronously; immediate=false
// coalesces with any already-pending write and fires after the debounce
// interval (§4.8).
func (c *Coordinator) Persist(ctx context.Context, snapshot *Snapshot, immediate bool) error {
	c.mu.Lock()
	snapshot.LastSavedMs = time.Now().UnixMilli()
	c.pending = snapshot
	if !immediate {
		if c.timer == nil {
			c.timer = time.AfterFunc(c.debounce, func() { c.flush(context.Background()) })
		} else {
			c.timer.Reset(c.debounce)
		}
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.flush(ctx)
}

func (c *Coordinator) flush(ctx context.Context) error {
	c.mu.Lock()
	snapshot := c.pending
	c.timer = nil
	c.mu.Unlock()
	if snapshot == nil {
		return nil
	}

	blob, err := json.Marshal(snapshot)
	if err != nil {
		c.log.Log(logging.ErrorLevel, logging.NewEvent("persistence", "marshal-failed").With("err", err.Error()))
		return err
	}

	l1Err := c.l1.Set(ctx, snapshotKey, blob)
	if l1Err != nil {
		c.log.Log(logging.WarnLevel, logging.NewEvent("persistence", "l1-write-failed").With("err", l1Err.Error()))
	}

	if err := c.l2.Commit(ctx, snapshotKey, blob); err != nil {
		c.log.Log(logging.ErrorLevel, logging.NewEvent("persistence", "l2-commit-failed").With("err", err.Error()))
		// L1 may still hold the write; this is not fatal per §7.
	} else if _, ok, err := c.l2.Read(ctx, snapshotKey); err != nil || !ok {
		// Readback of the committed blob, which carries tab_metadata.
		c.log.Log(logging.WarnLevel, logging.NewEvent("persistence", "l2-readback-missing"))
	}

	if c.l3 != nil {
		fields := map[string]string{
			"tier":          strconv.Itoa(highestTier(snapshot)),
			"session_count": strconv.Itoa(len(snapshot.Sessions)),
		}
		if err := c.l3.PutMetadata(ctx, fields); err != nil {
			c.log.Log(logging.WarnLevel, logging.NewEvent("persistence", "l3-write-failed").With("err", err.Error()))
		}
	}
	return nil
}

// highestTier returns the highest Tier value carried by any session in
// snapshot, used as the L3-reported account tier (the schema has no
// single top-level tier field; sessions carry tier individually).
func highestTier(snapshot *Snapshot) int {
	max := 0
	for _, rec := range snapshot.Sessions {
		if rec.Tier > max {
			max = rec.Tier
		}
	}
	return max
}

// Load implements the startup load policy: try L1 first; if empty, fall
// back to L2 and opportunistically repopulate L1; if both are empty but
// L3 reports a prior session count, the caller is told so it can log the
// anomaly and start clean.
func (c *Coordinator) Load(ctx context.Context) (*Snapshot, bool, error) {
	if blob, ok, err := c.l1.Get(ctx, snapshotKey); err == nil && ok {
		var snap Snapshot
		if err := json.Unmarshal(blob, &snap); err == nil {
			return &snap, true, nil
		}
	}

	if blob, ok, err := c.l2.Read(ctx, snapshotKey); err == nil && ok {
		var snap Snapshot
		if err := json.Unmarshal(blob, &snap); err == nil {
			_ = c.l1.Set(ctx, snapshotKey, blob)
			return &snap, true, nil
		}
	}

	if c.l3 != nil {
		if fields, err := c.l3.GetMetadata(ctx); err == nil {
			if count, ok := fields["session_count"]; ok && count != "" && count != "0" {
				c.log.Log(logging.WarnLevel, logging.NewEvent("persistence", "l1-l2-wiped").With("last_known_count", count))
			}
		}
	}

	return nil, false, nil
}
