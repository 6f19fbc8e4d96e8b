// Package engine is the composition root: it wires the cookie jar,
// classifier, header codec, session registry, interceptor, page bridge,
// tab lifecycle manager, three-tier persistence layer, initialization
// state machine, and cleanup scheduler into one running engine and
// exposes the host-facing API table. Grounded on the teacher's
// collector.go, which plays the same role for colly (one struct holding
// every subsystem, with a handful of top-level methods as the public
// surface).
package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/meraf-solutions/tabsession/classifier"
	"github.com/meraf-solutions/tabsession/cleanup"
	"github.com/meraf-solutions/tabsession/cookiejar"
	"github.com/meraf-solutions/tabsession/envconfig"
	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/initmgr"
	"github.com/meraf-solutions/tabsession/interceptor"
	"github.com/meraf-solutions/tabsession/lifecycle"
	"github.com/meraf-solutions/tabsession/logging"
	"github.com/meraf-solutions/tabsession/pagebridge"
	"github.com/meraf-solutions/tabsession/persistence"
	"github.com/meraf-solutions/tabsession/persistence/badgerkv"
	"github.com/meraf-solutions/tabsession/persistence/memkv"
	"github.com/meraf-solutions/tabsession/persistence/sqlitekv"
	"github.com/meraf-solutions/tabsession/session"
)

// LicenseService is the host-supplied source of truth for the current
// tier. The engine never decides tiers itself, it only consumes them.
type LicenseService interface {
	CurrentTier(ctx context.Context) (session.Tier, error)
}

// Engine wires every component together and exposes the engine-level API
// named in the external interfaces table.
type Engine struct {
	Config *envconfig.EngineConfig
	Log    logging.Logger

	Jar           *cookiejar.Jar
	Reg           *session.Registry
	Interceptor   *interceptor.Interceptor
	Bridge        *pagebridge.Bridge
	Lifecycle     *lifecycle.Manager
	Persist       *persistence.Coordinator
	Init          *initmgr.Manager
	Cleanup       *cleanup.Scheduler

	host    hostapi.Host
	license LicenseService

	mu          sync.Mutex
	autoRestore map[hostapi.SessionID]bool
}

// New constructs an Engine and its initialization phase sequence, but
// does not start anything; call Start to run Initialize and launch the
// cleanup scheduler.
func New(cfg *envconfig.EngineConfig, log logging.Logger, host hostapi.Host, license LicenseService) (*Engine, error) {
	if log == nil {
		log = logging.Nop{}
	}

	jar := cookiejar.NewJar()
	reg := session.NewRegistry(log)

	l1 := memkv.New()
	l2, err := badgerkv.Open(cfg.L2Path)
	if err != nil {
		return nil, err
	}
	var l3 *sqlitekv.Store
	if cfg.L3Path != "" {
		l3, err = sqlitekv.Open(cfg.L3Path)
		if err != nil {
			return nil, err
		}
	}
	var persistL3 persistence.L3
	if l3 != nil {
		persistL3 = l3
	}
	coord := persistence.NewCoordinator(l1, l2, persistL3, cfg.PersistDebounce, log)

	e := &Engine{
		Config:      cfg,
		Log:         log,
		Jar:         jar,
		Reg:         reg,
		Persist:     coord,
		host:        host,
		license:     license,
		autoRestore: map[hostapi.SessionID]bool{},
	}

	e.Interceptor = interceptor.New(jar, reg, e.isReady, log)
	e.Bridge = pagebridge.New(jar, reg)
	e.Lifecycle = lifecycle.New(reg, e, log, cfg.NoopenerInheritWindow, lifecycle.DefaultBlankPatterns)

	if host.Alarms != nil {
		host.Alarms.OnAlarm(e.handleAlarm)
	}
	if host.Messaging != nil {
		host.Messaging.OnMessage(e.handleBridgeMessage)
	}

	e.Init = initmgr.New(map[initmgr.State]initmgr.Phase{
		initmgr.LicenseInit:      e.phaseLicenseInit,
		initmgr.AutoRestoreCheck: e.phaseAutoRestoreCheck,
		initmgr.SessionLoad:      e.phaseSessionLoad,
		initmgr.Cleanup:          e.phaseCleanupRegister,
	})

	e.Cleanup = cleanup.New(e.isReady)
	e.Cleanup.Register(cleanup.Job{Name: "leakage-sweep", Interval: cfg.LeakageSweepInterval, Run: cleanup.LeakageSweep(reg, jar, host.Cookies, e.tabHostAndURL, log)})
	e.Cleanup.Register(cleanup.Job{Name: "expiry-sweep", Interval: cfg.ExpirySweepInterval, Run: cleanup.ExpirySweep(reg, jar)})
	e.Cleanup.Register(cleanup.Job{Name: "retention-sweep", Interval: cfg.RetentionSweep, Run: cleanup.RetentionSweep(reg, jar, cfg.FreeTierRetention, e.notifyRetentionDeleted)})
	e.Cleanup.Register(cleanup.Job{Name: "orphan-sweep", Interval: cfg.RetentionSweep, Run: cleanup.OrphanSweep(reg, e.persistedSessionIDs, e.deleteFromL2)})

	return e, nil
}

// Start runs the initialization phase sequence to READY (or error) and,
// on success, launches the cleanup scheduler. Startup is bounded by the
// configured soft timeout (§5): past it the state machine moves to
// Error and the engine runs in the read-only degraded mode described in
// §7, rather than blocking the host indefinitely.
func (e *Engine) Start(ctx context.Context) error {
	// Armed on every invocation, not just install: hosts that lazily
	// unload extension background contexts between invocations need the
	// wake-up re-armed each time this entry point runs (§4.9).
	if e.host.Alarms != nil {
		e.host.Alarms.Arm(wakeAlarmName, wakeAlarmIntervalMs)
	}

	timeout := e.Config.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.Init.Initialize(ctx); err != nil {
		return err
	}
	e.Cleanup.Start()
	return nil
}

// wakeAlarmName/wakeAlarmIntervalMs configure the host wake-up alarm
// (§4.9). 60s matches the minimum granularity common alarm APIs enforce
// (e.g. chrome.alarms).
const wakeAlarmName = "tabsession-keepalive"
const wakeAlarmIntervalMs = 60000

func (e *Engine) handleAlarm(name string) {
	if name != wakeAlarmName || e.host.Alarms == nil {
		return
	}
	e.host.Alarms.Arm(wakeAlarmName, wakeAlarmIntervalMs)
}

// handleBridgeMessage adapts the host's byte-oriented Messaging bus to the
// page bridge's typed Request/Response shapes (§6 item 11, C6).
func (e *Engine) handleBridgeMessage(tab hostapi.TabID, payload []byte) []byte {
	var req pagebridge.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		out, _ := json.Marshal(pagebridge.Response{OK: false, Error: "invalid bridge request"})
		return out
	}
	req.TabID = tab
	resp := e.Bridge.Dispatch(req)
	out, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return out
}

func (e *Engine) isReady() bool { return e.Init.IsReady() }

func (e *Engine) phaseLicenseInit(ctx context.Context) error {
	if e.license == nil {
		return nil
	}
	_, err := e.license.CurrentTier(ctx)
	return err
}

func (e *Engine) phaseAutoRestoreCheck(ctx context.Context) error {
	return nil
}

func (e *Engine) phaseSessionLoad(ctx context.Context) error {
	snap, ok, err := e.Persist.Load(ctx)
	if err != nil || !ok {
		return err
	}
	for id, rec := range snap.Sessions {
		sessionID := hostapi.SessionID(id)
		e.Reg.Restore(sessionID, session.Tier(rec.Tier), rec.Color, rec.CustomColor, rec.Name,
			time.UnixMilli(rec.CreatedAt), time.UnixMilli(rec.LastAccessed))
		if cookies, ok := snap.Jars[id]; ok {
			var restored []*cookiejar.Cookie
			for _, cr := range cookies {
				restored = append(restored, cr.ToCookie())
			}
			e.Jar.Restore(sessionID, restored)
		}
	}
	for tabID, rec := range snap.TabMetadata {
		e.Reg.RestoreTabMeta(hostapi.SessionID(rec.SessionID), hostapi.TabID(tabID), session.TabMeta{
			URL: rec.URL, Title: rec.Title, Index: rec.Index, Pinned: rec.Pinned, WindowID: rec.WindowID,
		})
	}
	return nil
}

func (e *Engine) phaseCleanupRegister(ctx context.Context) error {
	return nil
}

// DeleteOnLastTabClosed implements lifecycle.AutoRestorePolicy: Enterprise
// sessions with auto-restore explicitly enabled are deleted outright on
// last-tab-close; everything else goes Dormant so it can be reopened.
func (e *Engine) DeleteOnLastTabClosed(sessionID hostapi.SessionID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoRestore[sessionID]
}

func (e *Engine) notifyRetentionDeleted(sessionID hostapi.SessionID) {
	if e.host.Notifier == nil {
		return
	}
	e.host.Notifier.Notify(context.Background(), "Session expired", "A free-tier session was removed after 7 days of inactivity.")
}

func (e *Engine) persistedSessionIDs() []hostapi.SessionID {
	snap, ok, err := e.Persist.Load(context.Background())
	if err != nil || !ok {
		return nil
	}
	ids := make([]hostapi.SessionID, 0, len(snap.Sessions))
	for id := range snap.Sessions {
		ids = append(ids, hostapi.SessionID(id))
	}
	return ids
}

// deleteFromL2 rewrites the persisted snapshot blob with every entry
// belonging to id removed, the orphan sweep's actual durable delete
// (§4.10): L2 holds one snapshot object, not per-session rows, so "delete
// a session" means read-modify-write the whole blob.
func (e *Engine) deleteFromL2(id hostapi.SessionID) {
	ctx := context.Background()
	snap, ok, err := e.Persist.Load(ctx)
	if err != nil || !ok {
		return
	}
	sid := string(id)
	if _, present := snap.Sessions[sid]; !present {
		return
	}
	delete(snap.Sessions, sid)
	delete(snap.Jars, sid)
	for tab, owner := range snap.Bindings {
		if owner == sid {
			delete(snap.Bindings, tab)
		}
	}
	for tab, meta := range snap.TabMetadata {
		if meta.SessionID == sid {
			delete(snap.TabMetadata, tab)
		}
	}
	if err := e.Persist.Persist(ctx, snap, true); err != nil {
		e.Log.Log(logging.ErrorLevel, logging.NewEvent("engine", "orphan-delete-failed").With("session", sid).With("err", err.Error()))
		return
	}
	e.Log.Log(logging.InfoLevel, logging.NewEvent("engine", "orphan-deleted").With("session", sid))
}

func (e *Engine) tabHostAndURL(tab hostapi.TabID) (host, docURL string, ok bool) {
	s, bound := e.Reg.SessionFor(tab)
	if !bound {
		return "", "", false
	}
	sess, found := e.Reg.Get(s)
	if !found {
		return "", "", false
	}
	meta, ok := sess.Tabs[tab]
	if !ok || meta.URL == "" {
		return "", "", false
	}
	parsed, err := url.Parse(meta.URL)
	if err != nil || parsed.Hostname() == "" {
		return "", meta.URL, true
	}
	etld1, err := classifier.EffectiveTLDPlusOne(parsed.Hostname())
	if err != nil {
		return parsed.Hostname(), meta.URL, true
	}
	return etld1, meta.URL, true
}

// --- Host-facing API table (§6) ---

// Result is a structured {OK, Error} shape for user-initiated operations
// (§7). The API methods below do not return it; they return a plain error
// (nil on success).
type Result struct {
	OK    bool
	Error string
}

// CreateSession allocates a new session for tier, optionally with a
// custom color (Enterprise only).
func (e *Engine) CreateSession(tier session.Tier, customColor string) (*session.Session, error) {
	return e.Reg.Create(tier, customColor)
}

// CanCreateSession reports whether tier currently has room for another
// Active session.
func (e *Engine) CanCreateSession(tier session.Tier) (allowed bool, current, limit int) {
	return e.Reg.CanCreate(tier)
}

// ListActiveSessions returns every Active session.
func (e *Engine) ListActiveSessions() []*session.Session {
	return e.Reg.ListActive()
}

// BindTab attaches tab to sessionID.
func (e *Engine) BindTab(tab hostapi.TabID, sessionID hostapi.SessionID, meta session.TabMeta) error {
	return e.Reg.Bind(tab, sessionID, meta)
}

// GetSessionForTab returns the session bound to tab, if any.
func (e *Engine) GetSessionForTab(tab hostapi.TabID) (hostapi.SessionID, bool) {
	return e.Reg.SessionFor(tab)
}

// RenameSession applies a new display name (Premium/Enterprise only).
func (e *Engine) RenameSession(sessionID hostapi.SessionID, name string) error {
	return e.Reg.Rename(sessionID, name)
}

// SetAutoRestore toggles the Enterprise-only auto-restore (delete instead
// of dormant-on-last-tab-closed) policy for a session.
func (e *Engine) SetAutoRestore(sessionID hostapi.SessionID, enabled bool) error {
	s, ok := e.Reg.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}
	if enabled && s.Tier != session.TierEnterprise {
		return session.ErrTierRestriction
	}
	e.mu.Lock()
	e.autoRestore[sessionID] = enabled
	e.mu.Unlock()
	return nil
}

// NotifyTierChanged reacts to a licensing downgrade or upgrade: on
// downgrade, sessions beyond the new tier's limit are marked Dormant
// (never deleted outright) until the user manually removes them.
func (e *Engine) NotifyTierChanged(previous, next session.Tier) {
	if next >= previous {
		return
	}
	limit := 0
	switch next {
	case session.TierFree:
		limit = 3
	default:
		limit = -1
	}
	if limit < 0 {
		return
	}
	active := e.Reg.ListActive()
	if len(active) <= limit {
		return
	}
	// Oldest-created sessions are kept Active first, matching "you keep
	// what you made first" expectations on a downgrade.
	sort.SliceStable(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	for i := limit; i < len(active); i++ {
		e.Reg.MarkDormant(active[i].ID)
	}
}

// SaveSnapshot builds a persistence.Snapshot from the current in-memory
// state and schedules it for write; immediate=true bypasses the debounce.
func (e *Engine) SaveSnapshot(ctx context.Context, immediate bool) error {
	snap := &persistence.Snapshot{
		SchemaVersion: persistence.SchemaVersion,
		Sessions:      map[string]persistence.SessionRecord{},
		Jars:          map[string][]persistence.CookieRecord{},
		Bindings:      map[string]string{},
		TabMetadata:   map[string]persistence.TabMetaRecord{},
	}
	for _, s := range e.Reg.ListPersistable() {
		snap.Sessions[string(s.ID)] = persistence.SessionRecord{
			ID: string(s.ID), Tier: int(s.Tier), Color: s.Color, CustomColor: s.CustomColor,
			Name: s.Name, CreatedAt: s.CreatedAt.UnixMilli(), LastAccessed: s.LastAccessed.UnixMilli(), State: int(s.State),
		}
		var cookies []persistence.CookieRecord
		for _, c := range e.Jar.Snapshot(s.ID) {
			cookies = append(cookies, persistence.ToCookieRecord(c))
		}
		snap.Jars[string(s.ID)] = cookies
		// Bindings reflect only currently-bound tabs; TabMetadata is sourced
		// from LastTabs so a Dormant session's last-known URLs survive
		// after its tabs close (§3, §4.4 reopen_dormant).
		for tab := range s.Tabs {
			snap.Bindings[string(tab)] = string(s.ID)
		}
		for tab, meta := range s.LastTabs {
			snap.TabMetadata[string(tab)] = persistence.TabMetaRecord{
				URL: meta.URL, Title: meta.Title, Index: meta.Index, Pinned: meta.Pinned, WindowID: meta.WindowID, SessionID: string(s.ID),
			}
		}
	}
	return e.Persist.Persist(ctx, snap, immediate)
}

// ReopenDormant returns the tabs a Dormant session should be reopened
// with (C4 reopen_dormant, §4.4, §8 scenario 5).
func (e *Engine) ReopenDormant(sessionID hostapi.SessionID) ([]session.TabSpec, error) {
	return e.Reg.ReopenDormant(sessionID)
}

// Stop halts the cleanup scheduler and flushes a final snapshot.
func (e *Engine) Stop(ctx context.Context) error {
	e.Cleanup.Stop()
	return e.SaveSnapshot(ctx, true)
}
