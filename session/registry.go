// Package session implements the session registry (C4): sessions, the
// tab-to-session binding, the domain-activity index used by inheritance
// heuristics, and tier-gated color/name policy. It is grounded on the
// teacher's collector.go (the Collector type as "the one struct owning a
// shared registry of state, guarded by one lock"); session creation and
// tab binding are logged through the engine's logger.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kennygrant/sanitize"

	"github.com/meraf-solutions/tabsession/hostapi"
	"github.com/meraf-solutions/tabsession/logging"
)

// Tier is the external product classification that parameterizes limits
// and features; the licensing service is the source of truth, the
// registry only consumes it.
type Tier int

const (
	TierFree Tier = iota
	TierPremium
	TierEnterprise
)

// State is a session's lifecycle state.
type State int

const (
	StateCreating State = iota
	StateActive
	StateDormant
)

var (
	ErrLimitExceeded    = errors.New("session: tier session limit exceeded")
	ErrInvalidColor     = errors.New("session: invalid color")
	ErrTierRestriction  = errors.New("session: feature not available on this tier")
	ErrNotFound         = errors.New("session: not found")
	ErrNameTaken        = errors.New("session: name already in use")
	ErrNameInvalid      = errors.New("session: invalid name")
	ErrNotDormant       = errors.New("session: not dormant")
)

var freePalette = []string{"#e53935", "#1e88e5", "#43a047", "#fb8c00", "#8e24aa", "#00acc1"}
var premiumPaletteExtra = []string{"#d81b60", "#3949ab", "#00897b", "#f4511e", "#6d4c41", "#7cb342", "#c0ca33"}
var enterprisePaletteExtra = make([]string, 0, 22)

func init() {
	// Enterprise gets a larger palette (35 total); deterministic synthetic
	// extension of the premium set keeps the palette generation simple
	// and test-stable rather than hard-coding 22 more hex literals.
	base := append(append([]string{}, freePalette...), premiumPaletteExtra...)
	for i := 0; len(base)+len(enterprisePaletteExtra) < 35; i++ {
		enterprisePaletteExtra = append(enterprisePaletteExtra, base[i%len(base)])
	}
}

// TabMeta is the last-known metadata for a bound tab, used for
// URL-based restoration when the host reassigns tab IDs on restart.
type TabMeta struct {
	URL      string
	Title    string
	Index    int
	Pinned   bool
	WindowID string
}

// Session is one independent identity container.
type Session struct {
	ID           hostapi.SessionID
	Tier         Tier
	Color        string
	CustomColor  bool
	Name         string
	CreatedAt    time.Time
	LastAccessed time.Time
	State        State
	Tabs         map[hostapi.TabID]TabMeta
	// LastTabs holds the last-known metadata for every tab that has ever
	// been bound to this session. Unlike Tabs, it is never cleared on
	// unbind or on transition to Dormant: it is the durable tab_metadata
	// a dormant session needs to restore its tabs' URLs when the host
	// reassigns tab IDs on restart (§3, §4.4 reopen_dormant).
	LastTabs map[hostapi.TabID]TabMeta
}

// Registry owns every session and the tab->session bindings (C4).
type Registry struct {
	mu       sync.Mutex
	log      logging.Logger
	seq      uint64
	sessions map[hostapi.SessionID]*Session
	bindings map[hostapi.TabID]hostapi.SessionID
	// activity[host][session] = last_seen_ms, used only by the tab
	// lifecycle inheritance heuristics.
	activity map[string]map[hostapi.SessionID]time.Time
	names    map[string]hostapi.SessionID // lowercased name -> session, uniqueness index
}

// NewRegistry returns an empty registry. A nil logger disables logging.
func NewRegistry(log logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop{}
	}
	return &Registry{
		log:      log,
		sessions: map[hostapi.SessionID]*Session{},
		bindings: map[hostapi.TabID]hostapi.SessionID{},
		activity: map[string]map[hostapi.SessionID]time.Time{},
		names:    map[string]hostapi.SessionID{},
	}
}

func tierLimit(tier Tier) int {
	switch tier {
	case TierFree:
		return 3
	default:
		return -1 // unbounded
	}
}

func palette(tier Tier) []string {
	switch tier {
	case TierFree:
		return freePalette
	case TierPremium:
		return append(append([]string{}, freePalette...), premiumPaletteExtra...)
	default:
		return append(append(append([]string{}, freePalette...), premiumPaletteExtra...), enterprisePaletteExtra...)
	}
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// activeCount returns how many Active sessions exist, the only state
// counted against the tier limit (invariant 6; Dormant sessions never
// count, per the resolved open question in SPEC_FULL.md §9).
func (r *Registry) activeCount() int {
	n := 0
	for _, s := range r.sessions {
		if s.State == StateActive {
			n++
		}
	}
	return n
}

// CanCreate reports whether a new Active session is currently allowed for
// tier.
func (r *Registry) CanCreate(tier Tier) (allowed bool, current, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit = tierLimit(tier)
	current = r.activeCount()
	if limit < 0 {
		return true, current, limit
	}
	return current < limit, current, limit
}

// Create allocates a new session. It starts in StateCreating (no tabs
// yet, excluded from activity tracking) until the first tab binds to it.
func (r *Registry) Create(tier Tier, requestedColor string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := tierLimit(tier)
	if limit >= 0 && r.activeCount() >= limit {
		return nil, ErrLimitExceeded
	}

	r.seq++
	id := hostapi.SessionID(genID(r.seq))

	color := requestedColor
	custom := false
	if color != "" {
		if tier != TierEnterprise {
			return nil, ErrTierRestriction
		}
		if !isValidHexColor(color) {
			return nil, ErrInvalidColor
		}
		custom = true
	} else {
		p := palette(tier)
		color = p[hashString(string(id))%uint32(len(p))]
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Tier:         tier,
		Color:        color,
		CustomColor:  custom,
		CreatedAt:    now,
		LastAccessed: now,
		State:        StateCreating,
		Tabs:         map[hostapi.TabID]TabMeta{},
		LastTabs:     map[hostapi.TabID]TabMeta{},
	}
	r.sessions[id] = s
	r.log.Log(logging.InfoLevel, logging.NewEvent("session", "create").With("session", string(id)))
	return s, nil
}

// Restore reinserts a session with its original ID, bypassing the tier
// limit and color allocation a live Create goes through: it is used only
// by the SESSION_LOAD phase to rehydrate persisted state, where the
// sessions already existed and were already counted against the limit in
// a prior run. A session restored this way starts Dormant; it becomes
// Active again only once a tab binds to it.
func (r *Registry) Restore(id hostapi.SessionID, tier Tier, color string, customColor bool, name string, createdAt, lastAccessed time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		return existing
	}
	s := &Session{
		ID:           id,
		Tier:         tier,
		Color:        color,
		CustomColor:  customColor,
		Name:         name,
		CreatedAt:    createdAt,
		LastAccessed: lastAccessed,
		State:        StateDormant,
		Tabs:         map[hostapi.TabID]TabMeta{},
		LastTabs:     map[hostapi.TabID]TabMeta{},
	}
	r.sessions[id] = s
	if name != "" {
		r.names[strings.ToLower(name)] = id
	}
	return s
}

func genID(seq uint64) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := seq
	if n == 0 {
		return "s0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append(buf, alphabet[n%uint64(len(alphabet))])
		n /= uint64(len(alphabet))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return "s" + string(buf)
}

func isValidHexColor(c string) bool {
	c = strings.TrimPrefix(c, "#")
	if len(c) != 3 && len(c) != 6 {
		return false
	}
	for _, r := range c {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// Bind attaches tab to session. The session transitions Creating/Dormant
// -> Active.
func (r *Registry) Bind(tab hostapi.TabID, session hostapi.SessionID, meta TabMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return ErrNotFound
	}
	if prior, bound := r.bindings[tab]; bound && prior != session {
		r.unbindLocked(tab)
	}
	r.bindings[tab] = session
	s.Tabs[tab] = meta
	s.LastTabs[tab] = meta
	s.State = StateActive
	r.log.Log(logging.DebugLevel, logging.NewEvent("session", "bind").With("session", string(session)).With("tab", string(tab)))
	return nil
}

// Unbind detaches tab. If the owning session loses its last tab it moves
// to Dormant; the caller (tab lifecycle, C7) decides whether to instead
// delete it under an auto-restore policy.
func (r *Registry) Unbind(tab hostapi.TabID) (hostapi.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(tab)
}

func (r *Registry) unbindLocked(tab hostapi.TabID) (hostapi.SessionID, bool) {
	session, ok := r.bindings[tab]
	if !ok {
		return "", false
	}
	delete(r.bindings, tab)
	if s, ok := r.sessions[session]; ok {
		delete(s.Tabs, tab)
		if len(s.Tabs) == 0 {
			s.State = StateDormant
		}
	}
	return session, true
}

// Delete removes a session entirely (explicit user action, auto-restore
// policy, or migration cleanup).
func (r *Registry) Delete(session hostapi.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return
	}
	for tab := range s.Tabs {
		delete(r.bindings, tab)
	}
	if s.Name != "" {
		delete(r.names, strings.ToLower(s.Name))
	}
	delete(r.sessions, session)
	for host, m := range r.activity {
		delete(m, session)
		if len(m) == 0 {
			delete(r.activity, host)
		}
	}
}

// Get returns the session for id, if any.
func (r *Registry) Get(id hostapi.SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SessionFor returns the session currently bound to tab.
func (r *Registry) SessionFor(tab hostapi.TabID) (hostapi.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bindings[tab]
	return s, ok
}

// Touch updates last_accessed and records domain activity, skipped while
// the session is still in StateCreating (§4.7).
func (r *Registry) Touch(session hostapi.SessionID, host string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok || s.State == StateCreating {
		return
	}
	s.LastAccessed = now
	if host != "" {
		m, ok := r.activity[host]
		if !ok {
			m = map[hostapi.SessionID]time.Time{}
			r.activity[host] = m
		}
		m[session] = now
	}
}

// MostRecentActivity returns the session that most recently acted on
// host within window, used by the noopener inheritance heuristic (§4.7).
func (r *Registry) MostRecentActivity(host string, window time.Duration, now time.Time) (hostapi.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.activity[host]
	if !ok {
		return "", false
	}
	var best hostapi.SessionID
	var bestAt time.Time
	for session, at := range m {
		if now.Sub(at) > window {
			continue
		}
		if at.After(bestAt) {
			best, bestAt = session, at
		}
	}
	return best, best != ""
}

// ListActive returns every Active session.
func (r *Registry) ListActive() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.State == StateActive {
			out = append(out, s)
		}
	}
	return out
}

// ListPersistable returns every Active or Dormant session: the set that
// must survive into a persisted snapshot. Creating sessions are
// transient (no tabs bound yet) and are excluded, matching their
// exclusion from activity tracking in Touch.
func (r *Registry) ListPersistable() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.State == StateActive || s.State == StateDormant {
			out = append(out, s)
		}
	}
	return out
}

// Rename validates and applies a new session name (Premium/Enterprise
// only). Before the length/uniqueness/character-blacklist rules are
// applied, accented letters are folded to their plain base letters with
// kennygrant/sanitize's Accents (the library the teacher uses in
// storage/filesys for turning arbitrary strings into safe identifiers),
// and surrounding whitespace is trimmed and inner runs collapsed to one
// space. No other characters are stripped; the blacklisted ones are
// rejected.
func (r *Registry) Rename(session hostapi.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return ErrNotFound
	}
	if s.Tier == TierFree {
		return ErrTierRestriction
	}

	clean := sanitizeName(name)
	if clean == "" {
		return ErrNameInvalid
	}
	if utf8.RuneCountInString(clean) > 50 {
		return ErrNameInvalid
	}
	for _, ch := range clean {
		switch ch {
		case '<', '>', '"', '\'', '`':
			return ErrNameInvalid
		}
	}

	key := strings.ToLower(clean)
	if owner, taken := r.names[key]; taken && owner != session {
		return ErrNameTaken
	}

	if s.Name != "" {
		delete(r.names, strings.ToLower(s.Name))
	}
	s.Name = clean
	r.names[key] = session
	return nil
}

func sanitizeName(name string) string {
	fields := strings.Fields(sanitize.Accents(name))
	return strings.Join(fields, " ")
}

// SetColor applies a custom color; Enterprise only.
func (r *Registry) SetColor(session hostapi.SessionID, hex string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return ErrNotFound
	}
	if s.Tier != TierEnterprise {
		return ErrTierRestriction
	}
	if !isValidHexColor(hex) {
		return ErrInvalidColor
	}
	s.Color = hex
	s.CustomColor = true
	return nil
}

// MarkDormant forces a session to Dormant regardless of tab count, used
// by the engine's tier-downgrade handling (Engine.NotifyTierChanged).
func (r *Registry) MarkDormant(session hostapi.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[session]; ok {
		for tab := range s.Tabs {
			delete(r.bindings, tab)
		}
		s.Tabs = map[hostapi.TabID]TabMeta{}
		s.State = StateDormant
	}
}

// Dormant returns every Dormant session, used by the expiry and retention
// sweeps.
func (r *Registry) Dormant() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.State == StateDormant {
			out = append(out, s)
		}
	}
	return out
}

// RestoreTabMeta rehydrates a session's last-known tab metadata from a
// persisted snapshot, without creating a live tab binding: on SESSION_LOAD
// the host has not yet told the engine which tabs exist, so the binding
// itself still has to wait for Bind to be called once tabs reopen.
func (r *Registry) RestoreTabMeta(session hostapi.SessionID, tab hostapi.TabID, meta TabMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return
	}
	s.LastTabs[tab] = meta
}

// TabSpec describes a tab to recreate when a Dormant session is reopened
// (C4 reopen_dormant, §4.4).
type TabSpec struct {
	URL      string
	Title    string
	Index    int
	Pinned   bool
	WindowID string
}

// ReopenDormant returns the set of tabs session should be reopened with,
// drawn from its last-known tab metadata (§8 scenario 5: reopening a
// dormant session restores the last known URL). It does not itself bind
// any tab or change session state -- the caller opens the tabs through the
// host and then calls Bind as each one comes up. Reopening is checked
// against the tier limit like a fresh Create: when the session's tier
// already has its limit of Active sessions it returns ErrLimitExceeded
// and the session stays Dormant.
func (r *Registry) ReopenDormant(session hostapi.SessionID) ([]TabSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[session]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != StateDormant {
		return nil, ErrNotDormant
	}
	if limit := tierLimit(s.Tier); limit >= 0 && r.activeCount() >= limit {
		return nil, ErrLimitExceeded
	}
	specs := make([]TabSpec, 0, len(s.LastTabs))
	for _, meta := range s.LastTabs {
		specs = append(specs, TabSpec{
			URL:      meta.URL,
			Title:    meta.Title,
			Index:    meta.Index,
			Pinned:   meta.Pinned,
			WindowID: meta.WindowID,
		})
	}
	return specs, nil
}
