// Package fake provides in-memory reference implementations of every
// hostapi interface, in the same spirit as the teacher's storage/mem
// package: no I/O, used to drive the engine's own test suite without a
// real browser.
package fake

import (
	"context"
	"net/http"
	"sync"

	"github.com/meraf-solutions/tabsession/hostapi"
)

// CookieStore is an in-memory hostapi.CookieStoreAccess.
type CookieStore struct {
	mu      sync.Mutex
	cookies map[string][]*http.Cookie // domain -> cookies
}

func NewCookieStore() *CookieStore {
	return &CookieStore{cookies: map[string][]*http.Cookie{}}
}

func (c *CookieStore) ListForDomain(ctx context.Context, domain string) ([]*http.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*http.Cookie, len(c.cookies[domain]))
	copy(out, c.cookies[domain])
	return out, nil
}

func (c *CookieStore) Delete(ctx context.Context, url, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for domain, list := range c.cookies {
		kept := list[:0]
		for _, ck := range list {
			if ck.Name != name {
				kept = append(kept, ck)
			}
		}
		c.cookies[domain] = kept
	}
	return nil
}

// Seed injects a cookie as if the host browser had set it natively; used
// by tests simulating a leakage scenario.
func (c *CookieStore) Seed(domain string, ck *http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[domain] = append(c.cookies[domain], ck)
}

// Tabs is an in-memory hostapi.TabHost.
type Tabs struct {
	mu            sync.Mutex
	tabs          map[hostapi.TabID]*hostapi.TabInfo
	onCreated     []func(hostapi.TabInfo)
	onNavTarget   []func(source, target hostapi.TabID)
	onUpdated     []func(hostapi.TabInfo)
	onActivated   []func(hostapi.TabID)
	onRemoved     []func(hostapi.TabID)
}

func NewTabs() *Tabs {
	return &Tabs{tabs: map[hostapi.TabID]*hostapi.TabInfo{}}
}

func (t *Tabs) Get(ctx context.Context, id hostapi.TabID) (*hostapi.TabInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tabs[id]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

func (t *Tabs) OnCreated(fn func(hostapi.TabInfo))                  { t.onCreated = append(t.onCreated, fn) }
func (t *Tabs) OnNavigationTarget(fn func(source, target hostapi.TabID)) {
	t.onNavTarget = append(t.onNavTarget, fn)
}
func (t *Tabs) OnUpdated(fn func(hostapi.TabInfo))  { t.onUpdated = append(t.onUpdated, fn) }
func (t *Tabs) OnActivated(fn func(hostapi.TabID))  { t.onActivated = append(t.onActivated, fn) }
func (t *Tabs) OnRemoved(fn func(hostapi.TabID))    { t.onRemoved = append(t.onRemoved, fn) }

// Create registers a tab and fires the OnCreated callbacks, simulating the
// host's tab-creation event.
func (t *Tabs) Create(info hostapi.TabInfo) {
	t.mu.Lock()
	t.tabs[info.ID] = &info
	handlers := append([]func(hostapi.TabInfo){}, t.onCreated...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(info)
	}
}

// OpenAsNavigationTarget simulates window.open()-style popup creation.
func (t *Tabs) OpenAsNavigationTarget(source, target hostapi.TabID, info hostapi.TabInfo) {
	t.mu.Lock()
	t.tabs[target] = &info
	handlers := append([]func(source, target hostapi.TabID){}, t.onNavTarget...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(source, target)
	}
}

// Remove simulates a tab closing.
func (t *Tabs) Remove(id hostapi.TabID) {
	t.mu.Lock()
	delete(t.tabs, id)
	handlers := append([]func(hostapi.TabID){}, t.onRemoved...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(id)
	}
}

// KV is an in-memory hostapi.KVStore (used directly as L1 in tests).
type KV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewKV() *KV { return &KV{data: map[string][]byte{}} }

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *KV) Remove(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

var _ hostapi.CookieStoreAccess = (*CookieStore)(nil)
var _ hostapi.TabHost = (*Tabs)(nil)
var _ hostapi.KVStore = (*KV)(nil)
