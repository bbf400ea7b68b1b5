// Package limit implements the Limit Resolver (C6): resolving a user's
// concurrent-IP limit, either from a durable local table or from the panel
// via a TTL cache, per spec.md §4.6.
package limit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/panel"
)

// Resolver resolves a user's current limit. Both modes satisfy this
// interface so the Check Service (C4) is agnostic to which is wired.
type Resolver interface {
	Get(ctx context.Context, name string) (model.UserLimit, error)
}

// LocalResolver implements local mode: a durable (name → limit) table. A
// miss returns UserLimit(name, DEFAULT_LIMIT), never an error, per spec.md
// §4.6 ("get(name) returns that entry or UserLimit(name, DEFAULT_LIMIT)").
type LocalResolver struct {
	store        *SQLiteStore
	defaultLimit int
}

// NewLocalResolver builds a LocalResolver backed by store.
func NewLocalResolver(store *SQLiteStore, defaultLimit int) *LocalResolver {
	return &LocalResolver{store: store, defaultLimit: defaultLimit}
}

// Get returns the configured limit for name, or the default if unset.
func (r *LocalResolver) Get(ctx context.Context, name string) (model.UserLimit, error) {
	limit, found, err := r.store.Get(ctx, name)
	if err != nil {
		return model.UserLimit{}, fmt.Errorf("limit: local resolve %q: %w", name, err)
	}
	if !found {
		return model.UserLimit{Name: name, Limit: r.defaultLimit, Resolved: true}, nil
	}
	return model.UserLimit{Name: name, Limit: limit, Resolved: true}, nil
}

// cacheEntry is one TTL-cache slot.
type cacheEntry struct {
	limit   model.UserLimit
	expires time.Time
}

// cacheCapacity bounds the panel-mode TTL cache per spec.md §4.6
// ("capacity 100 000").
const cacheCapacity = 100000

// PanelResolver implements panel mode: a TTL cache in front of C1's
// GetUser, with the sentinel-pre-insert single-flight approximation spec.md
// §4.6 calls for.
//
// On miss, PanelResolver pre-inserts UserLimit(name, 0) before calling the
// panel so that a concurrent second resolution for the same name observes
// limit 0 and skips enforcement rather than racing the first resolution —
// "erring on the side of not banning during races".
type PanelResolver struct {
	client   *panel.Client
	session  *model.PanelSession
	services map[int]int
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewPanelResolver builds a PanelResolver. services maps a marzneshin
// service id to its configured limit (MARZNESHIN_SERVICES, parsed by
// internal/config).
func NewPanelResolver(client *panel.Client, session *model.PanelSession, services map[int]int, ttl time.Duration) *PanelResolver {
	return &PanelResolver{
		client:   client,
		session:  session,
		services: services,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

// Get returns the cached limit for name if present and unexpired. On a
// miss it pre-inserts the sentinel, calls the panel, then replaces the
// cache entry with the resolved value and returns a copy of it.
func (r *PanelResolver) Get(ctx context.Context, name string) (model.UserLimit, error) {
	if cached, ok := r.lookup(name); ok {
		return cached, nil
	}

	r.preInsertSentinel(name)

	record, err := r.client.GetUser(ctx, r.session, name)
	if err != nil {
		return model.UserLimit{}, fmt.Errorf("limit: panel resolve %q: %w", name, err)
	}

	resolved := model.UserLimit{Name: name, Limit: 0, Resolved: true}
	if record != nil {
		resolved.Limit = r.limitForServices(record.ServiceIDs)
	}
	r.store(name, resolved)
	return resolved, nil
}

func (r *PanelResolver) limitForServices(serviceIDs []int) int {
	for _, sid := range serviceIDs {
		if limit, ok := r.services[sid]; ok {
			return limit
		}
	}
	return 0
}

func (r *PanelResolver) lookup(name string) (model.UserLimit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[name]
	if !ok || time.Now().After(entry.expires) {
		return model.UserLimit{}, false
	}
	return entry.limit, true
}

func (r *PanelResolver) preInsertSentinel(name string) {
	r.store(name, model.UserLimit{Name: name, Limit: 0, Resolved: false})
}

func (r *PanelResolver) store(name string, limit model.UserLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[name]; !exists && len(r.cache) >= cacheCapacity {
		r.evictOne()
	}
	r.cache[name] = cacheEntry{limit: limit, expires: time.Now().Add(r.ttl)}
}

// evictOne drops an arbitrary entry when the cache is at capacity. Go map
// iteration order is randomized, which is an adequate approximation of the
// reference TTLCache's LRU eviction for a best-effort cache whose hit rate
// already degrades gracefully under churn.
func (r *PanelResolver) evictOne() {
	for k := range r.cache {
		delete(r.cache, k)
		return
	}
}
