package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
)

// Guard keeps one instance of an action running per key. Acquire returns
// apperr.ErrInFlight while the key is held.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalGuard holds keys in process memory.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, apperr.ErrInFlight
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// FlagStore is the subset of cache.Cache used for shared in-flight flags.
type FlagStore interface {
	AcquireFlag(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseFlag(ctx context.Context, key string) error
}

// CacheGuard shares in-flight flags between server instances. A flag left
// behind by a crashed holder expires after ttl. While the flag store is
// unreachable, keys are held in process memory instead.
type CacheGuard struct {
	flags FlagStore
	ttl   time.Duration
	local *LocalGuard
}

func NewCacheGuard(flags FlagStore, ttl time.Duration) *CacheGuard {
	return &CacheGuard{flags: flags, ttl: ttl, local: NewLocalGuard()}
}

func (g *CacheGuard) Acquire(ctx context.Context, key string) (func(), error) {
	ok, err := g.flags.AcquireFlag(ctx, key, g.ttl)
	if err != nil {
		slog.Warn("in-flight flag store unavailable, guarding locally", "key", key, "error", err)
		return g.local.Acquire(ctx, key)
	}
	if !ok {
		return nil, apperr.ErrInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the request context is already gone.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := g.flags.ReleaseFlag(rctx, key); err != nil {
				slog.Warn("releasing in-flight flag", "key", key, "error", err)
			}
		})
	}, nil
}

var (
	_ Guard = (*LocalGuard)(nil)
	_ Guard = (*CacheGuard)(nil)
)
