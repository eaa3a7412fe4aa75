package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

const snapshotKey = "catalog:clients"

// Cache is the shared (L2) snapshot cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader serves read-only catalog snapshots: in-process cache first, then
// the shared cache, then the store behind a circuit breaker. While the
// breaker is open the last snapshot read from the store keeps being served.
type Loader struct {
	store   Store
	l1      *ristretto.Cache[string, tariff.Catalog]
	l2      Cache
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	log     *zap.Logger

	mu        sync.RWMutex
	gen       uint64 // bumped by Invalidate
	lastKnown tariff.Catalog
}

func NewLoader(store Store, l2 Cache, ttl time.Duration, log *zap.Logger) (*Loader, error) {
	l1, err := ristretto.NewCache(&ristretto.Config[string, tariff.Catalog]{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog-store",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Loader{
		store:   store,
		l1:      l1,
		l2:      l2,
		breaker: breaker,
		ttl:     ttl,
		log:     log,
	}, nil
}

// Snapshot returns the current client catalog. Callers must treat it as
// read-only; it is shared between goroutines.
func (l *Loader) Snapshot(ctx context.Context) (tariff.Catalog, error) {
	if cat, ok := l.l1.Get(snapshotKey); ok {
		return cat, nil
	}
	gen := l.generation()

	if l.l2 != nil {
		raw, ok, err := l.l2.Get(ctx, snapshotKey)
		if err != nil {
			l.log.Warn("catalog cache read failed", zap.Error(err))
		} else if ok {
			var cat tariff.Catalog
			decodeErr := json.Unmarshal(raw, &cat)
			if decodeErr == nil {
				l.mu.Lock()
				if l.gen == gen {
					l.setL1(cat)
				}
				l.mu.Unlock()
				return cat, nil
			}
			l.log.Warn("discarding undecodable catalog snapshot", zap.Error(decodeErr))
		}
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.ListClients(ctx)
	})
	if err != nil {
		l.mu.RLock()
		stale := l.lastKnown
		l.mu.RUnlock()
		if stale != nil {
			l.log.Warn("serving stale catalog snapshot", zap.Error(err))
			return stale, nil
		}
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	cat := result.(tariff.Catalog)
	l.publish(ctx, gen, cat)
	return cat, nil
}

func (l *Loader) generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen
}

// publish caches a catalog read from the store, unless an invalidation ran
// since the read started: the catalog may then predate the edit.
func (l *Loader) publish(ctx context.Context, gen uint64, cat tariff.Catalog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		l.log.Debug("catalog changed during load, not caching")
		return
	}

	l.lastKnown = cat
	l.setL1(cat)
	if l.l2 != nil {
		if raw, err := json.Marshal(cat); err == nil {
			if err := l.l2.Set(ctx, snapshotKey, raw, l.ttl); err != nil {
				l.log.Warn("catalog cache write failed", zap.Error(err))
			}
		}
	}
}

// Invalidate drops cached snapshots so the next read goes to the store.
// Loads already in flight will not repopulate the caches.
func (l *Loader) Invalidate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.l1.Del(snapshotKey)
	l.l1.Wait()
	if l.l2 != nil {
		if err := l.l2.Delete(ctx, snapshotKey); err != nil {
			return fmt.Errorf("failed to invalidate catalog cache: %w", err)
		}
	}
	return nil
}

// UpdateClientTable validates and stores a new price table, then
// invalidates the cached snapshots.
func (l *Loader) UpdateClientTable(ctx context.Context, id int64, table tariff.PriceTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	if err := l.store.UpdateClientTable(ctx, id, table); err != nil {
		return err
	}
	return l.Invalidate(ctx)
}

func (l *Loader) SetClientActive(ctx context.Context, id int64, active bool) error {
	if err := l.store.SetClientActive(ctx, id, active); err != nil {
		return err
	}
	return l.Invalidate(ctx)
}

func (l *Loader) Provider(ctx context.Context, id int64) (*Provider, error) {
	p, err := l.store.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load provider: %w", err)
	}
	return p, nil
}

func (l *Loader) Close() {
	l.l1.Close()
}

func (l *Loader) setL1(cat tariff.Catalog) {
	l.l1.SetWithTTL(snapshotKey, cat, 1, l.ttl)
	l.l1.Wait()
}
