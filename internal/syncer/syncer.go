// Package syncer coordinates the three storage tiers into one read and
// write pipeline. Reads walk memory, then the local store, then the remote
// fetch, populating the faster tiers on the way back. Writes go to the
// remote store first and update the local tiers only after it accepts the
// mutation, so the tiers never get ahead of the source of truth.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qrsafety/backend/internal/localstore"
)

// MemoryTier is the in-process cache consumed by the synchronizer.
type MemoryTier interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	DeletePrefix(prefix string)
}

// LocalTier is the persistent store consumed by the synchronizer.
type LocalTier interface {
	GetJSON(ctx context.Context, namespace, key string, dest any) (localstore.Entry, bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
	Remove(ctx context.Context, namespace, key string) error
	RemoveAll(ctx context.Context, namespace, prefix string) error
}

// Source identifies which tier served a read.
type Source string

const (
	SourceMemory Source = "memory"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Descriptor is the per-entity synchronization policy. TTL <= 0 means
// entries never go stale on their own. New builds the decode target for
// local-store reads; Fetch functions must return the same pointer type.
type Descriptor struct {
	Name           string
	TTL            time.Duration
	LocalNamespace string
	New            func() any
}

// Fetch retrieves the authoritative value from the remote store.
type Fetch func(ctx context.Context) (any, error)

// Result is a served read with its provenance.
type Result struct {
	Value  any
	Source Source
	// Degraded is true when the remote fetch failed and an expired local
	// copy was served instead.
	Degraded bool
}

// LoadOptions tunes a single Load call.
type LoadOptions struct {
	// ForceRefresh skips the cache tiers and goes straight to the fetch.
	ForceRefresh bool
}

// Synchronizer runs the tiered read and write pipelines. Concurrent loads
// of the same key share one in-flight fetch.
type Synchronizer struct {
	memory MemoryTier
	local  LocalTier
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New creates a synchronizer over the given tiers.
func New(memory MemoryTier, local LocalTier, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		memory: memory,
		local:  local,
		logger: logger,
		now:    time.Now,
	}
}

// Load serves the value for key through the tiered pipeline. A local-store
// hit past half its TTL is served immediately and refreshed in the
// background. When the fetch fails and an expired local copy exists, that
// copy is served with Degraded set rather than failing the read.
func (s *Synchronizer) Load(ctx context.Context, desc Descriptor, key string, fetch Fetch, opts LoadOptions) (Result, error) {
	if !opts.ForceRefresh {
		if value, ok := s.memory.Get(key); ok {
			return Result{Value: value, Source: SourceMemory}, nil
		}

		value, entry, ok := s.loadLocal(ctx, desc, key)
		if ok {
			age := entry.Age(s.now())
			if desc.TTL <= 0 || age < desc.TTL {
				s.memory.Set(key, value, remainingTTL(desc.TTL, age))
				if desc.TTL > 0 && age > desc.TTL/2 {
					s.revalidate(ctx, desc, key, fetch)
				}
				return Result{Value: value, Source: SourceLocal}, nil
			}
			// Expired; fall through to the fetch but keep the copy so a
			// failed fetch can still serve something.
			return s.fetchThrough(ctx, desc, key, fetch, value)
		}
	}

	return s.fetchThrough(ctx, desc, key, fetch, nil)
}

// fetchThrough performs the coalesced remote fetch and populates both cache
// tiers. stale, when non-nil, is the expired local copy used as a degraded
// fallback.
func (s *Synchronizer) fetchThrough(ctx context.Context, desc Descriptor, key string, fetch Fetch, stale any) (Result, error) {
	value, err, _ := s.group.Do(desc.Name+":"+key, func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		if stale != nil {
			s.logger.Warn("remote fetch failed, serving expired local copy",
				zap.String("entity", desc.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			return Result{Value: stale, Source: SourceLocal, Degraded: true}, nil
		}
		return Result{}, fmt.Errorf("failed to load %s: %w", desc.Name, err)
	}

	s.populate(ctx, desc, key, value)
	return Result{Value: value, Source: SourceRemote}, nil
}

// Mutate applies a remote mutation and, on success, writes the new value
// through the cache tiers and drops the listed derived keys. A key ending
// in ':' is treated as a prefix.
func (s *Synchronizer) Mutate(ctx context.Context, desc Descriptor, key string, apply func(ctx context.Context) (any, error), derived ...string) (any, error) {
	value, err := apply(ctx)
	if err != nil {
		return nil, err
	}

	if value != nil {
		s.populate(ctx, desc, key, value)
	} else {
		s.Invalidate(ctx, desc, key)
	}

	for _, d := range derived {
		if len(d) > 0 && d[len(d)-1] == ':' {
			s.InvalidatePrefix(ctx, desc.LocalNamespace, d)
		} else {
			s.memory.Delete(d)
			if err := s.local.Remove(ctx, desc.LocalNamespace, d); err != nil {
				s.logger.Warn("failed to drop derived local entry",
					zap.String("key", d),
					zap.Error(err),
				)
			}
		}
	}

	return value, nil
}

// Invalidate drops the entry for key from both cache tiers.
func (s *Synchronizer) Invalidate(ctx context.Context, desc Descriptor, key string) {
	s.memory.Delete(key)
	if err := s.local.Remove(ctx, desc.LocalNamespace, key); err != nil {
		s.logger.Warn("failed to drop local entry",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// InvalidatePrefix drops every cached entry whose key starts with prefix.
func (s *Synchronizer) InvalidatePrefix(ctx context.Context, namespace, prefix string) {
	s.memory.DeletePrefix(prefix)
	if err := s.local.RemoveAll(ctx, namespace, prefix); err != nil {
		s.logger.Warn("failed to drop local entries",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
	}
}

// loadLocal reads and decodes the local-store entry for key.
func (s *Synchronizer) loadLocal(ctx context.Context, desc Descriptor, key string) (any, localstore.Entry, bool) {
	dest := desc.New()
	entry, ok, err := s.local.GetJSON(ctx, desc.LocalNamespace, key, dest)
	if err != nil {
		// An unreadable entry degrades to a plain miss
		s.logger.Warn("failed to read local entry",
			zap.String("entity", desc.Name),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, localstore.Entry{}, false
	}
	if !ok {
		return nil, localstore.Entry{}, false
	}
	return dest, entry, true
}

// populate writes value into both cache tiers.
func (s *Synchronizer) populate(ctx context.Context, desc Descriptor, key string, value any) {
	s.memory.Set(key, value, desc.TTL)
	if err := s.local.Set(ctx, desc.LocalNamespace, key, value); err != nil {
		s.logger.Warn("failed to persist local entry",
			zap.String("entity", desc.Name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// revalidate refreshes key in the background. The refresh shares the
// singleflight key with foreground loads so at most one fetch is in flight.
func (s *Synchronizer) revalidate(ctx context.Context, desc Descriptor, key string, fetch Fetch) {
	bg := context.WithoutCancel(ctx)
	go func() {
		value, err, _ := s.group.Do(desc.Name+":"+key, func() (any, error) {
			return fetch(bg)
		})
		if err != nil {
			s.logger.Debug("background revalidation failed",
				zap.String("entity", desc.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}
		s.populate(bg, desc, key, value)
	}()
}

func remainingTTL(ttl time.Duration, age time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	remaining := ttl - age
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}
