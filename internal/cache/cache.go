// Package cache keeps client-side query results fresh. Queries register
// under reactivity keys; mutations and incoming events invalidate by key,
// which marks matching queries stale and kicks off a background refetch.
// Readers of a stale query keep seeing the old value until the refetch
// lands; invalidation never blocks a read.
package cache

import (
	"context"
	"fmt"
	"sync"
)

// FetchFunc loads the current value for a query.
type FetchFunc func(ctx context.Context) (any, error)

type query struct {
	name       string
	keys       map[string]struct{}
	fetch      FetchFunc
	value      any
	err        error
	hasValue   bool
	stale      bool
	refetching bool

	// loading is non-nil while an initial synchronous fetch is in flight;
	// concurrent first readers wait on it instead of fetching again.
	loading chan struct{}
}

// Store holds registered queries. Keys are advisory and name-based: an
// invalidation for a key no query uses is a silent no-op, and consistency
// between query keys and mutation keys is the caller's responsibility.
type Store struct {
	mu      sync.Mutex
	ctx     context.Context
	queries map[string]*query
	onFresh func(name string)
}

func New() *Store {
	return NewWithContext(context.Background())
}

// NewWithContext bounds the lifetime of background refetches.
func NewWithContext(ctx context.Context) *Store {
	return &Store{
		ctx:     ctx,
		queries: make(map[string]*query),
	}
}

// OnFresh registers a hook invoked (on the refetch goroutine) each time a
// query finishes refreshing. Used by UIs to re-render.
func (s *Store) OnFresh(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFresh = fn
}

// Register adds a query under the given reactivity keys. Registering the
// same name again replaces the previous entry.
func (s *Store) Register(name string, keys []string, fetch FetchFunc) {
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[name] = &query{
		name:  name,
		keys:  keySet,
		fetch: fetch,
		stale: true,
	}
}

// Get returns the cached value for name. The first read fetches
// synchronously, with concurrent first readers sharing the one fetch;
// afterwards a stale entry serves its old value immediately while a
// background refetch runs.
func (s *Store) Get(ctx context.Context, name string) (any, error) {
	for {
		s.mu.Lock()
		q, ok := s.queries[name]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("unknown query %q", name)
		}

		if q.hasValue {
			value, err := q.value, q.err
			if q.stale {
				s.startRefetchLocked(q)
			}
			s.mu.Unlock()
			return value, err
		}

		if q.loading != nil {
			// Another caller is running the initial load; wait for it and
			// re-read. If it failed, the next pass retries the fetch.
			loading := q.loading
			s.mu.Unlock()
			select {
			case <-loading:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		// Initial load: fetch on the caller, not in the background.
		loading := make(chan struct{})
		q.loading = loading
		q.stale = false
		s.mu.Unlock()

		value, err := q.fetch(ctx)

		s.mu.Lock()
		q.loading = nil
		close(loading)
		if err != nil {
			q.err = err
			q.stale = true
			s.mu.Unlock()
			return nil, err
		}
		q.value = value
		q.hasValue = true
		q.err = nil
		s.mu.Unlock()
		return value, nil
	}
}

// Invalidate marks every query tagged with any of the given keys stale and
// triggers a background refetch. Idempotent: invalidating an already-stale
// query does not stack a second refetch (at most one in flight per query).
func (s *Store) Invalidate(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.queries {
		if !q.matchesAny(keys) {
			continue
		}
		q.stale = true
		if q.hasValue {
			s.startRefetchLocked(q)
		}
	}
}

// InvalidateAll marks every registered query stale.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queries {
		q.stale = true
		if q.hasValue {
			s.startRefetchLocked(q)
		}
	}
}

func (q *query) matchesAny(keys []string) bool {
	for _, k := range keys {
		if _, ok := q.keys[k]; ok {
			return true
		}
	}
	return false
}

// startRefetchLocked launches the background refetch loop for q unless one
// is already running. Caller holds s.mu.
func (s *Store) startRefetchLocked(q *query) {
	if q.refetching {
		return
	}
	q.refetching = true

	go func() {
		for {
			s.mu.Lock()
			q.stale = false
			s.mu.Unlock()

			value, err := q.fetch(s.ctx)

			s.mu.Lock()
			if err != nil {
				q.err = err
			} else {
				q.value = value
				q.hasValue = true
				q.err = nil
			}
			// An invalidation that raced with the fetch re-marked the
			// query; go around once more so the caller never keeps a
			// value older than the last invalidation.
			if q.stale {
				s.mu.Unlock()
				continue
			}
			q.refetching = false
			onFresh := s.onFresh
			name := q.name
			s.mu.Unlock()

			if onFresh != nil {
				onFresh(name)
			}
			return
		}
	}()
}
