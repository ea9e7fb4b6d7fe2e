// Package client is the application-facing side of the wire: a typed RPC
// client plus a query cache that stays fresh through two independent
// triggers. A mutation invalidates its declared keys as soon as it
// resolves, stream or no stream; and events observed on a watch stream
// invalidate the keys statically associated with their kind, so clients
// that did not perform the mutation refresh too. The two triggers may both
// fire for one logical change; invalidation is idempotent so that is
// harmless.
package client

import (
	"context"
	"fmt"
	"sync"

	"pulse/internal/cache"
	"pulse/internal/event"
	"pulse/internal/ipc"
)

// KeyResources is the reactivity key for the resource list query.
const KeyResources = "resources"

// QueryResources names the registered resource list query.
const QueryResources = "resources.list"

// eventKeys maps event kinds to the reactivity keys they invalidate.
// Defined statically; must stay consistent with the keys queries register
// under. The runtime cannot detect a mismatch (a stale key is silently
// never refreshed), so live_test covers this table.
var eventKeys = map[event.Type][]string{
	event.TypeResourceCreated: {KeyResources},
	event.TypeResourceUpdated: {KeyResources},
	event.TypeResourceDeleted: {KeyResources},
}

// Live wraps an ipc.Client with a query cache and event-driven
// invalidation.
type Live struct {
	rpc   *ipc.Client
	cache *cache.Store

	mu        sync.Mutex
	observers []func(event.Event)
}

// NewLive builds a live client around an established connection. The
// resource list query is pre-registered under KeyResources.
func NewLive(rpc *ipc.Client) *Live {
	l := &Live{
		rpc:   rpc,
		cache: cache.New(),
	}
	l.cache.Register(QueryResources, []string{KeyResources}, func(ctx context.Context) (any, error) {
		return rpc.ListResources()
	})
	return l
}

// Cache exposes the underlying query cache, mainly for UI refresh hooks.
func (l *Live) Cache() *cache.Store {
	return l.cache
}

// Resources returns the cached resource list, refreshing per the cache's
// stale-while-revalidate rules.
func (l *Live) Resources(ctx context.Context) ([]event.Resource, error) {
	v, err := l.cache.Get(ctx, QueryResources)
	if err != nil {
		return nil, err
	}
	resources, ok := v.([]event.Resource)
	if !ok && v != nil {
		return nil, fmt.Errorf("unexpected cached type %T for %s", v, QueryResources)
	}
	return resources, nil
}

// CreateResource performs the mutation and, on success, invalidates the
// declared keys (KeyResources when none are given). This works even when
// no watch stream is connected.
func (l *Live) CreateResource(name, body string, invalidate ...string) (event.Resource, error) {
	r, err := l.rpc.CreateResource(name, body)
	if err != nil {
		return event.Resource{}, err
	}
	l.invalidateDeclared(invalidate)
	return r, nil
}

func (l *Live) UpdateResource(id, name, body string, invalidate ...string) (event.Resource, error) {
	r, err := l.rpc.UpdateResource(id, name, body)
	if err != nil {
		return event.Resource{}, err
	}
	l.invalidateDeclared(invalidate)
	return r, nil
}

func (l *Live) DeleteResource(id string, invalidate ...string) error {
	if err := l.rpc.DeleteResource(id); err != nil {
		return err
	}
	l.invalidateDeclared(invalidate)
	return nil
}

func (l *Live) invalidateDeclared(keys []string) {
	if len(keys) == 0 {
		keys = []string{KeyResources}
	}
	l.cache.Invalidate(keys...)
}

// OnEvent registers an application-level observer. Observers never see
// ping frames; those are transport liveness only.
func (l *Live) OnEvent(fn func(event.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Watch consumes the subscription stream until it ends, feeding the cache
// and observers. It returns nil on a clean disconnect; re-subscribing (a
// fresh connection, empty queue, no replay) is the caller's decision.
func (l *Live) Watch(ctx context.Context) error {
	frames, err := l.rpc.Watch(ctx)
	if err != nil {
		return err
	}
	for ev := range frames {
		l.handleFrame(ev)
	}
	return ctx.Err()
}

func (l *Live) handleFrame(ev event.Event) {
	if ev.IsPing() {
		return
	}

	if keys, ok := eventKeys[ev.Type]; ok {
		l.cache.Invalidate(keys...)
	}

	l.mu.Lock()
	observers := make([]func(event.Event), len(l.observers))
	copy(observers, l.observers)
	l.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}
