// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package report

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/relaycore/opfsm/pkg/op"
)

// Cache memoizes rendered snapshot strings by operation id, so a caller
// polling status repeatedly (a dashboard, a CLI watch loop) doesn't re-walk
// and re-format the same completed operation's data on every poll. It holds
// rendered text only — no state, history, or machine reference survives an
// eviction, so this is not a substitute for persistence or replay.
type Cache struct {
	mux   sync.Mutex
	inner *lru.Cache
}

// NewCache returns a Cache holding at most maxEntries rendered snapshots,
// evicted least-recently-used.
func NewCache(maxEntries int) *Cache {
	return &Cache{inner: lru.New(maxEntries)}
}

// RenderCached returns the cached rendering for id if present; otherwise it
// renders o with opts, stores the result under id, and returns it. A
// finished operation's rendering never changes, so callers should only key
// by an id once IsRunning is false — callers observing a running operation
// should call Render directly instead.
func (c *Cache) RenderCached(id uuid.UUID, o *op.Operation, opts Options) string {
	c.mux.Lock()
	defer c.mux.Unlock()
	if v, ok := c.inner.Get(id); ok {
		return v.(string)
	}
	rendered := Render(o, opts)
	c.inner.Add(id, rendered)
	return rendered
}

// Invalidate drops id's cached rendering, if any.
func (c *Cache) Invalidate(id uuid.UUID) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.inner.Remove(id)
}
