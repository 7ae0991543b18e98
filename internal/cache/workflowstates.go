/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// StateFetcher loads the workflow states of one team from the tracker.
type StateFetcher interface {
	ListWorkflowStates(ctx context.Context, teamID string) ([]domain.WorkflowState, error)
}

type stateEntry struct {
	states    []domain.WorkflowState
	fetchedAt time.Time
}

// StateCache caches workflow states per team. States change rarely, so a
// short validity window removes almost all of the lookup traffic.
type StateCache struct {
	fetch StateFetcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]stateEntry
}

func NewStateCache(fetch StateFetcher, ttl time.Duration) *StateCache {
	return &StateCache{fetch: fetch, ttl: ttl, now: time.Now, entries: make(map[string]stateEntry)}
}

// Get returns the team's states, fetching only when the cached entry is
// missing or past its validity window. A failed fetch never serves a stale
// entry in its place.
func (c *StateCache) Get(ctx context.Context, teamID string) ([]domain.WorkflowState, error) {
	c.mu.Lock()
	e, ok := c.entries[teamID]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl { return e.states, nil }
	states, err := c.fetch.ListWorkflowStates(ctx, teamID)
	if err != nil { return nil, err }
	c.mu.Lock()
	c.entries[teamID] = stateEntry{states: states, fetchedAt: c.now()}
	c.mu.Unlock()
	return states, nil
}
