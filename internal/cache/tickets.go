/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// TicketPage is one cached page of a board: the snapshots, the board's
// workflow states and the cursor for the next page.
type TicketPage struct {
	Tickets  []domain.TicketSnapshot
	States   []domain.WorkflowState
	PageInfo domain.PageInfo
}

// PageFetcher loads one page of a board from the tracker.
type PageFetcher interface {
	FetchPage(ctx context.Context, board domain.Board, after string) (TicketPage, error)
}

type listEntry struct {
	page      TicketPage
	fetchedAt time.Time
}

// ListCache caches board pages for a short validity window. Entries are
// written as whole snapshots only; readers never observe a partially
// refreshed page.
type ListCache struct {
	fetch PageFetcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]listEntry
}

func NewListCache(fetch PageFetcher, ttl time.Duration) *ListCache {
	return &ListCache{fetch: fetch, ttl: ttl, now: time.Now, entries: make(map[string]listEntry)}
}

func pageKey(boardID, after string) string { return boardID + "|" + after }

// Get returns the page at the given cursor. force bypasses the validity
// check and always refetches. A fetch failure propagates as-is; expired
// entries are never served as a fallback.
func (c *ListCache) Get(ctx context.Context, board domain.Board, after string, force bool) (TicketPage, error) {
	key := pageKey(board.ID, after)
	if !force {
		c.mu.Lock()
		e, ok := c.entries[key]
		c.mu.Unlock()
		if ok && c.now().Sub(e.fetchedAt) < c.ttl { return e.page, nil }
	}
	page, err := c.fetch.FetchPage(ctx, board, after)
	if err != nil { return TicketPage{}, err }
	c.mu.Lock()
	c.entries[key] = listEntry{page: page, fetchedAt: c.now()}
	c.mu.Unlock()
	return page, nil
}

// Invalidate drops every cached page of the board.
func (c *ListCache) Invalidate(boardID string) {
	prefix := boardID + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) { delete(c.entries, k) }
	}
	c.mu.Unlock()
}
