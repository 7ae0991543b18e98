/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package activity builds the per-board recency feed out of issue updates
// and synced comments, and tracks what each user has already seen.
package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/adapters/linear"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/luisson10/conbiz-ticket-support/internal/syncmark"
	"github.com/rs/zerolog"
)

// Gateway is the slice of the tracker client the aggregator consumes.
type Gateway interface {
	ListActivityIssues(ctx context.Context, f linear.Filter, first int) ([]linear.ActivityIssue, error)
}

// SeenStateStore persists per-(user, board) read state. MarkSeen is
// idempotent and AdvanceWatermark never moves the watermark backwards.
type SeenStateStore interface {
	Get(ctx context.Context, userID, boardID string) (domain.SeenState, error)
	MarkSeen(ctx context.Context, userID, boardID string, itemIDs []string) error
	AdvanceWatermark(ctx context.Context, userID, boardID string, ts time.Time) error
}

const minFetch = 30

// PollOptions scope one poll. Since overrides the persisted watermark when
// set; Limit bounds the returned feed.
type PollOptions struct {
	UserID string
	Limit  int
	Since  *time.Time
}

// Aggregator keeps one in-memory feed per (user, board). Feeds survive
// between polls so items older than the latest fetch stay visible; a
// failed poll leaves the feed untouched.
type Aggregator struct {
	gw    Gateway
	store SeenStateStore
	log   zerolog.Logger

	mu       sync.Mutex
	feeds    map[string][]domain.ActivityItem
	inflight map[string]bool
}

func NewAggregator(gw Gateway, store SeenStateStore, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		gw:       gw,
		store:    store,
		log:      log,
		feeds:    make(map[string][]domain.ActivityItem),
		inflight: make(map[string]bool),
	}
}

func feedKey(userID, boardID string) string { return userID + "|" + boardID }

// Poll fetches recent board issues, emits update and comment items newer
// than the watermark, merges them into the feed and returns the feed
// snapshot. On a gateway failure the existing feed is returned along with
// the error, and neither feed nor watermark is touched.
func (a *Aggregator) Poll(ctx context.Context, board domain.Board, opts PollOptions) ([]domain.ActivityItem, error) {
	limit := opts.Limit
	if limit < 1 { limit = minFetch }
	key := feedKey(opts.UserID, board.ID)

	a.mu.Lock()
	if a.inflight[key] {
		feed := cloneFeed(a.feeds[key])
		a.mu.Unlock()
		return feed, nil
	}
	a.inflight[key] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.inflight, key)
		a.mu.Unlock()
	}()

	since, err := a.since(ctx, opts, board.ID)
	if err != nil { return a.Feed(opts.UserID, board.ID), err }

	first := limit
	if first < minFetch { first = minFetch }
	issues, err := a.gw.ListActivityIssues(ctx, linear.Filter{TeamID: board.TeamID, ProjectID: board.ProjectID}, first)
	if err != nil {
		return a.Feed(opts.UserID, board.ID), domain.Wrap(domain.KindUpstream, "activity poll failed", err)
	}

	fresh := buildItems(issues, since)

	a.mu.Lock()
	merged := mergeFeed(a.feeds[key], fresh, limit)
	a.feeds[key] = merged
	feed := cloneFeed(merged)
	a.mu.Unlock()
	return feed, nil
}

func (a *Aggregator) since(ctx context.Context, opts PollOptions, boardID string) (time.Time, error) {
	if opts.Since != nil { return *opts.Since, nil }
	state, err := a.store.Get(ctx, opts.UserID, boardID)
	if err != nil { return time.Time{}, err }
	if state.LastSeenAt != nil { return *state.LastSeenAt, nil }
	return time.Time{}, nil
}

// Feed returns the current feed snapshot without polling.
func (a *Aggregator) Feed(userID, boardID string) []domain.ActivityItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneFeed(a.feeds[feedKey(userID, boardID)])
}

// UnreadIDs returns the feed item ids the user has not marked seen yet.
func (a *Aggregator) UnreadIDs(ctx context.Context, userID, boardID string) ([]string, error) {
	state, err := a.store.Get(ctx, userID, boardID)
	if err != nil { return nil, err }
	unread := []string{}
	for _, item := range a.Feed(userID, boardID) {
		if _, seen := state.SeenIDs[item.ID]; !seen { unread = append(unread, item.ID) }
	}
	return unread, nil
}

// MarkSeen records the given item ids as read.
func (a *Aggregator) MarkSeen(ctx context.Context, userID, boardID string, itemIDs []string) error {
	if len(itemIDs) == 0 { return nil }
	return a.store.MarkSeen(ctx, userID, boardID, itemIDs)
}

// MarkAllSeen marks every item currently in the feed as read and advances
// the watermark to the newest item, bounding what future polls re-emit.
func (a *Aggregator) MarkAllSeen(ctx context.Context, userID, boardID string) error {
	feed := a.Feed(userID, boardID)
	if len(feed) == 0 { return nil }
	ids := make([]string, 0, len(feed))
	newest := feed[0].CreatedAt
	for _, item := range feed {
		ids = append(ids, item.ID)
		if item.CreatedAt.After(newest) { newest = item.CreatedAt }
	}
	if err := a.store.MarkSeen(ctx, userID, boardID, ids); err != nil { return err }
	return a.store.AdvanceWatermark(ctx, userID, boardID, newest)
}

func buildItems(issues []linear.ActivityIssue, since time.Time) []domain.ActivityItem {
	items := []domain.ActivityItem{}
	for _, issue := range issues {
		if issue.UpdatedAt != nil && issue.UpdatedAt.After(since) {
			items = append(items, domain.ActivityItem{
				ID:              issue.ID + "-update-" + issue.UpdatedAt.UTC().Format(time.RFC3339),
				Type:            domain.ActivityUpdate,
				IssueID:         issue.ID,
				IssueTitle:      issue.Title,
				IssueIdentifier: issue.Identifier,
				CreatedAt:       *issue.UpdatedAt,
			})
		}
		for _, c := range issue.Comments {
			if !syncmark.IsSynced(c.Body) || !c.CreatedAt.After(since) { continue }
			items = append(items, domain.ActivityItem{
				ID:              c.ID,
				Type:            domain.ActivityComment,
				IssueID:         issue.ID,
				IssueTitle:      issue.Title,
				IssueIdentifier: issue.Identifier,
				CreatedAt:       c.CreatedAt,
				Body:            syncmark.Unwrap(c.Body),
			})
		}
	}
	return items
}

// mergeFeed folds fresh items into the existing feed with last-write-wins
// on id, then sorts newest first (id tiebreak) and truncates.
func mergeFeed(existing, fresh []domain.ActivityItem, limit int) []domain.ActivityItem {
	byID := make(map[string]domain.ActivityItem, len(existing)+len(fresh))
	for _, item := range existing { byID[item.ID] = item }
	for _, item := range fresh { byID[item.ID] = item }
	merged := make([]domain.ActivityItem, 0, len(byID))
	for _, item := range byID { merged = append(merged, item) }
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) { return merged[i].CreatedAt.After(merged[j].CreatedAt) }
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit { merged = merged[:limit] }
	return merged
}

func cloneFeed(feed []domain.ActivityItem) []domain.ActivityItem {
	out := make([]domain.ActivityItem, len(feed))
	copy(out, feed)
	return out
}
