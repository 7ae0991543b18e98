/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/activity"
	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

type boardStore interface {
	GetBoard(ctx context.Context, id string) (domain.Board, error)
}

type watcher struct {
	userID    string
	boardID   string
	expiresAt time.Time
}

// Poller keeps activity feeds warm for the boards users currently have
// open. Watching a board expires on its own; every activity fetch renews
// it, so the background poll stops once nobody is looking.
type Poller struct {
	cfg    config.Config
	log    zerolog.Logger
	store  boardStore
	agg    *activity.Aggregator
	c      *cron.Cron

	mu       sync.Mutex
	watchers map[string]watcher
}

func NewPoller(cfg config.Config, log zerolog.Logger, store boardStore, agg *activity.Aggregator) *Poller {
	p := &Poller{
		cfg:      cfg,
		log:      log,
		store:    store,
		agg:      agg,
		c:        cron.New(),
		watchers: make(map[string]watcher),
	}
	_, _ = p.c.AddFunc("@every "+cfg.ActivityInterval.String(), p.tick)
	return p
}

func (p *Poller) Start() { p.c.Start() }
func (p *Poller) Stop()  { p.c.Stop() }

// Watch renews the (user, board) registration for a few poll intervals.
func (p *Poller) Watch(userID, boardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := userID + "|" + boardID
	p.watchers[key] = watcher{userID: userID, boardID: boardID, expiresAt: time.Now().Add(5 * p.cfg.ActivityInterval)}
}

func (p *Poller) live() []watcher {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]watcher, 0, len(p.watchers))
	for key, w := range p.watchers {
		if now.After(w.expiresAt) {
			delete(p.watchers, key)
			continue
		}
		out = append(out, w)
	}
	return out
}

// tick polls every watched board once. Failures are logged and dropped;
// the feed is best-effort telemetry and the next tick retries.
func (p *Poller) tick() {
	watchers := p.live()
	if len(watchers) == 0 { return }
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTPTimeout)
	defer cancel()
	for _, w := range watchers {
		board, err := p.store.GetBoard(ctx, w.boardID)
		if err != nil { p.log.Warn().Err(err).Str("board_id", w.boardID).Msg("poll: board lookup failed"); continue }
		if _, err := p.agg.Poll(ctx, board, activity.PollOptions{UserID: w.userID, Limit: p.cfg.ActivityPageSize}); err != nil {
			p.log.Warn().Err(err).Str("board_id", w.boardID).Msg("poll: activity fetch failed")
		}
	}
}
