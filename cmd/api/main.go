/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/activity"
	"github.com/luisson10/conbiz-ticket-support/internal/adapters/linear"
	"github.com/luisson10/conbiz-ticket-support/internal/cache"
	"github.com/luisson10/conbiz-ticket-support/internal/config"
	httpapi "github.com/luisson10/conbiz-ticket-support/internal/http"
	"github.com/luisson10/conbiz-ticket-support/internal/jobs"
	"github.com/luisson10/conbiz-ticket-support/internal/logger"
	"github.com/luisson10/conbiz-ticket-support/internal/repo"
	"github.com/luisson10/conbiz-ticket-support/internal/services"
	"github.com/luisson10/conbiz-ticket-support/internal/webhook"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()

	// Tracker gateway and caches
	gw := linear.NewClient(cfg, log)
	states := cache.NewStateCache(gw, cfg.StateCacheTTL)
	lists := cache.NewListCache(services.NewPageFetcher(gw, states, cfg.TicketPageSize), cfg.TicketCacheTTL)

	// Services
	repository := repo.NewRepository(db, log)
	seen := repo.NewSeenStore(db)
	agg := activity.NewAggregator(gw, seen, log)
	portal := services.NewPortal(gw, repository, lists, agg, cfg.ActivityLimitMax, log)
	releases := services.NewReleaseService(repository, portal, cfg.ReleasePageSize, cfg.ReleasePageMax, log)
	verifier := webhook.NewVerifier(cfg.LinearWebhookSecret, cfg.WebhookMaxSkew)

	// Verify tracker credentials on startup; the portal still serves
	// cached/local data if the tracker is down, so this only warns.
	{
		ctx2, cancel2 := context.WithTimeout(ctx, 15*time.Second); defer cancel2()
		if viewer, err := gw.CheckConnection(ctx2); err != nil {
			log.Warn().Err(err).Msg("tracker connection check failed")
		} else {
			log.Info().Str("viewer", viewer.Name).Msg("tracker connected")
		}
	}

	// Background activity polling
	poller := jobs.NewPoller(cfg, log, repository, agg)
	poller.Start()
	defer poller.Stop()

	// HTTP server (Gin)
	handlers := httpapi.NewHandlers(cfg, log, portal, releases, verifier, poller)
	router := httpapi.NewRouter(cfg, log, handlers)

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}
