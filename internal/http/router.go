/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	r.GET("/healthz", h.Healthz)
	// unauthenticated on purpose: the HMAC signature is the auth
	r.POST("/webhooks/linear", h.TrackerWebhook)

	api := r.Group("/api", Auth(cfg.SessionJWTSecret))
	{
		api.GET("/boards", h.ListBoards)
		api.GET("/boards/:id/tickets", h.BoardTickets)
		api.POST("/boards/:id/tickets", h.CreateTicket)
		api.GET("/boards/:id/issues/:issueID", h.IssueDetails)
		api.POST("/boards/:id/issues/:issueID/comments", h.CreateComment)
		api.GET("/boards/:id/activity", h.BoardActivity)
		api.POST("/boards/:id/activity/seen", h.MarkActivitySeen)
		api.GET("/boards/:id/preferences", h.GetBoardPreferences)
		api.PUT("/boards/:id/preferences", h.SaveBoardPreferences)

		api.GET("/releases", h.ReleaseTimeline)
		api.GET("/releases/:id", h.GetRelease)
		api.GET("/release-tags", h.ListTags)

		admin := api.Group("", RequireAdmin())
		{
			admin.POST("/releases", h.CreateRelease)
			admin.PUT("/releases/:id", h.UpdateRelease)
			admin.POST("/releases/:id/publish", h.PublishRelease)
			admin.DELETE("/releases/:id", h.DeleteRelease)
			admin.GET("/release-candidates", h.ReleaseCandidates)
			admin.POST("/releases/:id/items", h.AttachReleaseItems)
			admin.DELETE("/releases/:id/items/:issueID", h.DetachReleaseItem)
			admin.POST("/release-tags", h.UpsertTag)
			admin.DELETE("/release-tags/:id", h.DeleteTag)
			admin.GET("/accounts", h.ListAccounts)
			admin.GET("/admin/connection", h.CheckConnection)
		}
	}

	return r
}
