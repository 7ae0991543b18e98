/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/luisson10/conbiz-ticket-support/internal/services"
	"github.com/luisson10/conbiz-ticket-support/internal/webhook"
)

// watchRegistry keeps the background poller pointed at the boards users
// are actually looking at.
type watchRegistry interface {
	Watch(userID, boardID string)
}

type Handlers struct {
	cfg      config.Config
	log      zerolog.Logger
	portal   *services.Portal
	releases *services.ReleaseService
	verifier *webhook.Verifier
	watchers watchRegistry
}

func NewHandlers(cfg config.Config, log zerolog.Logger, portal *services.Portal, releases *services.ReleaseService, verifier *webhook.Verifier, watchers watchRegistry) *Handlers {
	return &Handlers{cfg: cfg, log: log, portal: portal, releases: releases, verifier: verifier, watchers: watchers}
}

func (h *Handlers) respondErr(c *gin.Context, err error) {
	status := domain.HTTPStatus(err)
	if status >= 500 || status == http.StatusBadGateway {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": domain.UserMessage(err)})
}

func (h *Handlers) Healthz(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }

// ---- boards & tickets ----

func (h *Handlers) ListBoards(c *gin.Context) {
	boards, err := h.portal.Boards(c.Request.Context(), authFrom(c))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

func (h *Handlers) BoardTickets(c *gin.Context) {
	force := c.Query("force") == "true"
	view, err := h.portal.BoardTickets(c.Request.Context(), authFrom(c), c.Param("id"), c.Query("after"), force)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) CreateTicket(c *gin.Context) {
	var in services.CreateTicketInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	id, err := h.portal.CreateTicket(c.Request.Context(), authFrom(c), c.Param("id"), in)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusCreated, gin.H{"issueId": id})
}

func (h *Handlers) IssueDetails(c *gin.Context) {
	view, err := h.portal.IssueDetails(c.Request.Context(), authFrom(c), c.Param("id"), c.Param("issueID"))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) CreateComment(c *gin.Context) {
	var in struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	comment, err := h.portal.CreateComment(c.Request.Context(), authFrom(c), c.Param("id"), c.Param("issueID"), in.Body)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusCreated, comment)
}

// ---- activity ----

func (h *Handlers) BoardActivity(c *gin.Context) {
	auth := authFrom(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	view, err := h.portal.Activity(c.Request.Context(), auth, c.Param("id"), limit)
	if err != nil { h.respondErr(c, err); return }
	h.watchers.Watch(auth.UserID, c.Param("id"))
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) MarkActivitySeen(c *gin.Context) {
	var in struct {
		ItemIDs []string `json:"itemIds"`
		All     bool     `json:"all"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	auth := authFrom(c)
	var err error
	if in.All {
		err = h.portal.MarkAllActivitySeen(c.Request.Context(), auth, c.Param("id"))
	} else {
		err = h.portal.MarkActivitySeen(c.Request.Context(), auth, c.Param("id"), in.ItemIDs)
	}
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- board preferences ----

func (h *Handlers) GetBoardPreferences(c *gin.Context) {
	prefs, err := h.portal.BoardPreferences(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, prefs)
}

func (h *Handlers) SaveBoardPreferences(c *gin.Context) {
	var prefs domain.BoardPreferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	if err := h.portal.SaveBoardPreferences(c.Request.Context(), authFrom(c), c.Param("id"), prefs); err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- releases ----

func (h *Handlers) ReleaseTimeline(c *gin.Context) {
	q := services.TimelineQuery{}
	if s := c.Query("status"); s != "" {
		status := domain.ReleaseStatus(s)
		q.Status = &status
	}
	if s := c.Query("cursor"); s != "" {
		cursor, err := time.Parse(time.RFC3339Nano, s)
		if err != nil { h.respondErr(c, domain.E(domain.KindValidation, "malformed cursor")); return }
		q.Cursor = &cursor
	}
	if s := c.Query("limit"); s != "" { q.Limit, _ = strconv.Atoi(s) }
	page, err := h.releases.Timeline(c.Request.Context(), authFrom(c), q)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, page)
}

func (h *Handlers) GetRelease(c *gin.Context) {
	rel, err := h.releases.Get(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, rel)
}

func (h *Handlers) bindReleaseInput(c *gin.Context) (services.ReleaseInput, bool) {
	var in services.ReleaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return in, false
	}
	return in, true
}

func (h *Handlers) CreateRelease(c *gin.Context) {
	in, ok := h.bindReleaseInput(c)
	if !ok { return }
	rel, err := h.releases.CreateDraft(c.Request.Context(), authFrom(c), in)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusCreated, rel)
}

func (h *Handlers) UpdateRelease(c *gin.Context) {
	in, ok := h.bindReleaseInput(c)
	if !ok { return }
	rel, err := h.releases.Update(c.Request.Context(), authFrom(c), c.Param("id"), in)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, rel)
}

func (h *Handlers) PublishRelease(c *gin.Context) {
	rel, err := h.releases.Publish(c.Request.Context(), authFrom(c), c.Param("id"))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, rel)
}

func (h *Handlers) DeleteRelease(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := h.releases.Delete(c.Request.Context(), authFrom(c), c.Param("id"), force); err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) ReleaseCandidates(c *gin.Context) {
	candidates, err := h.releases.Candidates(c.Request.Context(), authFrom(c), c.Query("boardId"))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (h *Handlers) AttachReleaseItems(c *gin.Context) {
	var in struct {
		Picks []domain.ReleaseCandidate `json:"picks"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	if err := h.releases.AttachIssues(c.Request.Context(), authFrom(c), c.Param("id"), in.Picks); err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) DetachReleaseItem(c *gin.Context) {
	if err := h.releases.DetachIssue(c.Request.Context(), authFrom(c), c.Param("id"), c.Param("issueID")); err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- release tags ----

func (h *Handlers) ListTags(c *gin.Context) {
	tags, err := h.releases.Tags(c.Request.Context())
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (h *Handlers) UpsertTag(c *gin.Context) {
	var in struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondErr(c, domain.E(domain.KindValidation, "malformed request body"))
		return
	}
	tag, err := h.releases.UpsertTag(c.Request.Context(), authFrom(c), in.Name)
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, tag)
}

func (h *Handlers) DeleteTag(c *gin.Context) {
	if err := h.releases.DeleteTag(c.Request.Context(), authFrom(c), c.Param("id")); err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- admin ----

func (h *Handlers) ListAccounts(c *gin.Context) {
	accounts, err := h.releases.Accounts(c.Request.Context(), authFrom(c))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *Handlers) CheckConnection(c *gin.Context) {
	viewer, err := h.portal.CheckConnection(c.Request.Context(), authFrom(c))
	if err != nil { h.respondErr(c, err); return }
	c.JSON(http.StatusOK, viewer)
}

// ---- webhook ----

// TrackerWebhook authenticates the delivery and acknowledges it. Event
// handling past verification is a logging stub; the caches stay pull-based.
func (h *Handlers) TrackerWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	env, err := h.verifier.VerifyAndParse(body, c.GetHeader("linear-signature"))
	if err != nil {
		// pass/fail only; never the secret or any derived material
		h.log.Warn().Str("reason", domain.UserMessage(err)).Str("ip", c.ClientIP()).Msg("webhook rejected")
		c.JSON(domain.HTTPStatus(err), gin.H{"error": domain.UserMessage(err)})
		return
	}
	h.log.Info().Str("type", env.Type).Str("action", env.Action).Msg("webhook received")
	c.JSON(http.StatusOK, gin.H{"received": true})
}
