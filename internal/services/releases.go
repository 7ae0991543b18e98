/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/luisson10/conbiz-ticket-support/internal/repo"
)

// ReleaseStore is the slice of the repository the release service uses.
type ReleaseStore interface {
	ListReleases(ctx context.Context, q repo.ReleaseQuery) ([]domain.Release, bool, error)
	GetRelease(ctx context.Context, id string) (domain.Release, error)
	CreateRelease(ctx context.Context, title, description string, accountIDs, tagIDs []string) (domain.Release, error)
	UpdateRelease(ctx context.Context, id, title, description string, accountIDs, tagIDs []string) (domain.Release, error)
	PublishRelease(ctx context.Context, id string) (domain.Release, error)
	DeleteDraft(ctx context.Context, id string) error
	DeleteRelease(ctx context.Context, id string) error
	ListTags(ctx context.Context) ([]domain.ReleaseTag, error)
	UpsertTag(ctx context.Context, name, slug string) (domain.ReleaseTag, error)
	DeleteTag(ctx context.Context, id string) error
	AttachItems(ctx context.Context, releaseID string, items []domain.ReleaseItem) error
	DetachItem(ctx context.Context, releaseID, issueID string) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// CandidateSource lists attachable issues of a board.
type CandidateSource interface {
	ReleaseCandidates(ctx context.Context, boardID string) ([]domain.ReleaseCandidate, error)
}

type ReleaseService struct {
	store      ReleaseStore
	candidates CandidateSource
	pageSize   int
	pageMax    int
	log        zerolog.Logger
}

func NewReleaseService(store ReleaseStore, candidates CandidateSource, pageSize, pageMax int, log zerolog.Logger) *ReleaseService {
	return &ReleaseService{store: store, candidates: candidates, pageSize: pageSize, pageMax: pageMax, log: log}
}

// CanViewRelease is the single visibility rule: admins see everything,
// everyone else sees only published releases scoped to their account.
func CanViewRelease(auth domain.AuthContext, status domain.ReleaseStatus, accountIDs []string) bool {
	if auth.IsAdmin() { return true }
	if status != domain.ReleasePublished { return false }
	for _, id := range accountIDs {
		if id == auth.AccountID { return true }
	}
	return false
}

// TimelineQuery is the caller-facing pagination request.
type TimelineQuery struct {
	Status *domain.ReleaseStatus
	Cursor *time.Time
	Limit  int
}

type TimelinePage struct {
	Items      []domain.Release `json:"items"`
	HasNext    bool             `json:"hasNext"`
	NextCursor *time.Time       `json:"nextCursor,omitempty"`
}

// cursorOf is the keyset value a page hands to the next request: the last
// row's publish time, or its creation time while still a draft.
func cursorOf(r domain.Release) time.Time {
	if r.PublishedAt != nil { return *r.PublishedAt }
	return r.CreatedAt
}

func (s *ReleaseService) Timeline(ctx context.Context, auth domain.AuthContext, q TimelineQuery) (TimelinePage, error) {
	limit := q.Limit
	if limit < 1 { limit = s.pageSize }
	if limit > s.pageMax { limit = s.pageMax }
	items, hasNext, err := s.store.ListReleases(ctx, repo.ReleaseQuery{
		AdminView: auth.IsAdmin(),
		AccountID: auth.AccountID,
		Status:    q.Status,
		Cursor:    q.Cursor,
		Limit:     limit,
	})
	if err != nil { return TimelinePage{}, err }
	page := TimelinePage{Items: items, HasNext: hasNext}
	if hasNext && len(items) > 0 {
		c := cursorOf(items[len(items)-1])
		page.NextCursor = &c
	}
	return page, nil
}

// Get hides releases the caller cannot view behind a not-found, so
// existence of drafts never leaks.
func (s *ReleaseService) Get(ctx context.Context, auth domain.AuthContext, id string) (domain.Release, error) {
	rel, err := s.store.GetRelease(ctx, id)
	if err != nil { return domain.Release{}, err }
	if !CanViewRelease(auth, rel.Status, rel.AccountIDs()) {
		return domain.Release{}, domain.E(domain.KindNotFound, "release not found")
	}
	return rel, nil
}

type ReleaseInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AccountIDs  []string `json:"accountIds"`
	TagIDs      []string `json:"tagIds"`
}

func (in ReleaseInput) validate() error {
	if strings.TrimSpace(in.Title) == "" { return domain.E(domain.KindValidation, "release title is required") }
	return nil
}

func requireAdmin(auth domain.AuthContext) error {
	if !auth.IsAdmin() { return domain.E(domain.KindForbidden, "admin role required") }
	return nil
}

func (s *ReleaseService) CreateDraft(ctx context.Context, auth domain.AuthContext, in ReleaseInput) (domain.Release, error) {
	if err := requireAdmin(auth); err != nil { return domain.Release{}, err }
	if err := in.validate(); err != nil { return domain.Release{}, err }
	return s.store.CreateRelease(ctx, strings.TrimSpace(in.Title), strings.TrimSpace(in.Description), in.AccountIDs, in.TagIDs)
}

func (s *ReleaseService) Update(ctx context.Context, auth domain.AuthContext, id string, in ReleaseInput) (domain.Release, error) {
	if err := requireAdmin(auth); err != nil { return domain.Release{}, err }
	if err := in.validate(); err != nil { return domain.Release{}, err }
	return s.store.UpdateRelease(ctx, id, strings.TrimSpace(in.Title), strings.TrimSpace(in.Description), in.AccountIDs, in.TagIDs)
}

func (s *ReleaseService) Publish(ctx context.Context, auth domain.AuthContext, id string) (domain.Release, error) {
	if err := requireAdmin(auth); err != nil { return domain.Release{}, err }
	rel, err := s.store.PublishRelease(ctx, id)
	if err != nil { return domain.Release{}, err }
	s.log.Info().Str("release_id", id).Time("published_at", *rel.PublishedAt).Msg("release published")
	return rel, nil
}

// Delete removes a release. Published releases need the force flag; the
// default path only deletes drafts.
func (s *ReleaseService) Delete(ctx context.Context, auth domain.AuthContext, id string, force bool) error {
	if err := requireAdmin(auth); err != nil { return err }
	if force { return s.store.DeleteRelease(ctx, id) }
	return s.store.DeleteDraft(ctx, id)
}

func (s *ReleaseService) Tags(ctx context.Context) ([]domain.ReleaseTag, error) { return s.store.ListTags(ctx) }

// UpsertTag creates or renames a tag; identity is the slugified name.
func (s *ReleaseService) UpsertTag(ctx context.Context, auth domain.AuthContext, name string) (domain.ReleaseTag, error) {
	if err := requireAdmin(auth); err != nil { return domain.ReleaseTag{}, err }
	slug := Slugify(name)
	if slug == "" { return domain.ReleaseTag{}, domain.E(domain.KindValidation, "tag name is required") }
	return s.store.UpsertTag(ctx, strings.TrimSpace(name), slug)
}

func (s *ReleaseService) DeleteTag(ctx context.Context, auth domain.AuthContext, id string) error {
	if err := requireAdmin(auth); err != nil { return err }
	return s.store.DeleteTag(ctx, id)
}

func (s *ReleaseService) Accounts(ctx context.Context, auth domain.AuthContext) ([]domain.Account, error) {
	if err := requireAdmin(auth); err != nil { return nil, err }
	return s.store.ListAccounts(ctx)
}

// Candidates lists a board's issues in attachable form.
func (s *ReleaseService) Candidates(ctx context.Context, auth domain.AuthContext, boardID string) ([]domain.ReleaseCandidate, error) {
	if err := requireAdmin(auth); err != nil { return nil, err }
	return s.candidates.ReleaseCandidates(ctx, boardID)
}

// AttachIssues snapshots the selected candidates onto the release. The
// snapshot is frozen at attach time on purpose.
func (s *ReleaseService) AttachIssues(ctx context.Context, auth domain.AuthContext, releaseID string, picks []domain.ReleaseCandidate) error {
	if err := requireAdmin(auth); err != nil { return err }
	if len(picks) == 0 { return domain.E(domain.KindValidation, "no issues selected") }
	if _, err := s.store.GetRelease(ctx, releaseID); err != nil { return err }
	items := make([]domain.ReleaseItem, 0, len(picks))
	for _, c := range picks {
		items = append(items, domain.ReleaseItem{
			ReleaseID:       releaseID,
			IssueID:         c.IssueID,
			IssueIdentifier: c.Identifier,
			Title:           c.Title,
			StateName:       c.StateName,
			StateType:       c.StateType,
			Priority:        c.Priority,
			BoardType:       c.BoardType,
			AccountID:       c.AccountID,
		})
	}
	return s.store.AttachItems(ctx, releaseID, items)
}

func (s *ReleaseService) DetachIssue(ctx context.Context, auth domain.AuthContext, releaseID, issueID string) error {
	if err := requireAdmin(auth); err != nil { return err }
	return s.store.DetachItem(ctx, releaseID, issueID)
}
