/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/activity"
	"github.com/luisson10/conbiz-ticket-support/internal/adapters/linear"
	"github.com/luisson10/conbiz-ticket-support/internal/cache"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// fakeTracker stands in for the Linear client across every interface the
// portal consumes.
type fakeTracker struct {
	issue       domain.TicketSnapshot
	comments    []domain.Comment
	attachments []domain.Attachment
	page        linear.IssuePage
	states      []domain.WorkflowState
	activity    []linear.ActivityIssue

	commentCalls int
	lastComment  string
	lastCreate   linear.IssueCreateInput
}

func (f *fakeTracker) ListIssues(_ context.Context, _ linear.Filter, _ int, _ string) (linear.IssuePage, error) {
	return f.page, nil
}

func (f *fakeTracker) Issue(_ context.Context, _ string) (domain.TicketSnapshot, error) {
	return f.issue, nil
}

func (f *fakeTracker) ListComments(_ context.Context, _ string) ([]domain.Comment, error) {
	return f.comments, nil
}

func (f *fakeTracker) ListAttachments(_ context.Context, _ string) ([]domain.Attachment, error) {
	return f.attachments, nil
}

func (f *fakeTracker) CreateComment(_ context.Context, _ string, body string) (domain.Comment, error) {
	f.commentCalls++
	f.lastComment = body
	return domain.Comment{ID: "c-new", Body: body, CreatedAt: time.Now(), UserName: "You"}, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, in linear.IssueCreateInput) (string, error) {
	f.lastCreate = in
	return "iss-new", nil
}

func (f *fakeTracker) CheckConnection(_ context.Context) (linear.Viewer, error) {
	return linear.Viewer{Name: "bot", Email: "bot@example.com"}, nil
}

func (f *fakeTracker) ListWorkflowStates(_ context.Context, _ string) ([]domain.WorkflowState, error) {
	return f.states, nil
}

func (f *fakeTracker) ListActivityIssues(_ context.Context, _ linear.Filter, _ int) ([]linear.ActivityIssue, error) {
	return f.activity, nil
}

type fakeBoardStore struct {
	boards map[string]domain.Board
	prefs  map[string]domain.BoardPreferences
}

func (s *fakeBoardStore) GetBoard(_ context.Context, id string) (domain.Board, error) {
	b, ok := s.boards[id]
	if !ok { return domain.Board{}, domain.E(domain.KindNotFound, "board not found") }
	return b, nil
}

func (s *fakeBoardStore) ListBoards(_ context.Context) ([]domain.Board, error) {
	out := []domain.Board{}
	for _, b := range s.boards { out = append(out, b) }
	return out, nil
}

func (s *fakeBoardStore) ListBoardsByAccount(_ context.Context, accountID string) ([]domain.Board, error) {
	out := []domain.Board{}
	for _, b := range s.boards {
		if b.AccountID == accountID { out = append(out, b) }
	}
	return out, nil
}

func (s *fakeBoardStore) GetBoardPreferences(_ context.Context, userID, boardID string) (domain.BoardPreferences, bool, error) {
	p, ok := s.prefs[userID+"|"+boardID]
	return p, ok, nil
}

func (s *fakeBoardStore) SaveBoardPreferences(_ context.Context, userID, boardID string, prefs domain.BoardPreferences) error {
	if s.prefs == nil { s.prefs = map[string]domain.BoardPreferences{} }
	s.prefs[userID+"|"+boardID] = prefs
	return nil
}

func supportBoard() domain.Board {
	return domain.Board{ID: "b1", Name: "Soporte", Type: domain.BoardSupport, AccountID: "acc-a", TeamID: "team-1"}
}

func projectBoard() domain.Board {
	return domain.Board{ID: "b2", Name: "Proyecto", Type: domain.BoardProject, AccountID: "acc-a", TeamID: "team-1"}
}

func memberAuth(boardIDs ...string) domain.AuthContext {
	return domain.AuthContext{UserID: "u1", Role: domain.RoleUser, AccountID: "acc-a", BoardIDs: boardIDs}
}

func newTestPortal(tr *fakeTracker, boards ...domain.Board) *Portal {
	store := &fakeBoardStore{boards: map[string]domain.Board{}}
	for _, b := range boards { store.boards[b.ID] = b }
	states := cache.NewStateCache(tr, time.Minute)
	lists := cache.NewListCache(NewPageFetcher(tr, states, 50), 30*time.Second)
	agg := activity.NewAggregator(tr, activity.NewMemorySeenStore(), zerolog.Nop())
	return NewPortal(tr, store, lists, agg, 100, zerolog.Nop())
}

func TestBoardTicketsAccessControl(t *testing.T) {
	portal := newTestPortal(&fakeTracker{}, supportBoard())

	_, err := portal.BoardTickets(context.Background(), memberAuth(), "b1", "", false)
	if !domain.IsKind(err, domain.KindForbidden) { t.Fatalf("expected forbidden, got %v", err) }

	if _, err := portal.BoardTickets(context.Background(), memberAuth("b1"), "b1", "", false); err != nil {
		t.Fatalf("member of board should pass: %v", err)
	}
	if _, err := portal.BoardTickets(context.Background(), adminAuth(), "b1", "", false); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}

func TestBoardTicketsDisplayFallbacks(t *testing.T) {
	tr := &fakeTracker{page: linear.IssuePage{Nodes: []domain.TicketSnapshot{{ID: "i1", Title: "sin estado"}}}}
	portal := newTestPortal(tr, supportBoard())

	view, err := portal.BoardTickets(context.Background(), memberAuth("b1"), "b1", "", false)
	if err != nil { t.Fatal(err) }
	dto := view.Tickets[0]
	if dto.State.Name != "Unknown" || dto.State.Color != "#cbd5f5" { t.Errorf("state fallback missing: %+v", dto.State) }
	if dto.Assignee != "Unassigned" { t.Errorf("assignee fallback missing: %q", dto.Assignee) }
	if dto.PriorityLabel != "No priority" { t.Errorf("priority fallback missing: %q", dto.PriorityLabel) }
}

func TestIssueDetailsFiltersUnmarkedComments(t *testing.T) {
	tr := &fakeTracker{
		issue: domain.TicketSnapshot{ID: "i1", Title: "login"},
		comments: []domain.Comment{
			{ID: "c1", Body: "#sync\nvisible"},
			{ID: "c2", Body: "internal only"},
		},
	}
	portal := newTestPortal(tr, supportBoard())

	view, err := portal.IssueDetails(context.Background(), memberAuth("b1"), "b1", "i1")
	if err != nil { t.Fatal(err) }
	if len(view.Comments) != 1 || view.Comments[0].Body != "visible" {
		t.Fatalf("expected only the marked comment, got %+v", view.Comments)
	}
}

func TestCreateCommentTerminalStateGuard(t *testing.T) {
	for _, stateType := range []string{"completed", "canceled"} {
		tr := &fakeTracker{issue: domain.TicketSnapshot{ID: "i1", State: &domain.WorkflowState{Type: stateType}}}
		portal := newTestPortal(tr, supportBoard())

		// The guard holds for every role.
		for _, auth := range []domain.AuthContext{memberAuth("b1"), adminAuth()} {
			_, err := portal.CreateComment(context.Background(), auth, "b1", "i1", "can you reopen?")
			if !domain.IsKind(err, domain.KindValidation) { t.Fatalf("state %s: expected validation error, got %v", stateType, err) }
		}
		if tr.commentCalls != 0 { t.Fatalf("state %s: comment must not reach the tracker", stateType) }
	}
}

func TestCreateCommentWrapsBody(t *testing.T) {
	tr := &fakeTracker{issue: domain.TicketSnapshot{ID: "i1", State: &domain.WorkflowState{Type: "started"}}}
	portal := newTestPortal(tr, supportBoard())

	comment, err := portal.CreateComment(context.Background(), memberAuth("b1"), "b1", "i1", "  thanks!  ")
	if err != nil { t.Fatal(err) }
	if tr.lastComment != "#sync\nthanks!" { t.Fatalf("outbound body not wrapped: %q", tr.lastComment) }
	if comment.Body != "thanks!" { t.Fatalf("returned body should be unwrapped: %q", comment.Body) }
}

func TestCreateCommentRejectsEmptyBody(t *testing.T) {
	portal := newTestPortal(&fakeTracker{}, supportBoard())
	_, err := portal.CreateComment(context.Background(), memberAuth("b1"), "b1", "i1", "   \n ")
	if !domain.IsKind(err, domain.KindValidation) { t.Fatalf("expected validation error, got %v", err) }
}

func TestCreateTicketSupportBoardsOnly(t *testing.T) {
	tr := &fakeTracker{}
	portal := newTestPortal(tr, supportBoard(), projectBoard())

	_, err := portal.CreateTicket(context.Background(), memberAuth("b2"), "b2", CreateTicketInput{Title: "nueva"})
	if !domain.IsKind(err, domain.KindValidation) { t.Fatalf("project board should reject ticket creation, got %v", err) }

	id, err := portal.CreateTicket(context.Background(), memberAuth("b1"), "b1", CreateTicketInput{Title: "  nueva  "})
	if err != nil { t.Fatal(err) }
	if id != "iss-new" { t.Fatalf("unexpected issue id %q", id) }
	if tr.lastCreate.TeamID != "team-1" || tr.lastCreate.Title != "nueva" {
		t.Fatalf("create input not derived from board: %+v", tr.lastCreate)
	}
}

func TestActivityRespectsLimitMax(t *testing.T) {
	issues := []linear.ActivityIssue{}
	for i := 0; i < 5; i++ {
		at := time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC)
		issues = append(issues, linear.ActivityIssue{ID: "iss-" + strings.Repeat("x", i+1), Title: "t", UpdatedAt: &at})
	}
	tr := &fakeTracker{activity: issues}
	portal := newTestPortal(tr, supportBoard())

	view, err := portal.Activity(context.Background(), memberAuth("b1"), "b1", 1000)
	if err != nil { t.Fatal(err) }
	if len(view.Items) != 5 { t.Fatalf("expected 5 items, got %d", len(view.Items)) }
	if len(view.UnreadIDs) != 5 { t.Fatalf("expected 5 unread, got %d", len(view.UnreadIDs)) }
}

func TestBoardPreferencesRoundTrip(t *testing.T) {
	portal := newTestPortal(&fakeTracker{}, supportBoard())
	ctx := context.Background()
	auth := memberAuth("b1")

	prefs, err := portal.BoardPreferences(ctx, auth, "b1")
	if err != nil { t.Fatal(err) }
	if prefs.View != "kanban" { t.Fatalf("expected default view, got %q", prefs.View) }

	saved := domain.BoardPreferences{View: "table", Sorts: []domain.SortRule{{ID: "s1", Field: "priority", Direction: domain.SortAsc}}}
	if err := portal.SaveBoardPreferences(ctx, auth, "b1", saved); err != nil { t.Fatal(err) }
	prefs, err = portal.BoardPreferences(ctx, auth, "b1")
	if err != nil { t.Fatal(err) }
	if prefs.View != "table" || len(prefs.Sorts) != 1 { t.Fatalf("preferences not persisted: %+v", prefs) }
}
