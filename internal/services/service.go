/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/activity"
	"github.com/luisson10/conbiz-ticket-support/internal/adapters/linear"
	"github.com/luisson10/conbiz-ticket-support/internal/cache"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
	"github.com/luisson10/conbiz-ticket-support/internal/syncmark"
)

// Gateway is the slice of the tracker client the portal consumes.
type Gateway interface {
	ListIssues(ctx context.Context, f linear.Filter, first int, after string) (linear.IssuePage, error)
	Issue(ctx context.Context, issueID string) (domain.TicketSnapshot, error)
	ListComments(ctx context.Context, issueID string) ([]domain.Comment, error)
	ListAttachments(ctx context.Context, issueID string) ([]domain.Attachment, error)
	CreateComment(ctx context.Context, issueID, body string) (domain.Comment, error)
	CreateIssue(ctx context.Context, in linear.IssueCreateInput) (string, error)
	CheckConnection(ctx context.Context) (linear.Viewer, error)
}

// BoardStore is the slice of the repository the portal consumes.
type BoardStore interface {
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	ListBoards(ctx context.Context) ([]domain.Board, error)
	ListBoardsByAccount(ctx context.Context, accountID string) ([]domain.Board, error)
	GetBoardPreferences(ctx context.Context, userID, boardID string) (domain.BoardPreferences, bool, error)
	SaveBoardPreferences(ctx context.Context, userID, boardID string, prefs domain.BoardPreferences) error
}

// PageFetcher adapts the gateway plus the state cache into the ticket list
// cache's loader: one call yields the snapshots and the board's ordered
// workflow states as a single atomic page.
type PageFetcher struct {
	gw       Gateway
	states   *cache.StateCache
	pageSize int
}

func NewPageFetcher(gw Gateway, states *cache.StateCache, pageSize int) *PageFetcher {
	return &PageFetcher{gw: gw, states: states, pageSize: pageSize}
}

func boardFilter(b domain.Board) linear.Filter {
	return linear.Filter{TeamID: b.TeamID, ProjectID: b.ProjectID}
}

func (f *PageFetcher) FetchPage(ctx context.Context, board domain.Board, after string) (cache.TicketPage, error) {
	states, err := f.states.Get(ctx, board.TeamID)
	if err != nil { return cache.TicketPage{}, err }
	page, err := f.gw.ListIssues(ctx, boardFilter(board), f.pageSize, after)
	if err != nil { return cache.TicketPage{}, err }
	return cache.TicketPage{Tickets: page.Nodes, States: OrderWorkflowStates(states), PageInfo: page.PageInfo}, nil
}

type Portal struct {
	gw    Gateway
	store BoardStore
	lists *cache.ListCache
	agg   *activity.Aggregator
	log   zerolog.Logger

	activityLimitMax int
}

func NewPortal(gw Gateway, store BoardStore, lists *cache.ListCache, agg *activity.Aggregator, activityLimitMax int, log zerolog.Logger) *Portal {
	return &Portal{gw: gw, store: store, lists: lists, agg: agg, activityLimitMax: activityLimitMax, log: log}
}

func (p *Portal) board(ctx context.Context, auth domain.AuthContext, boardID string) (domain.Board, error) {
	if !auth.CanAccessBoard(boardID) { return domain.Board{}, domain.E(domain.KindForbidden, "no access to this board") }
	return p.store.GetBoard(ctx, boardID)
}

func (p *Portal) Boards(ctx context.Context, auth domain.AuthContext) ([]domain.Board, error) {
	if auth.IsAdmin() { return p.store.ListBoards(ctx) }
	boards, err := p.store.ListBoardsByAccount(ctx, auth.AccountID)
	if err != nil { return nil, err }
	visible := boards[:0]
	for _, b := range boards {
		if auth.CanAccessBoard(b.ID) { visible = append(visible, b) }
	}
	return visible, nil
}

// TicketDTO is the snapshot shape handed to the UI, with display
// fallbacks already applied.
type TicketDTO struct {
	ID            string               `json:"id"`
	Identifier    string               `json:"identifier"`
	Title         string               `json:"title"`
	Description   string               `json:"description,omitempty"`
	DueDate       string               `json:"dueDate,omitempty"`
	URL           string               `json:"url,omitempty"`
	Priority      int                  `json:"priority"`
	PriorityLabel string               `json:"priorityLabel"`
	CreatedAt     string               `json:"createdAt,omitempty"`
	UpdatedAt     string               `json:"updatedAt,omitempty"`
	State         domain.WorkflowState `json:"state"`
	Assignee      string               `json:"assignee"`
	Project       string               `json:"project,omitempty"`
}

const defaultStateColor = "#cbd5f5"

func toTicketDTO(t domain.TicketSnapshot) TicketDTO {
	dto := TicketDTO{
		ID:            t.ID,
		Identifier:    t.Identifier,
		Title:         t.Title,
		Description:   t.Description,
		DueDate:       t.DueDate,
		URL:           t.URL,
		PriorityLabel: PriorityLabel(t.Priority),
		Assignee:      "Unassigned",
		Project:       t.ProjectName,
		State:         domain.WorkflowState{Name: "Unknown", Color: defaultStateColor},
	}
	if t.Priority != nil { dto.Priority = *t.Priority }
	if t.CreatedAt != nil { dto.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339) }
	if t.UpdatedAt != nil { dto.UpdatedAt = t.UpdatedAt.UTC().Format(time.RFC3339) }
	if t.State != nil {
		dto.State = *t.State
		if dto.State.Color == "" { dto.State.Color = defaultStateColor }
		if dto.State.Name == "" { dto.State.Name = "Unknown" }
	}
	if t.AssigneeName != "" { dto.Assignee = t.AssigneeName }
	return dto
}

type BoardTicketsView struct {
	Board    domain.Board           `json:"board"`
	Tickets  []TicketDTO            `json:"tickets"`
	States   []domain.WorkflowState `json:"states"`
	PageInfo domain.PageInfo        `json:"pageInfo"`
}

// BoardTickets serves one page of board snapshots through the list cache.
// force bypasses the validity window (the UI's explicit refresh).
func (p *Portal) BoardTickets(ctx context.Context, auth domain.AuthContext, boardID, after string, force bool) (BoardTicketsView, error) {
	board, err := p.board(ctx, auth, boardID)
	if err != nil { return BoardTicketsView{}, err }
	page, err := p.lists.Get(ctx, board, after, force)
	if err != nil { return BoardTicketsView{}, err }
	view := BoardTicketsView{Board: board, Tickets: make([]TicketDTO, 0, len(page.Tickets)), States: page.States, PageInfo: page.PageInfo}
	for _, t := range page.Tickets { view.Tickets = append(view.Tickets, toTicketDTO(t)) }
	return view, nil
}

type IssueDetailsView struct {
	Ticket      TicketDTO           `json:"ticket"`
	Comments    []domain.Comment    `json:"comments"`
	Attachments []domain.Attachment `json:"attachments"`
}

// IssueDetails returns a fresh snapshot with only portal-visible comments,
// markers already stripped.
func (p *Portal) IssueDetails(ctx context.Context, auth domain.AuthContext, boardID, issueID string) (IssueDetailsView, error) {
	if _, err := p.board(ctx, auth, boardID); err != nil { return IssueDetailsView{}, err }
	ticket, err := p.gw.Issue(ctx, issueID)
	if err != nil { return IssueDetailsView{}, err }
	comments, err := p.gw.ListComments(ctx, issueID)
	if err != nil { return IssueDetailsView{}, err }
	attachments, err := p.gw.ListAttachments(ctx, issueID)
	if err != nil { return IssueDetailsView{}, err }
	return IssueDetailsView{
		Ticket:      toTicketDTO(ticket),
		Comments:    syncmark.FilterAndUnwrap(comments),
		Attachments: attachments,
	}, nil
}

// CreateComment re-checks the issue's workflow state against a fresh
// snapshot before posting, then ships the body with the sync marker.
func (p *Portal) CreateComment(ctx context.Context, auth domain.AuthContext, boardID, issueID, body string) (domain.Comment, error) {
	if _, err := p.board(ctx, auth, boardID); err != nil { return domain.Comment{}, err }
	if strings.TrimSpace(body) == "" { return domain.Comment{}, domain.E(domain.KindValidation, "comment body is required") }
	ticket, err := p.gw.Issue(ctx, issueID)
	if err != nil { return domain.Comment{}, err }
	stateType := ""
	if ticket.State != nil { stateType = ticket.State.Type }
	if err := syncmark.CanComment(stateType); err != nil { return domain.Comment{}, err }
	comment, err := p.gw.CreateComment(ctx, issueID, syncmark.Wrap(body))
	if err != nil { return domain.Comment{}, err }
	comment.Body = syncmark.Unwrap(comment.Body)
	return comment, nil
}

type CreateTicketInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    *int   `json:"priority,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// CreateTicket opens a new issue on a support board and drops the board's
// cached pages so the next list shows it.
func (p *Portal) CreateTicket(ctx context.Context, auth domain.AuthContext, boardID string, in CreateTicketInput) (string, error) {
	board, err := p.board(ctx, auth, boardID)
	if err != nil { return "", err }
	if board.Type != domain.BoardSupport {
		return "", domain.E(domain.KindValidation, "tickets can only be created on support boards")
	}
	if strings.TrimSpace(in.Title) == "" { return "", domain.E(domain.KindValidation, "ticket title is required") }
	issueID, err := p.gw.CreateIssue(ctx, linear.IssueCreateInput{
		TeamID:      board.TeamID,
		ProjectID:   board.ProjectID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
	})
	if err != nil { return "", err }
	p.lists.Invalidate(board.ID)
	p.log.Info().Str("board_id", board.ID).Str("issue_id", issueID).Msg("ticket created")
	return issueID, nil
}

type ActivityView struct {
	Items     []domain.ActivityItem `json:"items"`
	UnreadIDs []string              `json:"unreadIds"`
}

// Activity polls the board feed immediately (opening the panel is always
// an explicit refresh) and returns it with the caller's unread ids.
func (p *Portal) Activity(ctx context.Context, auth domain.AuthContext, boardID string, limit int) (ActivityView, error) {
	board, err := p.board(ctx, auth, boardID)
	if err != nil { return ActivityView{}, err }
	if limit > p.activityLimitMax { limit = p.activityLimitMax }
	items, err := p.agg.Poll(ctx, board, activity.PollOptions{UserID: auth.UserID, Limit: limit})
	if err != nil { return ActivityView{}, err }
	unread, err := p.agg.UnreadIDs(ctx, auth.UserID, boardID)
	if err != nil { return ActivityView{}, err }
	return ActivityView{Items: items, UnreadIDs: unread}, nil
}

func (p *Portal) MarkActivitySeen(ctx context.Context, auth domain.AuthContext, boardID string, itemIDs []string) error {
	if _, err := p.board(ctx, auth, boardID); err != nil { return err }
	return p.agg.MarkSeen(ctx, auth.UserID, boardID, itemIDs)
}

func (p *Portal) MarkAllActivitySeen(ctx context.Context, auth domain.AuthContext, boardID string) error {
	if _, err := p.board(ctx, auth, boardID); err != nil { return err }
	return p.agg.MarkAllSeen(ctx, auth.UserID, boardID)
}

func (p *Portal) BoardPreferences(ctx context.Context, auth domain.AuthContext, boardID string) (domain.BoardPreferences, error) {
	if _, err := p.board(ctx, auth, boardID); err != nil { return domain.BoardPreferences{}, err }
	prefs, ok, err := p.store.GetBoardPreferences(ctx, auth.UserID, boardID)
	if err != nil { return domain.BoardPreferences{}, err }
	if !ok { return domain.BoardPreferences{View: "kanban"}, nil }
	return prefs, nil
}

func (p *Portal) SaveBoardPreferences(ctx context.Context, auth domain.AuthContext, boardID string, prefs domain.BoardPreferences) error {
	if _, err := p.board(ctx, auth, boardID); err != nil { return err }
	return p.store.SaveBoardPreferences(ctx, auth.UserID, boardID, prefs)
}

// ReleaseCandidates lists attachable issues: a single board's when boardID
// is set, otherwise across every board. Admin gating happens in the
// release service.
func (p *Portal) ReleaseCandidates(ctx context.Context, boardID string) ([]domain.ReleaseCandidate, error) {
	var boards []domain.Board
	if boardID != "" {
		board, err := p.store.GetBoard(ctx, boardID)
		if err != nil { return nil, err }
		boards = []domain.Board{board}
	} else {
		var err error
		boards, err = p.store.ListBoards(ctx)
		if err != nil { return nil, err }
	}
	candidates := []domain.ReleaseCandidate{}
	for _, board := range boards {
		page, err := p.lists.Get(ctx, board, "", false)
		if err != nil { return nil, err }
		for _, t := range page.Tickets {
			c := domain.ReleaseCandidate{
				IssueID:    t.ID,
				Identifier: t.Identifier,
				Title:      t.Title,
				Priority:   t.Priority,
				BoardType:  board.Type,
				AccountID:  board.AccountID,
			}
			if t.State != nil { c.StateName, c.StateType = t.State.Name, t.State.Type }
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// CheckConnection verifies the tracker credentials (admin settings page).
func (p *Portal) CheckConnection(ctx context.Context, auth domain.AuthContext) (linear.Viewer, error) {
	if err := requireAdmin(auth); err != nil { return linear.Viewer{}, err }
	return p.gw.CheckConnection(ctx)
}
