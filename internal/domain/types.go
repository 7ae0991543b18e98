package domain

import "time"

type BoardType string

const (
	BoardSupport BoardType = "SUPPORT"
	BoardProject BoardType = "PROJECT"
)

// Board binds an account to one external team and an optional project.
// The team/project binding is set by an admin and owned by the surrounding CRUD.
type Board struct {
	ID        string
	Name      string
	Type      BoardType
	AccountID string
	TeamID    string
	ProjectID string // empty when the board spans the whole team
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Account struct {
	ID   string
	Name string
}

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// AuthContext is what the core consumes from the session layer.
type AuthContext struct {
	UserID    string
	Role      Role
	Email     string
	AccountID string
	BoardIDs  []string
}

func (a AuthContext) IsAdmin() bool { return a.Role == RoleAdmin }

func (a AuthContext) CanAccessBoard(boardID string) bool {
	if a.IsAdmin() { return true }
	for _, id := range a.BoardIDs {
		if id == boardID { return true }
	}
	return false
}

type WorkflowState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Color string `json:"color"`
}

// TicketSnapshot is an ephemeral projection of an external issue. It is
// never persisted; the list cache's validity window carries the staleness
// contract, not the entity.
type TicketSnapshot struct {
	ID           string
	Identifier   string
	Title        string
	Description  string
	DueDate      string
	URL          string
	Priority     *int
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	State        *WorkflowState
	AssigneeName string
	ProjectName  string
}

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor,omitempty"`
}

type ActivityType string

const (
	ActivityUpdate  ActivityType = "update"
	ActivityComment ActivityType = "comment"
)

type ActivityItem struct {
	ID              string       `json:"id"`
	Type            ActivityType `json:"type"`
	IssueID         string       `json:"issueId"`
	IssueTitle      string       `json:"issueTitle"`
	IssueIdentifier string       `json:"issueIdentifier"`
	CreatedAt       time.Time    `json:"createdAt"`
	Body            string       `json:"body,omitempty"`
}

// SeenState is the per-(user, board) read state. SeenIDs grows
// monotonically; LastSeenAt only ever advances.
type SeenState struct {
	SeenIDs    map[string]struct{}
	LastSeenAt *time.Time
}

type Comment struct {
	ID        string
	Body      string
	CreatedAt time.Time
	UserName  string
}

type Attachment struct {
	ID        string
	Title     string
	URL       string
	CreatedAt time.Time
}

type ReleaseStatus string

const (
	ReleaseDraft     ReleaseStatus = "DRAFT"
	ReleasePublished ReleaseStatus = "PUBLISHED"
)

type ReleaseTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ReleaseItem snapshots an issue at attach time. It is intentionally not
// kept live-synced with the tracker afterwards.
type ReleaseItem struct {
	ID              string
	ReleaseID       string
	IssueID         string
	IssueIdentifier string
	Title           string
	StateName       string
	StateType       string
	Priority        *int
	BoardType       BoardType
	AccountID       string
	CreatedAt       time.Time
}

type Release struct {
	ID          string
	Title       string
	Description string
	Status      ReleaseStatus
	PublishedAt *time.Time // set exactly once, at the DRAFT->PUBLISHED transition
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Accounts    []Account
	Tags        []ReleaseTag
	ItemCount   int
	Items       []ReleaseItem
}

// AccountIDs returns the ids of the accounts the release is scoped to.
func (r Release) AccountIDs() []string {
	out := make([]string, 0, len(r.Accounts))
	for _, a := range r.Accounts { out = append(out, a.ID) }
	return out
}

type ReleaseCandidate struct {
	IssueID    string
	Identifier string
	Title      string
	StateName  string
	StateType  string
	Priority   *int
	BoardType  BoardType
	AccountID  string
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type SortRule struct {
	ID        string        `json:"id"`
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// BoardPreferences is best-effort per-(user, board) UI state; losing it
// never loses data.
type BoardPreferences struct {
	View  string     `json:"view"`
	Sorts []SortRule `json:"sorts"`
}
