package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// IssueStatus is the lifecycle state of a reported issue.
type IssueStatus string

const (
	StatusReported     IssueStatus = "reported"
	StatusAcknowledged IssueStatus = "acknowledged"
	StatusInProgress   IssueStatus = "in_progress"
	StatusResolved     IssueStatus = "resolved"
	StatusClosed       IssueStatus = "closed"
)

// Issue is a geo-tagged infrastructure problem reported by a citizen.
// The gateway never owns issues; it only reads them from the backend.
type Issue struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Category      string      `json:"category"`
	Status        IssueStatus `json:"status"`
	StatusDisplay string      `json:"status_display,omitempty"`
	Upvotes       int         `json:"upvotes"`
	Downvotes     int         `json:"downvotes"`
	Location      GeoPoint    `json:"location"`
	CreatedAt     *time.Time  `json:"created_at,omitempty"`
	// Distance is metres from the point a nearby query was made at.
	Distance float64 `json:"distance_m,omitempty"`
}

// Resolved reports whether the issue counts as fixed for display purposes.
func (i Issue) Resolved() bool { return i.Status == StatusResolved }

// Solution is a community-written how-to for a bureaucratic task.
type Solution struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Language    string   `json:"language,omitempty"`
	SuccessRate float64  `json:"success_rate"`
	Upvotes     int      `json:"upvotes"`
	Downvotes   int      `json:"downvotes"`
	IsVerified  bool     `json:"is_verified"`
	Steps       []string `json:"steps"`
}

// Category groups issues and solutions.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// SolutionQuery filters the solution list.
type SolutionQuery struct {
	Category string
	Language string
	Search   string
}

// VoteDirection is up or down.
type VoteDirection string

const (
	VoteUp   VoteDirection = "upvote"
	VoteDown VoteDirection = "downvote"
)

// ParseVoteDirection accepts "up"/"upvote" and "down"/"downvote".
func ParseVoteDirection(s string) (VoteDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upvote":
		return VoteUp, nil
	case "down", "downvote":
		return VoteDown, nil
	}
	return "", fmt.Errorf("vote direction %q: %w", s, ErrInvalidInput)
}

// VoteTally is the backend's answer to a vote. Solution votes may only
// report the new success rate.
type VoteTally struct {
	Upvotes     int      `json:"upvotes"`
	Downvotes   int      `json:"downvotes"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
}

// EditSuggestion proposes a change to a solution's text.
type EditSuggestion struct {
	SolutionID string `json:"solution"`
	Text       string `json:"suggestion_text"`
}

const maxIssueTitle = 200

// IssueDraft is a citizen's report before the backend assigns an id.
type IssueDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryID  string    `json:"category_id"`
	Location    *GeoPoint `json:"location"`
	ReporterID  string    `json:"reporter_id,omitempty"`
}

// Validate checks the draft the way the report form does before submitting.
func (d IssueDraft) Validate() error {
	var problems []string
	title := strings.TrimSpace(d.Title)
	if title == "" {
		problems = append(problems, "title is required")
	} else if utf8.RuneCountInString(title) > maxIssueTitle {
		problems = append(problems, fmt.Sprintf("title must be at most %d characters", maxIssueTitle))
	}
	if strings.TrimSpace(d.Description) == "" {
		problems = append(problems, "description is required")
	}
	if strings.TrimSpace(d.CategoryID) == "" {
		problems = append(problems, "category is required")
	}
	if d.Location == nil {
		problems = append(problems, "Please enable location to report an issue.")
	} else if !d.Location.Valid() {
		problems = append(problems, "location is out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), ErrInvalidInput)
	}
	return nil
}

// IssueReported is published after the backend accepts a new issue.
type IssueReported struct {
	Issue      Issue     `json:"issue"`
	ReportedAt time.Time `json:"reported_at"`
}

// ViewpointChanged is published when a client's stored viewpoint is replaced or cleared.
type ViewpointChanged struct {
	ClientID  string     `json:"client_id"`
	Viewpoint *Viewpoint `json:"viewpoint"`
	Source    string     `json:"source"`
}
