package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
)

// errTypeInvalidInput marks application errors that retrying cannot fix.
const errTypeInvalidInput = "InvalidInput"

// ReportActivities holds the activity implementations for the report workflow.
type ReportActivities struct {
	Issues ports.IssueAPI
}

// CreateIssue submits the draft to the civic backend. Validation failures
// are returned as non-retryable.
func (a *ReportActivities) CreateIssue(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	if err := draft.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidInput, err)
	}
	issue, err := a.Issues.Create(ctx, draft)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidInput, err)
		}
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return issue, nil
}

// FetchIssue reads the stored issue back so callers get the backend's
// normalized record rather than the create echo.
func (a *ReportActivities) FetchIssue(ctx context.Context, id string) (*domain.Issue, error) {
	issue, err := a.Issues.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", id, err)
	}
	return issue, nil
}
