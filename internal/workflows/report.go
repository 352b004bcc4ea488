package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// ReportIssueInput is the input for the report workflow.
type ReportIssueInput struct {
	Draft     domain.IssueDraft
	RequestID string
}

// ReportIssueWorkflow creates a citizen's issue on the backend, retrying
// transient failures, then reads the stored record back. A failed read-back
// is not fatal; the create response is returned instead.
func ReportIssueWorkflow(ctx workflow.Context, input ReportIssueInput) (*domain.Issue, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting report workflow", "requestID", input.RequestID, "category", input.Draft.CategoryID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{errTypeInvalidInput},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: create
	var created domain.Issue
	if err := workflow.ExecuteActivity(ctx, "CreateIssue", input.Draft).Get(ctx, &created); err != nil {
		return nil, err
	}

	// Step 2: read back
	readOpts := actOpts
	readOpts.RetryPolicy = &temporal.RetryPolicy{MaximumAttempts: 2}
	readCtx := workflow.WithActivityOptions(ctx, readOpts)

	var stored domain.Issue
	if err := workflow.ExecuteActivity(readCtx, "FetchIssue", created.ID).Get(readCtx, &stored); err != nil {
		logger.Warn("read-back failed, using create response", "issueID", created.ID, "error", err)
		return &created, nil
	}

	logger.Info("Issue reported", "issueID", stored.ID)
	return &stored, nil
}
