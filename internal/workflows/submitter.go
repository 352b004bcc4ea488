package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// WorkflowStarter is the part of client.Client the submitter needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Submitter runs each report as a ReportIssueWorkflow and waits for it.
// It satisfies ports.ReportSubmitter.
type Submitter struct {
	Client    WorkflowStarter
	TaskQueue string
}

func (s *Submitter) Submit(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	requestID := uuid.NewString()
	opts := client.StartWorkflowOptions{
		ID:        "issue-report-" + requestID,
		TaskQueue: s.TaskQueue,
	}
	run, err := s.Client.ExecuteWorkflow(ctx, opts, ReportIssueWorkflow, ReportIssueInput{Draft: draft, RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("start report workflow: %w", domain.ErrNetworkFailure)
	}

	var issue domain.Issue
	if err := run.Get(ctx, &issue); err != nil {
		return nil, translateError(err)
	}
	return &issue, nil
}

// translateError maps workflow failures back onto domain sentinels.
func translateError(err error) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == errTypeInvalidInput {
		return fmt.Errorf("%s: %w", appErr.Message(), domain.ErrInvalidInput)
	}
	return fmt.Errorf("report workflow: %v: %w", err, domain.ErrNetworkFailure)
}
