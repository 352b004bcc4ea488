package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
)

// ReportService validates citizen reports, submits them and announces them.
type ReportService struct {
	submitter ports.ReportSubmitter
	events    ports.EventPublisher
	now       func() time.Time
}

// NewReportService creates a new ReportService. events may be nil.
func NewReportService(submitter ports.ReportSubmitter, events ports.EventPublisher) *ReportService {
	return &ReportService{submitter: submitter, events: events, now: time.Now}
}

// Report submits draft and publishes an IssueReported event for live maps.
// A publish failure is logged; the report itself has already succeeded.
func (s *ReportService) Report(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	issue, err := s.submitter.Submit(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("submit report: %w", err)
	}

	if s.events != nil {
		ev := &domain.IssueReported{Issue: *issue, ReportedAt: s.now().UTC()}
		if err := s.events.PublishIssueReported(ctx, ev); err != nil {
			slog.Warn("publish issue reported failed", "issue_id", issue.ID, "error", err)
		}
	}
	return issue, nil
}

// DirectSubmitter creates issues on the backend synchronously.
type DirectSubmitter struct {
	Issues ports.IssueAPI
}

func (d DirectSubmitter) Submit(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	return d.Issues.Create(ctx, draft)
}
