package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

type fakeIssues struct {
	createCalls int
	createErrs  []error
	getErr      error
	stored      domain.Issue
}

func (f *fakeIssues) ListInBounds(context.Context, domain.Bounds, string) ([]domain.Issue, error) {
	return nil, nil
}
func (f *fakeIssues) ListNear(context.Context, domain.GeoPoint, float64) ([]domain.Issue, error) {
	return nil, nil
}
func (f *fakeIssues) Get(_ context.Context, id string) (*domain.Issue, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := f.stored
	out.ID = id
	return &out, nil
}
func (f *fakeIssues) Create(_ context.Context, d domain.IssueDraft) (*domain.Issue, error) {
	f.createCalls++
	if n := f.createCalls - 1; n < len(f.createErrs) && f.createErrs[n] != nil {
		return nil, f.createErrs[n]
	}
	return &domain.Issue{ID: "17", Title: d.Title, Location: *d.Location}, nil
}
func (f *fakeIssues) Vote(context.Context, string, domain.VoteDirection) (domain.VoteTally, error) {
	return domain.VoteTally{}, nil
}

func validDraft() domain.IssueDraft {
	return domain.IssueDraft{
		Title:       "Overflowing drain",
		Description: "Water on the road since Monday",
		CategoryID:  "4",
		Location:    &domain.GeoPoint{Lat: 28.63, Lng: 77.22},
	}
}

func runReport(t *testing.T, issues *fakeIssues, draft domain.IssueDraft) (*testsuite.TestWorkflowEnvironment, *domain.Issue) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ReportIssueWorkflow)
	env.RegisterActivity(&ReportActivities{Issues: issues})

	env.ExecuteWorkflow(ReportIssueWorkflow, ReportIssueInput{Draft: draft, RequestID: "r1"})
	require.True(t, env.IsWorkflowCompleted())
	if env.GetWorkflowError() != nil {
		return env, nil
	}
	var out domain.Issue
	require.NoError(t, env.GetWorkflowResult(&out))
	return env, &out
}

func TestReportIssueWorkflow_ReturnsStoredRecord(t *testing.T) {
	issues := &fakeIssues{stored: domain.Issue{Title: "Overflowing drain", Status: domain.StatusReported, StatusDisplay: "Reported"}}

	_, got := runReport(t, issues, validDraft())

	require.NotNil(t, got)
	assert.Equal(t, "17", got.ID)
	assert.Equal(t, "Reported", got.StatusDisplay)
	assert.Equal(t, 1, issues.createCalls)
}

func TestReportIssueWorkflow_RetriesTransientFailure(t *testing.T) {
	issues := &fakeIssues{createErrs: []error{
		fmt.Errorf("HTTP 503: %w", domain.ErrNetworkFailure),
		nil,
	}}

	_, got := runReport(t, issues, validDraft())

	require.NotNil(t, got)
	assert.Equal(t, 2, issues.createCalls)
}

func TestReportIssueWorkflow_InvalidDraftNotRetried(t *testing.T) {
	issues := &fakeIssues{}
	draft := validDraft()
	draft.Location = nil

	env, got := runReport(t, issues, draft)

	assert.Nil(t, got)
	err := translateError(env.GetWorkflowError())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Please enable location to report an issue.")
	assert.Equal(t, 0, issues.createCalls)
}

func TestReportIssueWorkflow_ReadBackFailureFallsBack(t *testing.T) {
	issues := &fakeIssues{getErr: fmt.Errorf("HTTP 500: %w", domain.ErrNetworkFailure)}

	_, got := runReport(t, issues, validDraft())

	require.NotNil(t, got)
	assert.Equal(t, "17", got.ID)
	assert.Equal(t, "Overflowing drain", got.Title)
}

// ---- Submitter ----

type fakeRun struct {
	client.WorkflowRun
	issue domain.Issue
	err   error
}

func (r fakeRun) GetID() string { return "issue-report-x" }

func (r fakeRun) Get(_ context.Context, valuePtr interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(valuePtr.(*domain.Issue)) = r.issue
	return nil
}

type fakeStarter struct {
	opts    client.StartWorkflowOptions
	run     client.WorkflowRun
	err     error
	started int
}

func (s *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, _ ...interface{}) (client.WorkflowRun, error) {
	s.started++
	s.opts = opts
	return s.run, s.err
}

func TestSubmitter_WaitsForResult(t *testing.T) {
	starter := &fakeStarter{run: fakeRun{issue: domain.Issue{ID: "99"}}}
	sub := &Submitter{Client: starter, TaskQueue: "issue-reports"}

	issue, err := sub.Submit(context.Background(), validDraft())

	require.NoError(t, err)
	assert.Equal(t, "99", issue.ID)
	assert.Equal(t, "issue-reports", starter.opts.TaskQueue)
	assert.Contains(t, starter.opts.ID, "issue-report-")
}

func TestSubmitter_StartFailureIsNetworkFailure(t *testing.T) {
	sub := &Submitter{Client: &fakeStarter{err: errors.New("connection refused")}, TaskQueue: "q"}

	_, err := sub.Submit(context.Background(), validDraft())

	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestSubmitter_WorkflowFailureIsNetworkFailure(t *testing.T) {
	starter := &fakeStarter{run: fakeRun{err: errors.New("activity timeout")}}
	sub := &Submitter{Client: starter, TaskQueue: "q"}

	_, err := sub.Submit(context.Background(), validDraft())

	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}
