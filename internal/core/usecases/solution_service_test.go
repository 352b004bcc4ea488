package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/usecases"
)

func TestSolutionService_CategoriesCachedInProcess(t *testing.T) {
	calls := 0
	api := &mockSolutionAPI{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			calls++
			return []domain.Category{{ID: "1", Name: "Roads"}, {ID: "2", Name: "Water"}}, nil
		},
	}
	svc := usecases.NewSolutionService(api, nil)

	for i := 0; i < 3; i++ {
		cats, err := svc.Categories(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cats) != 2 {
			t.Fatalf("expected 2 categories, got %d", len(cats))
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 backend call, got %d", calls)
	}
}

func TestSolutionService_CategoriesErrorNotCached(t *testing.T) {
	calls := 0
	api := &mockSolutionAPI{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			calls++
			return nil, domain.ErrNetworkFailure
		},
	}
	svc := usecases.NewSolutionService(api, nil)
	_, _ = svc.Categories(context.Background())
	_, _ = svc.Categories(context.Background())
	if calls != 2 {
		t.Errorf("expected errors to be retried, got %d calls", calls)
	}
}

func TestSolutionService_ListPassesFilters(t *testing.T) {
	var got domain.SolutionQuery
	api := &mockSolutionAPI{
		listFn: func(ctx context.Context, q domain.SolutionQuery) ([]domain.Solution, error) {
			got = q
			return []domain.Solution{{ID: "1"}}, nil
		},
	}
	svc := usecases.NewSolutionService(api, newMockCache())

	_, err := svc.List(context.Background(), domain.SolutionQuery{Category: "roads", Language: "hi", Search: "  pothole "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "roads" || got.Language != "hi" || got.Search != "pothole" {
		t.Errorf("unexpected query: %+v", got)
	}
}

func TestSolutionService_SuggestEditRequiresText(t *testing.T) {
	sent := false
	api := &mockSolutionAPI{
		suggestFn: func(ctx context.Context, s domain.EditSuggestion) error {
			sent = true
			return nil
		},
	}
	svc := usecases.NewSolutionService(api, nil)

	err := svc.SuggestEdit(context.Background(), domain.EditSuggestion{SolutionID: "4", Text: "   "})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if sent {
		t.Error("empty suggestion must not be sent")
	}

	if err := svc.SuggestEdit(context.Background(), domain.EditSuggestion{SolutionID: "4", Text: "Add a step"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent {
		t.Error("expected suggestion to be sent")
	}
}
