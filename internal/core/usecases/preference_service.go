package usecases

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
)

// SupportedLanguages are the interface languages a client may pick.
var SupportedLanguages = []string{"en", "hi"}

// PreferenceService stores per-client preferences.
type PreferenceService struct {
	repo        ports.PreferenceRepository
	defaultLang string
}

// NewPreferenceService creates a new PreferenceService.
func NewPreferenceService(repo ports.PreferenceRepository, defaultLang string) *PreferenceService {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &PreferenceService{repo: repo, defaultLang: defaultLang}
}

// Language returns the client's language, or the default when none is stored.
func (s *PreferenceService) Language(ctx context.Context, clientID string) (string, error) {
	lang, err := s.repo.GetLanguage(ctx, clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.defaultLang, nil
	}
	if err != nil {
		return "", fmt.Errorf("get language: %w", err)
	}
	return lang, nil
}

// SetLanguage stores the client's language.
func (s *PreferenceService) SetLanguage(ctx context.Context, clientID, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !slices.Contains(SupportedLanguages, lang) {
		return fmt.Errorf("language %q: %w", lang, domain.ErrInvalidInput)
	}
	return s.repo.SetLanguage(ctx, clientID, lang)
}
