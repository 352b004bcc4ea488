package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// PreferenceRepo implements ports.PreferenceRepository.
type PreferenceRepo struct {
	db *DB
}

func NewPreferenceRepo(db *DB) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

func (r *PreferenceRepo) GetLanguage(ctx context.Context, clientID string) (string, error) {
	var lang string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT language FROM preferences WHERE client_id = $1
	`, clientID).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("language for %s: %w", clientID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get language: %w", err)
	}
	return lang, nil
}

func (r *PreferenceRepo) SetLanguage(ctx context.Context, clientID, language string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO preferences (client_id, language, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET language = EXCLUDED.language, updated_at = NOW()
	`, clientID, language)
	if err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	return nil
}
