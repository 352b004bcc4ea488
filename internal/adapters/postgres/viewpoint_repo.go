package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// ViewpointRepo implements ports.ViewpointRepository.
type ViewpointRepo struct {
	db *DB
}

func NewViewpointRepo(db *DB) *ViewpointRepo {
	return &ViewpointRepo{db: db}
}

func (r *ViewpointRepo) Load(ctx context.Context, clientID string) (*domain.Viewpoint, error) {
	v := &domain.Viewpoint{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT lat, lng, label FROM viewpoints WHERE client_id = $1
	`, clientID).Scan(&v.Lat, &v.Lng, &v.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("viewpoint for %s: %w", clientID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load viewpoint: %w", err)
	}
	return v, nil
}

// Save replaces the client's record. The bounding box is never stored.
func (r *ViewpointRepo) Save(ctx context.Context, clientID string, v domain.Viewpoint) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO viewpoints (client_id, lat, lng, label, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (client_id) DO UPDATE
		SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, label = EXCLUDED.label, updated_at = NOW()
	`, clientID, v.Lat, v.Lng, v.Label)
	if err != nil {
		return fmt.Errorf("save viewpoint: %w", err)
	}
	return nil
}

func (r *ViewpointRepo) Delete(ctx context.Context, clientID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM viewpoints WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete viewpoint: %w", err)
	}
	return nil
}
