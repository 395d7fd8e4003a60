package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/guestsync/guestsync/internal/model"
)

// PropertyRepo implements PropertyRepository using PostgreSQL.
type PropertyRepo struct{ db *DB }

// NewPropertyRepo constructs a property repository.
func NewPropertyRepo(db *DB) *PropertyRepo { return &PropertyRepo{db: db} }

// Create inserts a new property under a server-assigned id.
func (r *PropertyRepo) Create(ctx context.Context, p *model.Property) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV4()).String()
	}
	const q = `
INSERT INTO properties (id, owner_id, name)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`
	if err := r.db.Pool.QueryRow(ctx, q, p.ID, p.OwnerID, p.Name).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

// Touch bumps the property's updated_at timestamp.
func (r *PropertyRepo) Touch(ctx context.Context, id string) error {
	const q = `UPDATE properties SET updated_at = now() WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}
