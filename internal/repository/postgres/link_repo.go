package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/repository"
)

// LinkRepo implements LinkRepository using PostgreSQL.
type LinkRepo struct{ db *DB }

// NewLinkRepo constructs a shareable-link repository.
func NewLinkRepo(db *DB) *LinkRepo { return &LinkRepo{db: db} }

const linkColumns = `id, property_id, title, slug, display_order, is_active, expires_at, created_at, updated_at`

func scanLink(row pgx.Row) (*model.ShareableLink, error) {
	var l model.ShareableLink
	err := row.Scan(&l.ID, &l.PropertyID, &l.Title, &l.Slug, &l.DisplayOrder,
		&l.IsActive, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateWithPropagation applies a partial update and touches the parent
// property in one transaction.
func (r *LinkRepo) UpdateWithPropagation(
	ctx context.Context, linkID string, patch model.LinkPatch,
) (res repository.PropagationResult, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.PropagationResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT property_id FROM shareable_links WHERE id=$1 FOR UPDATE`
	var propertyID string
	if err = tx.QueryRow(ctx, sel, linkID).Scan(&propertyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.PropagationResult{}, fmt.Errorf("shareable link %s: %w", linkID, errs.ErrNotFound)
		}
		return repository.PropagationResult{}, err
	}

	const upd = `
UPDATE shareable_links SET
  title = COALESCE($2, title),
  slug = COALESCE($3, slug),
  display_order = COALESCE($4, display_order),
  is_active = COALESCE($5, is_active),
  expires_at = COALESCE($6, expires_at),
  updated_at = now()
WHERE id = $1`
	if _, err = tx.Exec(ctx, upd, linkID, patch.Title, patch.Slug,
		patch.DisplayOrder, patch.IsActive, patch.ExpiresAt); err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("link %s: %w", linkID, errs.ErrDuplicateSlug)
		}
		return repository.PropagationResult{}, err
	}
	res.Affected++

	const touch = `UPDATE properties SET updated_at = now() WHERE id = $1`
	tag, touchErr := tx.Exec(ctx, touch, propertyID)
	if touchErr != nil {
		err = touchErr
		return repository.PropagationResult{}, err
	}
	if tag.RowsAffected() > 0 {
		res.Affected += tag.RowsAffected()
		res.Log = append(res.Log, fmt.Sprintf("touched property %s", propertyID))
	}

	res.Link, err = scanLink(tx.QueryRow(ctx, `SELECT `+linkColumns+` FROM shareable_links WHERE id=$1`, linkID))
	if err != nil {
		return repository.PropagationResult{}, err
	}
	return res, nil
}

// Create inserts a link under a fresh server id.
func (r *LinkRepo) Create(ctx context.Context, l model.ShareableLink) (*model.ShareableLink, error) {
	l.ID = uuid.Must(uuid.NewV4()).String()
	const ins = `
INSERT INTO shareable_links (id, property_id, title, slug, display_order, is_active, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, ins, l.ID, l.PropertyID, l.Title, l.Slug,
		l.DisplayOrder, l.IsActive, l.ExpiresAt).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("slug %q: %w", l.Slug, errs.ErrDuplicateSlug)
		}
		return nil, err
	}
	return &l, nil
}

// Delete removes a link.
func (r *LinkRepo) Delete(ctx context.Context, linkID string) (int64, error) {
	const q = `DELETE FROM shareable_links WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, linkID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("shareable link %s: %w", linkID, errs.ErrNotFound)
	}
	return tag.RowsAffected(), nil
}

// ListByProperty returns the property's links in display order.
func (r *LinkRepo) ListByProperty(ctx context.Context, propertyID string) ([]model.ShareableLink, error) {
	const q = `
SELECT ` + linkColumns + `
FROM shareable_links
WHERE property_id=$1
ORDER BY display_order ASC, created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ShareableLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
