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

// MediaRepo implements MediaRepository using PostgreSQL.
type MediaRepo struct{ db *DB }

// NewMediaRepo constructs a media repository.
func NewMediaRepo(db *DB) *MediaRepo { return &MediaRepo{db: db} }

const mediaColumns = `id, property_id, title, description, file_type, url, display_order, is_active, created_at, updated_at`

func scanMedia(row pgx.Row) (*model.MediaFile, error) {
	var m model.MediaFile
	err := row.Scan(&m.ID, &m.PropertyID, &m.Title, &m.Description, &m.FileType,
		&m.URL, &m.DisplayOrder, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateWithPropagation applies a partial update in one transaction: when
// display order changes, siblings at or after the new slot shift down; the
// parent property's updated_at is always touched.
func (r *MediaRepo) UpdateWithPropagation(
	ctx context.Context, fileID string, patch model.MediaPatch,
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

	const sel = `SELECT property_id, display_order FROM media_files WHERE id=$1 FOR UPDATE`
	var (
		propertyID string
		curOrder   int
	)
	if err = tx.QueryRow(ctx, sel, fileID).Scan(&propertyID, &curOrder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.PropagationResult{}, fmt.Errorf("media file %s: %w", fileID, errs.ErrNotFound)
		}
		return repository.PropagationResult{}, err
	}

	if patch.DisplayOrder != nil && *patch.DisplayOrder != curOrder {
		const shift = `
UPDATE media_files SET display_order = display_order + 1, updated_at = now()
WHERE property_id=$1 AND display_order >= $2 AND id <> $3`
		tag, shiftErr := tx.Exec(ctx, shift, propertyID, *patch.DisplayOrder, fileID)
		if shiftErr != nil {
			err = shiftErr
			return repository.PropagationResult{}, err
		}
		if n := tag.RowsAffected(); n > 0 {
			res.Affected += n
			res.Log = append(res.Log, fmt.Sprintf("shifted %d sibling media file(s)", n))
		}
	}

	const upd = `
UPDATE media_files SET
  title = COALESCE($2, title),
  description = COALESCE($3, description),
  file_type = COALESCE($4, file_type),
  url = COALESCE($5, url),
  display_order = COALESCE($6, display_order),
  is_active = COALESCE($7, is_active),
  updated_at = now()
WHERE id = $1`
	if _, err = tx.Exec(ctx, upd, fileID, patch.Title, patch.Description,
		patch.FileType, patch.URL, patch.DisplayOrder, patch.IsActive); err != nil {
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

	res.Media, err = scanMedia(tx.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media_files WHERE id=$1`, fileID))
	if err != nil {
		return repository.PropagationResult{}, err
	}
	return res, nil
}

// Create inserts a media file under a fresh server id. A non-positive display
// order is assigned the next free slot within the property.
func (r *MediaRepo) Create(ctx context.Context, f model.MediaFile) (created *model.MediaFile, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
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

	f.ID = uuid.Must(uuid.NewV4()).String()
	if f.DisplayOrder <= 0 {
		const next = `SELECT COALESCE(MAX(display_order), 0) + 1 FROM media_files WHERE property_id=$1`
		if err = tx.QueryRow(ctx, next, f.PropertyID).Scan(&f.DisplayOrder); err != nil {
			return nil, err
		}
	}

	const ins = `
INSERT INTO media_files (id, property_id, title, description, file_type, url, display_order, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING created_at, updated_at`
	if err = tx.QueryRow(ctx, ins, f.ID, f.PropertyID, f.Title, f.Description,
		f.FileType, f.URL, f.DisplayOrder, f.IsActive).Scan(&f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// Delete removes a media file.
func (r *MediaRepo) Delete(ctx context.Context, fileID string) (int64, error) {
	const q = `DELETE FROM media_files WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, fileID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("media file %s: %w", fileID, errs.ErrNotFound)
	}
	return tag.RowsAffected(), nil
}

// ListByProperty returns the property's media files in display order.
func (r *MediaRepo) ListByProperty(ctx context.Context, propertyID string) ([]model.MediaFile, error) {
	const q = `
SELECT ` + mediaColumns + `
FROM media_files
WHERE property_id=$1
ORDER BY display_order ASC, created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
