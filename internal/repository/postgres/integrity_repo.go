package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guestsync/guestsync/internal/model"
)

// IntegrityRepo implements IntegrityRepository using PostgreSQL.
type IntegrityRepo struct{ db *DB }

// NewIntegrityRepo constructs an integrity repository.
func NewIntegrityRepo(db *DB) *IntegrityRepo { return &IntegrityRepo{db: db} }

// Alert severities escalate with the number of affected rows.
func severityFor(count int) string {
	switch {
	case count >= 10:
		return "critical"
	case count >= 5:
		return "high"
	case count >= 3:
		return "medium"
	default:
		return "low"
	}
}

// Check scans for orphaned media files and links and for saga steps whose
// parent instance is gone, all in one transaction. Any category with issues
// upserts an unresolved alert row, so the check writes as well as reads.
func (r *IntegrityRepo) Check(ctx context.Context) (rep model.IntegrityReport, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.IntegrityReport{}, err
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

	counts := []struct {
		alertType string
		query     string
		n         int
	}{
		{"orphaned_media_files", `
SELECT count(*) FROM media_files m
WHERE NOT EXISTS (SELECT 1 FROM properties p WHERE p.id = m.property_id)`, 0},
		{"orphaned_shareable_links", `
SELECT count(*) FROM shareable_links l
WHERE NOT EXISTS (SELECT 1 FROM properties p WHERE p.id = l.property_id)`, 0},
		{"broken_saga_steps", `
SELECT count(*) FROM saga_steps st
WHERE NOT EXISTS (SELECT 1 FROM sagas s WHERE s.uuid = st.saga_uuid)`, 0},
	}

	for i := range counts {
		if err = tx.QueryRow(ctx, counts[i].query).Scan(&counts[i].n); err != nil {
			return model.IntegrityReport{}, fmt.Errorf("integrity count %s: %w", counts[i].alertType, err)
		}
	}

	const upsert = `
INSERT INTO integrity_alerts (alert_type, severity, active_count, last_seen)
VALUES ($1, $2, $3, now())
ON CONFLICT (alert_type) WHERE NOT resolved
DO UPDATE SET severity=$2, active_count=$3, last_seen=now()`
	for _, c := range counts {
		if c.n == 0 {
			continue
		}
		if _, err = tx.Exec(ctx, upsert, c.alertType, severityFor(c.n), c.n); err != nil {
			return model.IntegrityReport{}, fmt.Errorf("record alert %s: %w", c.alertType, err)
		}
	}

	rep = model.IntegrityReport{
		OrphanedCount:  counts[0].n + counts[1].n,
		BrokenRefCount: counts[2].n,
		Status:         "completed",
		CompletedAt:    time.Now().UTC(),
	}
	rep.IssuesFound = rep.OrphanedCount + rep.BrokenRefCount
	return rep, nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (r *IntegrityRepo) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	const q = `
SELECT alert_type, severity, active_count, last_seen
FROM integrity_alerts
WHERE NOT resolved
ORDER BY last_seen DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.Type, &a.Severity, &a.ActiveCount, &a.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CleanupOrphaned deletes orphaned media files and links, optionally scoped
// to one property id, and returns the total deleted row count.
func (r *IntegrityRepo) CleanupOrphaned(ctx context.Context, propertyID string) (deleted int64, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
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

	queries := []string{
		`DELETE FROM media_files m
WHERE NOT EXISTS (SELECT 1 FROM properties p WHERE p.id = m.property_id)
  AND ($1 = '' OR m.property_id = $1)`,
		`DELETE FROM shareable_links l
WHERE NOT EXISTS (SELECT 1 FROM properties p WHERE p.id = l.property_id)
  AND ($1 = '' OR l.property_id = $1)`,
	}
	for _, q := range queries {
		tag, execErr := tx.Exec(ctx, q, propertyID)
		if execErr != nil {
			err = execErr
			return 0, err
		}
		deleted += tag.RowsAffected()
	}
	return deleted, nil
}
