package repository

import (
	"context"

	"github.com/guestsync/guestsync/internal/model"
)

// IntegrityRepository runs consistency scans and manages alert rows.
type IntegrityRepository interface {
	// Check counts orphaned and broken records in one transaction and upserts
	// alert rows for any category over threshold. Writes alert rows.
	Check(ctx context.Context) (model.IntegrityReport, error)

	// ActiveAlerts returns unresolved alerts, newest first.
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)

	// CleanupOrphaned deletes orphaned media files and links, optionally
	// scoped to one property id, returning the deleted row count.
	CleanupOrphaned(ctx context.Context, propertyID string) (int64, error)
}
