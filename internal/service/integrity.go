package service

import (
	"context"

	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/repository"
)

// IntegrityService runs consistency scans and orphan cleanup.
type IntegrityService interface {
	// Check scans for orphaned and broken records and upserts alert rows.
	Check(ctx context.Context) (model.IntegrityReport, error)
	// ActiveAlerts returns unresolved alerts, newest first.
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
	// CleanupOrphaned deletes orphaned records, optionally scoped to one
	// property.
	CleanupOrphaned(ctx context.Context, propertyID string) (int64, error)
}

type IntegrityServiceImpl struct {
	integrity repository.IntegrityRepository
}

// NewIntegrityService constructs IntegrityService over the given repository.
func NewIntegrityService(integrity repository.IntegrityRepository) *IntegrityServiceImpl {
	return &IntegrityServiceImpl{integrity: integrity}
}

func (s *IntegrityServiceImpl) Check(ctx context.Context) (model.IntegrityReport, error) {
	return s.integrity.Check(ctx)
}

func (s *IntegrityServiceImpl) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.integrity.ActiveAlerts(ctx)
}

func (s *IntegrityServiceImpl) CleanupOrphaned(ctx context.Context, propertyID string) (int64, error) {
	return s.integrity.CleanupOrphaned(ctx, propertyID)
}
