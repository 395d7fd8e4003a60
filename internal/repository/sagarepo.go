package repository

import (
	"context"
	"encoding/json"
	"time"
)

// SagaRecord is the durable header row of one saga instance.
type SagaRecord struct {
	UUID           string
	SagaID         string
	SagaType       string
	IdempotencyKey string
	SubjectID      string
	ActorID        string
	Input          json.RawMessage
	TotalSteps     int
	CompletedSteps int
	Status         string // running | completed
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SagaAdvanceResult reports the progress cursor after a recorded step.
type SagaAdvanceResult struct {
	Completed bool
	NextStep  int
}

// SagaRepository persists saga instances and their step trail.
type SagaRepository interface {
	// Start inserts a saga instance. A duplicate idempotency key returns the
	// existing instance's uuid with duplicate=true instead of a second row.
	Start(ctx context.Context, rec SagaRecord) (sagaUUID string, duplicate bool, err error)

	// Advance records one completed step and moves the progress cursor.
	// Returns errs.ErrNotFound for an unknown uuid and errs.ErrSagaFinished
	// when the saga has already completed all steps.
	Advance(ctx context.Context, sagaUUID, stepName string, stepResult, rollbackInfo json.RawMessage) (SagaAdvanceResult, error)

	// Get loads a saga header by uuid.
	Get(ctx context.Context, sagaUUID string) (*SagaRecord, error)
}
