package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/repository"
)

// SagaRepo implements SagaRepository using PostgreSQL.
type SagaRepo struct{ db *DB }

// NewSagaRepo constructs a saga repository.
func NewSagaRepo(db *DB) *SagaRepo { return &SagaRepo{db: db} }

// Start inserts a saga instance. The unique idempotency key collapses
// duplicate starts: when the insert hits the conflict, the existing
// instance's uuid is returned with duplicate=true.
func (r *SagaRepo) Start(ctx context.Context, rec repository.SagaRecord) (string, bool, error) {
	sagaUUID := uuid.Must(uuid.NewV4()).String()
	const ins = `
INSERT INTO sagas (uuid, saga_id, saga_type, idempotency_key, subject_id, actor_id, input, total_steps)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (idempotency_key) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, ins, sagaUUID, rec.SagaID, rec.SagaType,
		rec.IdempotencyKey, rec.SubjectID, rec.ActorID, rec.Input, rec.TotalSteps)
	if err != nil {
		return "", false, fmt.Errorf("start saga: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return sagaUUID, false, nil
	}

	const sel = `SELECT uuid FROM sagas WHERE idempotency_key=$1`
	var existing string
	if err := r.db.Pool.QueryRow(ctx, sel, rec.IdempotencyKey).Scan(&existing); err != nil {
		return "", false, fmt.Errorf("resolve duplicate saga: %w", err)
	}
	return existing, true, nil
}

// Advance records one completed step and moves the progress cursor, marking
// the saga completed once all steps are recorded.
func (r *SagaRepo) Advance(
	ctx context.Context, sagaUUID, stepName string, stepResult, rollbackInfo json.RawMessage,
) (res repository.SagaAdvanceResult, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.SagaAdvanceResult{}, err
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

	const sel = `SELECT total_steps, completed_steps, status FROM sagas WHERE uuid=$1 FOR UPDATE`
	var (
		total, done int
		status      string
	)
	if err = tx.QueryRow(ctx, sel, sagaUUID).Scan(&total, &done, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.SagaAdvanceResult{}, fmt.Errorf("saga %s: %w", sagaUUID, errs.ErrNotFound)
		}
		return repository.SagaAdvanceResult{}, err
	}
	if status != "running" {
		return repository.SagaAdvanceResult{}, fmt.Errorf("saga %s: %w", sagaUUID, errs.ErrSagaFinished)
	}

	stepIndex := done + 1
	const insStep = `
INSERT INTO saga_steps (saga_uuid, step_index, step_name, result, rollback_info)
VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, insStep, sagaUUID, stepIndex, stepName, stepResult, rollbackInfo); err != nil {
		return repository.SagaAdvanceResult{}, err
	}

	completed := stepIndex >= total
	newStatus := "running"
	if completed {
		newStatus = "completed"
	}
	const upd = `UPDATE sagas SET completed_steps=$2, status=$3, updated_at=now() WHERE uuid=$1`
	if _, err = tx.Exec(ctx, upd, sagaUUID, stepIndex, newStatus); err != nil {
		return repository.SagaAdvanceResult{}, err
	}

	res.Completed = completed
	if !completed {
		res.NextStep = stepIndex + 1
	}
	return res, nil
}

// Get loads a saga header by uuid.
func (r *SagaRepo) Get(ctx context.Context, sagaUUID string) (*repository.SagaRecord, error) {
	const q = `
SELECT uuid, saga_id, saga_type, idempotency_key, subject_id, actor_id, input,
       total_steps, completed_steps, status, created_at, updated_at
FROM sagas WHERE uuid=$1`
	var rec repository.SagaRecord
	err := r.db.Pool.QueryRow(ctx, q, sagaUUID).Scan(
		&rec.UUID, &rec.SagaID, &rec.SagaType, &rec.IdempotencyKey, &rec.SubjectID,
		&rec.ActorID, &rec.Input, &rec.TotalSteps, &rec.CompletedSteps, &rec.Status,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
