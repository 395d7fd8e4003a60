package service

import (
	"context"
	"errors"

	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/repository"
)

// SagaService records multi-step workflow instances and their step trail.
type SagaService interface {
	// Start registers a saga instance. A repeated idempotency key does not
	// create a second instance and is reported as a duplicate.
	Start(ctx context.Context, req model.SagaStartRequest) (model.SagaStart, error)
	// Advance records one completed step for a known saga.
	Advance(ctx context.Context, req model.SagaAdvanceRequest) (model.SagaStep, error)
	// Get loads a saga header by uuid.
	Get(ctx context.Context, sagaUUID string) (*repository.SagaRecord, error)
}

type SagaServiceImpl struct {
	sagas repository.SagaRepository
}

// NewSagaService constructs SagaService over the given repository.
func NewSagaService(sagas repository.SagaRepository) *SagaServiceImpl {
	return &SagaServiceImpl{sagas: sagas}
}

// Start validates the request and inserts the saga header. Duplicates by
// idempotency key resolve to the already-registered instance.
func (s *SagaServiceImpl) Start(ctx context.Context, req model.SagaStartRequest) (model.SagaStart, error) {
	switch {
	case req.SagaID == "":
		return model.SagaStart{}, errors.New("validation: empty saga id")
	case req.SagaType == "":
		return model.SagaStart{}, errors.New("validation: empty saga type")
	case req.IdempotencyKey == "":
		return model.SagaStart{}, errors.New("validation: empty idempotency key")
	case req.TotalSteps <= 0:
		return model.SagaStart{}, errors.New("validation: total steps must be positive")
	}

	rec := repository.SagaRecord{
		SagaID:         req.SagaID,
		SagaType:       req.SagaType,
		IdempotencyKey: req.IdempotencyKey,
		SubjectID:      req.SubjectID,
		ActorID:        req.ActorID,
		Input:          req.Input,
		TotalSteps:     req.TotalSteps,
	}
	sagaUUID, duplicate, err := s.sagas.Start(ctx, rec)
	if err != nil {
		return model.SagaStart{}, err
	}
	out := model.SagaStart{
		Accepted:  true,
		Duplicate: duplicate,
		SagaID:    req.SagaID,
		SagaUUID:  sagaUUID,
		Message:   "saga registered",
	}
	if duplicate {
		out.Message = "saga already registered for this idempotency key"
	}
	return out, nil
}

// Advance validates the request and records the step.
func (s *SagaServiceImpl) Advance(ctx context.Context, req model.SagaAdvanceRequest) (model.SagaStep, error) {
	switch {
	case req.SagaUUID == "":
		return model.SagaStep{}, errors.New("validation: empty saga uuid")
	case req.StepName == "":
		return model.SagaStep{}, errors.New("validation: empty step name")
	}

	res, err := s.sagas.Advance(ctx, req.SagaUUID, req.StepName, req.StepResult, req.RollbackInfo)
	if err != nil {
		return model.SagaStep{}, err
	}
	out := model.SagaStep{
		Accepted:  true,
		Completed: res.Completed,
		NextStep:  res.NextStep,
		Message:   "step recorded",
	}
	if res.Completed {
		out.Message = "saga completed"
	}
	return out, nil
}

// Get validates and delegates.
func (s *SagaServiceImpl) Get(ctx context.Context, sagaUUID string) (*repository.SagaRecord, error) {
	if sagaUUID == "" {
		return nil, errors.New("validation: empty saga uuid")
	}
	return s.sagas.Get(ctx, sagaUUID)
}
