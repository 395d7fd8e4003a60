package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/repository"
)

type fakeSagaRepo struct {
	startIn   repository.SagaRecord
	startUUID string
	startDup  bool
	startErr  error

	advInUUID string
	advInStep string
	advOut    repository.SagaAdvanceResult
	advErr    error

	getOut *repository.SagaRecord
	getErr error
}

var _ repository.SagaRepository = (*fakeSagaRepo)(nil)

func (f *fakeSagaRepo) Start(_ context.Context, rec repository.SagaRecord) (string, bool, error) {
	f.startIn = rec
	return f.startUUID, f.startDup, f.startErr
}
func (f *fakeSagaRepo) Advance(_ context.Context, sagaUUID, stepName string, _, _ json.RawMessage) (repository.SagaAdvanceResult, error) {
	f.advInUUID, f.advInStep = sagaUUID, stepName
	return f.advOut, f.advErr
}
func (f *fakeSagaRepo) Get(_ context.Context, _ string) (*repository.SagaRecord, error) {
	return f.getOut, f.getErr
}

func validStart() model.SagaStartRequest {
	return model.SagaStartRequest{
		SagaID:         "guest_invite-1700000000000-ab12cd34",
		SagaType:       "guest_invite",
		IdempotencyKey: "guest_invite:prop-1:actor-1:28333333",
		SubjectID:      "prop-1",
		ActorID:        "actor-1",
		TotalSteps:     3,
	}
}

func TestSagaService_Start_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeSagaRepo{}
	s := NewSagaService(repo)

	bad := validStart()
	bad.SagaID = ""
	if _, err := s.Start(ctx, bad); err == nil {
		t.Fatalf("want validation error on empty saga id")
	}

	bad = validStart()
	bad.SagaType = ""
	if _, err := s.Start(ctx, bad); err == nil {
		t.Fatalf("want validation error on empty saga type")
	}

	bad = validStart()
	bad.IdempotencyKey = ""
	if _, err := s.Start(ctx, bad); err == nil {
		t.Fatalf("want validation error on empty idempotency key")
	}

	bad = validStart()
	bad.TotalSteps = 0
	if _, err := s.Start(ctx, bad); err == nil {
		t.Fatalf("want validation error on zero total steps")
	}

	if repo.startIn.SagaID != "" {
		t.Fatalf("repo should not be called on validation failure")
	}
}

func TestSagaService_Start_Delegates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeSagaRepo{startUUID: "uuid-1"}
	s := NewSagaService(repo)

	out, err := s.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !out.Accepted || out.Duplicate || out.SagaUUID != "uuid-1" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if repo.startIn.SagaType != "guest_invite" || repo.startIn.TotalSteps != 3 {
		t.Fatalf("repo args not forwarded correctly: %+v", repo.startIn)
	}
}

func TestSagaService_Start_DuplicateIsSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeSagaRepo{startUUID: "uuid-existing", startDup: true}
	s := NewSagaService(repo)

	out, err := s.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !out.Accepted || !out.Duplicate || out.SagaUUID != "uuid-existing" {
		t.Fatalf("duplicate start should be accepted: %+v", out)
	}
}

func TestSagaService_Advance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeSagaRepo{advOut: repository.SagaAdvanceResult{Completed: false, NextStep: 2}}
	s := NewSagaService(repo)

	if _, err := s.Advance(ctx, model.SagaAdvanceRequest{StepName: "invite"}); err == nil {
		t.Fatalf("want validation error on empty saga uuid")
	}
	if _, err := s.Advance(ctx, model.SagaAdvanceRequest{SagaUUID: "uuid-1"}); err == nil {
		t.Fatalf("want validation error on empty step name")
	}

	out, err := s.Advance(ctx, model.SagaAdvanceRequest{SagaUUID: "uuid-1", StepName: "invite"})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !out.Accepted || out.Completed || out.NextStep != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if repo.advInUUID != "uuid-1" || repo.advInStep != "invite" {
		t.Fatalf("repo args not forwarded correctly")
	}

	repo.advOut = repository.SagaAdvanceResult{Completed: true}
	out, err = s.Advance(ctx, model.SagaAdvanceRequest{SagaUUID: "uuid-1", StepName: "finalize"})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !out.Completed || out.Message != "saga completed" {
		t.Fatalf("unexpected completion result: %+v", out)
	}
}

func TestSagaService_Advance_RepoErrorsPropagate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeSagaRepo{advErr: errs.ErrNotFound}
	s := NewSagaService(repo)

	_, err := s.Advance(ctx, model.SagaAdvanceRequest{SagaUUID: "missing", StepName: "invite"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	repo.advErr = errs.ErrSagaFinished
	_, err = s.Advance(ctx, model.SagaAdvanceRequest{SagaUUID: "done", StepName: "invite"})
	if !errors.Is(err, errs.ErrSagaFinished) {
		t.Fatalf("want ErrSagaFinished, got %v", err)
	}
}
