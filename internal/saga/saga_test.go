package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
)

// fakeBackend registers sagas by idempotency key like the real server does.
type fakeBackend struct {
	startCalls []model.SagaStartRequest
	advCalls   []model.SagaAdvanceRequest
	byKey      map[string]string // idempotency key -> saga uuid
	totalSteps int
	done       int

	startErr error
	advErr   error
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{byKey: make(map[string]string)}
}

func (f *fakeBackend) StartSaga(_ context.Context, req model.SagaStartRequest) (model.SagaStart, error) {
	f.startCalls = append(f.startCalls, req)
	if f.startErr != nil {
		return model.SagaStart{}, f.startErr
	}
	if existing, ok := f.byKey[req.IdempotencyKey]; ok {
		return model.SagaStart{Accepted: true, Duplicate: true, SagaID: req.SagaID, SagaUUID: existing}, nil
	}
	sagaUUID := fmt.Sprintf("uuid-%d", len(f.byKey)+1)
	f.byKey[req.IdempotencyKey] = sagaUUID
	f.totalSteps = req.TotalSteps
	return model.SagaStart{Accepted: true, SagaID: req.SagaID, SagaUUID: sagaUUID}, nil
}

func (f *fakeBackend) AdvanceSaga(_ context.Context, req model.SagaAdvanceRequest) (model.SagaStep, error) {
	f.advCalls = append(f.advCalls, req)
	if f.advErr != nil {
		return model.SagaStep{}, f.advErr
	}
	f.done++
	completed := f.done >= f.totalSteps
	next := 0
	if !completed {
		next = f.done + 1
	}
	return model.SagaStep{Accepted: true, Completed: completed, NextStep: next}, nil
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(newFakeBackend(), nil)
	actor := uuid.Must(uuid.NewV4())

	if _, err := c.Start(ctx, "", "prop-1", actor, nil, 3); err == nil {
		t.Fatalf("want validation error on empty type")
	}
	if _, err := c.Start(ctx, "guest_invite", "", actor, nil, 3); err == nil {
		t.Fatalf("want validation error on empty subject")
	}
	if _, err := c.Start(ctx, "guest_invite", "prop-1", uuid.Nil, nil, 3); err == nil {
		t.Fatalf("want validation error on nil actor")
	}
	if _, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 0); err == nil {
		t.Fatalf("want validation error on zero steps")
	}
}

func TestStart_GeneratesIDAndKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	c := New(b, nil)
	fixed := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fixed }
	actor := uuid.Must(uuid.NewV4())

	out, err := c.Start(ctx, "guest_invite", "prop-1", actor, map[string]int{"guests": 2}, 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !out.Accepted || out.Duplicate {
		t.Fatalf("unexpected result: %+v", out)
	}

	req := b.startCalls[0]
	if !strings.HasPrefix(req.SagaID, fmt.Sprintf("guest_invite-%d-", fixed.UnixMilli())) {
		t.Fatalf("saga id format wrong: %s", req.SagaID)
	}
	wantKey := fmt.Sprintf("guest_invite:prop-1:%s:%d", actor, fixed.Unix()/60)
	if req.IdempotencyKey != wantKey {
		t.Fatalf("key %q, want %q", req.IdempotencyKey, wantKey)
	}
	if len(req.Input) == 0 || req.TotalSteps != 3 {
		t.Fatalf("request not filled: %+v", req)
	}
	if len(c.Active()) != 1 {
		t.Fatalf("mapping not registered")
	}
}

func TestStart_DuplicateWithinMinuteCollapses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	c := New(b, nil)
	fixed := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fixed }
	actor := uuid.Must(uuid.NewV4())

	first, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 3)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// same intent 30s later lands in the same minute bucket
	c.now = func() time.Time { return fixed.Add(30 * time.Second) }
	second, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 3)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Accepted || !second.Duplicate {
		t.Fatalf("duplicate start must be accepted: %+v", second)
	}
	if second.SagaUUID != first.SagaUUID {
		t.Fatalf("duplicate resolved to a different saga: %s vs %s", second.SagaUUID, first.SagaUUID)
	}

	// next minute bucket is a fresh saga
	c.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	third, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 3)
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if third.Duplicate || third.SagaUUID == first.SagaUUID {
		t.Fatalf("new bucket should start a new saga: %+v", third)
	}
}

func TestAdvance_UnknownSagaFailsLoudly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	c := New(b, nil)

	_, err := c.Advance(ctx, "never-started", "step1", nil, nil)
	if !errors.Is(err, errs.ErrUnknownSaga) {
		t.Fatalf("want ErrUnknownSaga, got %v", err)
	}
	if len(b.advCalls) != 0 {
		t.Fatalf("backend must not be called for an unknown saga")
	}
}

func TestAdvance_CompletionRetiresMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	c := New(b, nil)
	actor := uuid.Must(uuid.NewV4())

	start, err := c.Start(ctx, "property_setup", "prop-1", actor, nil, 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	step1, err := c.Advance(ctx, start.SagaID, "first", map[string]string{"ok": "yes"}, nil)
	if err != nil {
		t.Fatalf("advance 1: %v", err)
	}
	if step1.Completed || step1.NextStep != 2 {
		t.Fatalf("unexpected step 1: %+v", step1)
	}

	step2, err := c.Advance(ctx, start.SagaID, "second", nil, map[string]string{"undo": "x"})
	if err != nil {
		t.Fatalf("advance 2: %v", err)
	}
	if !step2.Completed {
		t.Fatalf("saga should complete on last step")
	}
	if len(c.Active()) != 0 {
		t.Fatalf("completed saga must retire its mapping")
	}

	// further advances now fail loudly
	if _, err := c.Advance(ctx, start.SagaID, "third", nil, nil); !errors.Is(err, errs.ErrUnknownSaga) {
		t.Fatalf("want ErrUnknownSaga after completion, got %v", err)
	}

	// rollback info passed through unmodified
	if string(b.advCalls[1].RollbackInfo) != `{"undo":"x"}` {
		t.Fatalf("rollback info altered: %s", b.advCalls[1].RollbackInfo)
	}
}

func TestAdvance_BackendErrorKeepsMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	c := New(b, nil)
	actor := uuid.Must(uuid.NewV4())

	start, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	b.advErr = errors.New("boom")
	if _, err := c.Advance(ctx, start.SagaID, "first", nil, nil); err == nil {
		t.Fatalf("want backend error")
	}
	if len(c.Active()) != 1 {
		t.Fatalf("failed advance must keep the mapping for resume")
	}

	b.advErr = nil
	if _, err := c.Advance(ctx, start.SagaID, "first", nil, nil); err != nil {
		t.Fatalf("resume after failure: %v", err)
	}
}

func TestAbandon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(newFakeBackend(), nil)
	actor := uuid.Must(uuid.NewV4())

	start, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Abandon(start.SagaID)
	if len(c.Active()) != 0 {
		t.Fatalf("abandon should drop the mapping")
	}
}

func TestStart_BackendErrorNoBookkeeping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBackend()
	b.startErr = errors.New("transport down")
	c := New(b, nil)
	actor := uuid.Must(uuid.NewV4())

	if _, err := c.Start(ctx, "guest_invite", "prop-1", actor, nil, 3); err == nil {
		t.Fatalf("want error")
	}
	if len(c.Active()) != 0 {
		t.Fatalf("failed start must not register a mapping")
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	t.Parallel()
	actor := uuid.Must(uuid.NewV4())
	at := time.Unix(1_700_000_040, 0) // minute-bucket boundary

	k1 := IdempotencyKey("guest_invite", "prop-1", actor, at)
	k2 := IdempotencyKey("guest_invite", "prop-1", actor, at.Add(20*time.Second))
	if k1 != k2 {
		t.Fatalf("same minute bucket must map to same key: %q vs %q", k1, k2)
	}
	k3 := IdempotencyKey("guest_invite", "prop-1", actor, at.Add(time.Minute))
	if k1 == k3 {
		t.Fatalf("different buckets must differ")
	}
}
