// Package saga coordinates multi-step, idempotent, resumable compound
// operations against the backend's saga primitives, and tracks which sagas
// are currently in flight on this client.
package saga

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
)

// Backend is the pair of server saga primitives the coordinator drives.
type Backend interface {
	StartSaga(ctx context.Context, req model.SagaStartRequest) (model.SagaStart, error)
	AdvanceSaga(ctx context.Context, req model.SagaAdvanceRequest) (model.SagaStep, error)
}

// Coordinator manages saga lifecycles. Construct one per composition root and
// inject it; there is no package-level instance.
type Coordinator struct {
	mu     sync.Mutex
	b      Backend
	log    *zap.Logger
	active map[string]string // sagaID -> sagaUUID
	now    func() time.Time
}

// New constructs a coordinator over the given backend.
func New(b Backend, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		b:      b,
		log:    logger,
		active: make(map[string]string),
		now:    time.Now,
	}
}

// Start begins a saga. The generated saga id embeds type, timestamp and a
// random suffix for log correlation; the idempotency key is deterministic
// over (type, subject, actor, minute bucket) so a retried start collapses
// onto the existing saga. A duplicate report from the server is success: the
// local mapping is still registered so step calls resolve. On failure no
// local bookkeeping happens.
func (c *Coordinator) Start(ctx context.Context, sagaType, subjectID string, actorID uuid.UUID, input any, totalSteps int) (model.SagaStart, error) {
	if sagaType == "" || subjectID == "" {
		return model.SagaStart{}, fmt.Errorf("validation: empty saga type/subject")
	}
	if actorID == uuid.Nil {
		return model.SagaStart{}, fmt.Errorf("validation: empty actor id")
	}
	if totalSteps <= 0 {
		return model.SagaStart{}, fmt.Errorf("validation: total steps must be positive")
	}

	var inputRaw json.RawMessage
	if input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return model.SagaStart{}, fmt.Errorf("validation: encode input: %w", err)
		}
		inputRaw = raw
	}

	now := c.now()
	req := model.SagaStartRequest{
		SagaID:         fmt.Sprintf("%s-%d-%s", sagaType, now.UnixMilli(), randSuffix()),
		SagaType:       sagaType,
		IdempotencyKey: IdempotencyKey(sagaType, subjectID, actorID, now),
		SubjectID:      subjectID,
		ActorID:        actorID.String(),
		Input:          inputRaw,
		TotalSteps:     totalSteps,
	}

	res, err := c.b.StartSaga(ctx, req)
	if err != nil {
		return model.SagaStart{Accepted: false}, fmt.Errorf("start saga %s: %w", sagaType, err)
	}
	if !res.Accepted {
		return res, nil
	}

	c.mu.Lock()
	c.active[res.SagaID] = res.SagaUUID
	c.mu.Unlock()

	c.log.Info("saga started",
		zap.String("saga", res.SagaID),
		zap.String("uuid", res.SagaUUID),
		zap.Bool("duplicate", res.Duplicate),
	)
	return res, nil
}

// Advance records completion of one step. The saga id must have a live local
// mapping; advancing an unknown saga risks corrupting unrelated server state,
// so it fails loudly instead of no-opping. rollbackInfo is opaque undo data
// forwarded unmodified. A completed saga retires the local mapping.
func (c *Coordinator) Advance(ctx context.Context, sagaID, stepName string, stepResult, rollbackInfo any) (model.SagaStep, error) {
	if stepName == "" {
		return model.SagaStep{}, fmt.Errorf("validation: empty step name")
	}

	c.mu.Lock()
	sagaUUID, ok := c.active[sagaID]
	c.mu.Unlock()
	if !ok {
		return model.SagaStep{}, fmt.Errorf("advance %q: %w", sagaID, errs.ErrUnknownSaga)
	}

	req := model.SagaAdvanceRequest{SagaUUID: sagaUUID, StepName: stepName}
	var err error
	if req.StepResult, err = marshalOpaque(stepResult); err != nil {
		return model.SagaStep{}, fmt.Errorf("validation: encode step result: %w", err)
	}
	if req.RollbackInfo, err = marshalOpaque(rollbackInfo); err != nil {
		return model.SagaStep{}, fmt.Errorf("validation: encode rollback info: %w", err)
	}

	res, err := c.b.AdvanceSaga(ctx, req)
	if err != nil {
		return model.SagaStep{}, fmt.Errorf("advance saga %s step %s: %w", sagaID, stepName, err)
	}
	if res.Accepted && res.Completed {
		c.mu.Lock()
		delete(c.active, sagaID)
		c.mu.Unlock()
		c.log.Info("saga completed", zap.String("saga", sagaID))
	}
	return res, nil
}

// Abandon drops the local mapping without touching the server, for sagas the
// caller gives up on resuming from this process.
func (c *Coordinator) Abandon(sagaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, sagaID)
}

// Active returns the saga ids with live local mappings.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

// IdempotencyKey derives the deterministic duplicate-collapse key for a saga
// start: same intent within the same minute bucket maps to the same key.
func IdempotencyKey(sagaType, subjectID string, actorID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", sagaType, subjectID, actorID, at.Unix()/60)
}

func marshalOpaque(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func randSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
