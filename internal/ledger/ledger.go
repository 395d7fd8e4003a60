// Package ledger implements the optimistic pending-operation ledger: local
// mutations are applied immediately, queued, and flushed to the remote gateway
// after a debounced quiet period, with confirm/revert transitions per operation.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
)

// Gateway is the remote mutation façade the ledger flushes through.
// Every method performs exactly one remote call and never returns a Go error:
// all failures are normalized into MutationResult{Success:false}.
type Gateway interface {
	UpdateMediaFile(ctx context.Context, fileID string, patch model.MediaPatch, actorID uuid.UUID) model.MutationResult
	CreateMediaFile(ctx context.Context, file model.MediaFile, actorID uuid.UUID) model.MutationResult
	DeleteMediaFile(ctx context.Context, fileID string, actorID uuid.UUID) model.MutationResult
	UpdateShareableLink(ctx context.Context, linkID string, patch model.LinkPatch, actorID uuid.UUID) model.MutationResult
	CreateShareableLink(ctx context.Context, link model.ShareableLink, actorID uuid.UUID) model.MutationResult
	DeleteShareableLink(ctx context.Context, linkID string, actorID uuid.UUID) model.MutationResult
}

// View is the read-only projection of one entity merged with optimistic edits.
type View struct {
	Entity     model.Entity
	Optimistic bool
	Pending    model.Action // zero value when nothing is outstanding
}

// SyncError is a user-visible record of one failed flush.
type SyncError struct {
	OpID     uuid.UUID
	TargetID string
	Message  string
	At       time.Time
}

// Config tunes ledger timing. Zero values fall back to defaults.
type Config struct {
	// Debounce is the quiet period after the last apply before auto-flush.
	Debounce time.Duration
	// FlushTimeout bounds a whole auto-save batch.
	FlushTimeout time.Duration
}

const (
	defaultDebounce     = 2 * time.Second
	defaultFlushTimeout = 30 * time.Second
)

// entry is the ledger's internal per-entity state.
type entry struct {
	ent      model.Entity
	pending  model.Action
	preImage model.Entity // last server-confirmed shape, never optimistic data
}

// Ledger owns the entity views and the ordered pending-operation queue of one
// editing session. All state transitions are synchronous and mutex-serialized;
// only the network calls of a flush run concurrently.
type Ledger struct {
	mu       sync.Mutex
	gw       Gateway
	actorID  uuid.UUID
	log      *zap.Logger
	cfg      Config
	entities map[string]*entry
	ops      []*model.PendingOperation
	errors   []SyncError
	saving   bool
	lastSync time.Time
	deb      *debouncer
}

// New constructs a ledger for one authenticated actor.
func New(gw Gateway, actorID uuid.UUID, logger *zap.Logger, cfg Config) *Ledger {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		gw:       gw,
		actorID:  actorID,
		log:      logger,
		cfg:      cfg,
		entities: make(map[string]*entry),
	}
	l.deb = newDebouncer(cfg.Debounce, l.autoSave)
	return l
}

// Load seeds the ledger with server-confirmed entities. Existing optimistic
// state for a loaded id is discarded.
func (l *Ledger) Load(entities ...model.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entities {
		l.entities[e.EntityID()] = &entry{ent: e.Clone()}
	}
}

// Close cancels the auto-save timer. Pending operations stay queued; callers
// that need them persisted must ForceSync before closing.
func (l *Ledger) Close() {
	l.deb.Stop()
}

// --- apply ---

// ApplyMediaUpdate queues an optimistic partial update of a media file.
func (l *Ledger) ApplyMediaUpdate(fileID string, patch model.MediaPatch) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.pendingTarget(fileID)
	if err != nil {
		return uuid.Nil, err
	}
	m, ok := e.ent.(*model.MediaFile)
	if !ok {
		return uuid.Nil, fmt.Errorf("entity %s is not a media file", fileID)
	}
	e.preImage = e.ent.Clone()
	patch.ApplyTo(m)
	return l.enqueue(e, model.ActionUpdate, model.KindMediaFile, fileID, patch), nil
}

// ApplyMediaCreate inserts an optimistic media file under a client-generated
// placeholder id; the id becomes authoritative on confirm.
func (l *Ledger) ApplyMediaCreate(file model.MediaFile) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entities[file.ID]; exists {
		return uuid.Nil, fmt.Errorf("entity %s already present", file.ID)
	}
	e := &entry{ent: &file}
	l.entities[file.ID] = e
	return l.enqueue(e, model.ActionCreate, model.KindMediaFile, file.ID, nil), nil
}

// ApplyMediaDelete flags a media file as pending-delete without removing it,
// so the view can render a deleting state and revert stays possible.
func (l *Ledger) ApplyMediaDelete(fileID string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.pendingTarget(fileID)
	if err != nil {
		return uuid.Nil, err
	}
	return l.enqueue(e, model.ActionDelete, model.KindMediaFile, fileID, nil), nil
}

// ApplyLinkUpdate queues an optimistic partial update of a shareable link.
func (l *Ledger) ApplyLinkUpdate(linkID string, patch model.LinkPatch) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.pendingTarget(linkID)
	if err != nil {
		return uuid.Nil, err
	}
	lnk, ok := e.ent.(*model.ShareableLink)
	if !ok {
		return uuid.Nil, fmt.Errorf("entity %s is not a shareable link", linkID)
	}
	e.preImage = e.ent.Clone()
	patch.ApplyTo(lnk)
	return l.enqueue(e, model.ActionUpdate, model.KindShareableLink, linkID, patch), nil
}

// ApplyLinkCreate inserts an optimistic shareable link under a placeholder id.
func (l *Ledger) ApplyLinkCreate(link model.ShareableLink) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entities[link.ID]; exists {
		return uuid.Nil, fmt.Errorf("entity %s already present", link.ID)
	}
	e := &entry{ent: &link}
	l.entities[link.ID] = e
	return l.enqueue(e, model.ActionCreate, model.KindShareableLink, link.ID, nil), nil
}

// ApplyLinkDelete flags a shareable link as pending-delete.
func (l *Ledger) ApplyLinkDelete(linkID string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.pendingTarget(linkID)
	if err != nil {
		return uuid.Nil, err
	}
	return l.enqueue(e, model.ActionDelete, model.KindShareableLink, linkID, nil), nil
}

// pendingTarget resolves an existing entity and enforces the single
// outstanding operation per entity invariant.
func (l *Ledger) pendingTarget(id string) (*entry, error) {
	e, ok := l.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, errs.ErrNotFound)
	}
	if e.pending != "" {
		return nil, fmt.Errorf("entity %s: %w", id, errs.ErrEntityPending)
	}
	return e, nil
}

// enqueue records the operation, marks the entity, and re-arms auto-save.
// Caller holds l.mu.
func (l *Ledger) enqueue(e *entry, action model.Action, kind model.EntityKind, targetID string, patch model.Patch) uuid.UUID {
	op := &model.PendingOperation{
		ID:         uuid.Must(uuid.NewV7()),
		Action:     action,
		EntityKind: kind,
		TargetID:   targetID,
		Patch:      patch,
		CreatedAt:  time.Now(),
	}
	if action == model.ActionCreate {
		op.NewEntity = e.ent
	}
	e.pending = action
	l.ops = append(l.ops, op)
	l.deb.Reset()
	l.log.Debug("operation applied",
		zap.String("op", op.ID.String()),
		zap.String("action", string(action)),
		zap.String("target", targetID),
	)
	return op.ID
}

// --- confirm / revert ---

// Confirm retires a pending operation after server acknowledgement. When
// server data is supplied it replaces the optimistic fields. Duplicate
// confirms are no-ops.
func (l *Ledger) Confirm(opID uuid.UUID, server model.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op := l.takeOp(opID)
	if op == nil {
		return
	}
	e, ok := l.entities[op.TargetID]
	if ok {
		switch op.Action {
		case model.ActionDelete:
			delete(l.entities, op.TargetID)
		case model.ActionCreate:
			if server != nil && server.EntityID() != op.TargetID {
				// placeholder id replaced by the authoritative server id
				delete(l.entities, op.TargetID)
				l.entities[server.EntityID()] = e
			}
			fallthrough
		default:
			if server != nil {
				e.ent = server.Clone()
			}
			e.pending = ""
			e.preImage = nil
		}
	}
	l.lastSync = time.Now()
	l.dropErrorsFor(opID)
	l.log.Debug("operation confirmed", zap.String("op", opID.String()))
}

// Revert undoes a pending operation after a failed flush: updates restore the
// pre-image, creates are removed, failed deletes keep the entity. Exactly one
// sync error is recorded. Duplicate reverts are no-ops.
func (l *Ledger) Revert(opID uuid.UUID, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op := l.takeOp(opID)
	if op == nil {
		return
	}
	if e, ok := l.entities[op.TargetID]; ok {
		switch op.Action {
		case model.ActionCreate:
			delete(l.entities, op.TargetID)
		case model.ActionUpdate:
			if e.preImage != nil {
				e.ent = e.preImage
			}
			e.pending = ""
			e.preImage = nil
		case model.ActionDelete:
			e.pending = ""
		}
	}
	l.errors = append(l.errors, SyncError{
		OpID:     opID,
		TargetID: op.TargetID,
		Message:  errMsg,
		At:       time.Now(),
	})
	l.log.Warn("operation reverted",
		zap.String("op", opID.String()),
		zap.String("target", op.TargetID),
		zap.String("reason", errMsg),
	)
}

// takeOp removes and returns the operation, or nil when already processed.
// Caller holds l.mu.
func (l *Ledger) takeOp(opID uuid.UUID) *model.PendingOperation {
	for i, op := range l.ops {
		if op.ID == opID {
			l.ops = append(l.ops[:i], l.ops[i+1:]...)
			return op
		}
	}
	return nil
}

func (l *Ledger) dropErrorsFor(opID uuid.UUID) {
	kept := l.errors[:0]
	for _, se := range l.errors {
		if se.OpID != opID {
			kept = append(kept, se)
		}
	}
	l.errors = kept
}

// --- flush ---

// autoSave is the debounce timer callback.
func (l *Ledger) autoSave() {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
	defer cancel()
	l.Sync(ctx)
}

// Sync flushes all pending operations. Operations are dispatched in insertion
// order; each completion confirms or reverts only its own operation, so the
// batch has no atomicity across entities and partial success is normal.
func (l *Ledger) Sync(ctx context.Context) {
	l.mu.Lock()
	if l.saving || len(l.ops) == 0 {
		l.mu.Unlock()
		return
	}
	l.saving = true
	batch := make([]*model.PendingOperation, len(l.ops))
	copy(batch, l.ops)
	l.mu.Unlock()

	l.log.Info("flushing pending operations", zap.Int("count", len(batch)))

	var wg sync.WaitGroup
	for _, op := range batch {
		wg.Add(1)
		go func(op *model.PendingOperation) {
			defer wg.Done()
			l.flushOne(ctx, op)
		}(op)
	}
	wg.Wait()

	l.mu.Lock()
	l.saving = false
	l.mu.Unlock()
}

// ForceSync cancels the debounce timer and flushes immediately.
func (l *Ledger) ForceSync(ctx context.Context) {
	l.deb.Cancel()
	l.Sync(ctx)
}

// flushOne dispatches a single operation to the gateway and applies the
// confirm/revert transition. The gateway contract guarantees no panics and no
// Go errors, so nothing here can crash the batch.
func (l *Ledger) flushOne(ctx context.Context, op *model.PendingOperation) {
	var res model.MutationResult
	switch op.EntityKind {
	case model.KindMediaFile:
		switch op.Action {
		case model.ActionUpdate:
			res = l.gw.UpdateMediaFile(ctx, op.TargetID, op.Patch.(model.MediaPatch), l.actorID)
		case model.ActionCreate:
			res = l.gw.CreateMediaFile(ctx, *op.NewEntity.(*model.MediaFile), l.actorID)
		case model.ActionDelete:
			res = l.gw.DeleteMediaFile(ctx, op.TargetID, l.actorID)
		}
	case model.KindShareableLink:
		switch op.Action {
		case model.ActionUpdate:
			res = l.gw.UpdateShareableLink(ctx, op.TargetID, op.Patch.(model.LinkPatch), l.actorID)
		case model.ActionCreate:
			res = l.gw.CreateShareableLink(ctx, *op.NewEntity.(*model.ShareableLink), l.actorID)
		case model.ActionDelete:
			res = l.gw.DeleteShareableLink(ctx, op.TargetID, l.actorID)
		}
	}

	if res.Success {
		l.Confirm(op.ID, res.Updated)
		return
	}
	op.RetryCount++
	msg := res.Error
	if msg == "" {
		msg = "network error while saving changes"
	}
	l.Revert(op.ID, msg)
}

// --- read surface ---

// Views returns copies of all entity views, ordered by kind then id.
func (l *Ledger) Views() []View {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]View, 0, len(l.entities))
	for _, e := range l.entities {
		out = append(out, View{Entity: e.ent.Clone(), Optimistic: e.pending != "", Pending: e.pending})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity.Kind() != out[j].Entity.Kind() {
			return out[i].Entity.Kind() < out[j].Entity.Kind()
		}
		return out[i].Entity.EntityID() < out[j].Entity.EntityID()
	})
	return out
}

// View returns the projection of a single entity.
func (l *Ledger) View(id string) (View, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[id]
	if !ok {
		return View{}, false
	}
	return View{Entity: e.ent.Clone(), Optimistic: e.pending != "", Pending: e.pending}, true
}

// HasUnsavedChanges reports whether any operation is still pending.
func (l *Ledger) HasUnsavedChanges() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops) > 0
}

// IsSaving reports whether a flush batch is in progress.
func (l *Ledger) IsSaving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saving
}

// PendingCount returns the number of queued operations.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// SyncErrors returns a copy of the recorded flush failures.
func (l *Ledger) SyncErrors() []SyncError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SyncError(nil), l.errors...)
}

// ClearErrors discards all recorded flush failures.
func (l *Ledger) ClearErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = nil
}

// LastSync returns the time of the most recent confirmed operation.
func (l *Ledger) LastSync() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSync
}
