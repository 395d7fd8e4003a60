// Package gateway is the remote mutation façade. It converts desired entity
// mutations into single RPC calls and normalizes every heterogeneous backend
// result into a uniform MutationResult. Mutation methods never return Go
// errors: all failures become Success=false, which is what lets the ledger
// treat every mutation kind identically in its flush loop.
package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/rpc"
)

// Caller abstracts the RPC transport so tests can substitute a fake.
type Caller interface {
	Call(ctx context.Context, fn string, req, out any) error
	CallIdempotent(ctx context.Context, fn string, req, out any) error
}

// Gateway exposes one method per (entity-type, mutation-type) pair plus the
// saga, integrity and read primitives of the backend.
type Gateway struct {
	c   Caller
	log *zap.Logger
}

// New constructs a gateway over the given transport.
func New(c Caller, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{c: c, log: logger}
}

// envelope mirrors the server's normalized mutation response.
type envelope struct {
	Success         bool            `json:"success"`
	UpdatedData     json.RawMessage `json:"updated_data,omitempty"`
	AffectedRecords int64           `json:"affected_records"`
	Log             []string        `json:"log,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// --- media files ---

// UpdateMediaFile persists a partial media-file update with server-side
// propagation (parent timestamp touch, sibling reordering).
func (g *Gateway) UpdateMediaFile(ctx context.Context, fileID string, patch model.MediaPatch, actorID uuid.UUID) model.MutationResult {
	req := struct {
		FileID  string           `json:"file_id"`
		Patch   model.MediaPatch `json:"patch"`
		ActorID string           `json:"actor_id"`
	}{fileID, patch, actorID.String()}
	return g.mutate(ctx, "update_media_file_with_propagation", req, model.KindMediaFile)
}

// CreateMediaFile persists a new media file; the server assigns the
// authoritative id, returned in Updated.
func (g *Gateway) CreateMediaFile(ctx context.Context, file model.MediaFile, actorID uuid.UUID) model.MutationResult {
	req := struct {
		File    model.MediaFile `json:"file"`
		ActorID string          `json:"actor_id"`
	}{file, actorID.String()}
	return g.mutate(ctx, "create_media_file", req, model.KindMediaFile)
}

// DeleteMediaFile removes a media file.
func (g *Gateway) DeleteMediaFile(ctx context.Context, fileID string, actorID uuid.UUID) model.MutationResult {
	req := struct {
		FileID  string `json:"file_id"`
		ActorID string `json:"actor_id"`
	}{fileID, actorID.String()}
	return g.mutate(ctx, "delete_media_file", req, model.KindMediaFile)
}

// --- shareable links ---

// UpdateShareableLink persists a partial link update.
func (g *Gateway) UpdateShareableLink(ctx context.Context, linkID string, patch model.LinkPatch, actorID uuid.UUID) model.MutationResult {
	req := struct {
		LinkID  string          `json:"link_id"`
		Patch   model.LinkPatch `json:"patch"`
		ActorID string          `json:"actor_id"`
	}{linkID, patch, actorID.String()}
	return g.mutate(ctx, "update_shareable_link", req, model.KindShareableLink)
}

// CreateShareableLink persists a new link under a server-assigned id.
func (g *Gateway) CreateShareableLink(ctx context.Context, link model.ShareableLink, actorID uuid.UUID) model.MutationResult {
	req := struct {
		Link    model.ShareableLink `json:"link"`
		ActorID string              `json:"actor_id"`
	}{link, actorID.String()}
	return g.mutate(ctx, "create_shareable_link", req, model.KindShareableLink)
}

// DeleteShareableLink removes a link.
func (g *Gateway) DeleteShareableLink(ctx context.Context, linkID string, actorID uuid.UUID) model.MutationResult {
	req := struct {
		LinkID  string `json:"link_id"`
		ActorID string `json:"actor_id"`
	}{linkID, actorID.String()}
	return g.mutate(ctx, "delete_shareable_link", req, model.KindShareableLink)
}

// mutate performs one RPC and normalizes the outcome.
func (g *Gateway) mutate(ctx context.Context, fn string, req any, kind model.EntityKind) model.MutationResult {
	var env envelope
	if err := g.c.Call(ctx, fn, req, &env); err != nil {
		return g.failure(fn, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "remote mutation rejected"
		}
		return model.MutationResult{Success: false, Error: msg, Log: env.Log}
	}
	res := model.MutationResult{
		Success:         true,
		AffectedRecords: env.AffectedRecords,
		Log:             env.Log,
	}
	if len(env.UpdatedData) > 0 {
		ent, err := decodeEntity(kind, env.UpdatedData)
		if err != nil {
			g.log.Warn("undecodable updated_data", zap.String("fn", fn), zap.Error(err))
		} else {
			res.Updated = ent
		}
	}
	return res
}

func decodeEntity(kind model.EntityKind, raw json.RawMessage) (model.Entity, error) {
	switch kind {
	case model.KindMediaFile:
		var m model.MediaFile
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case model.KindShareableLink:
		var l model.ShareableLink
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, err
		}
		return &l, nil
	}
	return nil, errors.New("unknown entity kind")
}

// failure converts a transport error into a normalized failed result,
// preferring the server-supplied message when one exists.
func (g *Gateway) failure(fn string, err error) model.MutationResult {
	g.log.Warn("mutation failed", zap.String("fn", fn), zap.Error(err))
	var se *rpc.ServerError
	if errors.As(err, &se) {
		return model.MutationResult{Success: false, Error: se.Message}
	}
	return model.MutationResult{Success: false, Error: err.Error()}
}

// --- saga primitives ---

// StartSaga invokes the idempotent saga-start primitive. Retried with bounded
// backoff: the idempotency key makes duplicate delivery safe.
func (g *Gateway) StartSaga(ctx context.Context, req model.SagaStartRequest) (model.SagaStart, error) {
	var out struct {
		Success   bool   `json:"success"`
		Duplicate bool   `json:"duplicate"`
		SagaUUID  string `json:"saga_uuid"`
		Message   string `json:"message"`
	}
	if err := g.c.CallIdempotent(ctx, "start_saga", req, &out); err != nil {
		return model.SagaStart{}, err
	}
	return model.SagaStart{
		Accepted:  out.Success,
		Duplicate: out.Duplicate,
		SagaID:    req.SagaID,
		SagaUUID:  out.SagaUUID,
		Message:   out.Message,
	}, nil
}

// AdvanceSaga records one completed saga step.
func (g *Gateway) AdvanceSaga(ctx context.Context, req model.SagaAdvanceRequest) (model.SagaStep, error) {
	var out struct {
		Success   bool   `json:"success"`
		Completed bool   `json:"completed"`
		NextStep  int    `json:"next_step"`
		Message   string `json:"message"`
	}
	if err := g.c.Call(ctx, "advance_saga_step", req, &out); err != nil {
		return model.SagaStep{}, err
	}
	return model.SagaStep{
		Accepted:  out.Success,
		Completed: out.Completed,
		NextStep:  out.NextStep,
		Message:   out.Message,
	}, nil
}

// --- integrity primitives ---

// CheckIntegrity runs the server-side consistency scan. The call is
// side-effecting on the server (it may create alert rows) but idempotent from
// the transport's point of view, so bounded retry is safe.
func (g *Gateway) CheckIntegrity(ctx context.Context) (model.IntegrityReport, error) {
	var rep model.IntegrityReport
	if err := g.c.CallIdempotent(ctx, "check_integrity", struct{}{}, &rep); err != nil {
		return model.IntegrityReport{}, err
	}
	return rep, nil
}

// ActiveAlerts returns unresolved integrity alerts, newest first.
func (g *Gateway) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	var out struct {
		Alerts []model.Alert `json:"alerts"`
	}
	if err := g.c.CallIdempotent(ctx, "list_active_alerts", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// CleanupOrphaned removes orphaned records, optionally scoped to one
// property, in the same normalized result shape as entity mutations.
func (g *Gateway) CleanupOrphaned(ctx context.Context, propertyID string, actorID uuid.UUID) model.MutationResult {
	req := struct {
		PropertyID string `json:"property_id,omitempty"`
		ActorID    string `json:"actor_id"`
	}{propertyID, actorID.String()}
	var env envelope
	if err := g.c.Call(ctx, "cleanup_orphaned", req, &env); err != nil {
		return g.failure("cleanup_orphaned", err)
	}
	return model.MutationResult{
		Success:         env.Success,
		AffectedRecords: env.AffectedRecords,
		Log:             env.Log,
		Error:           env.Error,
	}
}

// --- reads for seeding a session ---

// CreateProperty provisions a new property and returns it.
func (g *Gateway) CreateProperty(ctx context.Context, name string, actorID uuid.UUID) (model.Property, error) {
	req := struct {
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
	}{name, actorID.String()}
	var out struct {
		Property model.Property `json:"property"`
	}
	if err := g.c.Call(ctx, "create_property", req, &out); err != nil {
		return model.Property{}, err
	}
	return out.Property, nil
}

// ListMediaFiles returns the server-confirmed media files of a property.
func (g *Gateway) ListMediaFiles(ctx context.Context, propertyID string) ([]model.MediaFile, error) {
	req := struct {
		PropertyID string `json:"property_id"`
	}{propertyID}
	var out struct {
		Files []model.MediaFile `json:"files"`
	}
	if err := g.c.CallIdempotent(ctx, "list_media_files", req, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// ListShareableLinks returns the server-confirmed links of a property.
func (g *Gateway) ListShareableLinks(ctx context.Context, propertyID string) ([]model.ShareableLink, error) {
	req := struct {
		PropertyID string `json:"property_id"`
	}{propertyID}
	var out struct {
		Links []model.ShareableLink `json:"links"`
	}
	if err := g.c.CallIdempotent(ctx, "list_shareable_links", req, &out); err != nil {
		return nil, err
	}
	return out.Links, nil
}
