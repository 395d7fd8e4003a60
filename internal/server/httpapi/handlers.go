package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/errs"
	"github.com/guestsync/guestsync/internal/model"
)

// envelope is the normalized mutation response. Domain-level failures keep
// HTTP 200 and set Success=false; only infrastructure faults use error codes.
type envelope struct {
	Success         bool     `json:"success"`
	UpdatedData     any      `json:"updated_data,omitempty"`
	AffectedRecords int64    `json:"affected_records"`
	Log             []string `json:"log,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRejected(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, envelope{Success: false, Error: msg})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("bad request body: %w", err)
	}
	return nil
}

// dispatch routes POST /rpc/{fn} to the matching handler.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	fn := chi.URLParam(r, "fn")
	h, ok := s.handlers[fn]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown function "+fn)
		return
	}
	h(w, r)
}

func (s *Server) routeTable() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"update_media_file_with_propagation": s.handleUpdateMediaFile,
		"create_media_file":                  s.handleCreateMediaFile,
		"delete_media_file":                  s.handleDeleteMediaFile,
		"update_shareable_link":              s.handleUpdateLink,
		"create_shareable_link":              s.handleCreateLink,
		"delete_shareable_link":              s.handleDeleteLink,
		"start_saga":                         s.handleStartSaga,
		"advance_saga_step":                  s.handleAdvanceSaga,
		"check_integrity":                    s.handleCheckIntegrity,
		"list_active_alerts":                 s.handleActiveAlerts,
		"cleanup_orphaned":                   s.handleCleanupOrphaned,
		"create_property":                    s.handleCreateProperty,
		"list_media_files":                   s.handleListMediaFiles,
		"list_shareable_links":               s.handleListLinks,
	}
}

// --- entity mutations ---

func (s *Server) handleUpdateMediaFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID  string           `json:"file_id"`
		Patch   model.MediaPatch `json:"patch"`
		ActorID string           `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.content.UpdateMediaFile(r.Context(), req.FileID, req.Patch)
	if err != nil {
		s.writeMutationError(w, r, "update media file", err, "media file not found")
		return
	}
	s.audit(r, "update_media_file", req.FileID)
	writeJSON(w, http.StatusOK, envelope{
		Success:         true,
		UpdatedData:     res.Media,
		AffectedRecords: res.Affected,
		Log:             res.Log,
	})
}

func (s *Server) handleCreateMediaFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File    model.MediaFile `json:"file"`
		ActorID string          `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.content.CreateMediaFile(r.Context(), req.File)
	if err != nil {
		s.writeMutationError(w, r, "create media file", err, "")
		return
	}
	s.audit(r, "create_media_file", created.ID)
	writeJSON(w, http.StatusOK, envelope{Success: true, UpdatedData: created, AffectedRecords: 1})
}

func (s *Server) handleDeleteMediaFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID  string `json:"file_id"`
		ActorID string `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.content.DeleteMediaFile(r.Context(), req.FileID)
	if err != nil {
		s.writeMutationError(w, r, "delete media file", err, "media file not found")
		return
	}
	s.audit(r, "delete_media_file", req.FileID)
	writeJSON(w, http.StatusOK, envelope{Success: true, AffectedRecords: n})
}

func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LinkID  string          `json:"link_id"`
		Patch   model.LinkPatch `json:"patch"`
		ActorID string          `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.content.UpdateShareableLink(r.Context(), req.LinkID, req.Patch)
	if err != nil {
		s.writeMutationError(w, r, "update link", err, "shareable link not found")
		return
	}
	s.audit(r, "update_shareable_link", req.LinkID)
	writeJSON(w, http.StatusOK, envelope{
		Success:         true,
		UpdatedData:     res.Link,
		AffectedRecords: res.Affected,
		Log:             res.Log,
	})
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Link    model.ShareableLink `json:"link"`
		ActorID string              `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.content.CreateShareableLink(r.Context(), req.Link)
	if err != nil {
		s.writeMutationError(w, r, "create link", err, "")
		return
	}
	s.audit(r, "create_shareable_link", created.ID)
	writeJSON(w, http.StatusOK, envelope{Success: true, UpdatedData: created, AffectedRecords: 1})
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LinkID  string `json:"link_id"`
		ActorID string `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.content.DeleteShareableLink(r.Context(), req.LinkID)
	if err != nil {
		s.writeMutationError(w, r, "delete link", err, "shareable link not found")
		return
	}
	s.audit(r, "delete_shareable_link", req.LinkID)
	writeJSON(w, http.StatusOK, envelope{Success: true, AffectedRecords: n})
}

// writeMutationError maps service errors onto the envelope. Validation and
// expected domain conditions stay HTTP 200 with Success=false so the client's
// flush loop sees a uniform shape; everything else is a 500.
func (s *Server) writeMutationError(w http.ResponseWriter, r *http.Request, op string, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = "not found"
		}
		writeRejected(w, notFoundMsg)
	case errors.Is(err, errs.ErrDuplicateSlug):
		writeRejected(w, "slug already in use")
	case isValidation(err):
		writeRejected(w, err.Error())
	default:
		s.log.Error(op, zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func isValidation(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "validation:")
}

// --- sagas ---

func (s *Server) handleStartSaga(w http.ResponseWriter, r *http.Request) {
	var req model.SagaStartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sagas.Start(r.Context(), req)
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("start saga", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.audit(r, "start_saga", out.SagaUUID)
	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		Duplicate bool   `json:"duplicate"`
		SagaUUID  string `json:"saga_uuid"`
		Message   string `json:"message"`
	}{out.Accepted, out.Duplicate, out.SagaUUID, out.Message})
}

func (s *Server) handleAdvanceSaga(w http.ResponseWriter, r *http.Request) {
	var req model.SagaAdvanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sagas.Advance(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown saga "+req.SagaUUID)
		case errors.Is(err, errs.ErrSagaFinished):
			writeError(w, http.StatusConflict, "saga already completed")
		case isValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("advance saga", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
		}
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		Completed bool   `json:"completed"`
		NextStep  int    `json:"next_step"`
		Message   string `json:"message"`
	}{out.Accepted, out.Completed, out.NextStep, out.Message})
}

// --- integrity ---

// throttled consults the maintenance limiter. Returns true when the request
// was already answered with 429. A limiter failure lets the call through.
func (s *Server) throttled(w http.ResponseWriter, r *http.Request, fn string) bool {
	if s.limits == nil {
		return false
	}
	actor, _ := ActorIDFromCtx(r.Context())
	ok, retryAfter, err := s.limits.Allow(r.Context(), actor.String(), fn)
	if err != nil {
		s.log.Error("maintenance limiter", zap.Error(err), zap.String("fn", fn))
		return false
	}
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
		writeError(w, http.StatusTooManyRequests, "too many "+fn+" calls, retry later")
		return true
	}
	return false
}

func (s *Server) handleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	if s.throttled(w, r, "check_integrity") {
		return
	}
	rep, err := s.integrity.Check(r.Context())
	if err != nil {
		s.log.Error("integrity check", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.metrics.SetIntegrityIssues(rep.IssuesFound)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.integrity.ActiveAlerts(r.Context())
	if err != nil {
		s.log.Error("list alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Alerts []model.Alert `json:"alerts"`
	}{alerts})
}

func (s *Server) handleCleanupOrphaned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyID string `json:"property_id"`
		ActorID    string `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.throttled(w, r, "cleanup_orphaned") {
		return
	}
	n, err := s.integrity.CleanupOrphaned(r.Context(), req.PropertyID)
	if err != nil {
		s.log.Error("cleanup orphaned", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.audit(r, "cleanup_orphaned", req.PropertyID)
	writeJSON(w, http.StatusOK, envelope{
		Success:         true,
		AffectedRecords: n,
		Log:             []string{fmt.Sprintf("removed %d orphaned record(s)", n)},
	})
}

// --- properties and reads ---

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, ok := ActorIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	p, err := s.content.CreateProperty(r.Context(), actor.String(), req.Name)
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("create property", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	s.audit(r, "create_property", p.ID)
	writeJSON(w, http.StatusOK, struct {
		Property *model.Property `json:"property"`
	}{p})
}

func (s *Server) handleListMediaFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyID string `json:"property_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := s.content.ListMediaFiles(r.Context(), req.PropertyID)
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("list media files", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if files == nil {
		files = []model.MediaFile{}
	}
	writeJSON(w, http.StatusOK, struct {
		Files []model.MediaFile `json:"files"`
	}{files})
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PropertyID string `json:"property_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	links, err := s.content.ListShareableLinks(r.Context(), req.PropertyID)
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("list links", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if links == nil {
		links = []model.ShareableLink{}
	}
	writeJSON(w, http.StatusOK, struct {
		Links []model.ShareableLink `json:"links"`
	}{links})
}

// audit logs who changed what; request payloads stay out of the log.
func (s *Server) audit(r *http.Request, op, target string) {
	actor, _ := ActorIDFromCtx(r.Context())
	s.log.Info("audit",
		zap.String("op", op),
		zap.String("target", target),
		zap.String("actor", actor.String()),
		zap.Time("at", time.Now().UTC()),
	)
}
