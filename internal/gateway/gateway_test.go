package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/rpc"
)

// fakeCaller answers each fn from a canned response or error.
type fakeCaller struct {
	lastFn  string
	lastReq any
	resp    map[string]string // fn -> response JSON
	err     error
}

var _ Caller = (*fakeCaller)(nil)

func (f *fakeCaller) Call(_ context.Context, fn string, req, out any) error {
	f.lastFn, f.lastReq = fn, req
	if f.err != nil {
		return f.err
	}
	body, ok := f.resp[fn]
	if !ok {
		return fmt.Errorf("unexpected fn %s", fn)
	}
	return json.Unmarshal([]byte(body), out)
}

func (f *fakeCaller) CallIdempotent(ctx context.Context, fn string, req, out any) error {
	return f.Call(ctx, fn, req, out)
}

func actor() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func TestUpdateMediaFile_NormalizesSuccess(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"update_media_file_with_propagation": `{
			"success": true,
			"updated_data": {"id":"file-1","title":"After","file_type":"photo"},
			"affected_records": 3,
			"log": ["shifted 2 sibling media file(s)","touched property prop-1"]
		}`,
	}}
	g := New(fc, nil)

	title := "After"
	res := g.UpdateMediaFile(context.Background(), "file-1", model.MediaPatch{Title: &title}, actor())
	if !res.Success || res.AffectedRecords != 3 || len(res.Log) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	mf, ok := res.Updated.(*model.MediaFile)
	if !ok || mf.Title != "After" {
		t.Fatalf("updated entity wrong: %+v", res.Updated)
	}
}

func TestMutation_RejectionNeverReturnsError(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"delete_media_file": `{"success": false, "error": "media file not found"}`,
	}}
	g := New(fc, nil)

	res := g.DeleteMediaFile(context.Background(), "missing", actor())
	if res.Success {
		t.Fatalf("rejected mutation reported success")
	}
	if res.Error != "media file not found" {
		t.Fatalf("server message lost: %q", res.Error)
	}
}

func TestMutation_RejectionWithoutMessage(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"create_shareable_link": `{"success": false}`,
	}}
	g := New(fc, nil)

	res := g.CreateShareableLink(context.Background(), model.ShareableLink{PropertyID: "p", Slug: "s"}, actor())
	if res.Success || res.Error != "remote mutation rejected" {
		t.Fatalf("fallback message missing: %+v", res)
	}
}

func TestMutation_TransportErrorPrefersServerMessage(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{err: fmt.Errorf("rpc x: %w", &rpc.ServerError{Status: 500, Message: "db down"})}
	g := New(fc, nil)

	title := "x"
	res := g.UpdateMediaFile(context.Background(), "file-1", model.MediaPatch{Title: &title}, actor())
	if res.Success || res.Error != "db down" {
		t.Fatalf("server message not preferred: %+v", res)
	}

	fc.err = errors.New("dial tcp: connection refused")
	res = g.DeleteMediaFile(context.Background(), "file-1", actor())
	if res.Success || res.Error != "dial tcp: connection refused" {
		t.Fatalf("raw transport error lost: %+v", res)
	}
}

func TestMutation_UndecodableUpdatedDataStillSucceeds(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"update_shareable_link": `{"success": true, "updated_data": 42, "affected_records": 1}`,
	}}
	g := New(fc, nil)

	slug := "s"
	res := g.UpdateShareableLink(context.Background(), "link-1", model.LinkPatch{Slug: &slug}, actor())
	if !res.Success || res.Updated != nil {
		t.Fatalf("bad updated_data should be dropped, not fail: %+v", res)
	}
}

func TestStartSaga(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"start_saga": `{"success": true, "duplicate": true, "saga_uuid": "uuid-1", "message": "already registered"}`,
	}}
	g := New(fc, nil)

	out, err := g.StartSaga(context.Background(), model.SagaStartRequest{SagaID: "guest_invite-1-ab"})
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	if !out.Accepted || !out.Duplicate || out.SagaUUID != "uuid-1" || out.SagaID != "guest_invite-1-ab" {
		t.Fatalf("unexpected: %+v", out)
	}
}

func TestAdvanceSaga_ErrorPropagates(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{err: fmt.Errorf("rpc advance_saga_step: %w", &rpc.ServerError{Status: 404, Message: "unknown saga"})}
	g := New(fc, nil)

	_, err := g.AdvanceSaga(context.Background(), model.SagaAdvanceRequest{SagaUUID: "missing", StepName: "s"})
	var se *rpc.ServerError
	if !errors.As(err, &se) || se.Status != 404 {
		t.Fatalf("want 404 ServerError, got %v", err)
	}
}

func TestCheckIntegrityAndAlerts(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"check_integrity":    `{"issues_found": 7, "orphaned_count": 5, "broken_ref_count": 2, "status": "completed"}`,
		"list_active_alerts": `{"alerts": [{"alert_type":"orphaned_media_files","severity":"high","active_count":5}]}`,
	}}
	g := New(fc, nil)

	rep, err := g.CheckIntegrity(context.Background())
	if err != nil || rep.IssuesFound != 7 || rep.BrokenRefCount != 2 {
		t.Fatalf("CheckIntegrity: rep=%+v err=%v", rep, err)
	}

	alerts, err := g.ActiveAlerts(context.Background())
	if err != nil || len(alerts) != 1 || alerts[0].Severity != "high" {
		t.Fatalf("ActiveAlerts: %+v err=%v", alerts, err)
	}
}

func TestCleanupOrphaned(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"cleanup_orphaned": `{"success": true, "affected_records": 4, "log": ["removed 4 orphaned record(s)"]}`,
	}}
	g := New(fc, nil)

	res := g.CleanupOrphaned(context.Background(), "prop-1", actor())
	if !res.Success || res.AffectedRecords != 4 {
		t.Fatalf("unexpected: %+v", res)
	}
}

func TestListReads(t *testing.T) {
	t.Parallel()
	fc := &fakeCaller{resp: map[string]string{
		"list_media_files":     `{"files": [{"id":"file-1"},{"id":"file-2"}]}`,
		"list_shareable_links": `{"links": [{"id":"link-1","slug":"a"}]}`,
		"create_property":      `{"property": {"id":"prop-1","name":"Villa"}}`,
	}}
	g := New(fc, nil)

	files, err := g.ListMediaFiles(context.Background(), "prop-1")
	if err != nil || len(files) != 2 {
		t.Fatalf("ListMediaFiles: %v err=%v", files, err)
	}
	links, err := g.ListShareableLinks(context.Background(), "prop-1")
	if err != nil || len(links) != 1 || links[0].Slug != "a" {
		t.Fatalf("ListShareableLinks: %v err=%v", links, err)
	}
	p, err := g.CreateProperty(context.Background(), "Villa", actor())
	if err != nil || p.ID != "prop-1" {
		t.Fatalf("CreateProperty: %+v err=%v", p, err)
	}
}
