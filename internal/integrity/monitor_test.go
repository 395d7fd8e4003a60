package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/guestsync/guestsync/internal/model"
)

type fakeBackend struct {
	mu sync.Mutex

	report    model.IntegrityReport
	checkErr  error
	checks    int
	alerts    []model.Alert
	alertsErr error
	probes    int
}

var _ Backend = (*fakeBackend)(nil)

func (f *fakeBackend) CheckIntegrity(_ context.Context) (model.IntegrityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.report, f.checkErr
}

func (f *fakeBackend) ActiveAlerts(_ context.Context) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.alerts, f.alertsErr
}

func (f *fakeBackend) CleanupOrphaned(context.Context, string, uuid.UUID) model.MutationResult {
	return model.MutationResult{Success: true, AffectedRecords: 2}
}

func TestStatusBeforeFirstCheck(t *testing.T) {
	t.Parallel()
	m := New(&fakeBackend{}, nil, Config{})
	if m.Status() != model.HealthUnknown {
		t.Fatalf("status before first check must be unknown, got %s", m.Status())
	}
}

func TestCheck_Thresholds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		issues int
		want   model.HealthStatus
		badge  bool
	}{
		{0, model.HealthHealthy, false},
		{1, model.HealthWarning, true},
		{4, model.HealthWarning, true},
		{5, model.HealthError, true},
		{12, model.HealthError, true},
	}
	for _, tc := range cases {
		b := &fakeBackend{report: model.IntegrityReport{IssuesFound: tc.issues, Status: "completed"}}
		m := New(b, nil, Config{})
		got := m.Check(context.Background())
		if got != tc.want {
			t.Fatalf("issues=%d: status %s, want %s", tc.issues, got, tc.want)
		}
		if m.ShowWarningBadge() != tc.badge {
			t.Fatalf("issues=%d: badge %v, want %v", tc.issues, m.ShowWarningBadge(), tc.badge)
		}
		if rep := m.LastReport(); rep == nil || rep.IssuesFound != tc.issues {
			t.Fatalf("issues=%d: report not stored", tc.issues)
		}
	}
}

func TestCheck_TransportFailureIsError(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{checkErr: errors.New("connection refused")}
	m := New(b, nil, Config{})

	if got := m.Check(context.Background()); got != model.HealthError {
		t.Fatalf("transport failure must map to error, got %s", got)
	}
	if m.LastReport() != nil {
		t.Fatalf("failed check must not store a report")
	}
	errs := m.Errors()
	if len(errs) != 1 || errs[0].Message != "connection refused" {
		t.Fatalf("check errors wrong: %+v", errs)
	}

	m.ClearErrors()
	if len(m.Errors()) != 0 {
		t.Fatalf("ClearErrors did not clear")
	}
}

func TestProbe_RefreshesBadge(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{report: model.IntegrityReport{IssuesFound: 0}}
	m := New(b, nil, Config{})
	m.Check(context.Background())
	if m.ShowWarningBadge() {
		t.Fatalf("healthy store should not show the badge")
	}

	b.mu.Lock()
	b.alerts = []model.Alert{{Type: "orphaned_media_files", Severity: "low", ActiveCount: 1}}
	b.mu.Unlock()
	m.probe(context.Background())
	if !m.ShowWarningBadge() {
		t.Fatalf("live alerts should raise the badge")
	}

	// a failed probe keeps the last decision instead of flapping
	b.mu.Lock()
	b.alertsErr = errors.New("timeout")
	b.mu.Unlock()
	m.probe(context.Background())
	if !m.ShowWarningBadge() {
		t.Fatalf("failed probe must keep the previous badge")
	}
}

func TestRun_ImmediateCheckAndTick(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{report: model.IntegrityReport{IssuesFound: 2}}
	m := New(b, nil, Config{CheckInterval: 25 * time.Millisecond, ProbeInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	b.mu.Lock()
	checks, probes := b.checks, b.probes
	b.mu.Unlock()
	if checks < 2 {
		t.Fatalf("want immediate check plus at least one tick, got %d", checks)
	}
	if probes < 1 {
		t.Fatalf("want at least one probe, got %d", probes)
	}
	if m.Status() != model.HealthWarning {
		t.Fatalf("status after run: %s", m.Status())
	}
}

func TestCleanupPassThrough(t *testing.T) {
	t.Parallel()
	m := New(&fakeBackend{}, nil, Config{})
	res := m.CleanupOrphaned(context.Background(), "prop-1", uuid.Must(uuid.NewV4()))
	if !res.Success || res.AffectedRecords != 2 {
		t.Fatalf("pass-through broken: %+v", res)
	}
}
