// Package integrity polls the backend's consistency-check primitive and
// derives a three-level health status plus structured alerts for the UI.
package integrity

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/model"
)

// Backend is the set of integrity primitives the monitor consumes.
type Backend interface {
	CheckIntegrity(ctx context.Context) (model.IntegrityReport, error)
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
	CleanupOrphaned(ctx context.Context, propertyID string, actorID uuid.UUID) model.MutationResult
}

// Config tunes monitor scheduling. Zero values fall back to defaults.
type Config struct {
	// CheckInterval is the cadence of the full integrity check.
	CheckInterval time.Duration
	// ProbeInterval is the cadence of the light warning-badge probe.
	ProbeInterval time.Duration
}

const (
	defaultCheckInterval = 5 * time.Minute
	defaultProbeInterval = time.Minute
)

// CheckError is a user-visible record of a failed integrity call.
type CheckError struct {
	Message string
	At      time.Time
}

// Monitor runs integrity checks on a schedule and exposes the derived state.
type Monitor struct {
	mu         sync.Mutex
	b          Backend
	log        *zap.Logger
	cfg        Config
	status     model.HealthStatus
	lastReport *model.IntegrityReport
	showBadge  bool
	errors     []CheckError
}

// New constructs a monitor; status is unknown until the first check.
func New(b Backend, logger *zap.Logger, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{b: b, log: logger, cfg: cfg, status: model.HealthUnknown}
}

// Check runs one full integrity check and updates the derived status.
// A transport failure sets status to error rather than hiding a possibly
// degraded store, and records a check error.
func (m *Monitor) Check(ctx context.Context) model.HealthStatus {
	rep, err := m.b.CheckIntegrity(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status = model.HealthError
		m.errors = append(m.errors, CheckError{Message: err.Error(), At: time.Now()})
		m.log.Warn("integrity check failed", zap.Error(err))
		return m.status
	}
	m.lastReport = &rep
	m.status = model.HealthFromIssues(rep.IssuesFound)
	m.showBadge = m.status != model.HealthHealthy
	m.log.Info("integrity check",
		zap.Int("issues", rep.IssuesFound),
		zap.String("status", string(m.status)),
	)
	return m.status
}

// probe refreshes only the warning-badge flag from the active alerts, which
// is cheaper than the full consistency scan.
func (m *Monitor) probe(ctx context.Context) {
	alerts, err := m.b.ActiveAlerts(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// keep the last badge decision; full checks surface real failures
		m.log.Debug("alert probe failed", zap.Error(err))
		return
	}
	m.showBadge = len(alerts) > 0 || m.status == model.HealthWarning || m.status == model.HealthError
}

// Run checks once immediately, then on the configured intervals until ctx is
// cancelled. Both tickers stop on return, so no background work leaks past
// the consumer's lifetime.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	check := time.NewTicker(m.cfg.CheckInterval)
	probe := time.NewTicker(m.cfg.ProbeInterval)
	defer check.Stop()
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			m.Check(ctx)
		case <-probe.C:
			m.probe(ctx)
		}
	}
}

// Status returns the current derived health status.
func (m *Monitor) Status() model.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastReport returns the most recent successful report, or nil.
func (m *Monitor) LastReport() *model.IntegrityReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// ShowWarningBadge reports whether the UI should surface the health widget.
func (m *Monitor) ShowWarningBadge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.showBadge
}

// Errors returns a copy of the recorded check failures.
func (m *Monitor) Errors() []CheckError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CheckError(nil), m.errors...)
}

// ClearErrors discards recorded check failures.
func (m *Monitor) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = nil
}

// ActiveAlerts passes through the newest-first alert list.
func (m *Monitor) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return m.b.ActiveAlerts(ctx)
}

// CleanupOrphaned passes through the maintenance action in the same
// normalized shape as entity mutations.
func (m *Monitor) CleanupOrphaned(ctx context.Context, propertyID string, actorID uuid.UUID) model.MutationResult {
	return m.b.CleanupOrphaned(ctx, propertyID, actorID)
}
