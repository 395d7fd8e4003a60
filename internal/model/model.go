// Package model defines domain entities used by the sync core, services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// EntityKind discriminates the entity types managed by the sync core.
type EntityKind string

const (
	KindMediaFile     EntityKind = "media_file"
	KindShareableLink EntityKind = "shareable_link"
)

// Action is the mutation type carried by a pending operation.
type Action string

const (
	ActionUpdate Action = "update"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// Entity is implemented by every domain entity the ledger manages.
type Entity interface {
	// EntityID returns the entity identifier (client placeholder until confirmed).
	EntityID() string
	// Kind returns the entity type tag.
	Kind() EntityKind
	// Clone returns a deep copy, used for pre-image capture.
	Clone() Entity
}

// Property is a host's rental unit; the parent of media files and links.
type Property struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaFile is a photo/video/document attached to a property.
type MediaFile struct {
	ID           string    `json:"id"`
	PropertyID   string    `json:"property_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	FileType     string    `json:"file_type"` // photo | video | document
	URL          string    `json:"url"`
	DisplayOrder int       `json:"display_order"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m *MediaFile) EntityID() string { return m.ID }
func (m *MediaFile) Kind() EntityKind { return KindMediaFile }
func (m *MediaFile) Clone() Entity    { c := *m; return &c }

// ShareableLink is a guest-facing link published for a property.
type ShareableLink struct {
	ID           string     `json:"id"`
	PropertyID   string     `json:"property_id"`
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	DisplayOrder int        `json:"display_order"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (l *ShareableLink) EntityID() string { return l.ID }
func (l *ShareableLink) Kind() EntityKind { return KindShareableLink }
func (l *ShareableLink) Clone() Entity    { c := *l; return &c }

// Patch is a tagged partial-field payload; nil fields are left untouched.
type Patch interface {
	PatchKind() EntityKind
}

// MediaPatch carries partial MediaFile fields for an update.
type MediaPatch struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	FileType     *string `json:"file_type,omitempty"`
	URL          *string `json:"url,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

func (MediaPatch) PatchKind() EntityKind { return KindMediaFile }

// IsEmpty reports whether the patch changes nothing.
func (p MediaPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.FileType == nil &&
		p.URL == nil && p.DisplayOrder == nil && p.IsActive == nil
}

// ApplyTo merges the non-nil fields into the target.
func (p MediaPatch) ApplyTo(m *MediaFile) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.FileType != nil {
		m.FileType = *p.FileType
	}
	if p.URL != nil {
		m.URL = *p.URL
	}
	if p.DisplayOrder != nil {
		m.DisplayOrder = *p.DisplayOrder
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
}

// LinkPatch carries partial ShareableLink fields for an update.
type LinkPatch struct {
	Title        *string    `json:"title,omitempty"`
	Slug         *string    `json:"slug,omitempty"`
	DisplayOrder *int       `json:"display_order,omitempty"`
	IsActive     *bool      `json:"is_active,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (LinkPatch) PatchKind() EntityKind { return KindShareableLink }

// IsEmpty reports whether the patch changes nothing.
func (p LinkPatch) IsEmpty() bool {
	return p.Title == nil && p.Slug == nil && p.DisplayOrder == nil &&
		p.IsActive == nil && p.ExpiresAt == nil
}

// ApplyTo merges the non-nil fields into the target.
func (p LinkPatch) ApplyTo(l *ShareableLink) {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Slug != nil {
		l.Slug = *p.Slug
	}
	if p.DisplayOrder != nil {
		l.DisplayOrder = *p.DisplayOrder
	}
	if p.IsActive != nil {
		l.IsActive = *p.IsActive
	}
	if p.ExpiresAt != nil {
		l.ExpiresAt = p.ExpiresAt
	}
}

// PendingOperation is a client-side record of one in-flight mutation.
// Operation ids are UUIDv7 so insertion order survives sorting.
type PendingOperation struct {
	ID         uuid.UUID
	Action     Action
	EntityKind EntityKind
	TargetID   string
	Patch      Patch  // non-nil for updates
	NewEntity  Entity // non-nil for creates
	CreatedAt  time.Time
	RetryCount int
}

// MutationResult is the normalized outcome of one remote mutation.
// Failures never surface as Go errors to the flush loop; Success=false carries
// the most specific message available.
type MutationResult struct {
	Success         bool
	Updated         Entity
	AffectedRecords int64
	Log             []string
	Error           string
}

// HealthStatus is the derived three-level condition of the backing store.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// HealthFromIssues maps an integrity issue count to a health status.
// 0 issues is healthy, 1-4 is a warning, 5 or more is an error.
func HealthFromIssues(issues int) HealthStatus {
	switch {
	case issues <= 0:
		return HealthHealthy
	case issues < 5:
		return HealthWarning
	default:
		return HealthError
	}
}

// IntegrityReport is the server-computed consistency scan result.
type IntegrityReport struct {
	IssuesFound    int       `json:"issues_found"`
	OrphanedCount  int       `json:"orphaned_count"`
	BrokenRefCount int       `json:"broken_ref_count"`
	Status         string    `json:"status"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Alert is one structured integrity alert row.
type Alert struct {
	Type        string    `json:"alert_type"`
	Severity    string    `json:"severity"` // critical | high | medium | low
	ActiveCount int       `json:"active_count"`
	LastSeen    time.Time `json:"last_seen"`
}

// SagaStartRequest is the wire shape of the saga-start primitive.
type SagaStartRequest struct {
	SagaID         string          `json:"saga_id"`
	SagaType       string          `json:"saga_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	SubjectID      string          `json:"subject_id"`
	ActorID        string          `json:"actor_id"`
	Input          json.RawMessage `json:"input,omitempty"`
	TotalSteps     int             `json:"total_steps"`
}

// SagaAdvanceRequest is the wire shape of the saga-advance primitive.
// RollbackInfo is opaque undo data passed through unmodified.
type SagaAdvanceRequest struct {
	SagaUUID     string          `json:"saga_uuid"`
	StepName     string          `json:"step_name"`
	StepResult   json.RawMessage `json:"step_result,omitempty"`
	RollbackInfo json.RawMessage `json:"rollback_info,omitempty"`
}

// SagaStart is the outcome of a saga start call.
type SagaStart struct {
	Accepted  bool
	Duplicate bool
	SagaID    string
	SagaUUID  string
	Message   string
}

// SagaStep is the outcome of a saga advance call.
type SagaStep struct {
	Accepted  bool
	Completed bool
	NextStep  int
	Message   string
}
