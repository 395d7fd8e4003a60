// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/guestsync/guestsync/internal/model"
)

// PropagationResult reports an entity mutation together with the records it
// touched beyond the target row and a human-readable trail.
type PropagationResult struct {
	Media    *model.MediaFile
	Link     *model.ShareableLink
	Affected int64
	Log      []string
}

// PropertyRepository provides access to rental properties.
type PropertyRepository interface {
	// Create inserts a new property.
	Create(ctx context.Context, p *model.Property) error
	// Touch bumps the property's updated_at.
	Touch(ctx context.Context, id string) error
}

// MediaRepository provides versioned access to property media files.
type MediaRepository interface {
	// UpdateWithPropagation applies a partial update, renumbers sibling
	// display order when it changes, and touches the parent property.
	UpdateWithPropagation(ctx context.Context, fileID string, patch model.MediaPatch) (PropagationResult, error)

	// Create inserts a media file under a server-assigned id.
	Create(ctx context.Context, f model.MediaFile) (*model.MediaFile, error)

	// Delete removes a media file, returning the affected row count.
	Delete(ctx context.Context, fileID string) (int64, error)

	// ListByProperty returns a property's media files ordered for display.
	ListByProperty(ctx context.Context, propertyID string) ([]model.MediaFile, error)
}

// LinkRepository provides access to shareable links.
type LinkRepository interface {
	// UpdateWithPropagation applies a partial update and touches the parent.
	UpdateWithPropagation(ctx context.Context, linkID string, patch model.LinkPatch) (PropagationResult, error)

	// Create inserts a link under a server-assigned id.
	Create(ctx context.Context, l model.ShareableLink) (*model.ShareableLink, error)

	// Delete removes a link, returning the affected row count.
	Delete(ctx context.Context, linkID string) (int64, error)

	// ListByProperty returns a property's links ordered for display.
	ListByProperty(ctx context.Context, propertyID string) ([]model.ShareableLink, error)
}
