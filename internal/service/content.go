// Package service contains application services for content mutations, sagas
// and integrity maintenance.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/guestsync/guestsync/internal/model"
	"github.com/guestsync/guestsync/internal/repository"
)

// ContentService defines property, media-file and shareable-link operations.
type ContentService interface {
	// CreateProperty provisions a new property.
	CreateProperty(ctx context.Context, ownerID, name string) (*model.Property, error)
	// UpdateMediaFile applies a partial update with propagation.
	UpdateMediaFile(ctx context.Context, fileID string, patch model.MediaPatch) (repository.PropagationResult, error)
	// CreateMediaFile inserts a media file under a server-assigned id.
	CreateMediaFile(ctx context.Context, f model.MediaFile) (*model.MediaFile, error)
	// DeleteMediaFile removes a media file.
	DeleteMediaFile(ctx context.Context, fileID string) (int64, error)
	// ListMediaFiles returns a property's media files in display order.
	ListMediaFiles(ctx context.Context, propertyID string) ([]model.MediaFile, error)
	// UpdateShareableLink applies a partial link update with propagation.
	UpdateShareableLink(ctx context.Context, linkID string, patch model.LinkPatch) (repository.PropagationResult, error)
	// CreateShareableLink inserts a link under a server-assigned id.
	CreateShareableLink(ctx context.Context, l model.ShareableLink) (*model.ShareableLink, error)
	// DeleteShareableLink removes a link.
	DeleteShareableLink(ctx context.Context, linkID string) (int64, error)
	// ListShareableLinks returns a property's links in display order.
	ListShareableLinks(ctx context.Context, propertyID string) ([]model.ShareableLink, error)
}

type ContentServiceImpl struct {
	properties repository.PropertyRepository
	media      repository.MediaRepository
	links      repository.LinkRepository
}

// NewContentService constructs ContentService over the given repositories.
func NewContentService(
	properties repository.PropertyRepository,
	media repository.MediaRepository,
	links repository.LinkRepository,
) *ContentServiceImpl {
	return &ContentServiceImpl{properties: properties, media: media, links: links}
}

// CreateProperty validates input and inserts the property.
func (s *ContentServiceImpl) CreateProperty(ctx context.Context, ownerID, name string) (*model.Property, error) {
	if ownerID == "" {
		return nil, errors.New("validation: empty owner id")
	}
	if name == "" {
		return nil, errors.New("validation: empty property name")
	}
	p := &model.Property{OwnerID: ownerID, Name: name}
	if err := s.properties.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateMediaFile rejects empty targets and empty patches, then delegates.
func (s *ContentServiceImpl) UpdateMediaFile(ctx context.Context, fileID string, patch model.MediaPatch) (repository.PropagationResult, error) {
	if fileID == "" {
		return repository.PropagationResult{}, errors.New("validation: empty file id")
	}
	if patch.IsEmpty() {
		return repository.PropagationResult{}, errors.New("validation: empty patch")
	}
	if patch.FileType != nil && !validFileType(*patch.FileType) {
		return repository.PropagationResult{}, fmt.Errorf("validation: bad file type %q", *patch.FileType)
	}
	return s.media.UpdateWithPropagation(ctx, fileID, patch)
}

// CreateMediaFile validates required fields and delegates.
func (s *ContentServiceImpl) CreateMediaFile(ctx context.Context, f model.MediaFile) (*model.MediaFile, error) {
	if f.PropertyID == "" {
		return nil, errors.New("validation: empty property id")
	}
	if f.Title == "" {
		return nil, errors.New("validation: empty title")
	}
	if !validFileType(f.FileType) {
		return nil, fmt.Errorf("validation: bad file type %q", f.FileType)
	}
	return s.media.Create(ctx, f)
}

// DeleteMediaFile validates and delegates.
func (s *ContentServiceImpl) DeleteMediaFile(ctx context.Context, fileID string) (int64, error) {
	if fileID == "" {
		return 0, errors.New("validation: empty file id")
	}
	return s.media.Delete(ctx, fileID)
}

// ListMediaFiles validates and delegates.
func (s *ContentServiceImpl) ListMediaFiles(ctx context.Context, propertyID string) ([]model.MediaFile, error) {
	if propertyID == "" {
		return nil, errors.New("validation: empty property id")
	}
	return s.media.ListByProperty(ctx, propertyID)
}

// UpdateShareableLink rejects empty targets and empty patches, then delegates.
func (s *ContentServiceImpl) UpdateShareableLink(ctx context.Context, linkID string, patch model.LinkPatch) (repository.PropagationResult, error) {
	if linkID == "" {
		return repository.PropagationResult{}, errors.New("validation: empty link id")
	}
	if patch.IsEmpty() {
		return repository.PropagationResult{}, errors.New("validation: empty patch")
	}
	return s.links.UpdateWithPropagation(ctx, linkID, patch)
}

// CreateShareableLink validates required fields and delegates.
func (s *ContentServiceImpl) CreateShareableLink(ctx context.Context, l model.ShareableLink) (*model.ShareableLink, error) {
	if l.PropertyID == "" {
		return nil, errors.New("validation: empty property id")
	}
	if l.Slug == "" {
		return nil, errors.New("validation: empty slug")
	}
	return s.links.Create(ctx, l)
}

// DeleteShareableLink validates and delegates.
func (s *ContentServiceImpl) DeleteShareableLink(ctx context.Context, linkID string) (int64, error) {
	if linkID == "" {
		return 0, errors.New("validation: empty link id")
	}
	return s.links.Delete(ctx, linkID)
}

// ListShareableLinks validates and delegates.
func (s *ContentServiceImpl) ListShareableLinks(ctx context.Context, propertyID string) ([]model.ShareableLink, error) {
	if propertyID == "" {
		return nil, errors.New("validation: empty property id")
	}
	return s.links.ListByProperty(ctx, propertyID)
}

func validFileType(t string) bool {
	switch t {
	case "photo", "video", "document":
		return true
	}
	return false
}
