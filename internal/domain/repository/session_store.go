package repository

import (
	"context"

	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
)

// SessionStore is the durable mirror of the in-process upload session map.
// A process restart rebuilds its state from here.
type SessionStore interface {
	// Save an upload session and its acknowledged parts to the persistence.
	Save(ctx context.Context, session *entity.UploadSession) error
	// Get the upload session by the upload ID, or nil when absent.
	Load(ctx context.Context, uploadID string) (*entity.UploadSession, error)
	// Remove the upload session and its part records.
	Delete(ctx context.Context, uploadID string) error
	// List every persisted upload session.
	List(ctx context.Context) ([]*entity.UploadSession, error)
}
