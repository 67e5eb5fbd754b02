package repository

import (
	"context"
	"time"

	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
)

type Uploader interface {
	// Initiates a multipart upload and return an upload ID from the remote storage.
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	// Generate a presigned URL the client uses to upload a single part directly.
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int64, expiry time.Duration) (string, error)
	// Upload a file part to the remote storage on behalf of the client.
	UploadPart(ctx context.Context, key, uploadID string, body []byte, length, partNumber int64) (*entity.Part, error)
	// Mark the multipart upload as completed and return the final object URL.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []entity.Part) (string, error)
	// Discard an in-flight multipart upload and its stored parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error
	// Upload an entire file to the remote storage and return the object URL.
	SimpleUpload(ctx context.Context, key, contentType string, body []byte) (string, error)
	// Determine whether an object already exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}
