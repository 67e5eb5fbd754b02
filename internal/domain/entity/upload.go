package entity

import (
	"time"

	"golang.org/x/exp/slices"
)

const (
	UploadStatusInitialized = "initialized"
	UploadStatusCompleted   = "completed"
	UploadStatusAborted     = "aborted"
	UploadStatusExpired     = "expired"
)

// The part portion of uploaded file data.
type Part struct {
	ETag       string `json:"etag"`       // Entity tag for the uploaded object.
	PartNumber int64  `json:"partNumber"` // Part number that identifies the part.
}

// The entity of an in-flight multipart upload session. The session is owned
// by the principal who initiated it and becomes invalid past ExpiresAt.
type UploadSession struct {
	UploadID      string            `json:"uploadId"`
	OwnerID       int64             `json:"ownerId"`
	Key           string            `json:"key"`
	ContentType   string            `json:"contentType"`
	TotalSize     int64             `json:"totalSize"`
	PartsExpected int               `json:"partsExpected"`
	Parts         []Part            `json:"parts,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

func NewUploadSession(uploadID string, ownerID int64, key, contentType string, totalSize int64, partsExpected int, metadata map[string]string, now time.Time, ttl time.Duration) *UploadSession {
	return &UploadSession{
		UploadID:      uploadID,
		OwnerID:       ownerID,
		Key:           key,
		ContentType:   contentType,
		TotalSize:     totalSize,
		PartsExpected: partsExpected,
		Metadata:      metadata,
		Status:        UploadStatusInitialized,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// Record a file part to the session for multipart upload. A resubmitted part
// number replaces the earlier entry, keeping the most recent ETag.
func (s *UploadSession) SetPart(partNumber int64, etag string) {
	for i := range s.Parts {
		if s.Parts[i].PartNumber == partNumber {
			s.Parts[i].ETag = etag
			return
		}
	}
	s.Parts = append(s.Parts, Part{ETag: etag, PartNumber: partNumber})
}

// The number of distinct parts acknowledged so far.
func (s *UploadSession) PartsReceived() int { return len(s.Parts) }

// Determine whether the session has passed its expiry deadline.
func (s *UploadSession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Get the recorded parts ordered ascending by part number, as required by the
// remote complete-multipart-upload operation.
func (s *UploadSession) SortedParts() []Part {
	parts := make([]Part, len(s.Parts))
	copy(parts, s.Parts)
	slices.SortFunc(parts, func(a, b Part) int {
		return int(a.PartNumber - b.PartNumber)
	})
	return parts
}

// Get the upload progress as a percentage of acknowledged parts.
func (s *UploadSession) Progress() int {
	if s.PartsExpected == 0 {
		return 0
	}
	return len(s.Parts) * 100 / s.PartsExpected
}

// Clone returns a copy that is safe to hand outside the registry lock.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	c.Parts = make([]Part, len(s.Parts))
	copy(c.Parts, s.Parts)
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
