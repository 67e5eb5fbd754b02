// Package upload tracks in-flight multipart upload sessions. Sessions live in
// an in-process map for fast access and are mirrored to a durable store on
// every state change so a restarted process can pick them up again.
package upload

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
	"github.com/tlong-ds/thelearninghouse/internal/domain/repository"
)

const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultPresignTTL   = time.Hour
	DefaultSweepEvery   = time.Hour
	DefaultPresignBatch = 1000 // upper bound on expected parts per session
)

// InitResult is returned by Init: the session handle plus one presigned URL
// per expected part. URLs expire before the session does, so late parts may
// need fresh URLs.
type InitResult struct {
	UploadID      string
	Key           string
	PresignedURLs map[string]string
	ExpiresAt     time.Time
}

// Registry owns every upload session record. The in-process map is a cache of
// the durable mirror; reads prefer the map and backfill it from the mirror.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entity.UploadSession

	uploader   repository.Uploader
	mirror     repository.SessionStore // optional
	logger     *zap.Logger
	now        func() time.Time
	sessionTTL time.Duration
	presignTTL time.Duration
}

func NewRegistry(uploader repository.Uploader, mirror repository.SessionStore, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*entity.UploadSession),
		uploader:   uploader,
		mirror:     mirror,
		logger:     logger,
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		presignTTL: DefaultPresignTTL,
	}
}

// SetTTLs overrides the session and presigned URL lifetimes. Non-positive
// values keep the defaults. Call before the registry serves requests.
func (r *Registry) SetTTLs(session, presign time.Duration) {
	if session > 0 {
		r.sessionTTL = session
	}
	if presign > 0 {
		r.presignTTL = presign
	}
}

// Restore rebuilds the in-process map from the durable mirror. Call once at
// startup, before the registry serves requests.
func (r *Registry) Restore(ctx context.Context) error {
	if r.mirror == nil {
		return nil
	}
	sessions, err := r.mirror.List(ctx)
	if err != nil {
		return fmt.Errorf("cannot restore upload sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sessions {
		r.sessions[s.UploadID] = s
	}
	if len(sessions) > 0 {
		r.logger.Info("restored upload sessions from durable store", zap.Int("count", len(sessions)))
	}
	return nil
}

// Init requests a multipart upload ID from the remote storage and registers a
// session for it, valid for 24 hours. One presigned upload URL is issued per
// expected part.
func (r *Registry) Init(ctx context.Context, ownerID int64, key, contentType string, totalSize int64, parts int, metadata map[string]string) (*InitResult, error) {
	if parts <= 0 || parts > DefaultPresignBatch {
		return nil, fmt.Errorf("expected part count must be between 1 and %d, got %d", DefaultPresignBatch, parts)
	}
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive, got %d", totalSize)
	}

	uploadID, err := r.uploader.CreateMultipart(ctx, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	urls := make(map[string]string, parts)
	for n := int64(1); n <= int64(parts); n++ {
		url, err := r.uploader.PresignUploadPart(ctx, key, uploadID, n, r.presignTTL)
		if err != nil {
			// Abandon the remote upload we just created.
			if abortErr := r.uploader.AbortMultipart(ctx, key, uploadID); abortErr != nil {
				r.logger.Error("failed to abort upload after presign failure",
					zap.String("upload_id", uploadID), zap.Error(abortErr))
			}
			return nil, fmt.Errorf("failed to presign part %d: %w", n, err)
		}
		urls[strconv.FormatInt(n, 10)] = url
	}

	session := entity.NewUploadSession(uploadID, ownerID, key, contentType, totalSize, parts, metadata, r.now(), r.sessionTTL)

	r.mu.Lock()
	r.sessions[uploadID] = session
	r.mu.Unlock()
	r.persist(ctx, session)

	r.logger.Info("upload initialized",
		zap.String("upload_id", uploadID),
		zap.String("key", key),
		zap.Int64("size", totalSize),
		zap.Int("parts", parts))

	return &InitResult{
		UploadID:      uploadID,
		Key:           key,
		PresignedURLs: urls,
		ExpiresAt:     session.ExpiresAt,
	}, nil
}

// ReportPart acknowledges an uploaded part. Resubmitting a part number
// replaces the earlier ETag rather than adding a duplicate entry.
func (r *Registry) ReportPart(ctx context.Context, ownerID int64, uploadID string, partNumber int64, etag string) (*entity.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.lookupLocked(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if session.Expired(r.now()) {
		return nil, ErrExpired
	}

	session.SetPart(partNumber, etag)
	r.persist(ctx, session)

	r.logger.Info("upload part received",
		zap.String("upload_id", uploadID),
		zap.Int64("part", partNumber),
		zap.Int("received", session.PartsReceived()),
		zap.Int("expected", session.PartsExpected))

	return session.Clone(), nil
}

// Complete assembles the object from its parts. Every expected part must have
// been acknowledged. On remote failure the multipart upload is aborted
// best-effort and the original error is surfaced; the session is torn down
// either way.
func (r *Registry) Complete(ctx context.Context, ownerID int64, uploadID string) (*entity.UploadSession, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.lookupLocked(ctx, ownerID, uploadID)
	if err != nil {
		return nil, "", err
	}
	if session.Expired(r.now()) {
		r.abortRemote(ctx, session)
		r.removeLocked(ctx, uploadID)
		return nil, "", ErrExpired
	}
	if session.PartsReceived() != session.PartsExpected {
		return nil, "", fmt.Errorf("%w: expected %d, got %d", ErrIncomplete, session.PartsExpected, session.PartsReceived())
	}

	url, err := r.uploader.CompleteMultipart(ctx, session.Key, uploadID, session.SortedParts())
	if err != nil {
		r.abortRemote(ctx, session)
		r.removeLocked(ctx, uploadID)
		return nil, "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	session.Status = entity.UploadStatusCompleted
	snapshot := session.Clone()
	r.removeLocked(ctx, uploadID)

	r.logger.Info("upload completed", zap.String("upload_id", uploadID), zap.String("key", snapshot.Key))
	return snapshot, url, nil
}

// Abort cancels the upload. Local and durable records are removed regardless
// of the remote abort outcome so bookkeeping cannot get stuck.
func (r *Registry) Abort(ctx context.Context, ownerID int64, uploadID string) (*entity.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.lookupLocked(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}

	abortErr := r.uploader.AbortMultipart(ctx, session.Key, uploadID)
	session.Status = entity.UploadStatusAborted
	snapshot := session.Clone()
	r.removeLocked(ctx, uploadID)

	if abortErr != nil {
		return snapshot, fmt.Errorf("failed to abort multipart upload: %w", abortErr)
	}
	r.logger.Info("upload aborted", zap.String("upload_id", uploadID), zap.String("key", snapshot.Key))
	return snapshot, nil
}

// Status returns a snapshot of the session.
func (r *Registry) Status(ctx context.Context, ownerID int64, uploadID string) (*entity.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.lookupLocked(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// ListByOwner returns snapshots of every active session for the owner.
func (r *Registry) ListByOwner(ctx context.Context, ownerID int64) []*entity.UploadSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.UploadSession
	for _, s := range r.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	return out
}

// SweepExpired aborts and removes every session past its deadline. A failure
// on one session is logged and does not stop the sweep.
func (r *Registry) SweepExpired(ctx context.Context) []string {
	now := r.now()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	var swept []string
	for _, id := range expired {
		r.mu.Lock()
		session, ok := r.sessions[id]
		if !ok || !session.Expired(now) {
			r.mu.Unlock()
			continue
		}
		r.abortRemote(ctx, session)
		r.removeLocked(ctx, id)
		r.mu.Unlock()

		swept = append(swept, id)
		r.logger.Info("cleaned up expired upload", zap.String("upload_id", id), zap.String("key", session.Key))
	}
	return swept
}

// Run sweeps expired sessions on a fixed interval until the context is
// cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("upload session sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("upload session sweeper stopped")
			return
		case <-ticker.C:
			if swept := r.SweepExpired(ctx); len(swept) > 0 {
				r.logger.Info("swept expired uploads", zap.Int("count", len(swept)))
			}
		}
	}
}

// lookupLocked finds the session in the map, falling back to the durable
// mirror and backfilling the map on a hit. The registry lock must be held.
func (r *Registry) lookupLocked(ctx context.Context, ownerID int64, uploadID string) (*entity.UploadSession, error) {
	session, ok := r.sessions[uploadID]
	if !ok && r.mirror != nil {
		loaded, err := r.mirror.Load(ctx, uploadID)
		if err != nil {
			r.logger.Warn("cannot load upload session from durable store",
				zap.String("upload_id", uploadID), zap.Error(err))
		} else if loaded != nil {
			r.sessions[uploadID] = loaded
			session, ok = loaded, true
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	if session.OwnerID != ownerID {
		return nil, ErrNotAuthorized
	}
	return session, nil
}

// persist writes the session to the durable mirror. Mirror failures degrade
// to in-process-only tracking; they are logged, not propagated.
func (r *Registry) persist(ctx context.Context, session *entity.UploadSession) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Save(ctx, session); err != nil {
		r.logger.Warn("cannot persist upload session",
			zap.String("upload_id", session.UploadID), zap.Error(err))
	}
}

// removeLocked deletes the session from both tiers.
func (r *Registry) removeLocked(ctx context.Context, uploadID string) {
	delete(r.sessions, uploadID)
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Delete(ctx, uploadID); err != nil {
		r.logger.Warn("cannot delete upload session from durable store",
			zap.String("upload_id", uploadID), zap.Error(err))
	}
}

func (r *Registry) abortRemote(ctx context.Context, session *entity.UploadSession) {
	if err := r.uploader.AbortMultipart(ctx, session.Key, session.UploadID); err != nil {
		r.logger.Error("failed to abort multipart upload",
			zap.String("upload_id", session.UploadID), zap.Error(err))
	}
}
