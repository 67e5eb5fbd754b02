package app

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/auth"
	"github.com/tlong-ds/thelearninghouse/internal/cache"
	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
	"github.com/tlong-ds/thelearninghouse/internal/domain/repository"
	"github.com/tlong-ds/thelearninghouse/internal/httprange"
	"github.com/tlong-ds/thelearninghouse/internal/upload"
)

const (
	maxRequestSize     = 1 << 20
	minUploadChunkSize = 256 << 10
	maxUploadChunkSize = 5 << 20

	// The principal allowed to trigger maintenance operations.
	adminUserID = 1
)

// TokenDecoder extracts the authenticated principal from a bearer token.
type TokenDecoder interface {
	Decode(token string) (*auth.Claims, error)
}

type controller struct {
	registry *upload.Registry
	cache    *cache.Cache
	uploader repository.Uploader
	tokens   TokenDecoder
	logger   *zap.Logger
}

// instructor authenticates the request and requires the instructor role.
func (c *controller) instructor(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, &AppError{http.StatusUnauthorized, "authentication required"}
	}
	claims, err := c.tokens.Decode(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}
	if claims.Role != auth.RoleInstructor {
		return nil, &AppError{http.StatusForbidden, "only instructors can upload files"}
	}
	return claims, nil
}

// Generate the storage key for a lecture video.
func lectureVideoKey(courseID, lectureID int64) string {
	return fmt.Sprintf("videos/cid%d/lid%d/vid_lecture.mp4", courseID, lectureID)
}

// Initialize a multipart upload for a lecture video and hand the client one
// presigned URL per part.
func (c *controller) initUpload(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	var data InitUploadRequest
	if err := parseJSON(w, r, &data); err != nil {
		return err
	}
	if data.CourseID <= 0 || data.LectureID <= 0 {
		return &AppError{http.StatusBadRequest, "course_id and lecture_id must be provided"}
	}
	if data.Parts <= 0 {
		return &AppError{http.StatusBadRequest, "parts must be positive"}
	}

	key := lectureVideoKey(data.CourseID, data.LectureID)
	metadata := map[string]string{
		"course_id":  strconv.FormatInt(data.CourseID, 10),
		"lecture_id": strconv.FormatInt(data.LectureID, 10),
	}
	res, err := c.registry.Init(r.Context(), claims.UserID, key, data.FileType, data.FileSize, data.Parts, metadata)
	if err != nil {
		return err
	}
	return replyJSON(w, InitUploadResponse{
		UploadID:      res.UploadID,
		PresignedURLs: res.PresignedURLs,
		Key:           res.Key,
		ExpiresAt:     res.ExpiresAt,
	}, http.StatusOK)
}

// Acknowledge a part the client uploaded directly through a presigned URL.
func (c *controller) reportPart(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	uploadID := mux.Vars(r)["id"]
	var data ReportPartRequest
	if err := parseJSON(w, r, &data); err != nil {
		return err
	}
	if data.PartNumber <= 0 || data.ETag == "" {
		return &AppError{http.StatusBadRequest, "part_number and etag must be provided"}
	}

	session, err := c.registry.ReportPart(r.Context(), claims.UserID, uploadID, data.PartNumber, data.ETag)
	if err != nil {
		return err
	}
	return replyJSON(w, partResponse(session, data.PartNumber), http.StatusOK)
}

// Upload a part through the backend instead of a presigned URL. The part body
// is relayed to the remote storage and acknowledged in one step.
func (c *controller) uploadPart(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	vars := mux.Vars(r)
	uploadID := vars["id"]
	partNumber, err := strconv.ParseInt(vars["number"], 10, 64)
	if err != nil || partNumber <= 0 {
		return &AppError{http.StatusBadRequest, "part number must be a positive integer"}
	}
	length, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return &AppError{http.StatusBadRequest, fmt.Sprintf("cannot parse Content-Length header: %v", err)}
	}
	if length < minUploadChunkSize || length > maxUploadChunkSize {
		return &AppError{http.StatusBadRequest, fmt.Sprintf("size must between %d and %d bytes", minUploadChunkSize, maxUploadChunkSize)}
	}

	session, err := c.registry.Status(r.Context(), claims.UserID, uploadID)
	if err != nil {
		return err
	}
	// Validate the Content-Range header against the session when present.
	if h := r.Header.Get("Content-Range"); h != "" {
		cr, err := httprange.ParseContentRange(h)
		if err != nil {
			return &AppError{http.StatusBadRequest, err.Error()}
		}
		if length != cr.Length() {
			return &AppError{http.StatusBadRequest, "invalid length of Content-Range header"}
		}
		if cr.Size != session.TotalSize {
			return &AppError{http.StatusBadRequest, "invalid size of Content-Range header"}
		}
	}

	buf := new(bytes.Buffer)
	written, err := io.Copy(buf, http.MaxBytesReader(w, r.Body, maxUploadChunkSize))
	if err != nil {
		return fmt.Errorf("failed to read part body: %w", err)
	}
	part, err := c.uploader.UploadPart(r.Context(), session.Key, uploadID, buf.Bytes(), written, partNumber)
	if err != nil {
		return fmt.Errorf("failed to upload part to remote storage: %w", err)
	}
	session, err = c.registry.ReportPart(r.Context(), claims.UserID, uploadID, partNumber, part.ETag)
	if err != nil {
		return err
	}
	return replyJSON(w, partResponse(session, partNumber), http.StatusOK)
}

// Complete the multipart upload and invalidate cached course and lecture
// reads that now reference stale video state.
func (c *controller) completeUpload(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	uploadID := mux.Vars(r)["id"]

	session, url, err := c.registry.Complete(r.Context(), claims.UserID, uploadID)
	if err != nil {
		return err
	}

	courseID := session.Metadata["course_id"]
	lectureID := session.Metadata["lecture_id"]
	if lectureID != "" {
		c.cache.InvalidatePattern(r.Context(), fmt.Sprintf("lectures:id:%s:*", lectureID))
	}
	if courseID != "" {
		c.cache.InvalidatePattern(r.Context(), fmt.Sprintf("courses:id:%s:*", courseID))
	}

	return replyJSON(w, CompleteUploadResponse{
		Message:   "Upload completed successfully",
		VideoURL:  url,
		Key:       session.Key,
		CourseID:  courseID,
		LectureID: lectureID,
	}, http.StatusOK)
}

// Abort the multipart upload and discard its session.
func (c *controller) abortUpload(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	uploadID := mux.Vars(r)["id"]
	if _, err := c.registry.Abort(r.Context(), claims.UserID, uploadID); err != nil {
		return err
	}
	return replyJSON(w, MessageResponse{"Upload aborted successfully"}, http.StatusOK)
}

// Get the progress of an in-flight upload.
func (c *controller) uploadStatus(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	session, err := c.registry.Status(r.Context(), claims.UserID, mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return replyJSON(w, statusResponse(session), http.StatusOK)
}

// List the caller's active uploads.
func (c *controller) listUploads(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	sessions := c.registry.ListByOwner(r.Context(), claims.UserID)
	active := make(map[string]UploadStatusResponse, len(sessions))
	for _, s := range sessions {
		active[s.UploadID] = statusResponse(s)
	}
	return replyJSON(w, ActiveUploadsResponse{ActiveUploads: active, Count: len(active)}, http.StatusOK)
}

// Sweep expired uploads immediately. Restricted to the admin principal; the
// background sweeper performs the same work on a schedule.
func (c *controller) cleanupUploads(w http.ResponseWriter, r *http.Request) error {
	claims, err := c.instructor(r)
	if err != nil {
		return err
	}
	if claims.UserID != adminUserID {
		return &AppError{http.StatusForbidden, "only system admin can perform this operation"}
	}
	swept := c.registry.SweepExpired(r.Context())
	if swept == nil {
		swept = []string{}
	}
	return replyJSON(w, CleanupResponse{CleanedUploads: swept, Count: len(swept)}, http.StatusOK)
}

// Upload a small file (course image, attachment) in a single request.
func (c *controller) uploadObject(w http.ResponseWriter, r *http.Request) error {
	_, err := c.instructor(r)
	if err != nil {
		return err
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		return &AppError{http.StatusBadRequest, "key must be required"}
	}
	contentType := r.Header.Get("Content-Type")

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, http.MaxBytesReader(w, r.Body, maxUploadChunkSize)); err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	url, err := c.uploader.SimpleUpload(r.Context(), key, contentType, buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to upload object to remote storage: %w", err)
	}
	return replyJSON(w, UploadObjectResponse{Key: key, URL: url}, http.StatusOK)
}

// Check whether an object exists in the remote storage.
func (c *controller) objectStatus(w http.ResponseWriter, r *http.Request) error {
	if _, err := c.instructor(r); err != nil {
		return err
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		return &AppError{http.StatusBadRequest, "key must be required"}
	}
	exists, err := c.uploader.Exists(r.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to check object status: %w", err)
	}
	return replyJSON(w, ObjectStatusResponse{Key: key, Exists: exists}, http.StatusOK)
}

// Report cache hit/miss and compression counters.
func (c *controller) cacheMetrics(w http.ResponseWriter, r *http.Request) error {
	if _, err := c.instructor(r); err != nil {
		return err
	}
	return replyJSON(w, c.cache.Metrics(), http.StatusOK)
}

// Zero the cache counters.
func (c *controller) resetCacheMetrics(w http.ResponseWriter, r *http.Request) error {
	if _, err := c.instructor(r); err != nil {
		return err
	}
	c.cache.ResetMetrics()
	return replyJSON(w, MessageResponse{"Cache metrics reset"}, http.StatusOK)
}

// Invalidate cache entries by explicit keys or by glob pattern.
func (c *controller) invalidateCache(w http.ResponseWriter, r *http.Request) error {
	if _, err := c.instructor(r); err != nil {
		return err
	}
	var data InvalidateCacheRequest
	if err := parseJSON(w, r, &data); err != nil {
		return err
	}
	if len(data.Keys) == 0 && data.Pattern == "" {
		return &AppError{http.StatusBadRequest, "keys or pattern must be provided"}
	}
	if len(data.Keys) > 0 {
		c.cache.Invalidate(r.Context(), data.Keys...)
	}
	if data.Pattern != "" {
		c.cache.InvalidatePattern(r.Context(), data.Pattern)
	}
	return replyJSON(w, MessageResponse{"Cache invalidated"}, http.StatusOK)
}

func partResponse(session *entity.UploadSession, partNumber int64) PartResponse {
	return PartResponse{
		UploadID:      session.UploadID,
		PartNumber:    partNumber,
		PartsReceived: session.PartsReceived(),
		PartsExpected: session.PartsExpected,
		Progress:      fmt.Sprintf("%d%%", session.Progress()),
	}
}

func statusResponse(session *entity.UploadSession) UploadStatusResponse {
	return UploadStatusResponse{
		UploadID:      session.UploadID,
		Status:        session.Status,
		Key:           session.Key,
		PartsReceived: session.PartsReceived(),
		PartsExpected: session.PartsExpected,
		Progress:      fmt.Sprintf("%d%%", session.Progress()),
		ProgressValue: session.Progress(),
		CreatedAt:     session.CreatedAt,
		ExpiresAt:     session.ExpiresAt,
	}
}
