package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/auth"
	"github.com/tlong-ds/thelearninghouse/internal/cache"
	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
	"github.com/tlong-ds/thelearninghouse/internal/upload"
)

// Bearer tokens recognized by the stub decoder.
const (
	tokenInstructor = "instructor-token"
	tokenOther      = "other-instructor-token"
	tokenStudent    = "student-token"
	tokenAdmin      = "admin-token"
)

type stubTokens struct{}

func (stubTokens) Decode(token string) (*auth.Claims, error) {
	switch token {
	case tokenInstructor:
		return &auth.Claims{UserID: 7, Username: "lecturer", Role: auth.RoleInstructor}, nil
	case tokenOther:
		return &auth.Claims{UserID: 8, Username: "other", Role: auth.RoleInstructor}, nil
	case tokenStudent:
		return &auth.Claims{UserID: 9, Username: "student", Role: "Learner"}, nil
	case tokenAdmin:
		return &auth.Claims{UserID: 1, Username: "admin", Role: auth.RoleInstructor}, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeUploader struct {
	mu             sync.Mutex
	created        int
	completedParts []entity.Part
}

func (u *fakeUploader) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.created++
	return fmt.Sprintf("upload-%d", u.created), nil
}

func (u *fakeUploader) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int64, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example.com/%s/%d", uploadID, partNumber), nil
}

func (u *fakeUploader) UploadPart(ctx context.Context, key, uploadID string, body []byte, length, partNumber int64) (*entity.Part, error) {
	return &entity.Part{ETag: fmt.Sprintf("etag-%d", partNumber), PartNumber: partNumber}, nil
}

func (u *fakeUploader) CompleteMultipart(ctx context.Context, key, uploadID string, parts []entity.Part) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.completedParts = parts
	return "https://tlhmaterials.s3-ap-southeast-1.amazonaws.com/" + key, nil
}

func (u *fakeUploader) AbortMultipart(ctx context.Context, key, uploadID string) error { return nil }

func (u *fakeUploader) SimpleUpload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	return "https://tlhmaterials.s3-ap-southeast-1.amazonaws.com/" + key, nil
}

func (u *fakeUploader) Exists(ctx context.Context, key string) (bool, error) {
	return strings.HasSuffix(key, "exists.mp4"), nil
}

// fakeKV backs the cache facade so invalidation side effects are observable.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string][]byte)} }

func (s *fakeKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeKV) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *fakeKV) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *fakeKV) Scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	return 0, keys, nil
}

func (s *fakeKV) Ping(ctx context.Context) error { return nil }

func (s *fakeKV) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type testServer struct {
	router   *mux.Router
	uploader *fakeUploader
	kv       *fakeKV
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	uploader := &fakeUploader{}
	kv := newFakeKV()
	registry := upload.NewRegistry(uploader, nil, logger)
	router := mux.NewRouter()
	SetupRoutes(router, registry, cache.New(kv, logger), uploader, stubTokens{}, logger)
	return &testServer{router: router, uploader: uploader, kv: kv}
}

func (s *testServer) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("cannot marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) initUpload(t *testing.T, token string) InitUploadResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/uploads", token, InitUploadRequest{
		CourseID: 1, LectureID: 1, FileSize: 25 << 20, FileType: "video/mp4", Parts: 5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("init upload returned %d: %s", w.Code, w.Body)
	}
	var res InitUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("cannot decode init response: %v", err)
	}
	return res
}

func TestInitUpload(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	if res.UploadID == "" {
		t.Error("expected an upload ID")
	}
	if res.Key != "videos/cid1/lid1/vid_lecture.mp4" {
		t.Errorf("key = %q, want the lecture video key", res.Key)
	}
	if len(res.PresignedURLs) != 5 {
		t.Errorf("got %d presigned URLs, want 5", len(res.PresignedURLs))
	}
}

func TestInitUploadValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body InitUploadRequest
	}{
		{"missing course", InitUploadRequest{LectureID: 1, FileSize: 100, Parts: 1}},
		{"missing lecture", InitUploadRequest{CourseID: 1, FileSize: 100, Parts: 1}},
		{"zero parts", InitUploadRequest{CourseID: 1, LectureID: 1, FileSize: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/v1/uploads", tokenInstructor, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("got %d, want 400", w.Code)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"invalid token", "garbage", http.StatusUnauthorized},
		{"wrong role", tokenStudent, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/uploads", tt.token, InitUploadRequest{
				CourseID: 1, LectureID: 1, FileSize: 100, Parts: 1,
			})
			if w.Code != tt.want {
				t.Errorf("got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestReportPart(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/parts", tokenInstructor,
		ReportPartRequest{PartNumber: 1, ETag: "etag-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var part PartResponse
	if err := json.Unmarshal(w.Body.Bytes(), &part); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if part.PartsReceived != 1 || part.PartsExpected != 5 {
		t.Errorf("progress %d/%d, want 1/5", part.PartsReceived, part.PartsExpected)
	}
	if part.Progress != "20%" {
		t.Errorf("progress = %q, want \"20%%\"", part.Progress)
	}
}

func TestReportPartOwnership(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/parts", tokenOther,
		ReportPartRequest{PartNumber: 1, ETag: "etag-1"})
	if w.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403 for a foreign session", w.Code)
	}
}

func TestCompleteUpload(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	// Cached reads that reference the lecture must be invalidated on completion.
	s.kv.SetEx(context.Background(), "lectures:id:1:info", []byte("stale"), time.Minute)
	s.kv.SetEx(context.Background(), "courses:id:1:info", []byte("stale"), time.Minute)
	s.kv.SetEx(context.Background(), "courses:id:2:info", []byte("fresh"), time.Minute)

	for _, n := range []int64{3, 1, 5, 2, 4} {
		w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/parts", tokenInstructor,
			ReportPartRequest{PartNumber: n, ETag: fmt.Sprintf("etag-%d", n)})
		if w.Code != http.StatusOK {
			t.Fatalf("report part %d returned %d: %s", n, w.Code, w.Body)
		}
	}

	w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/complete", tokenInstructor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var done CompleteUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &done); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if !strings.Contains(done.VideoURL, res.Key) {
		t.Errorf("video URL %q must contain the object key", done.VideoURL)
	}

	for i, part := range s.uploader.completedParts {
		if part.PartNumber != int64(i+1) {
			t.Errorf("completed part %d has number %d, want ascending order", i, part.PartNumber)
		}
	}

	if s.kv.has("lectures:id:1:info") || s.kv.has("courses:id:1:info") {
		t.Error("cached lecture and course reads must be invalidated on completion")
	}
	if !s.kv.has("courses:id:2:info") {
		t.Error("unrelated cache entries must survive")
	}

	// The session is gone once completed.
	if w := s.do(t, http.MethodGet, "/v1/uploads/"+res.UploadID, tokenInstructor, nil); w.Code != http.StatusNotFound {
		t.Errorf("status after completion returned %d, want 404", w.Code)
	}
}

func TestCompleteIncompleteUpload(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/complete", tokenInstructor, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 with missing parts", w.Code)
	}
	if !strings.Contains(w.Body.String(), "expected 5") {
		t.Errorf("error body %q must name the expected part count", w.Body)
	}
}

func TestAbortUpload(t *testing.T) {
	s := newTestServer(t)
	res := s.initUpload(t, tokenInstructor)

	if w := s.do(t, http.MethodPost, "/v1/uploads/"+res.UploadID+"/abort", tokenInstructor, nil); w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodGet, "/v1/uploads/"+res.UploadID, tokenInstructor, nil); w.Code != http.StatusNotFound {
		t.Errorf("status after abort returned %d, want 404", w.Code)
	}
}

func TestListUploads(t *testing.T) {
	s := newTestServer(t)
	s.initUpload(t, tokenInstructor)
	s.initUpload(t, tokenInstructor)
	s.initUpload(t, tokenOther)

	w := s.do(t, http.MethodGet, "/v1/uploads", tokenInstructor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var res ActiveUploadsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("count = %d, want only the caller's sessions", res.Count)
	}
}

func TestCleanupRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodPost, "/v1/uploads/cleanup", tokenInstructor, nil); w.Code != http.StatusForbidden {
		t.Errorf("non-admin cleanup returned %d, want 403", w.Code)
	}

	w := s.do(t, http.MethodPost, "/v1/uploads/cleanup", tokenAdmin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var res CleanupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if res.Count != 0 || res.CleanedUploads == nil {
		t.Errorf("expected an empty cleanup report, got %+v", res)
	}
}

func TestObjectStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/storage/objects?key=videos/exists.mp4", tokenInstructor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var res ObjectStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if !res.Exists {
		t.Error("expected the object to exist")
	}

	if w := s.do(t, http.MethodGet, "/v1/storage/objects", tokenInstructor, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing key returned %d, want 400", w.Code)
	}
}

func TestInvalidateCache(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.kv.SetEx(ctx, "courses:id:1:info", []byte("x"), time.Minute)
	s.kv.SetEx(ctx, "courses:id:2:info", []byte("x"), time.Minute)
	s.kv.SetEx(ctx, "lectures:id:1:info", []byte("x"), time.Minute)

	if w := s.do(t, http.MethodPost, "/v1/cache/invalidate", tokenInstructor, InvalidateCacheRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty request returned %d, want 400", w.Code)
	}

	w := s.do(t, http.MethodPost, "/v1/cache/invalidate", tokenInstructor, InvalidateCacheRequest{
		Keys:    []string{"lectures:id:1:info"},
		Pattern: "courses:id:*",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	for _, key := range []string{"courses:id:1:info", "courses:id:2:info", "lectures:id:1:info"} {
		if s.kv.has(key) {
			t.Errorf("key %s must be gone", key)
		}
	}
}

func TestCacheMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/cache/metrics", tokenInstructor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body)
	}
	var snap cache.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("cannot decode snapshot: %v", err)
	}

	if w := s.do(t, http.MethodPost, "/v1/cache/metrics/reset", tokenInstructor, nil); w.Code != http.StatusOK {
		t.Errorf("reset returned %d, want 200", w.Code)
	}
}
