package app

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/cache"
	"github.com/tlong-ds/thelearninghouse/internal/domain/repository"
	"github.com/tlong-ds/thelearninghouse/internal/upload"
)

type appHandler struct {
	logger *zap.Logger
	fn     func(http.ResponseWriter, *http.Request) error
}

func (h appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.fn(w, r)
	if err == nil {
		return
	}
	if e := toAppError(err); e != nil {
		h.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("code", e.Code),
			zap.Error(err))
		replyJSON(w, e, e.Code)
		return
	}
	h.logger.Error("internal server error", zap.String("path", r.URL.Path), zap.Error(err))
	replyJSON(w, &AppError{http.StatusInternalServerError, "internal server error"}, http.StatusInternalServerError)
}

// Register API endpoints to the router.
func SetupRoutes(r *mux.Router, registry *upload.Registry, store *cache.Cache, uploader repository.Uploader, tokens TokenDecoder, logger *zap.Logger) {
	c := &controller{registry, store, uploader, tokens, logger}
	h := func(fn func(http.ResponseWriter, *http.Request) error) http.Handler {
		return appHandler{logger, fn}
	}

	r.Use(requestID)

	r.Methods("POST").Path("/v1/uploads").Handler(h(c.initUpload))
	r.Methods("POST").Path("/v1/uploads/cleanup").Handler(h(c.cleanupUploads))
	r.Methods("GET").Path("/v1/uploads").Handler(h(c.listUploads))
	r.Methods("POST").Path("/v1/uploads/{id}/parts").Handler(h(c.reportPart))
	r.Methods("PUT").Path("/v1/uploads/{id}/parts/{number}").Handler(h(c.uploadPart))
	r.Methods("POST").Path("/v1/uploads/{id}/complete").Handler(h(c.completeUpload))
	r.Methods("POST").Path("/v1/uploads/{id}/abort").Handler(h(c.abortUpload))
	r.Methods("GET").Path("/v1/uploads/{id}").Handler(h(c.uploadStatus))

	r.Methods("POST").Path("/v1/storage/objects").Handler(h(c.uploadObject))
	r.Methods("GET").Path("/v1/storage/objects").Handler(h(c.objectStatus))

	r.Methods("GET").Path("/v1/cache/metrics").Handler(h(c.cacheMetrics))
	r.Methods("POST").Path("/v1/cache/metrics/reset").Handler(h(c.resetCacheMetrics))
	r.Methods("POST").Path("/v1/cache/invalidate").Handler(h(c.invalidateCache))
}

// requestID tags every request with an identifier for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Parse incoming request body as JSON object.
func parseJSON(w http.ResponseWriter, r *http.Request, data interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return &AppError{http.StatusBadRequest, "cannot parse JSON from request body"}
	}
	return nil
}

// Respond the output with JSON format to the client.
func replyJSON(w http.ResponseWriter, data interface{}, code int) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return err
	}
	return nil
}
