package app

import "time"

type InitUploadRequest struct {
	CourseID  int64  `json:"course_id"`
	LectureID int64  `json:"lecture_id"`
	FileSize  int64  `json:"file_size"`
	FileType  string `json:"file_type"`
	Parts     int    `json:"parts"`
}

type InitUploadResponse struct {
	UploadID      string            `json:"upload_id"`
	PresignedURLs map[string]string `json:"presigned_urls"`
	Key           string            `json:"key"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

type ReportPartRequest struct {
	PartNumber int64  `json:"part_number"`
	ETag       string `json:"etag"`
}

type PartResponse struct {
	UploadID      string `json:"upload_id"`
	PartNumber    int64  `json:"part_number"`
	PartsReceived int    `json:"parts_received"`
	PartsExpected int    `json:"parts_expected"`
	Progress      string `json:"progress"`
}

type CompleteUploadResponse struct {
	Message   string `json:"message"`
	VideoURL  string `json:"video_url"`
	Key       string `json:"key"`
	CourseID  string `json:"course_id,omitempty"`
	LectureID string `json:"lecture_id,omitempty"`
}

type UploadStatusResponse struct {
	UploadID      string    `json:"upload_id"`
	Status        string    `json:"status"`
	Key           string    `json:"key"`
	PartsReceived int       `json:"parts_received"`
	PartsExpected int       `json:"parts_expected"`
	Progress      string    `json:"progress"`
	ProgressValue int       `json:"progress_value"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ActiveUploadsResponse struct {
	ActiveUploads map[string]UploadStatusResponse `json:"active_uploads"`
	Count         int                             `json:"count"`
}

type CleanupResponse struct {
	CleanedUploads []string `json:"cleaned_uploads"`
	Count          int      `json:"count"`
}

type InvalidateCacheRequest struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

type ObjectStatusResponse struct {
	Key    string `json:"key"`
	Exists bool   `json:"exists"`
}

type UploadObjectResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
