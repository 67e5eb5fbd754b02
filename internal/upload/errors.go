package upload

import "errors"

var (
	// ErrNotFound reports that no session exists for the upload ID.
	ErrNotFound = errors.New("upload session not found")
	// ErrExpired reports that the session passed its deadline; the client
	// must restart the upload.
	ErrExpired = errors.New("upload session expired")
	// ErrNotAuthorized reports an owner mismatch. It deliberately carries no
	// detail about the session.
	ErrNotAuthorized = errors.New("not authorized to access this upload")
	// ErrIncomplete reports a completion attempt before every expected part
	// was acknowledged.
	ErrIncomplete = errors.New("not all parts received")
)
