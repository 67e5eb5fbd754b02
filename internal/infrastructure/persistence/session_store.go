package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tlong-ds/thelearninghouse/internal/domain/entity"
	"github.com/tlong-ds/thelearninghouse/internal/domain/repository"
)

const (
	sessionKeyPrefix = "multipart_upload:"
	partKeyPrefix    = "multipart_upload_part:"
	scanBatchSize    = 100
)

// Records already past their deadline are kept around briefly so the sweeper
// can still find and abort them.
const expiredRecordGrace = time.Minute

// CachedSessionStore mirrors upload sessions into the key-value store. The
// session record and its parts are kept under separate keys:
//
//	multipart_upload:{upload_id}                 -> session JSON (without parts)
//	multipart_upload_part:{upload_id}:{number}   -> part ETag
type CachedSessionStore struct {
	store repository.Store
}

func NewCachedSessionStore(store repository.Store) *CachedSessionStore {
	return &CachedSessionStore{store}
}

// Save an upload session and its acknowledged parts to the store. Records
// expire with the session so stale state cleans itself up.
func (s *CachedSessionStore) Save(ctx context.Context, session *entity.UploadSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = expiredRecordGrace
	}

	record := *session
	record.Parts = nil
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("cannot marshal upload session: %w", err)
	}
	if err := s.store.SetEx(ctx, sessionKeyPrefix+session.UploadID, data, ttl); err != nil {
		return err
	}
	for _, part := range session.Parts {
		key := partKey(session.UploadID, part.PartNumber)
		if err := s.store.SetEx(ctx, key, []byte(part.ETag), ttl); err != nil {
			return err
		}
	}
	return nil
}

// Get the upload session by the upload ID, or nil when absent.
func (s *CachedSessionStore) Load(ctx context.Context, uploadID string) (*entity.UploadSession, error) {
	data, ok, err := s.store.Get(ctx, sessionKeyPrefix+uploadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var session entity.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("cannot unmarshal upload session %s: %w", uploadID, err)
	}

	keys, err := s.scanKeys(ctx, partKeyPrefix+uploadID+":*")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		number, err := strconv.ParseInt(key[strings.LastIndex(key, ":")+1:], 10, 64)
		if err != nil {
			continue
		}
		etag, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			session.SetPart(number, string(etag))
		}
	}
	return &session, nil
}

// Remove the upload session and its part records.
func (s *CachedSessionStore) Delete(ctx context.Context, uploadID string) error {
	if err := s.store.Del(ctx, sessionKeyPrefix+uploadID); err != nil {
		return err
	}
	keys, err := s.scanKeys(ctx, partKeyPrefix+uploadID+":*")
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return s.store.Del(ctx, keys...)
	}
	return nil
}

// List every persisted upload session.
func (s *CachedSessionStore) List(ctx context.Context) ([]*entity.UploadSession, error) {
	keys, err := s.scanKeys(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	sessions := make([]*entity.UploadSession, 0, len(keys))
	for _, key := range keys {
		session, err := s.Load(ctx, strings.TrimPrefix(key, sessionKeyPrefix))
		if err != nil {
			return nil, err
		}
		if session != nil {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// scanKeys collects every key matching the pattern using incremental cursor
// scans, never a blocking full-keyspace listing.
func (s *CachedSessionStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		next, batch, err := s.store.Scan(ctx, cursor, pattern, scanBatchSize)
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func partKey(uploadID string, partNumber int64) string {
	return fmt.Sprintf("%s%s:%d", partKeyPrefix, uploadID, partNumber)
}
