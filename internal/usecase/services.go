package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"request-recorder/internal/domain"
)

const (
	rootKey          = "data"
	sessionKeyPrefix = "session_"
	cacheExpiry      = time.Minute
)

type rootBlob struct {
	Sessions []domain.CaptureSession `json:"sessions"`
	Settings Settings                `json:"settings"`
}

type requestsCacheEntry struct {
	requests []domain.CapturedRequest
	loadedAt time.Time
}

// SessionService is the system of record for sessions and their captured
// requests, layered over an atomic per-key BlobStore. All read-modify-write
// cycles are serialized by a single mutex since the store has no cross-key
// transactions.
type SessionService struct {
	mu    sync.Mutex
	store BlobStore

	cacheMu sync.Mutex
	cache   map[string]requestsCacheEntry
}

func NewSessionService(store BlobStore) *SessionService {
	return &SessionService{store: store, cache: make(map[string]requestsCacheEntry)}
}

// Init ensures the root blob exists with default settings.
func (s *SessionService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	if root.Settings.Pagination.PageSize == 0 {
		root.Settings.Pagination = Pagination{Page: 0, PageSize: 50}
		return s.saveRoot(ctx, root)
	}
	return nil
}

func (s *SessionService) loadRoot(ctx context.Context) (rootBlob, error) {
	var root rootBlob
	blob, ok, err := s.store.Get(ctx, rootKey)
	if err != nil {
		return root, fmt.Errorf("load session index: %w", err)
	}
	if ok {
		if err := json.Unmarshal(blob, &root); err != nil {
			return root, fmt.Errorf("decode session index: %w", err)
		}
	}
	if root.Sessions == nil {
		root.Sessions = []domain.CaptureSession{}
	}
	return root, nil
}

func (s *SessionService) saveRoot(ctx context.Context, root rootBlob) error {
	blob, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode session index: %w", err)
	}
	return s.store.Set(ctx, rootKey, blob)
}

func (s *SessionService) Sessions(ctx context.Context) ([]domain.CaptureSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return nil, err
	}
	return root.Sessions, nil
}

func (s *SessionService) GetSession(ctx context.Context, id string) (domain.CaptureSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return domain.CaptureSession{}, false, err
	}
	for _, sess := range root.Sessions {
		if sess.ID == id {
			return sess, true, nil
		}
	}
	return domain.CaptureSession{}, false, nil
}

func (s *SessionService) CreateSession(ctx context.Context, sess domain.CaptureSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	root.Sessions = append(root.Sessions, sess)
	return s.saveRoot(ctx, root)
}

// UpdateSession replaces the stored session with the same id. Unknown ids are
// a no-op so late updates after a delete do not resurrect sessions.
func (s *SessionService) UpdateSession(ctx context.Context, sess domain.CaptureSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	for i := range root.Sessions {
		if root.Sessions[i].ID == sess.ID {
			root.Sessions[i] = sess
			return s.saveRoot(ctx, root)
		}
	}
	return nil
}

func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	return s.DeleteSessions(ctx, []string{id})
}

func (s *SessionService) DeleteSessions(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := root.Sessions[:0]
	for _, sess := range root.Sessions {
		if _, gone := drop[sess.ID]; gone {
			if err := s.store.Delete(ctx, sessionKeyPrefix+sess.ID); err != nil {
				return fmt.Errorf("delete session %s requests: %w", sess.ID, err)
			}
			s.invalidate(sess.ID)
			continue
		}
		kept = append(kept, sess)
	}
	root.Sessions = kept
	return s.saveRoot(ctx, root)
}

// ClearAll removes every session and its request list, keeping settings.
func (s *SessionService) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	for _, sess := range root.Sessions {
		if err := s.store.Delete(ctx, sessionKeyPrefix+sess.ID); err != nil {
			return fmt.Errorf("delete session %s requests: %w", sess.ID, err)
		}
		s.invalidate(sess.ID)
	}
	root.Sessions = []domain.CaptureSession{}
	return s.saveRoot(ctx, root)
}

func (s *SessionService) loadRequests(ctx context.Context, sessionID string) ([]domain.CapturedRequest, error) {
	blob, ok, err := s.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s requests: %w", sessionID, err)
	}
	if !ok {
		return []domain.CapturedRequest{}, nil
	}
	var requests []domain.CapturedRequest
	if err := json.Unmarshal(blob, &requests); err != nil {
		return nil, fmt.Errorf("decode session %s requests: %w", sessionID, err)
	}
	return requests, nil
}

func (s *SessionService) saveRequests(ctx context.Context, sessionID string, requests []domain.CapturedRequest) error {
	blob, err := json.Marshal(requests)
	if err != nil {
		return fmt.Errorf("encode session %s requests: %w", sessionID, err)
	}
	if err := s.store.Set(ctx, sessionKeyPrefix+sessionID, blob); err != nil {
		return err
	}
	s.cacheMu.Lock()
	s.cache[sessionID] = requestsCacheEntry{requests: requests, loadedAt: time.Now()}
	s.cacheMu.Unlock()
	return nil
}

func (s *SessionService) cachedRequests(sessionID string) ([]domain.CapturedRequest, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for id, e := range s.cache {
		if time.Since(e.loadedAt) > cacheExpiry {
			delete(s.cache, id)
		}
	}
	e, ok := s.cache[sessionID]
	if !ok {
		return nil, false
	}
	return e.requests, true
}

func (s *SessionService) invalidate(sessionID string) {
	s.cacheMu.Lock()
	delete(s.cache, sessionID)
	s.cacheMu.Unlock()
}

// AppendRequest appends one record to the session's list and returns the new
// list length. The caller (the persister) updates the session requestCount
// once per batch, not per record.
func (s *SessionService) AppendRequest(ctx context.Context, sessionID string, rec domain.CapturedRequest) (int, error) {
	if rec.ID == "" || rec.URL == "" || rec.Method == "" {
		return 0, fmt.Errorf("invalid request record: id=%q url=%q method=%q", rec.ID, rec.URL, rec.Method)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	requests, err := s.loadRequests(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	requests = append(requests, rec)
	if err := s.saveRequests(ctx, sessionID, requests); err != nil {
		return 0, err
	}
	return len(requests), nil
}

// SetRequestCount records the persisted request total on the session index.
func (s *SessionService) SetRequestCount(ctx context.Context, sessionID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	for i := range root.Sessions {
		if root.Sessions[i].ID == sessionID {
			root.Sessions[i].RequestCount = count
			return s.saveRoot(ctx, root)
		}
	}
	return nil
}

// SessionRequests lists a session's records, newest first, optionally
// filtered by a text search and sliced by pagination. Returns the filtered
// total alongside the page.
func (s *SessionService) SessionRequests(ctx context.Context, sessionID string, p *Pagination, q *Search) ([]domain.CapturedRequest, int, error) {
	requests, ok := s.cachedRequests(sessionID)
	if !ok {
		s.mu.Lock()
		var err error
		requests, err = s.loadRequests(ctx, sessionID)
		if err != nil {
			s.mu.Unlock()
			return nil, 0, err
		}
		s.cacheMu.Lock()
		s.cache[sessionID] = requestsCacheEntry{requests: requests, loadedAt: time.Now()}
		s.cacheMu.Unlock()
		s.mu.Unlock()
	}

	out := make([]domain.CapturedRequest, len(requests))
	copy(out, requests)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })

	if q != nil && q.Query != "" {
		filtered := out[:0]
		for _, rec := range out {
			if matchesSearch(rec, *q) {
				filtered = append(filtered, rec)
			}
		}
		out = filtered
	}
	total := len(out)

	if p != nil {
		pageSize := p.PageSize
		if pageSize < 1 {
			pageSize = 1
		}
		page := p.Page
		if page < 0 {
			page = 0
		}
		start := page * pageSize
		if start >= total {
			return []domain.CapturedRequest{}, total, nil
		}
		end := start + pageSize
		if end > total {
			end = total
		}
		out = out[start:end]
	}
	return out, total, nil
}

// DeleteRequests removes records by logical id and refreshes the session's
// requestCount.
func (s *SessionService) DeleteRequests(ctx context.Context, sessionID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests, err := s.loadRequests(ctx, sessionID)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := requests[:0]
	for _, rec := range requests {
		if _, gone := drop[rec.ID]; !gone {
			kept = append(kept, rec)
		}
	}
	if err := s.saveRequests(ctx, sessionID, kept); err != nil {
		return err
	}
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	for i := range root.Sessions {
		if root.Sessions[i].ID == sessionID {
			root.Sessions[i].RequestCount = len(kept)
			return s.saveRoot(ctx, root)
		}
	}
	return nil
}

// GetRequest finds one record by logical id within a session.
func (s *SessionService) GetRequest(ctx context.Context, sessionID, requestID string) (domain.CapturedRequest, bool, error) {
	requests, _, err := s.SessionRequests(ctx, sessionID, nil, nil)
	if err != nil {
		return domain.CapturedRequest{}, false, err
	}
	for _, rec := range requests {
		if rec.ID == requestID {
			return rec, true, nil
		}
	}
	return domain.CapturedRequest{}, false, nil
}

func (s *SessionService) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return Settings{}, err
	}
	return root.Settings, nil
}

func (s *SessionService) UpdateSettings(ctx context.Context, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := s.loadRoot(ctx)
	if err != nil {
		return err
	}
	root.Settings = settings
	return s.saveRoot(ctx, root)
}

func matchesSearch(rec domain.CapturedRequest, q Search) bool {
	needle := strings.ToLower(q.Query)
	if q.Fields.URL && strings.Contains(strings.ToLower(rec.URL), needle) {
		return true
	}
	if q.Fields.RequestHeaders && jsonContains(rec.RequestHeaders, needle) {
		return true
	}
	if q.Fields.RequestBody && rec.RequestBody != nil && jsonContains(rec.RequestBody, needle) {
		return true
	}
	if q.Fields.ResponseHeaders && jsonContains(rec.ResponseHeaders, needle) {
		return true
	}
	if q.Fields.ResponseBody && rec.Response != nil && jsonContains(rec.Response, needle) {
		return true
	}
	return false
}

func jsonContains(v any, needle string) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(b)), needle)
}
