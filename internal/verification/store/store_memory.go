// Package store persists verifier-side records: request objects,
// verification sessions, and verification responses. All three are swept by
// the cleanup worker, unlike the issuance store which expires lazily.
package store

import (
	"context"
	"sync"
	"time"

	"attesto/internal/credential"
	"attesto/internal/verification/models"
	dErrors "attesto/pkg/domain-errors"
)

// ErrNotFound is returned when a requested record is not found in the store.
// Services should check for this error using errors.Is(err, store.ErrNotFound).
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// ErrTerminal is returned when Complete or Fail targets a session that has
// already completed or failed. Terminal sessions accept no transitions.
var ErrTerminal = dErrors.New(dErrors.CodeInvalidState, "session already terminal")

// RequestObjectStore persists presentation request objects.
type RequestObjectStore interface {
	Create(ctx context.Context, record *models.RequestRecord) error
	FindByID(ctx context.Context, id string) (*models.RequestRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) int
}

// ResponseStore persists verification response records.
type ResponseStore interface {
	Create(ctx context.Context, record *models.ResponseRecord) error
	FindByID(ctx context.Context, id string) (*models.ResponseRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) int
}

// SessionStore persists verification sessions. Find methods return a
// snapshot of the record; all mutation goes through Complete, Fail, and the
// delete methods.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByState(ctx context.Context, state string) (*models.Session, error)
	Complete(ctx context.Context, id, vpToken string, submission any, result *credential.VerifyResult, at time.Time) error
	Fail(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type InMemoryRequestObjectStore struct {
	mu      sync.RWMutex
	records map[string]*models.RequestRecord
}

func NewInMemoryRequestObjectStore() *InMemoryRequestObjectStore {
	return &InMemoryRequestObjectStore{records: make(map[string]*models.RequestRecord)}
}

func (s *InMemoryRequestObjectStore) Create(_ context.Context, record *models.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Request.RequestID] = record
	return nil
}

func (s *InMemoryRequestObjectStore) FindByID(_ context.Context, id string) (*models.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[id]; ok {
		return record, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryRequestObjectStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		delete(s.records, id)
		return nil
	}
	return ErrNotFound
}

func (s *InMemoryRequestObjectStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryRequestObjectStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

type InMemoryResponseStore struct {
	mu      sync.RWMutex
	records map[string]*models.ResponseRecord
}

func NewInMemoryResponseStore() *InMemoryResponseStore {
	return &InMemoryResponseStore{records: make(map[string]*models.ResponseRecord)}
}

func (s *InMemoryResponseStore) Create(_ context.Context, record *models.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryResponseStore) FindByID(_ context.Context, id string) (*models.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[id]; ok {
		return record, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryResponseStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		delete(s.records, id)
		return nil
	}
	return ErrNotFound
}

func (s *InMemoryResponseStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryResponseStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		clone := *session
		return &clone, nil
	}
	return nil, ErrNotFound
}

func (s *InMemorySessionStore) FindByState(_ context.Context, state string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.PresentationRequest.State == state {
			clone := *session
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemorySessionStore) Complete(_ context.Context, id, vpToken string, submission any, result *credential.VerifyResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if session.Status != models.StatusPending {
		return ErrTerminal
	}
	session.Status = models.StatusCompleted
	session.VPToken = vpToken
	session.PresentationSubmission = submission
	session.VerificationResult = result
	session.CompletedAt = &at
	return nil
}

func (s *InMemorySessionStore) Fail(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if session.Status != models.StatusPending {
		return ErrTerminal
	}
	session.Status = models.StatusFailed
	session.Error = reason
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		return nil
	}
	return ErrNotFound
}

func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ RequestObjectStore = (*InMemoryRequestObjectStore)(nil)
	_ ResponseStore      = (*InMemoryResponseStore)(nil)
	_ SessionStore       = (*InMemorySessionStore)(nil)
)
