// Package store persists issuance sessions.
package store

import (
	"context"
	"sync"
	"time"

	"attesto/internal/issuance/models"
	dErrors "attesto/pkg/domain-errors"
)

// ErrNotFound is returned when a requested record is not found in the store.
// Services should check for this error using errors.Is(err, store.ErrNotFound).
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// Store abstracts issuance session persistence. There is no sweeping method:
// the issuance engine relies on lazy expiry checks at read time. Find methods
// return a snapshot of the record; mutation goes through Complete and Delete.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByPreAuthorizedCode(ctx context.Context, code string) (*models.Session, error)
	Complete(ctx context.Context, id, credential string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// In-memory stores keep the initial implementation lightweight and testable.
// They intentionally favor clarity over performance.

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

func (s *InMemorySessionStore) FindByPreAuthorizedCode(_ context.Context, code string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.PreAuthorizedCode == code {
			clone := *session
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemorySessionStore) Complete(_ context.Context, id, credential string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Status = models.StatusCompleted
	session.Credential = credential
	session.CompletedAt = &at
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

var _ Store = (*InMemorySessionStore)(nil)
