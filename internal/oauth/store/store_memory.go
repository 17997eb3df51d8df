// Package store persists authorization codes and authorization states.
package store

import (
	"context"
	"sync"

	"attesto/internal/oauth/models"
	dErrors "attesto/pkg/domain-errors"
)

// ErrNotFound is returned when a requested record is not found in the store.
// Services should check for this error using errors.Is(err, store.ErrNotFound).
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// CodeStore abstracts authorization code persistence. Codes are single-use:
// the token endpoint deletes them on redemption.
type CodeStore interface {
	Create(ctx context.Context, code *models.AuthorizationCode) error
	FindByCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	Delete(ctx context.Context, code string) error
}

// StateStore abstracts authorization state persistence. State records live
// only as long as their code: the token endpoint deletes them when the code
// is redeemed or observed expired.
type StateStore interface {
	Create(ctx context.Context, state *models.AuthorizationState) error
	FindByState(ctx context.Context, state string) (*models.AuthorizationState, error)
	Delete(ctx context.Context, state string) error
}

type InMemoryCodeStore struct {
	mu    sync.RWMutex
	codes map[string]*models.AuthorizationCode
}

func NewInMemoryCodeStore() *InMemoryCodeStore {
	return &InMemoryCodeStore{codes: make(map[string]*models.AuthorizationCode)}
}

func (s *InMemoryCodeStore) Create(_ context.Context, code *models.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

func (s *InMemoryCodeStore) FindByCode(_ context.Context, code string) (*models.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.codes[code]; ok {
		return record, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryCodeStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; ok {
		delete(s.codes, code)
		return nil
	}
	return ErrNotFound
}

var _ CodeStore = (*InMemoryCodeStore)(nil)

type InMemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*models.AuthorizationState
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]*models.AuthorizationState)}
}

func (s *InMemoryStateStore) Create(_ context.Context, state *models.AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.State] = state
	return nil
}

func (s *InMemoryStateStore) FindByState(_ context.Context, state string) (*models.AuthorizationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.states[state]; ok {
		return record, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryStateStore) Delete(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state]; ok {
		delete(s.states, state)
		return nil
	}
	return ErrNotFound
}

var _ StateStore = (*InMemoryStateStore)(nil)
