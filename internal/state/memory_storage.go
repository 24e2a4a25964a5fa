package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps user states in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[int64]*UserState
	now    func() time.Time
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states: make(map[int64]*UserState),
		now:    time.Now,
	}
}

func (s *MemoryStorage) GetState(_ context.Context, userID int64) (*UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[userID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStorage) SetState(_ context.Context, userID int64, st *UserState) error {
	st.UserID = userID
	st.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.states[userID] = st.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) ClearState(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) GetAllStates(_ context.Context) ([]*UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*UserState, 0, len(s.states))
	for _, st := range s.states {
		result = append(result, st.Clone())
	}
	return result, nil
}
