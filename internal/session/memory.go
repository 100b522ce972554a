package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// MemoryRepository keeps sessions in process. Used by tests and single-node
// development setups.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]Session
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Session)}
}

var _ Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return shared.ErrConflict
	}
	for _, existing := range m.byID {
		if existing.RefreshToken == s.RefreshToken {
			return shared.ErrConflict
		}
	}
	m.byID[s.ID] = s
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) DeleteOwned(_ context.Context, id string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

func (m *MemoryRepository) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.byID {
		if s.UserID == userID {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) FindActive(_ context.Context, id string, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.Expired(now) {
		return Session{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *MemoryRepository) Rotate(_ context.Context, r Rotation) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.RefreshToken != r.OldToken {
			continue
		}
		if s.Expired(r.Now) {
			return Session{}, shared.ErrNotFound
		}
		s.RefreshToken = r.NewToken
		s.ExpiresAt = r.NewExpiresAt
		m.byID[id] = s
		return s, nil
	}
	return Session{}, shared.ErrNotFound
}

func (m *MemoryRepository) ListActive(_ context.Context, userID int64, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []Session
	for _, s := range m.byID {
		if s.UserID == userID && !s.Expired(now) {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.byID {
		if s.Expired(now) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored rows, expired ones included.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
