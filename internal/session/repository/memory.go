package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sessionauth/internal/session/domain"
)

var errDuplicateID = errors.New("session: duplicate id")

// MemoryRepository is an in-process Repository for tests and local runs. A single
// mutex makes RotateForward's check-and-link atomic.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errDuplicateID
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (r *MemoryRepository) RotateForward(_ context.Context, oldID string, next *domain.Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[oldID]
	if !ok || old.ReplacedBySessionID != nil || old.RevokedAt != nil || !old.ExpiresAt.After(next.CreatedAt) {
		return false, nil
	}
	if _, dup := r.sessions[next.ID]; dup {
		return false, errDuplicateID
	}
	r.sessions[next.ID] = cloneSession(next)
	id := next.ID
	seen := next.CreatedAt
	old.ReplacedBySessionID = &id
	old.LastSeenAt = &seen
	return true, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	t := at
	s.RevokedAt = &t
	return true, nil
}

func (r *MemoryRepository) RevokeChain(_ context.Context, fromID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked []string
	seen := make(map[string]bool)
	for id := fromID; id != "" && !seen[id]; {
		seen[id] = true
		s, ok := r.sessions[id]
		if !ok {
			break
		}
		if s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
			revoked = append(revoked, id)
		}
		id = ""
		if s.ReplacedBySessionID != nil {
			id = *s.ReplacedBySessionID
		}
	}
	return revoked, nil
}

func (r *MemoryRepository) RevokeAllByUser(_ context.Context, userID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked []string
	for id, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
			revoked = append(revoked, id)
		}
	}
	sort.Strings(revoked)
	return revoked, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]*domain.Session, error) {
	r.mu.RLock()
	var all []*domain.Session
	for _, s := range r.sessions {
		if f.UserID == "" || s.UserID == f.UserID {
			all = append(all, cloneSession(s))
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	start := int(f.Offset)
	if start >= len(all) {
		return nil, nil
	}
	end := len(all)
	if f.Limit > 0 && start+int(f.Limit) < end {
		end = start + int(f.Limit)
	}
	return all[start:end], nil
}

func (r *MemoryRepository) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		t := at
		s.LastSeenAt = &t
	}
	return nil
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	if s.ReplacedBySessionID != nil {
		id := *s.ReplacedBySessionID
		c.ReplacedBySessionID = &id
	}
	if s.LastSeenAt != nil {
		t := *s.LastSeenAt
		c.LastSeenAt = &t
	}
	return &c
}
