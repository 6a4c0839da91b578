package repository

import (
	"context"
	"strings"
	"sync"

	"sessionauth/internal/user/domain"
)

// MemoryRepository is an in-process user Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byEmail: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.byID[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := r.byEmail[key]; ok {
		return domain.ErrEmailTaken
	}
	c := *u
	r.byID[u.ID] = &c
	r.byEmail[key] = u.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[u.ID]
	if !ok {
		return nil
	}
	key := strings.ToLower(u.Email)
	if owner, taken := r.byEmail[key]; taken && owner != u.ID {
		return domain.ErrEmailTaken
	}
	delete(r.byEmail, strings.ToLower(old.Email))
	c := *u
	r.byID[u.ID] = &c
	r.byEmail[key] = u.ID
	return nil
}
