package repository

import (
	"context"
	"sort"
	"sync"

	"sessionauth/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used with SESSION_STORE=memory and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	cp := *a
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	out := r.filter(func(a *domain.AuditLog) bool { return a.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int(offset) >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string) ([]*domain.AuditLog, error) {
	return r.filter(func(a *domain.AuditLog) bool { return a.SessionID == sessionID }), nil
}

func (r *MemoryRepository) filter(keep func(*domain.AuditLog) bool) []*domain.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditLog
	for _, a := range r.entries {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}
