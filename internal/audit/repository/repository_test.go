package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"sessionauth/internal/audit/domain"
	"sessionauth/internal/db"
	"sessionauth/internal/db/migrate"
)

func runContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	userID := uuid.NewString()
	sessionID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, action := range []string{domain.ActionLogin, domain.ActionRefresh, domain.ActionReplayDetected} {
		a := &domain.AuditLog{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Action:    action,
			IP:        "10.0.0.1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if action == domain.ActionReplayDetected {
			a.Reason = "replay detected"
			a.Metadata = map[string]any{"affected_count": float64(2)}
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.AuditLog{ID: uuid.NewString(), Action: domain.ActionLoginFailure, CreatedAt: base}); err != nil {
		t.Fatalf("Create anonymous: %v", err)
	}

	list, err := repo.ListByUser(ctx, userID, 2, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[0].Action != domain.ActionReplayDetected {
		t.Fatalf("ListByUser page 1 = %+v", list)
	}
	if list[0].Reason != "replay detected" || list[0].Metadata["affected_count"] != float64(2) {
		t.Errorf("replay entry = %+v", list[0])
	}
	list, err = repo.ListByUser(ctx, userID, 2, 2)
	if err != nil || len(list) != 1 || list[0].Action != domain.ActionLogin {
		t.Errorf("ListByUser page 2 = %+v, %v", list, err)
	}

	bySession, err := repo.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(bySession) != 3 || bySession[0].Action != domain.ActionLogin {
		t.Errorf("ListBySession = %+v", bySession)
	}
}

func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, NewMemoryRepository())
}

func TestPostgresRepository_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.Open(context.Background(), dsn, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(pool.Close)
	runContract(t, NewPostgresRepository(pool))
}
