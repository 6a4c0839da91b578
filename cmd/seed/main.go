// seed inserts development users for local testing: an admin and a regular member.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"sessionauth/internal/config"
	"sessionauth/internal/db"
	"sessionauth/internal/security"
	userdomain "sessionauth/internal/user/domain"
	userrepo "sessionauth/internal/user/repository"
)

const (
	adminEmail      = "admin@example.com"
	memberEmail     = "member@example.com"
	defaultPassword = "Dev-Password-123!"
)

func main() {
	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		log.Fatal(err)
	}
	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = defaultPassword
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	users := userrepo.NewPostgresRepository(pool)
	hasher := security.NewHasher(security.PasswordParams)
	passwordHash, err := hasher.Hash([]byte(password))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	for _, seed := range []struct {
		email string
		role  userdomain.Role
	}{
		{adminEmail, userdomain.RoleAdmin},
		{memberEmail, userdomain.RoleUser},
	} {
		existing, err := users.GetByEmail(ctx, seed.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", seed.email, err)
		}
		if existing != nil {
			log.Printf("seed: %s exists, skipping", seed.email)
			continue
		}
		now := time.Now().UTC()
		if err := users.Create(ctx, &userdomain.User{
			ID:           uuid.NewString(),
			Email:        seed.email,
			PasswordHash: passwordHash,
			Role:         seed.role,
			Status:       userdomain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			log.Fatalf("create %s: %v", seed.email, err)
		}
		log.Printf("seed: created %s role=%s", seed.email, seed.role)
	}

	fmt.Printf("Admin login: %s / %s\n", adminEmail, password)
	fmt.Printf("Member login: %s / %s\n", memberEmail, password)
}
