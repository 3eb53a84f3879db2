package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestUserRepoCreateAndLookup(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	u := &User{Email: "Alice@Example.com", DisplayName: "Alice"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Error("Create did not assign an ID")
	}
	if u.Email != "alice@example.com" {
		t.Errorf("Email = %q, want lowercase", u.Email)
	}

	got, err := repo.GetByEmail(ctx, "ALICE@example.COM")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByEmail: %v", err)
	}

	if err := repo.Create(ctx, &User{Email: "alice@example.com"}); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate email: %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get missing: %v", err)
	}
}

func TestUserRepoUpdateReindexesEmail(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	u := &User{Email: "alice@example.com"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	u.Email = "Alice@Other.com"
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := repo.GetByEmail(ctx, "alice@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("old email still resolves: %v", err)
	}
	got, err := repo.GetByEmail(ctx, "alice@other.com")
	if err != nil || got.ID != u.ID {
		t.Errorf("new email lookup: %v", err)
	}
}

func TestUserRepoCopyOnRead(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	u := &User{Email: "alice@example.com", DisplayName: "Alice"}
	repo.Create(ctx, u)

	got, _ := repo.Get(ctx, u.ID)
	got.DisplayName = "mutated"

	again, _ := repo.Get(ctx, u.ID)
	if again.DisplayName != "Alice" {
		t.Errorf("caller mutation leaked into the repo: %q", again.DisplayName)
	}
}

func TestUserAuthRoundtrip(t *testing.T) {
	auth := NewUserAuth(bcrypt.MinCost)

	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := auth.VerifyPassword(hash, "hunter22"); err != nil {
		t.Errorf("VerifyPassword: %v", err)
	}
	if err := auth.VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("wrong password: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	repo := NewMemoryUserRepo()
	auth := NewUserAuth(bcrypt.MinCost)
	ctx := context.Background()

	hash, _ := auth.HashPassword("hunter22")
	repo.Create(ctx, &User{Email: "alice@example.com", PasswordHash: hash})

	got, err := auth.Authenticate(ctx, repo, "Alice@Example.com", "hunter22")
	if err != nil || got.Email != "alice@example.com" {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := auth.Authenticate(ctx, repo, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("wrong password: %v", err)
	}
	if _, err := auth.Authenticate(ctx, repo, "nobody@example.com", "hunter22"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown email: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	repo := NewMemorySessionRepo()
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	ctx := context.Background()

	s, err := repo.Create(ctx, "u1", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(s.Token) != 64 {
		t.Errorf("token length = %d", len(s.Token))
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}

	got, err := repo.Get(ctx, s.Token)
	if err != nil || got.UserID != "u1" {
		t.Fatalf("Get: %v", err)
	}

	if err := repo.Delete(ctx, s.Token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	repo := NewMemorySessionRepo()
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	ctx := context.Background()

	s, _ := repo.Create(ctx, "u1", time.Hour)

	now = now.Add(61 * time.Minute)
	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired session: %v", err)
	}
	// Expired sessions are removed on read.
	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second read: %v", err)
	}
}

func TestSessionDefaultTTL(t *testing.T) {
	repo := NewMemorySessionRepo()
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })

	s, _ := repo.Create(context.Background(), "u1", 0)
	if !s.ExpiresAt.Equal(now.Add(DefaultSessionTTL)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}
