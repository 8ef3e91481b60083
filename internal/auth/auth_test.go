package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vod-server/internal/store"
)

func newTestSessions(t *testing.T, ttl time.Duration) *Sessions {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessions(db, ttl)
}

func TestLogin_and_Validate(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	uid, err := s.CreateUser("alice", "Alice", "secret", "user")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, id, err := s.Login("alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("token length: got %d, want 32", len(token))
	}
	if id.UserID != uid || id.Username != "alice" || id.Nickname != "Alice" {
		t.Errorf("login identity: %+v", id)
	}

	got, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.UserID != uid || got.Role != "user" {
		t.Errorf("validated identity: %+v", got)
	}
}

func TestLogin_wrong_password(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	_, _ = s.CreateUser("alice", "Alice", "secret", "")

	if _, _, err := s.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := s.Login("nobody", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidate_unknown_token(t *testing.T) {
	s := newTestSessions(t, time.Hour)

	if _, err := s.Validate(""); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("empty token: expected ErrLoginRequired, got %v", err)
	}
	if _, err := s.Validate("deadbeefdeadbeefdeadbeefdeadbeef"); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("unknown token: expected ErrLoginRequired, got %v", err)
	}
}

func TestValidate_expired_token(t *testing.T) {
	s := newTestSessions(t, time.Millisecond)
	_, _ = s.CreateUser("alice", "Alice", "secret", "")
	token, _, err := s.Login("alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := s.Validate(token); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("expired token: expected ErrLoginRequired, got %v", err)
	}
	// The expired row is gone; a second check behaves identically.
	if _, err := s.Validate(token); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("deleted token: expected ErrLoginRequired, got %v", err)
	}
}

func TestValidate_sliding_expiry(t *testing.T) {
	s := newTestSessions(t, 100*time.Millisecond)
	_, _ = s.CreateUser("alice", "Alice", "secret", "")
	token, _, err := s.Login("alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Keep validating within the TTL; each use pushes the deadline out past
	// the original expiry.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := s.Validate(token); err != nil {
			t.Fatalf("Validate during active use: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLogout(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	_, _ = s.CreateUser("alice", "Alice", "secret", "")
	token, _, _ := s.Login("alice", "secret")

	if err := s.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.Validate(token); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("validate after logout: expected ErrLoginRequired, got %v", err)
	}
	// Logging out twice is a no-op.
	if err := s.Logout(token); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestSessions(t, time.Millisecond)
	_, _ = s.CreateUser("alice", "Alice", "secret", "")
	token, _, _ := s.Login("alice", "secret")

	time.Sleep(10 * time.Millisecond)
	if err := s.PurgeExpired(); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if _, err := s.Validate(token); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("purged token should be invalid, got %v", err)
	}
}

func TestCreateUser_duplicate_username(t *testing.T) {
	s := newTestSessions(t, time.Hour)
	if _, err := s.CreateUser("alice", "Alice", "secret", ""); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser("alice", "Other", "secret", ""); err == nil {
		t.Error("duplicate username should fail")
	}
}

func TestEnsureAdmin(t *testing.T) {
	s := newTestSessions(t, time.Hour)

	if err := s.EnsureAdmin("admin", "adminpw"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	token, id, err := s.Login("admin", "adminpw")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if !id.IsAdmin() {
		t.Errorf("expected admin role, got %q", id.Role)
	}
	if _, err := s.Validate(token); err != nil {
		t.Errorf("validate admin token: %v", err)
	}

	// A second call with different credentials must not create another admin.
	if err := s.EnsureAdmin("root", "otherpw"); err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	if _, _, err := s.Login("root", "otherpw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("second admin should not exist, got %v", err)
	}
}
