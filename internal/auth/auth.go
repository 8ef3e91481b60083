package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vod-server/internal/store"
)

// DefaultSessionTTL is how long a session token stays valid without use.
// Validation extends the expiry by the same amount.
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrLoginRequired is returned when a token is missing, unknown, or
	// expired. Recoverable: the client re-authenticates and retries.
	ErrLoginRequired = errors.New("login-required")

	// ErrInvalidCredentials is returned by Login on a bad username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the resolved owner of a session token.
type Identity struct {
	UserID   int64
	Username string
	Nickname string
	Role     string
}

// IsAdmin reports whether the identity has the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == "admin"
}

// Sessions maps opaque session tokens to user identities. Tokens are random,
// stored server-side, and expire after a TTL that validation refreshes.
type Sessions struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSessions returns a session store backed by db. A ttl of zero uses
// DefaultSessionTTL.
func NewSessions(db *store.DB, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{db: db.Conn(), ttl: ttl}
}

// generateToken returns a 32-hex-character random token.
func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Login verifies the credentials and, on success, issues a new session token.
func (s *Sessions) Login(username, password string) (token string, id Identity, err error) {
	row := s.db.QueryRow(
		`SELECT id, username, nickname, password_hash, role FROM users WHERE username = ?`, username)
	var hash string
	if err := row.Scan(&id.UserID, &id.Username, &id.Nickname, &hash, &id.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", Identity{}, ErrInvalidCredentials
		}
		return "", Identity{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", Identity{}, ErrInvalidCredentials
	}

	token, err = generateToken()
	if err != nil {
		return "", Identity{}, err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (user_id, token, expires_at) VALUES (?, ?, ?)`,
		id.UserID, token, time.Now().UTC().Add(s.ttl),
	)
	if err != nil {
		return "", Identity{}, err
	}
	return token, id, nil
}

// Validate resolves a token to an identity and extends its expiry.
// Unknown or expired tokens yield ErrLoginRequired.
func (s *Sessions) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrLoginRequired
	}

	row := s.db.QueryRow(
		`SELECT u.id, u.username, u.nickname, u.role, se.expires_at
		 FROM sessions se JOIN users u ON u.id = se.user_id
		 WHERE se.token = ?`, token)

	var id Identity
	var expiresAt time.Time
	if err := row.Scan(&id.UserID, &id.Username, &id.Nickname, &id.Role, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrLoginRequired
		}
		return Identity{}, err
	}

	now := time.Now().UTC()
	if expiresAt.Before(now) {
		s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
		return Identity{}, ErrLoginRequired
	}

	// Sliding expiry: each validated use pushes the deadline out.
	if _, err := s.db.Exec(
		`UPDATE sessions SET expires_at = ? WHERE token = ?`, now.Add(s.ttl), token); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Logout deletes the session for token. Deleting an unknown token is a no-op.
func (s *Sessions) Logout(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// PurgeExpired removes all sessions past their expiry.
func (s *Sessions) PurgeExpired() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	return err
}

// CreateUser inserts a user with a bcrypt-hashed password and returns its id.
func (s *Sessions) CreateUser(username, nickname, password, role string) (int64, error) {
	if role == "" {
		role = "user"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO users (username, nickname, password_hash, role) VALUES (?, ?, ?, ?)`,
		username, nickname, string(hash), role,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EnsureAdmin creates the admin account if no admin exists yet.
func (s *Sessions) EnsureAdmin(username, password string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.CreateUser(username, username, password, "admin")
	return err
}
