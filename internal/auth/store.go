// Package auth provides API token persistence, Bearer authentication
// middleware and per-caller rate limiting for the daemon's HTTP surface.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// secretPrefix marks warden API secrets so stray strings are rejected
// before any database work.
const secretPrefix = "wdn_"

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidToken  = errors.New("invalid token format")
)

// Token is the public face of an API token. The secret itself is returned
// exactly once at creation time; only its SHA-256 digest is stored.
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Store handles token persistence.
type Store struct {
	db *sql.DB
}

// Open creates or opens the token database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating token directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening token database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating token database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		secret_hash TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME,
		expires_at DATETIME
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create mints a new token and returns it together with the secret the
// caller must present as a Bearer credential. The secret cannot be
// recovered later.
func (s *Store) Create(name string, expiresAt *time.Time) (*Token, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", errors.New("token name is required")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generating secret: %w", err)
	}
	secret := secretPrefix + hex.EncodeToString(buf)

	token := &Token{
		ID:        "tok_" + uuid.New().String()[:8],
		Name:      name,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	_, err := s.db.Exec(
		`INSERT INTO tokens (id, name, secret_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.Name, hashSecret(secret), token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("inserting token: %w", err)
	}
	return token, secret, nil
}

// Validate resolves a presented secret to its token. Expired tokens are
// rejected; successful lookups update last-used in the background.
func (s *Store) Validate(secret string) (*Token, error) {
	if !strings.HasPrefix(secret, secretPrefix) {
		return nil, ErrInvalidToken
	}

	var token Token
	var lastUsedAt, expiresAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, name, created_at, last_used_at, expires_at FROM tokens WHERE secret_hash = ?`,
		hashSecret(secret),
	).Scan(&token.ID, &token.Name, &token.CreatedAt, &lastUsedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
		if time.Now().After(expiresAt.Time) {
			return nil, ErrTokenExpired
		}
	}

	go s.touchLastUsed(token.ID)

	return &token, nil
}

func (s *Store) touchLastUsed(id string) {
	_, _ = s.db.Exec(`UPDATE tokens SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
}

// List returns all tokens, newest first.
func (s *Store) List() ([]*Token, error) {
	rows, err := s.db.Query(
		`SELECT id, name, created_at, last_used_at, expires_at FROM tokens ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		var token Token
		var lastUsedAt, expiresAt sql.NullTime
		if err := rows.Scan(&token.ID, &token.Name, &token.CreatedAt, &lastUsedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		if lastUsedAt.Valid {
			token.LastUsedAt = &lastUsedAt.Time
		}
		if expiresAt.Valid {
			token.ExpiresAt = &expiresAt.Time
		}
		tokens = append(tokens, &token)
	}
	return tokens, rows.Err()
}

// Revoke deletes a token by its display id.
func (s *Store) Revoke(id string) error {
	res, err := s.db.Exec(`DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
