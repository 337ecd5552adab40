// Package credstore persists browser storage state per platform, sealed
// at rest with XChaCha20-Poly1305.
package credstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pantryops/cartd/dbopen"
)

// ErrNotFound reports that no stored session exists for a platform.
var ErrNotFound = errors.New("credstore: session not found")

const schema = `
CREATE TABLE IF NOT EXISTS platform_sessions (
	platform   TEXT PRIMARY KEY,
	sealed     BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Config carries the store's dependencies.
type Config struct {
	// Path is the sqlite database file. Required unless DB is set.
	Path string

	// SealingKey is the hex-encoded 32-byte key used to seal session
	// blobs at rest.
	SealingKey string

	// DB overrides Path with an already-open handle. Used in tests.
	DB *sql.DB

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store holds sealed platform session state in sqlite.
type Store struct {
	db     *sql.DB
	aead   cipher.AEAD
	logger *slog.Logger
}

// New opens the store and prepares its schema.
func New(cfg Config) (*Store, error) {
	cfg.defaults()

	key, err := hex.DecodeString(cfg.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("credstore: decode sealing key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credstore: sealing key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: init cipher: %w", err)
	}

	db := cfg.DB
	if db == nil {
		db, err = dbopen.Open(cfg.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("credstore: open database: %w", err)
		}
	} else if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("credstore: apply schema: %w", err)
	}

	return &Store{db: db, aead: aead, logger: cfg.Logger}, nil
}

// Put seals and stores a platform's session blob, replacing any
// previous state.
func (s *Store) Put(ctx context.Context, platform string, state []byte) error {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("credstore: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, state, []byte(platform))

	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO platform_sessions (platform, sealed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(platform) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		platform, sealed, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("credstore: store session for %s: %w", platform, err)
	}
	s.logger.Debug("credstore: session stored", "platform", platform, "bytes", len(state))
	return nil
}

// Get returns a platform's unsealed session blob and the time it was
// last stored. Returns ErrNotFound when no session exists.
func (s *Store) Get(ctx context.Context, platform string) ([]byte, time.Time, error) {
	var sealed []byte
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed, updated_at FROM platform_sessions WHERE platform = ?`, platform).
		Scan(&sealed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("credstore: load session for %s: %w", platform, err)
	}

	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, time.Time{}, fmt.Errorf("credstore: sealed blob for %s too short", platform)
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	state, err := s.aead.Open(nil, nonce, ciphertext, []byte(platform))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("credstore: unseal session for %s: %w", platform, err)
	}

	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		ts = time.Time{}
	}
	return state, ts, nil
}

// Invalidate removes a platform's stored session. Removing a session
// that does not exist is not an error.
func (s *Store) Invalidate(ctx context.Context, platform string) error {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM platform_sessions WHERE platform = ?`, platform)
	if err != nil {
		return fmt.Errorf("credstore: invalidate session for %s: %w", platform, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("credstore: session invalidated", "platform", platform)
	}
	return nil
}

// SessionInfo describes a stored session without exposing its content.
type SessionInfo struct {
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List returns metadata for all stored sessions, ordered by platform.
func (s *Store) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, updated_at FROM platform_sessions ORDER BY platform`)
	if err != nil {
		return nil, fmt.Errorf("credstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var updatedAt string
		if err := rows.Scan(&info.Platform, &updatedAt); err != nil {
			return nil, fmt.Errorf("credstore: scan session row: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
