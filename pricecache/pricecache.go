// Package pricecache keeps recent search results per platform and
// store so repeated queries avoid a fresh browser session.
package pricecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantryops/cartd/dbopen"
	"github.com/pantryops/cartd/extract"
)

// ErrMiss reports that no live cache entry exists for a query.
var ErrMiss = errors.New("pricecache: miss")

const schema = `
CREATE TABLE IF NOT EXISTS cached_items (
	platform   TEXT NOT NULL,
	store      TEXT NOT NULL,
	query      TEXT NOT NULL,
	items      TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	PRIMARY KEY (platform, store, query)
);
`

// Config carries the cache's dependencies.
type Config struct {
	// Path is the sqlite database file. Required unless DB is set.
	Path string

	// TTL is how long entries stay live. Defaults to one hour.
	TTL time.Duration

	// DB overrides Path with an already-open handle. Used in tests.
	DB *sql.DB

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Cache is a sqlite-backed search result cache with lazy expiry.
// Entries past their deadline are removed when read, not by a sweeper.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger

	now func() time.Time
}

// New opens the cache and prepares its schema.
func New(cfg Config) (*Cache, error) {
	cfg.defaults()

	db := cfg.DB
	if db == nil {
		var err error
		db, err = dbopen.Open(cfg.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("pricecache: open database: %w", err)
		}
	} else if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("pricecache: apply schema: %w", err)
	}

	return &Cache{db: db, ttl: cfg.TTL, logger: cfg.Logger, now: time.Now}, nil
}

// GetItems returns cached items for a query. An expired entry is
// deleted and reported as ErrMiss.
func (c *Cache) GetItems(ctx context.Context, platform, store, query string) ([]extract.Item, error) {
	var raw, expiresAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT items, expires_at FROM cached_items WHERE platform = ? AND store = ? AND query = ?`,
		platform, store, query).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("pricecache: load entry: %w", err)
	}

	deadline, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || !c.now().Before(deadline) {
		if _, derr := dbopen.Exec(ctx, c.db,
			`DELETE FROM cached_items WHERE platform = ? AND store = ? AND query = ?`,
			platform, store, query); derr != nil {
			c.logger.Warn("pricecache: evict expired entry", "error", derr)
		}
		return nil, ErrMiss
	}

	var items []extract.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("pricecache: decode entry: %w", err)
	}
	c.logger.Debug("pricecache: hit", "platform", platform, "store", store, "query", query, "items", len(items))
	return items, nil
}

// PutItems stores a query's results, replacing any previous entry.
func (c *Cache) PutItems(ctx context.Context, platform, store, query string, items []extract.Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("pricecache: encode entry: %w", err)
	}
	expiresAt := c.now().Add(c.ttl).UTC().Format(time.RFC3339)

	_, err = dbopen.Exec(ctx, c.db,
		`INSERT INTO cached_items (platform, store, query, items, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(platform, store, query) DO UPDATE SET items = excluded.items, expires_at = excluded.expires_at`,
		platform, store, query, string(raw), expiresAt)
	if err != nil {
		return fmt.Errorf("pricecache: store entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
