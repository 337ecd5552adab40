// Package snapshot archives scraped pages as sanitized markdown for
// later inspection when extraction goes wrong.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/pantryops/cartd/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS page_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	platform   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	url        TEXT NOT NULL,
	markdown   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_platform ON page_snapshots (platform, created_at);
`

// Config carries the archiver's dependencies.
type Config struct {
	// Path is the sqlite database file. Required unless DB is set.
	Path string

	// DB overrides Path with an already-open handle. Used in tests.
	DB *sql.DB

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Archiver converts page HTML to markdown and stores it. Archiving is
// best effort and never fails the scrape that produced the page.
type Archiver struct {
	db     *sql.DB
	policy *bluemonday.Policy
	conv   *converter.Converter
	logger *slog.Logger
}

// New opens the archive and prepares its schema.
func New(cfg Config) (*Archiver, error) {
	cfg.defaults()

	db := cfg.DB
	if db == nil {
		var err error
		db, err = dbopen.Open(cfg.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("snapshot: open database: %w", err)
		}
	} else if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("snapshot: apply schema: %w", err)
	}

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)

	return &Archiver{
		db:     db,
		policy: bluemonday.UGCPolicy(),
		conv:   conv,
		logger: cfg.Logger,
	}, nil
}

// Archive sanitizes the HTML, converts it to markdown and stores the
// result. Errors are logged and swallowed.
func (a *Archiver) Archive(ctx context.Context, platform, kind, pageURL, html string) {
	md, err := a.Render(pageURL, html)
	if err != nil {
		a.logger.Warn("snapshot: render page", "platform", platform, "kind", kind, "error", err)
		return
	}

	_, err = dbopen.Exec(ctx, a.db,
		`INSERT INTO page_snapshots (platform, kind, url, markdown, created_at) VALUES (?, ?, ?, ?, ?)`,
		platform, kind, pageURL, md, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		a.logger.Warn("snapshot: store page", "platform", platform, "kind", kind, "error", err)
		return
	}
	a.logger.Debug("snapshot: page archived", "platform", platform, "kind", kind, "bytes", len(md))
}

// Render sanitizes HTML and converts it to markdown without storing it.
func (a *Archiver) Render(pageURL, html string) (string, error) {
	clean := a.policy.Sanitize(html)

	var opts []converter.ConvertOptionFunc
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		opts = append(opts, converter.WithDomain(pageURL))
	}

	md, err := a.conv.ConvertString(clean, opts...)
	if err != nil {
		return "", fmt.Errorf("snapshot: convert to markdown: %w", err)
	}
	return md, nil
}

// Snapshot is one archived page.
type Snapshot struct {
	ID        int64     `json:"id"`
	Platform  string    `json:"platform"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recent returns the newest snapshots for a platform, newest first.
func (a *Archiver) Recent(ctx context.Context, platform string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, platform, kind, url, markdown, created_at FROM page_snapshots
		 WHERE platform = ? ORDER BY created_at DESC, id DESC LIMIT ?`, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list pages: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Platform, &s.Kind, &s.URL, &s.Markdown, &createdAt); err != nil {
			return nil, fmt.Errorf("snapshot: scan page row: %w", err)
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (a *Archiver) Close() error {
	return a.db.Close()
}
