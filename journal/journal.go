// Package journal keeps a persistent log of scrape runs: which
// platform, which flow, how it ended, and how long it took. Entries are
// written asynchronously so a slow disk never stalls a live session.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantryops/cartd/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	run_id      TEXT PRIMARY KEY,
	platform    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	started_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_platform ON scrape_runs (platform, started_at DESC);
`

// Entry is one recorded scrape run.
type Entry struct {
	RunID      string    `json:"runId"`
	Platform   string    `json:"platform"`
	Kind       string    `json:"kind"`    // search | orders | cart
	Outcome    string    `json:"outcome"` // success | failure | blocked
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// Journal persists entries through a buffered channel. A full buffer
// drops the entry with a warning rather than blocking the scrape.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	ch       chan Entry
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Config carries the journal's dependencies.
type Config struct {
	// Path is the sqlite database file. Required unless DB is set.
	Path string

	// DB overrides Path with an already-open handle. Used in tests.
	DB *sql.DB

	// Buffer is the async queue depth. Defaults to 256.
	Buffer int

	Logger *slog.Logger
}

// New opens the journal and starts its writer.
func New(cfg Config) (*Journal, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db := cfg.DB
	if db == nil {
		var err error
		db, err = dbopen.Open(cfg.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("journal: open database: %w", err)
		}
	} else if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: cfg.Logger,
		ch:     make(chan Entry, cfg.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go j.writeLoop()
	return j, nil
}

// Record queues one run for persistence. Never blocks.
func (j *Journal) Record(e Entry) {
	if e.RunID == "" {
		e.RunID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	select {
	case <-j.stop:
		return
	default:
	}
	select {
	case j.ch <- e:
	default:
		j.logger.Warn("journal: buffer full, entry dropped", "platform", e.Platform, "kind", e.Kind)
	}
}

// writeLoop owns j.ch. The channel is never closed; shutdown is
// signalled through j.stop so a late Record cannot hit a closed channel.
func (j *Journal) writeLoop() {
	defer close(j.done)
	for {
		select {
		case e := <-j.ch:
			if err := j.insert(e); err != nil {
				j.logger.Error("journal: persist entry", "error", err)
			}
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					if err := j.insert(e); err != nil {
						j.logger.Error("journal: persist entry", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(e Entry) error {
	_, err := dbopen.Exec(context.Background(), j.db,
		`INSERT INTO scrape_runs (run_id, platform, kind, outcome, error, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Platform, e.Kind, e.Outcome, e.Error, e.DurationMs,
		e.StartedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Recent returns the newest entries, optionally filtered by platform.
func (j *Journal) Recent(ctx context.Context, platform string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT run_id, platform, kind, outcome, error, duration_ms, started_at
		FROM scrape_runs`
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var startedAt string
		if err := rows.Scan(&e.RunID, &e.Platform, &e.Kind, &e.Outcome, &e.Error, &e.DurationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains pending entries and stops the writer. Safe to call more
// than once; Record calls that race Close are silently dropped.
func (j *Journal) Close() error {
	j.stopOnce.Do(func() { close(j.stop) })
	select {
	case <-j.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("journal: close timed out draining entries")
	}
}
