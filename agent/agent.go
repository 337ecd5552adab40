// Package agent drives scraping flows against the supported commerce
// platforms: store search, order history, and cart building. Every flow
// runs inside an admission slot and an ephemeral browser session seeded
// from the credential store.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantryops/cartd/admission"
	"github.com/pantryops/cartd/browser"
	"github.com/pantryops/cartd/credstore"
	"github.com/pantryops/cartd/journal"
	"github.com/pantryops/cartd/pricecache"
	"github.com/pantryops/cartd/session"
	"github.com/pantryops/cartd/snapshot"
)

// Config carries the agent's dependencies.
type Config struct {
	Admission *admission.Controller
	Browser   *browser.Manager
	Creds     *credstore.Store
	Cache     *pricecache.Cache
	Snapshots *snapshot.Archiver

	// Journal records one entry per scrape run. Nil disables it.
	Journal *journal.Journal

	// Profiles overrides the built-in platform definitions. Nil uses
	// DefaultProfiles.
	Profiles map[string]Platform

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Profiles == nil {
		c.Profiles = DefaultProfiles()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Agent executes scraping flows.
type Agent struct {
	admission *admission.Controller
	browser   *browser.Manager
	creds     *credstore.Store
	cache     *pricecache.Cache
	snapshots *snapshot.Archiver
	journal   *journal.Journal
	profiles  map[string]Platform
	logger    *slog.Logger
}

// New builds an Agent from its dependencies.
func New(cfg Config) *Agent {
	cfg.defaults()
	return &Agent{
		admission: cfg.Admission,
		browser:   cfg.Browser,
		creds:     cfg.Creds,
		cache:     cfg.Cache,
		snapshots: cfg.Snapshots,
		journal:   cfg.Journal,
		profiles:  cfg.Profiles,
		logger:    cfg.Logger,
	}
}

// Platforms returns the names of all configured platforms.
func (a *Agent) Platforms() []string {
	names := make([]string, 0, len(a.profiles))
	for name := range a.profiles {
		names = append(names, name)
	}
	return names
}

func (a *Agent) profile(platform string) (Platform, error) {
	prof, ok := a.profiles[platform]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return prof, nil
}

// runSession wraps one scraping flow: acquire an admission slot, open a
// browser session seeded with the platform's stored credentials, run fn,
// persist the (possibly refreshed) storage state, release the slot with
// an outcome matching how the flow ended, and journal the run.
func (a *Agent) runSession(ctx context.Context, prof Platform, kind string, fn func(ctx context.Context, sess *session.Session) error) (err error) {
	start := time.Now()
	defer func() { a.record(prof.Name, kind, start, err) }()

	slot, err := a.admission.Acquire(ctx, prof.Name)
	if err != nil {
		return err
	}
	outcome := admission.OutcomeFailure
	defer func() { slot.Release(outcome) }()

	raw, _, err := a.creds.Get(ctx, prof.Name)
	if errors.Is(err, credstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNoCredential, prof.Name)
	}
	if err != nil {
		return err
	}
	var state session.StorageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("agent: decode stored session for %s: %w", prof.Name, err)
	}

	sess, err := session.Open(ctx, a.browser, session.Options{
		Platform: prof.Name,
		State:    &state,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	runErr := fn(ctx, sess)

	// Persist whatever state the session ended with, even after a
	// failure: refreshed tokens from a partial run are still valid.
	a.persistState(ctx, prof.Name, sess)

	switch {
	case runErr == nil:
		outcome = admission.OutcomeSuccess
	case IsBlocked(runErr):
		outcome = admission.OutcomeBlocked
	}
	return runErr
}

func (a *Agent) record(platform, kind string, start time.Time, runErr error) {
	if a.journal == nil {
		return
	}
	e := journal.Entry{
		Platform:   platform,
		Kind:       kind,
		Outcome:    "success",
		DurationMs: time.Since(start).Milliseconds(),
		StartedAt:  start.UTC(),
	}
	switch {
	case IsBlocked(runErr):
		e.Outcome = "blocked"
		e.Error = runErr.Error()
	case runErr != nil:
		e.Outcome = "failure"
		e.Error = runErr.Error()
	}
	a.journal.Record(e)
}

func (a *Agent) persistState(ctx context.Context, platform string, sess *session.Session) {
	state, err := sess.StorageState(ctx)
	if err != nil {
		a.logger.Warn("agent: read storage state", "platform", platform, "error", err)
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		a.logger.Warn("agent: encode storage state", "platform", platform, "error", err)
		return
	}
	if err := a.creds.Put(ctx, platform, raw); err != nil {
		a.logger.Warn("agent: persist storage state", "platform", platform, "error", err)
	}
}

// ensureNotBlocked scans the page and converts a detected block page
// into a BlockedError.
func (a *Agent) ensureNotBlocked(ctx context.Context, prof Platform, sess *session.Session) error {
	check := sess.CheckForBlock(ctx)
	if !check.Blocked {
		return nil
	}
	a.logger.Warn("agent: block page detected", "platform", prof.Name, "phrase", check.Reason)
	return &BlockedError{Platform: prof.Name, Phrase: check.Reason}
}

// settle waits for the page's network traffic to go quiet, then idles a
// short human-looking beat.
func (a *Agent) settle(ctx context.Context, sess *session.Session) error {
	sess.WaitNetworkIdle(ctx, 10*time.Second)
	return sess.RandomDelay(ctx, 300*time.Millisecond, 900*time.Millisecond)
}
