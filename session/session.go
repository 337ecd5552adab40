// Package session owns one ephemeral automated browsing session per
// scraping operation: an isolated incognito context on the shared Chrome
// instance, seeded from a captured storage state, with response collection
// and block detection attached during navigation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/pantryops/cartd/browser"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures a session.
type Options struct {
	Platform string
	// State seeds cookies and per-origin localStorage. Nil opens an
	// unauthenticated session.
	State *StorageState

	NavTimeout    time.Duration // default 30s
	ActionTimeout time.Duration // default 10s

	ViewportWidth  int    // default 1280
	ViewportHeight int    // default 800
	Locale         string // default "en-US"
	Timezone       string // default "America/New_York"
	UserAgent      string

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1280
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 800
	}
	if o.Locale == "" {
		o.Locale = "en-US"
	}
	if o.Timezone == "" {
		o.Timezone = "America/New_York"
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Session is one automated browsing session. Actions on it execute strictly
// sequentially; it is not safe for concurrent use.
type Session struct {
	id     string
	opts   Options
	incog  *rod.Browser
	page   *rod.Page
	logger *slog.Logger

	// pending holds seeded localStorage not yet applied, keyed by origin.
	pending map[string][]LocalStorageItem
	// applied records origins whose seeded localStorage has been written.
	applied map[string]bool
}

// Open creates an incognito context on the shared browser, opens a stealth
// page with a fixed viewport, locale, and timezone, and seeds it from
// opts.State. ctx bounds the setup calls. The caller must Close the
// session on every exit path.
func Open(ctx context.Context, mgr *browser.Manager, opts Options) (*Session, error) {
	opts.defaults()

	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("session: no active browser")
	}

	incog, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("session: incognito context: %w", err)
	}

	page, err := stealth.Page(incog)
	if err != nil {
		return nil, fmt.Errorf("session: create page: %w", err)
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		opts:    opts,
		incog:   incog,
		page:    page,
		logger:  opts.Logger.With("session", id[:8], "platform", opts.Platform),
		pending: make(map[string][]LocalStorageItem),
		applied: make(map[string]bool),
	}

	setup := page.Context(ctx)
	if err := browser.ApplyResourceBlocking(setup, mgr.ResourceBlocking()); err != nil {
		s.logger.Warn("session: resource blocking failed", "error", err)
	}

	if err := setup.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.ViewportWidth,
		Height:            opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.logger.Warn("session: set viewport failed", "error", err)
	}
	if err := (proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}).Call(setup); err != nil {
		s.logger.Warn("session: user agent override failed", "error", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: opts.Locale}).Call(setup); err != nil {
		s.logger.Warn("session: locale override failed", "error", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: opts.Timezone}).Call(setup); err != nil {
		s.logger.Warn("session: timezone override failed", "error", err)
	}

	if opts.State != nil {
		if err := s.seed(ctx, opts.State); err != nil {
			s.Close()
			return nil, fmt.Errorf("session: seed credential state: %w", err)
		}
	}

	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Page exposes the underlying page for collectors.
func (s *Session) Page() *rod.Page { return s.page }

func (s *Session) seed(ctx context.Context, state *StorageState) error {
	if len(state.Cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			params = append(params, c.toParam())
		}
		if err := s.incog.Context(ctx).SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	// localStorage can only be written from a page on the matching
	// origin; stash entries and apply them after navigation.
	for _, o := range state.Origins {
		if len(o.LocalStorage) > 0 {
			s.pending[o.Origin] = o.LocalStorage
		}
	}
	return nil
}

// Navigate loads pageURL, waits for the load event (best effort), and
// applies any seeded localStorage for the destination origin.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()

	pg := s.page.Context(navCtx)
	if err := pg.Navigate(pageURL); err != nil {
		return fmt.Errorf("session: navigate %s: %w", pageURL, err)
	}
	if err := pg.WaitLoad(); err != nil {
		s.logger.Warn("session: wait load timeout", "url", pageURL, "error", err)
	}

	if origin := originOf(pageURL); origin != "" && !s.applied[origin] {
		if entries, ok := s.pending[origin]; ok {
			s.applyLocalStorage(ctx, entries)
			s.applied[origin] = true
		}
	}
	return nil
}

func (s *Session) applyLocalStorage(ctx context.Context, entries []LocalStorageItem) {
	pg := s.page.Context(ctx)
	for _, e := range entries {
		if _, err := pg.Eval(`(k, v) => localStorage.setItem(k, v)`, e.Name, e.Value); err != nil {
			s.logger.Debug("session: localStorage seed failed", "key", e.Name, "error", err)
			return
		}
	}
}

// StorageState reads back the current authentication state: all cookies in
// the incognito context plus the current origin's localStorage, merged with
// seeded origins that were never visited. Called in the teardown path so
// rotated tokens survive even a partially failed session.
func (s *Session) StorageState(ctx context.Context) (*StorageState, error) {
	cookies, err := s.incog.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("session: read cookies: %w", err)
	}

	state := &StorageState{Cookies: make([]Cookie, 0, len(cookies))}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, cookieFromProto(c))
	}

	current, entries := s.readLocalStorage(ctx)
	if current != "" {
		state.Origins = append(state.Origins, Origin{Origin: current, LocalStorage: entries})
	}
	for origin, pending := range s.pending {
		if origin != current {
			state.Origins = append(state.Origins, Origin{Origin: origin, LocalStorage: pending})
		}
	}
	return state, nil
}

func (s *Session) readLocalStorage(ctx context.Context) (string, []LocalStorageItem) {
	pg := s.page.Context(ctx)

	res, err := pg.Eval(`() => {
		const out = [];
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			out.push({name: k, value: localStorage.getItem(k)});
		}
		return JSON.stringify({origin: location.origin, entries: out});
	}`)
	if err != nil {
		s.logger.Debug("session: localStorage read failed", "error", err)
		return "", nil
	}

	var parsed struct {
		Origin  string             `json:"origin"`
		Entries []LocalStorageItem `json:"entries"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &parsed); err != nil {
		return "", nil
	}
	return parsed.Origin, parsed.Entries
}

// Close tears the session down. Best effort: teardown failures are logged,
// never surfaced as task failures.
func (s *Session) Close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.logger.Debug("session: page close failed", "error", err)
		}
	}
	if s.incog != nil && s.incog.BrowserContextID != "" {
		err := proto.TargetDisposeBrowserContext{
			BrowserContextID: s.incog.BrowserContextID,
		}.Call(s.incog)
		if err != nil {
			s.logger.Debug("session: dispose context failed", "error", err)
		}
	}
}

// RandomDelay suspends for a random duration in [min, max], mimicking human
// pacing between actions. Honours ctx cancellation.
func (s *Session) RandomDelay(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += rand.N(max - min)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitNetworkIdle waits until the page has had no requests in flight for a
// short window, or until timeout. Dynamic sites may never fully idle, so a
// timeout here is not an error.
func (s *Session) WaitNetworkIdle(ctx context.Context, timeout time.Duration) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.page.Context(waitCtx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
}

// Scroll scrolls the viewport down by one screen, increments times, with a
// short random delay between steps to trigger lazy loading.
func (s *Session) Scroll(ctx context.Context, increments int) {
	pg := s.page.Context(ctx)
	for i := 0; i < increments; i++ {
		if _, err := pg.Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
			s.logger.Debug("session: scroll failed", "error", err)
			return
		}
		if err := s.RandomDelay(ctx, time.Second, 1500*time.Millisecond); err != nil {
			return
		}
	}
}

// Text returns the page's visible text.
func (s *Session) Text(ctx context.Context) (string, error) {
	res, err := s.actionPage(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("session: read page text: %w", err)
	}
	return res.Value.Str(), nil
}

// HTML returns the full rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	res, err := s.actionPage(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("session: read page html: %w", err)
	}
	return res.Value.Str(), nil
}

// FindFirst returns the first element matching any of the candidate
// selectors, without waiting. Platform markup shifts constantly, so callers
// pass several selector generations and take whichever still matches.
func (s *Session) FindFirst(ctx context.Context, selectors []string) (*rod.Element, bool) {
	pg := s.actionPage(ctx)
	for _, sel := range selectors {
		has, el, err := pg.Has(sel)
		if err != nil {
			continue
		}
		if has {
			return el, true
		}
	}
	return nil, false
}

// Elements returns all elements matching any candidate selector, first
// selector with matches wins.
func (s *Session) Elements(ctx context.Context, selectors []string) rod.Elements {
	pg := s.actionPage(ctx)
	for _, sel := range selectors {
		els, err := pg.Elements(sel)
		if err != nil {
			continue
		}
		if len(els) > 0 {
			return els
		}
	}
	return nil
}

// Fill clicks el, clears it, and types text.
func (s *Session) Fill(ctx context.Context, el *rod.Element, text string) error {
	el = el.Context(ctx)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: click input: %w", err)
	}
	// Select existing content so typing replaces it.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("session: type text: %w", err)
	}
	return nil
}

// PressEnter submits the focused input.
func (s *Session) PressEnter(ctx context.Context) error {
	return s.page.Context(ctx).Keyboard.Press(input.Enter)
}

// PressEscape dismisses an open modal.
func (s *Session) PressEscape(ctx context.Context) error {
	return s.page.Context(ctx).Keyboard.Press(input.Escape)
}

func (s *Session) actionPage(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.opts.ActionTimeout)
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
