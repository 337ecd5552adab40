// Package admission gates browsing sessions per remote platform. It combines
// a minimum inter-request delay, a concurrency cap, and a failure-triggered
// cooldown so a platform that has started blocking stops being hammered.
//
// Each platform is independent: remote sites enforce their own
// anti-automation policy, so there is no global limit.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Limits is the static admission policy for one platform.
type Limits struct {
	MinDelay      time.Duration
	MaxConcurrent int
	Cooldown      time.Duration
	MaxFailures   int
}

// Outcome reports how a session ended when its slot is released.
type Outcome int

const (
	// OutcomeSuccess resets the consecutive-failure counter.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is an unexpected session error. It does not count
	// toward cooldown escalation.
	OutcomeFailure
	// OutcomeBlocked means an anti-bot page was detected. Repeated blocks
	// open the platform's cooldown.
	OutcomeBlocked
)

var (
	// ErrCooldownActive means the platform's circuit is open.
	ErrCooldownActive = errors.New("admission: platform in cooldown")
	// ErrConcurrencyLimit means all slots for the platform are in flight.
	ErrConcurrencyLimit = errors.New("admission: max concurrent sessions reached")
)

// DeniedError is returned by Acquire when a slot is refused without waiting.
// It wraps ErrCooldownActive or ErrConcurrencyLimit.
type DeniedError struct {
	Platform   string
	RetryAfter time.Duration
	reason     error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %s (retry after %s)", e.reason, e.Platform, e.RetryAfter)
}

func (e *DeniedError) Unwrap() error { return e.reason }

// platformState is mutated only under Controller.mu.
type platformState struct {
	lastRequestAt       time.Time
	activeRequests      int
	consecutiveFailures int
	cooldownUntil       time.Time
}

// PlatformStatus is a read-only snapshot for the status surface.
type PlatformStatus struct {
	Platform            string    `json:"platform"`
	ActiveRequests      int       `json:"activeRequests"`
	MaxConcurrent       int       `json:"maxConcurrent"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	InCooldown          bool      `json:"inCooldown"`
	CooldownEndsAt      time.Time `json:"cooldownEndsAt,omitzero"`
}

// Controller owns the per-platform admission state. Construct one per
// process and inject it; there are no package-level statics.
type Controller struct {
	mu     sync.Mutex
	limits map[string]Limits
	states map[string]*platformState
	logger *slog.Logger

	now func() time.Time
}

// New creates a Controller for the configured platforms.
func New(limits map[string]Limits, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[string]Limits, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &Controller{
		limits: cp,
		states: make(map[string]*platformState),
		logger: logger,
		now:    time.Now,
	}
}

func (c *Controller) state(platform string) *platformState {
	st, ok := c.states[platform]
	if !ok {
		st = &platformState{}
		c.states[platform] = st
	}
	return st
}

// Acquire claims one session slot for platform. It fails fast with a
// *DeniedError while the platform is in cooldown or at its concurrency cap.
// If the minimum inter-request delay has not elapsed it suspends for the
// remainder (the only blocking wait here), honouring ctx cancellation.
//
// The returned Slot must be released exactly once; release it in a defer so
// capacity cannot leak on any exit path.
func (c *Controller) Acquire(ctx context.Context, platform string) (*Slot, error) {
	lim, ok := c.limits[platform]
	if !ok {
		return nil, fmt.Errorf("admission: unknown platform %q", platform)
	}

	for {
		c.mu.Lock()
		st := c.state(platform)
		now := c.now()

		if now.Before(st.cooldownUntil) {
			remaining := st.cooldownUntil.Sub(now)
			c.mu.Unlock()
			return nil, &DeniedError{Platform: platform, RetryAfter: remaining, reason: ErrCooldownActive}
		}

		if st.activeRequests >= lim.MaxConcurrent {
			c.mu.Unlock()
			return nil, &DeniedError{Platform: platform, RetryAfter: time.Second, reason: ErrConcurrencyLimit}
		}

		wait := lim.MinDelay - now.Sub(st.lastRequestAt)
		if wait <= 0 {
			// Check-then-increment happens in one critical section so
			// activeRequests can never exceed MaxConcurrent under a race.
			st.activeRequests++
			st.lastRequestAt = now
			c.mu.Unlock()
			return &Slot{controller: c, platform: platform}, nil
		}
		c.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return nil, fmt.Errorf("admission: acquire %s: %w", platform, err)
		}
		// Re-validate from scratch: another session may have claimed the
		// slot or triggered a cooldown while we slept.
	}
}

func (c *Controller) release(platform string, outcome Outcome) {
	lim := c.limits[platform]

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(platform)
	if st.activeRequests > 0 {
		st.activeRequests--
	}

	switch outcome {
	case OutcomeBlocked:
		st.consecutiveFailures++
		if st.consecutiveFailures >= lim.MaxFailures {
			st.cooldownUntil = c.now().Add(lim.Cooldown)
			c.logger.Warn("admission: platform entering cooldown",
				"platform", platform,
				"failures", st.consecutiveFailures,
				"until", st.cooldownUntil)
		}
	case OutcomeSuccess:
		st.consecutiveFailures = 0
	}
}

// Status returns a snapshot for every configured platform, sorted by name.
// It never mutates state.
func (c *Controller) Status() []PlatformStatus {
	names := make([]string, 0, len(c.limits))
	for name := range c.limits {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PlatformStatus, 0, len(names))
	for _, name := range names {
		ps, _ := c.StatusFor(name)
		out = append(out, ps)
	}
	return out
}

// StatusFor returns the snapshot for a single platform. The second
// return is false when the platform is not configured.
func (c *Controller) StatusFor(platform string) (PlatformStatus, bool) {
	lim, ok := c.limits[platform]
	if !ok {
		return PlatformStatus{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ps := PlatformStatus{
		Platform:      platform,
		MaxConcurrent: lim.MaxConcurrent,
	}
	if st, ok := c.states[platform]; ok {
		ps.ActiveRequests = st.activeRequests
		ps.ConsecutiveFailures = st.consecutiveFailures
		if c.now().Before(st.cooldownUntil) {
			ps.InCooldown = true
			ps.CooldownEndsAt = st.cooldownUntil
		}
	}
	return ps, true
}

// Slot is the capability returned by a successful Acquire. Holding it
// authorizes exactly one in-flight session for its platform.
type Slot struct {
	controller *Controller
	platform   string

	mu       sync.Mutex
	released bool
}

// Platform returns the platform this slot belongs to.
func (s *Slot) Platform() string { return s.platform }

// Release returns the slot with the session's outcome. A second Release is
// a logged no-op, so the deferred release and an explicit one can coexist.
func (s *Slot) Release(outcome Outcome) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		s.controller.logger.Warn("admission: slot released twice", "platform", s.platform)
		return
	}
	s.released = true
	s.mu.Unlock()

	s.controller.release(s.platform, outcome)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
