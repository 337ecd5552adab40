package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// DefaultMaxCaptured bounds retained responses per session. Chatty pages
// fire thousands of responses; a few hundred JSON bodies is plenty.
const DefaultMaxCaptured = 200

// CapturedResponse is one retained API response.
type CapturedResponse struct {
	URL       string
	Body      any
	Timestamp time.Time
}

// Collector subscribes to a session's network responses and retains JSON
// bodies whose URL matches the interest patterns. Stop must be called at
// the end of the session phase; a forgotten Stop leaks the listener for the
// page's remaining lifetime.
type Collector struct {
	mu      sync.Mutex
	entries []CapturedResponse

	patterns []string
	max      int
	logger   *slog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
}

// Collect attaches a Collector to the session's page. patterns are
// case-insensitive URL substrings; an empty set accepts every JSON
// response. max <= 0 uses DefaultMaxCaptured.
func (s *Session) Collect(patterns []string, max int) *Collector {
	if max <= 0 {
		max = DefaultMaxCaptured
	}

	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		patterns: lowered,
		max:      max,
		logger:   s.logger,
		cancel:   cancel,
	}

	pg := s.page.Context(ctx)
	go pg.EachEvent(func(e *proto.NetworkResponseReceived) {
		if !shouldRetain(e.Response.Status, e.Response.MIMEType, e.Response.URL, c.patterns) {
			return
		}

		c.mu.Lock()
		full := len(c.entries) >= c.max
		c.mu.Unlock()
		if full {
			return
		}

		res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(pg)
		if err != nil {
			c.logger.Debug("collector: response body unavailable", "url", e.Response.URL, "error", err)
			return
		}
		raw := []byte(res.Body)
		if res.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(res.Body)
			if err != nil {
				return
			}
			raw = decoded
		}

		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			// Content-type lied; not valid JSON.
			return
		}

		c.mu.Lock()
		if len(c.entries) < c.max {
			c.entries = append(c.entries, CapturedResponse{
				URL:       e.Response.URL,
				Body:      body,
				Timestamp: time.Now(),
			})
		}
		c.mu.Unlock()
	})()

	return c
}

// Stop detaches the collector. Idempotent.
func (c *Collector) Stop() {
	c.stopOnce.Do(c.cancel)
}

// Responses returns a snapshot of the retained responses.
func (c *Collector) Responses() []CapturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedResponse, len(c.entries))
	copy(out, c.entries)
	return out
}

// Payloads returns just the decoded JSON bodies, for the extractor.
func (c *Collector) Payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Body
	}
	return out
}

// shouldRetain applies the retention predicate: HTTP 200, JSON content
// type, and a URL matching at least one interest pattern (empty set
// matches everything).
func shouldRetain(status int, mimeType, respURL string, patterns []string) bool {
	if status != 200 {
		return false
	}
	if !strings.Contains(strings.ToLower(mimeType), "json") {
		return false
	}
	if len(patterns) == 0 {
		return true
	}
	lower := strings.ToLower(respURL)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
