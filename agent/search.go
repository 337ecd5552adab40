package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pantryops/cartd/extract"
	"github.com/pantryops/cartd/pricecache"
	"github.com/pantryops/cartd/session"
)

// SearchStore searches a store's catalog for a query, returning
// normalized items. Results are cached; a live cache entry skips the
// browser session entirely.
func (a *Agent) SearchStore(ctx context.Context, platform, storeURL, query string) ([]extract.Item, error) {
	prof, err := a.profile(platform)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("agent: empty search query")
	}

	if items, err := a.cache.GetItems(ctx, prof.Name, storeURL, query); err == nil {
		a.logger.Debug("agent: search served from cache", "platform", prof.Name, "query", query)
		return items, nil
	} else if !errors.Is(err, pricecache.ErrMiss) {
		a.logger.Warn("agent: price cache read", "platform", prof.Name, "error", err)
	}

	var items []extract.Item
	err = a.runSession(ctx, prof, "search", func(ctx context.Context, sess *session.Session) error {
		found, err := a.searchInStore(ctx, prof, sess, storeURL, query)
		if err != nil {
			return err
		}
		items = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := a.cache.PutItems(ctx, prof.Name, storeURL, query, items); err != nil {
		a.logger.Warn("agent: price cache write", "platform", prof.Name, "error", err)
	}
	return items, nil
}

// searchInStore drives the in-store search box and harvests the catalog
// responses the query triggers.
func (a *Agent) searchInStore(ctx context.Context, prof Platform, sess *session.Session, storeURL, query string) ([]extract.Item, error) {
	target := storeURL
	if target == "" {
		target = prof.HomeURL
	}
	if err := validStoreURL(prof, target); err != nil {
		return nil, err
	}

	col := sess.Collect(prof.CollectPatterns, 0)
	defer col.Stop()

	if err := sess.Navigate(ctx, target); err != nil {
		return nil, err
	}
	if err := a.settle(ctx, sess); err != nil {
		return nil, err
	}
	if err := a.ensureNotBlocked(ctx, prof, sess); err != nil {
		return nil, err
	}

	input, ok := sess.FindFirst(ctx, prof.SearchInputSelectors)
	if !ok {
		return nil, fmt.Errorf("agent: %s: no search input on %s", prof.Name, target)
	}
	if err := sess.Fill(ctx, input, query); err != nil {
		return nil, fmt.Errorf("agent: %s: type query: %w", prof.Name, err)
	}
	if err := sess.PressEnter(ctx); err != nil {
		return nil, fmt.Errorf("agent: %s: submit query: %w", prof.Name, err)
	}
	if err := a.settle(ctx, sess); err != nil {
		return nil, err
	}
	if err := a.ensureNotBlocked(ctx, prof, sess); err != nil {
		return nil, err
	}

	// Result grids lazy-load below the fold.
	sess.Scroll(ctx, 3)
	if err := a.settle(ctx, sess); err != nil {
		return nil, err
	}
	col.Stop()

	items := extract.FindItems(col.Payloads(), prof.Extract)
	if len(items) == 0 {
		if html, err := sess.HTML(ctx); err == nil {
			a.snapshots.Archive(ctx, prof.Name, "search", target, html)
		}
	}
	a.logger.Info("agent: store searched", "platform", prof.Name, "query", query, "items", len(items))
	return items, nil
}

// validStoreURL rejects store URLs pointing off-platform. A stored URL
// is attacker-visible input once it round-trips through the API.
func validStoreURL(prof Platform, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("agent: parse store url: %w", err)
	}
	home, err := url.Parse(prof.HomeURL)
	if err != nil {
		return fmt.Errorf("agent: parse platform url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("agent: store url must be https, got %q", raw)
	}
	if u.Host != home.Host && !strings.HasSuffix(u.Host, "."+strings.TrimPrefix(home.Host, "www.")) {
		return fmt.Errorf("agent: store url %q is not on %s", raw, home.Host)
	}
	return nil
}
