package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/pantryops/cartd/session"
)

// matchThreshold is the minimum Jaro-Winkler similarity between the
// requested item name and a product card before we trust the match.
const matchThreshold = 0.82

// CartItem is one requested addition.
type CartItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CartLine is one successful addition.
type CartLine struct {
	Requested string  `json:"requested"`
	Matched   string  `json:"matched"`
	Quantity  int     `json:"quantity"`
	Score     float64 `json:"score"`
}

// CartFailure is one item that could not be added.
type CartFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CartResult reports the outcome per requested item.
type CartResult struct {
	Platform string        `json:"platform"`
	Added    []CartLine    `json:"added"`
	Failed   []CartFailure `json:"failed"`
}

// AddToCart opens the store and adds each requested item, matching
// request names against product cards fuzzily. One unfindable item
// fails alone; the rest of the list still goes in. A block page aborts
// the whole run.
func (a *Agent) AddToCart(ctx context.Context, platform, storeURL string, items []CartItem) (*CartResult, error) {
	prof, err := a.profile(platform)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("agent: empty cart request")
	}

	result := &CartResult{Platform: prof.Name}
	err = a.runSession(ctx, prof, "cart", func(ctx context.Context, sess *session.Session) error {
		if err := validStoreURL(prof, storeURL); err != nil {
			return err
		}
		if err := sess.Navigate(ctx, storeURL); err != nil {
			return err
		}
		if err := a.settle(ctx, sess); err != nil {
			return err
		}
		if err := a.ensureNotBlocked(ctx, prof, sess); err != nil {
			return err
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.addOneItem(ctx, prof, sess, item, result); err != nil {
				// A block aborts; anything else fails just this item.
				if IsBlocked(err) {
					return err
				}
				result.Failed = append(result.Failed, CartFailure{Name: item.Name, Reason: err.Error()})
				a.logger.Warn("agent: cart item failed", "platform", prof.Name, "item", item.Name, "error", err)
			}
			if err := sess.RandomDelay(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (a *Agent) addOneItem(ctx context.Context, prof Platform, sess *session.Session, item CartItem, result *CartResult) error {
	input, ok := sess.FindFirst(ctx, prof.SearchInputSelectors)
	if !ok {
		return errors.New("no search input on store page")
	}
	if err := sess.Fill(ctx, input, item.Name); err != nil {
		return fmt.Errorf("type query: %w", err)
	}
	if err := sess.PressEnter(ctx); err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	if err := a.settle(ctx, sess); err != nil {
		return err
	}
	if err := a.ensureNotBlocked(ctx, prof, sess); err != nil {
		return err
	}

	cards := sess.Elements(ctx, prof.ItemCardSelectors)
	if len(cards) == 0 {
		return errors.New("no product cards in results")
	}

	names := make([]string, len(cards))
	for i, card := range cards {
		names[i] = cardName(card, prof)
	}
	idx, score := bestMatch(item.Name, names)
	if idx < 0 {
		return fmt.Errorf("no result close enough to %q (best %.2f)", item.Name, score)
	}

	if err := clickWithin(cards[idx], prof.AddButtonSelectors); err != nil {
		return fmt.Errorf("add %q: %w", names[idx], err)
	}

	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	for i := 1; i < quantity; i++ {
		if err := sess.RandomDelay(ctx, 200*time.Millisecond, 600*time.Millisecond); err != nil {
			return err
		}
		if err := clickWithin(cards[idx], prof.IncrementSelectors); err != nil {
			return fmt.Errorf("increment %q to %d: %w", names[idx], i+1, err)
		}
	}

	result.Added = append(result.Added, CartLine{
		Requested: item.Name,
		Matched:   names[idx],
		Quantity:  quantity,
		Score:     score,
	})
	a.logger.Info("agent: item added to cart",
		"platform", prof.Name, "requested", item.Name, "matched", names[idx], "quantity", quantity)
	return nil
}

func cardName(card *rod.Element, prof Platform) string {
	for _, sel := range prof.ItemNameSelectors {
		if el, err := card.Element(sel); err == nil {
			if t, err := el.Text(); err == nil && strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		}
	}
	if t, err := card.Text(); err == nil {
		return strings.TrimSpace(t)
	}
	return ""
}

func clickWithin(card *rod.Element, selectors []string) error {
	for _, sel := range selectors {
		el, err := card.Element(sel)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click %s: %w", sel, err)
		}
		return nil
	}
	return errors.New("no clickable button found")
}

// bestMatch returns the index of the candidate most similar to target,
// or -1 when nothing clears the threshold. The returned score is the
// best one seen either way.
func bestMatch(target string, candidates []string) (int, float64) {
	norm := normalizeMatch(target)
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		nc := normalizeMatch(c)
		if nc == "" {
			continue
		}
		score := matchr.JaroWinkler(norm, nc, false)
		// Exact containment beats fuzzy distance for long card names
		// ("Organic Whole Milk, 1 Gallon" vs "whole milk").
		if strings.Contains(nc, norm) && score < 0.95 {
			score = 0.95
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if bestScore < matchThreshold {
		return -1, bestScore
	}
	return best, bestScore
}

func normalizeMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
