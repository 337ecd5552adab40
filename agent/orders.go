package agent

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/pantryops/cartd/extract"
	"github.com/pantryops/cartd/session"
)

// FetchOrderHistory scrapes a platform's order history page. Structured
// API payloads captured during the page load are preferred; when none
// carry orders the rendered DOM is parsed as a fallback.
func (a *Agent) FetchOrderHistory(ctx context.Context, platform string) ([]extract.Order, error) {
	prof, err := a.profile(platform)
	if err != nil {
		return nil, err
	}

	var orders []extract.Order
	err = a.runSession(ctx, prof, "orders", func(ctx context.Context, sess *session.Session) error {
		col := sess.Collect(prof.CollectPatterns, 0)
		defer col.Stop()

		if err := sess.Navigate(ctx, prof.OrdersURL); err != nil {
			return err
		}
		if err := a.settle(ctx, sess); err != nil {
			return err
		}
		if err := a.ensureNotBlocked(ctx, prof, sess); err != nil {
			return err
		}

		// Order lists lazy-load on scroll.
		sess.Scroll(ctx, 3)
		if err := a.settle(ctx, sess); err != nil {
			return err
		}
		col.Stop()

		found := extract.FindOrders(col.Payloads(), prof.Extract)
		if len(found) == 0 {
			html, herr := sess.HTML(ctx)
			if herr == nil {
				found = ordersFromDOM(html, prof)
				a.snapshots.Archive(ctx, prof.Name, "orders", prof.OrdersURL, html)
			}
		}
		a.logger.Info("agent: order history fetched", "platform", prof.Name, "orders", len(found))
		orders = extract.DeduplicateOrders(found, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// History is the combined order view across every platform.
type History struct {
	Orders     []extract.Order          `json:"orders"`
	Aggregated []extract.AggregatedItem `json:"aggregated"`
	// Skipped maps platforms that failed to the reason. One broken
	// platform never sinks the combined view.
	Skipped map[string]string `json:"skipped,omitempty"`
}

// FetchAllOrderHistories fetches every configured platform in turn and
// aggregates the results into per-item purchase rollups.
func (a *Agent) FetchAllOrderHistories(ctx context.Context) (*History, error) {
	names := a.Platforms()
	sort.Strings(names)

	h := &History{Skipped: map[string]string{}}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		orders, err := a.FetchOrderHistory(ctx, name)
		if err != nil {
			a.logger.Warn("agent: platform skipped", "platform", name, "error", err)
			h.Skipped[name] = err.Error()
			continue
		}
		h.Orders = append(h.Orders, orders...)
	}

	agg := &extract.Aggregator{}
	h.Aggregated = agg.Aggregate(h.Orders)
	return h, nil
}

var (
	priceRe    = regexp.MustCompile(`\$(\d+(?:\.\d{1,2})?)`)
	quantityRe = regexp.MustCompile(`^(\d+)\s*[x×]\s*`)
)

// ordersFromDOM parses order cards out of rendered HTML. Far cruder
// than the structured path: prices come from a $-amount regex and the
// store name from the first matching heading.
func ordersFromDOM(html string, prof Platform) []extract.Order {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var cards *goquery.Selection
	for _, sel := range prof.OrderCardSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			cards = s
			break
		}
	}
	if cards == nil {
		return nil
	}

	var orders []extract.Order
	cards.Each(func(_ int, card *goquery.Selection) {
		o := extract.Order{
			Platform:  prof.Name,
			StoreName: firstText(card, prof.OrderStoreSelectors),
			OrderDate: cardDate(card, prof.OrderDateSelectors),
		}
		if o.StoreName == "" {
			o.StoreName = "Unknown Store"
		}

		for _, sel := range prof.OrderItemSelectors {
			card.Find(sel).Each(func(_ int, line *goquery.Selection) {
				if item, ok := lineItem(line.Text()); ok {
					o.Items = append(o.Items, item)
				}
			})
			if len(o.Items) > 0 {
				break
			}
		}
		if len(o.Items) > 0 {
			orders = append(orders, o)
		}
	})
	return orders
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

var domDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"1/2/2006",
	"01/02/2006",
}

func cardDate(card *goquery.Selection, selectors []string) string {
	candidates := []string{}
	for _, sel := range selectors {
		node := card.Find(sel).First()
		if dt, ok := node.Attr("datetime"); ok {
			candidates = append(candidates, dt)
		}
		if t := strings.TrimSpace(node.Text()); t != "" {
			candidates = append(candidates, t)
		}
	}
	for _, c := range candidates {
		for _, layout := range domDateLayouts {
			if ts, err := time.Parse(layout, c); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
		}
	}
	return ""
}

// lineItem turns one order line ("2 x Whole Milk $7.98") into an item.
// Lines without any letters are layout noise and are dropped.
func lineItem(text string) (extract.OrderItem, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return extract.OrderItem{}, false
	}

	item := extract.OrderItem{Quantity: 1}
	if m := quantityRe.FindStringSubmatch(text); m != nil {
		if q, err := strconv.Atoi(m[1]); err == nil && q > 0 {
			item.Quantity = q
		}
		text = strings.TrimSpace(text[len(m[0]):])
	}
	if m := priceRe.FindStringSubmatch(text); m != nil {
		if p, err := strconv.ParseFloat(m[1], 64); err == nil {
			item.Price = &p
		}
		text = strings.TrimSpace(strings.Replace(text, m[0], "", 1))
	}

	if !strings.ContainsFunc(text, unicode.IsLetter) {
		return extract.OrderItem{}, false
	}
	item.Name = text
	return item, true
}
