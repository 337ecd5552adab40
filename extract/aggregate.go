package extract

import (
	"fmt"
	"sort"
	"strings"
)

// PriceObservation is one sighting of an item's price at a store.
type PriceObservation struct {
	Price     float64 `json:"price"`
	Platform  string  `json:"platform"`
	StoreName string  `json:"storeName"`
}

// AggregatedItem is the cross-order, cross-platform rollup of one purchased
// item: total quantity, recency, and observed price range.
type AggregatedItem struct {
	Name         string             `json:"name"`
	Count        int                `json:"count"`
	LastOrdered  string             `json:"lastOrdered,omitempty"`
	Prices       []PriceObservation `json:"prices"`
	LowestPrice  *PriceObservation  `json:"lowestPrice"`
	HighestPrice *PriceObservation  `json:"highestPrice"`
}

// OrderKeyFunc produces the deduplication key for an order.
type OrderKeyFunc func(Order) string

// CoarseOrderKey is the default dedup key: (platform, store, item count).
// Deliberately coarse: the same order scraped twice (API and DOM) rarely
// yields byte-identical item lists, so a content hash would under-merge.
// The cost is that two genuinely distinct orders sharing a store and item
// count collapse into one.
func CoarseOrderKey(o Order) string {
	return fmt.Sprintf("%s:%s:%d", o.Platform, o.StoreName, len(o.Items))
}

// DeduplicateOrders removes orders sharing a key, keeping the first of each.
// A nil keyFn uses CoarseOrderKey.
func DeduplicateOrders(orders []Order, keyFn OrderKeyFunc) []Order {
	if keyFn == nil {
		keyFn = CoarseOrderKey
	}
	seen := make(map[string]struct{}, len(orders))
	unique := orders[:0:0]
	for _, o := range orders {
		key := keyFn(o)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, o)
	}
	return unique
}

// Aggregator rolls a batch of orders up into per-item purchase history.
// The zero value is usable; KeyFunc overrides the order dedup key.
type Aggregator struct {
	KeyFunc OrderKeyFunc
}

// Aggregate deduplicates orders, then accumulates per distinct item name
// (case-insensitive, trimmed): quantity sum, most recent order date, and
// every observed price. Output is sorted by count descending; ties keep
// encounter order. Built fresh per call, nothing is maintained between calls.
func (a *Aggregator) Aggregate(orders []Order) []AggregatedItem {
	orders = DeduplicateOrders(orders, a.KeyFunc)

	index := make(map[string]int)
	var out []AggregatedItem

	for _, order := range orders {
		for _, item := range order.Items {
			key := strings.ToLower(strings.TrimSpace(item.Name))
			if key == "" {
				continue
			}
			idx, ok := index[key]
			if !ok {
				idx = len(out)
				index[key] = idx
				out = append(out, AggregatedItem{Name: item.Name})
			}

			entry := &out[idx]
			qty := item.Quantity
			if qty < 1 {
				qty = 1
			}
			entry.Count += qty

			// RFC 3339 strings order lexically.
			if order.OrderDate != "" && order.OrderDate > entry.LastOrdered {
				entry.LastOrdered = order.OrderDate
			}

			if item.Price != nil {
				entry.Prices = append(entry.Prices, PriceObservation{
					Price:     *item.Price,
					Platform:  order.Platform,
					StoreName: order.StoreName,
				})
			}
		}
	}

	for i := range out {
		entry := &out[i]
		if len(entry.Prices) == 0 {
			continue
		}
		sort.SliceStable(entry.Prices, func(a, b int) bool {
			return entry.Prices[a].Price < entry.Prices[b].Price
		})
		entry.LowestPrice = &entry.Prices[0]
		entry.HighestPrice = &entry.Prices[len(entry.Prices)-1]
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Count > out[b].Count
	})
	return out
}
