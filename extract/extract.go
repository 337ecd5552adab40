// Package extract recovers typed commerce records from the untyped JSON
// payloads a browsing session captures off a platform's internal APIs.
//
// Those APIs are undocumented and drift constantly, so there is no fixed
// parser. Instead a bounded recursive walk probes every object against a
// small shape heuristic (product-like, order-like) and normalizes matches
// into canonical records. Occasional false positives and negatives are the
// accepted cost of surviving shape drift.
package extract

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	itemWalkDepth  = 10
	orderWalkDepth = 8
)

// Profile tells the extractor how a platform encodes its records.
type Profile struct {
	// Platform is stamped on every extracted record.
	Platform string
	// CentsOver treats numeric prices above this value as integer cents
	// and divides by 100. Zero disables the heuristic.
	CentsOver float64
}

// Item is the canonical product record.
type Item struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Unit     string   `json:"unit,omitempty"`
	InStock  bool     `json:"inStock"`
	Category string   `json:"category,omitempty"`
	Platform string   `json:"platform"`
}

// OrderItem is one line item inside an order.
type OrderItem struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Price    *float64 `json:"price"`
}

// Order is the canonical purchase record.
type Order struct {
	Platform  string      `json:"platform"`
	StoreName string      `json:"storeName"`
	Items     []OrderItem `json:"items"`
	OrderDate string      `json:"orderDate,omitempty"` // RFC 3339, empty if unknown
	OrderID   string      `json:"orderId,omitempty"`
}

// Key field candidates, in priority order. Both camelCase and snake_case
// spellings appear in the wild, often within one payload.
var (
	nameKeys  = []string{"name", "title", "displayName", "display_name", "itemName", "item_name", "productName", "product_name"}
	priceKeys = []string{"price", "displayPrice", "display_price", "unitPrice", "unit_price", "pricing", "basePrice", "base_price"}

	unitKeys     = []string{"unit", "unit_size", "unitSize", "size"}
	categoryKeys = []string{"category", "aisle", "department"}

	itemContainerKeys  = []string{"items", "products", "data", "results", "modules", "edges", "search_results", "catalog"}
	orderContainerKeys = []string{"orders", "order_history", "orderHistory", "pastOrders", "past_orders", "data", "results", "items", "edges"}

	orderItemsKeys = []string{"items", "orderItems", "order_items", "lineItems", "line_items", "cart"}
	storeKeys      = []string{"store", "storeName", "store_name", "restaurant", "retailer", "retailer_name", "merchantName", "merchant_name", "businessName"}

	orderDateKeys = []string{"createdAt", "created_at", "orderDate", "order_date", "placedAt", "placed_at", "timestamp"}
	orderIDKeys   = []string{"id", "orderId", "order_id", "uuid"}
)

// FindItems walks every captured payload and returns the product-like
// records it finds, deduplicated by normalized name (first wins).
func FindItems(payloads []any, prof Profile) []Item {
	var items []Item
	seen := make(map[string]struct{})

	for _, payload := range payloads {
		w := newWalker(itemWalkDepth)
		w.walk(payload, 0, func(m map[string]any) bool {
			if !isProductLike(m) {
				return false
			}
			it := normalizeItem(m, prof)
			key := normalizeName(it.Name)
			if key == "" {
				return true
			}
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				items = append(items, it)
			}
			return true
		}, itemContainerKeys)
	}
	return items
}

// FindOrders walks every captured payload and returns the order-like
// records it finds. Orders are not deduplicated here; see DeduplicateOrders.
func FindOrders(payloads []any, prof Profile) []Order {
	var orders []Order

	for _, payload := range payloads {
		w := newWalker(orderWalkDepth)
		w.walk(payload, 0, func(m map[string]any) bool {
			if !isOrderLike(m) {
				return false
			}
			orders = append(orders, normalizeOrder(m, prof))
			return true
		}, orderContainerKeys)
	}
	return orders
}

// walker carries the depth bound and cycle guard for one payload traversal.
// JSON from encoding/json is acyclic by construction, but payloads can be
// handed in from other sources, so self-referential structures are guarded
// against rather than trusted away.
type walker struct {
	maxDepth int
	visited  map[uintptr]struct{}
}

func newWalker(maxDepth int) *walker {
	return &walker{maxDepth: maxDepth, visited: make(map[uintptr]struct{})}
}

// walk probes v and its descendants. classify is called on every object;
// returning true means the object was consumed as a record and its fields
// are not descended into further (container keys still are, matching the
// original duck-typing behaviour closely enough: a record's containers may
// themselves hold records).
func (w *walker) walk(v any, depth int, classify func(map[string]any) bool, containerKeys []string) {
	if v == nil || depth > w.maxDepth {
		return
	}
	if !w.enter(v) {
		return
	}

	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if m, ok := el.(map[string]any); ok && classify(m) {
				continue
			}
			w.walk(el, depth+1, classify, containerKeys)
		}
	case map[string]any:
		classify(t)

		descended := make(map[string]struct{}, len(containerKeys))
		for _, key := range containerKeys {
			if child, ok := t[key]; ok && child != nil {
				descended[key] = struct{}{}
				w.walk(child, depth+1, classify, containerKeys)
			}
		}
		for key, child := range t {
			if _, done := descended[key]; done {
				continue
			}
			switch child.(type) {
			case map[string]any, []any:
				w.walk(child, depth+1, classify, containerKeys)
			}
		}
	}
}

// enter records v in the cycle guard. Returns false if v was already seen.
func (w *walker) enter(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.Kind() == reflect.Slice && rv.Len() == 0 {
			return true
		}
		ptr := rv.Pointer()
		if _, seen := w.visited[ptr]; seen {
			return false
		}
		w.visited[ptr] = struct{}{}
	}
	return true
}

// isProductLike requires both a name-ish and a price-ish field. One alone is
// not enough; plenty of unrelated records carry just a name.
func isProductLike(m map[string]any) bool {
	return firstString(m, nameKeys) != "" && hasAny(m, priceKeys)
}

func normalizeItem(m map[string]any, prof Profile) Item {
	it := Item{
		Name:     firstString(m, nameKeys),
		Unit:     firstString(m, unitKeys),
		Category: firstString(m, categoryKeys),
		Platform: prof.Platform,
		InStock:  true,
	}

	if v, ok := m["in_stock"].(bool); ok && !v {
		it.InStock = false
	}
	if v, ok := m["available"].(bool); ok && !v {
		it.InStock = false
	}

	if p, ok := resolvePrice(m); ok {
		if prof.CentsOver > 0 && p > prof.CentsOver {
			p = p / 100
		}
		it.Price = &p
	}
	return it
}

// resolvePrice handles the encodings seen across platforms: plain numbers,
// string prices with currency symbols, and a nested pricing object.
func resolvePrice(m map[string]any) (float64, bool) {
	for _, key := range priceKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case string:
			if p, ok := parsePriceString(t); ok {
				return p, true
			}
		case map[string]any:
			// pricing: {price: ..., unit_price: ...}
			if p, ok := resolvePrice(t); ok {
				return p, true
			}
		}
	}
	return 0, false
}

func parsePriceString(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		default:
			return -1
		}
	}, s)
	if cleaned == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// isOrderLike accepts an object with either an items-ish collection or a
// store-ish identity. Either alone is enough: DOM-harvested orders often
// lack one of the two.
func isOrderLike(m map[string]any) bool {
	return hasAny(m, orderItemsKeys) || hasAny(m, storeKeys)
}

func normalizeOrder(m map[string]any, prof Profile) Order {
	o := Order{
		Platform:  prof.Platform,
		StoreName: resolveStoreName(m),
		Items:     resolveOrderItems(m, prof),
		OrderID:   firstStringish(m, orderIDKeys),
	}

	for _, key := range orderDateKeys {
		if v, ok := m[key]; ok && v != nil {
			if iso, ok := toISODate(v); ok {
				o.OrderDate = iso
				break
			}
		}
	}
	return o
}

func resolveStoreName(m map[string]any) string {
	for _, key := range storeKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case map[string]any:
			// store: {name: "..."} and friends
			if name := firstString(t, nameKeys); name != "" {
				return name
			}
		}
	}
	return "Unknown Store"
}

func resolveOrderItems(m map[string]any, prof Profile) []OrderItem {
	var raw []any
	for _, key := range orderItemsKeys {
		switch t := m[key].(type) {
		case []any:
			raw = t
		case map[string]any:
			// cart: {items: [...]}
			if inner, ok := t["items"].([]any); ok {
				raw = inner
			}
		}
		if raw != nil {
			break
		}
	}

	items := make([]OrderItem, 0, len(raw))
	for _, el := range raw {
		im, ok := el.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(im, nameKeys)
		if name == "" {
			// A line item without a name is useless downstream.
			continue
		}
		oi := OrderItem{Name: name, Quantity: 1}
		if q, ok := im["quantity"].(float64); ok && q >= 1 {
			oi.Quantity = int(q)
		}
		if p, ok := resolvePrice(im); ok {
			if prof.CentsOver > 0 && p > prof.CentsOver {
				p = p / 100
			}
			oi.Price = &p
		}
		items = append(items, oi)
	}
	return items
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// toISODate normalizes recognizable timestamps (RFC 3339 strings, common
// date layouts, unix epoch seconds or milliseconds) to RFC 3339 UTC.
func toISODate(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC().Format(time.RFC3339), true
			}
		}
	case float64:
		if t <= 0 {
			return "", false
		}
		sec := int64(t)
		if t > 1e12 { // epoch milliseconds
			sec = int64(t / 1000)
		}
		return time.Unix(sec, 0).UTC().Format(time.RFC3339), true
	}
	return "", false
}

func firstString(m map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstStringish also accepts numeric IDs and renders them as strings.
func firstStringish(m map[string]any, keys []string) string {
	for _, key := range keys {
		switch t := m[key].(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			if t == float64(int64(t)) {
				return strconv.FormatInt(int64(t), 10)
			}
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func hasAny(m map[string]any, keys []string) bool {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
