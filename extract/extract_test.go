package extract

import (
	"encoding/json"
	"testing"
)

func payload(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return v
}

func TestFindItemsBasic(t *testing.T) {
	p := payload(t, `{
		"data": {
			"items": [
				{"name": "Whole Milk", "price": 4.29, "unit": "1 gal", "category": "Dairy"},
				{"title": "Sourdough Bread", "price": 5.99}
			]
		}
	}`)

	items := FindItems([]any{p}, Profile{Platform: "doordash"})
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Name != "Whole Milk" || items[0].Price == nil || *items[0].Price != 4.29 {
		t.Errorf("first item = %+v", items[0])
	}
	if items[0].Unit != "1 gal" || items[0].Category != "Dairy" {
		t.Errorf("unit/category = %q/%q", items[0].Unit, items[0].Category)
	}
	if items[0].Platform != "doordash" {
		t.Errorf("platform = %q", items[0].Platform)
	}
	if items[1].Name != "Sourdough Bread" {
		t.Errorf("second item = %+v", items[1])
	}
}

func TestFindItemsNameOnlyIsNotProduct(t *testing.T) {
	p := payload(t, `{
		"results": [
			{"name": "Store Location Header"},
			{"title": "Promo banner", "link": "/deals"}
		]
	}`)

	if items := FindItems([]any{p}, Profile{Platform: "ubereats"}); len(items) != 0 {
		t.Fatalf("name-only records classified as products: %+v", items)
	}
}

func TestFindItemsPriceOnlyIsNotProduct(t *testing.T) {
	p := payload(t, `{"results": [{"price": 9.99, "sku": "X1"}]}`)
	if items := FindItems([]any{p}, Profile{Platform: "ubereats"}); len(items) != 0 {
		t.Fatalf("price-only record classified as product: %+v", items)
	}
}

func TestFindItemsDeduplicatesByName(t *testing.T) {
	p := payload(t, `{
		"items": [
			{"name": "Eggs", "price": 3.50},
			{"name": "  eggs ", "price": 3.99}
		]
	}`)

	items := FindItems([]any{p}, Profile{Platform: "instacart"})
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 after dedup", len(items))
	}
	if *items[0].Price != 3.50 {
		t.Errorf("first occurrence should win, got price %v", *items[0].Price)
	}
}

func TestFindItemsPriceEncodings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		prof Profile
		want float64
	}{
		{
			name: "integer cents with platform rule",
			raw:  `{"items": [{"name": "Butter", "price": 549}]}`,
			prof: Profile{Platform: "instacart", CentsOver: 100},
			want: 5.49,
		},
		{
			name: "decimal units untouched",
			raw:  `{"items": [{"name": "Butter", "price": 5.49}]}`,
			prof: Profile{Platform: "instacart", CentsOver: 100},
			want: 5.49,
		},
		{
			name: "string with currency symbol",
			raw:  `{"items": [{"name": "Butter", "price": "$5.49"}]}`,
			prof: Profile{Platform: "ubereats"},
			want: 5.49,
		},
		{
			name: "nested pricing object",
			raw:  `{"items": [{"name": "Butter", "pricing": {"price": 5.49}}]}`,
			prof: Profile{Platform: "instacart"},
			want: 5.49,
		},
		{
			name: "snake case base price",
			raw:  `{"items": [{"name": "Butter", "base_price": 5.49}]}`,
			prof: Profile{Platform: "instacart"},
			want: 5.49,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items := FindItems([]any{payload(t, tc.raw)}, tc.prof)
			if len(items) != 1 {
				t.Fatalf("got %d items, want 1", len(items))
			}
			if items[0].Price == nil || *items[0].Price != tc.want {
				t.Errorf("price = %v, want %v", items[0].Price, tc.want)
			}
		})
	}
}

func TestFindItemsUnparseablePriceStillProduct(t *testing.T) {
	p := payload(t, `{"items": [{"name": "Mystery", "price": "call us"}]}`)
	items := FindItems([]any{p}, Profile{Platform: "ubereats"})
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Price != nil {
		t.Errorf("price = %v, want nil for unparseable string", *items[0].Price)
	}
}

func TestFindItemsStockFlags(t *testing.T) {
	p := payload(t, `{"items": [
		{"name": "A", "price": 1, "in_stock": false},
		{"name": "B", "price": 1, "available": false},
		{"name": "C", "price": 1}
	]}`)

	items := FindItems([]any{p}, Profile{Platform: "instacart"})
	if len(items) != 3 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].InStock || items[1].InStock || !items[2].InStock {
		t.Errorf("stock flags = %v %v %v", items[0].InStock, items[1].InStock, items[2].InStock)
	}
}

func TestWalkDepthBound(t *testing.T) {
	// Nest a product 15 levels deep under non-container keys; the walk
	// stops at depth 10 and must not find it.
	inner := `{"name": "Deep", "price": 1}`
	raw := inner
	for i := 0; i < 15; i++ {
		raw = `{"wrapper": ` + raw + `}`
	}

	if items := FindItems([]any{payload(t, raw)}, Profile{Platform: "ubereats"}); len(items) != 0 {
		t.Errorf("depth bound not enforced, found %+v", items)
	}
}

func TestWalkCycleGuard(t *testing.T) {
	// Hand-built self-referential structure; must terminate.
	m := map[string]any{"name": "Looped", "price": 2.0}
	m["self"] = m

	items := FindItems([]any{m}, Profile{Platform: "ubereats"})
	if len(items) != 1 {
		t.Errorf("got %d items from cyclic payload, want 1", len(items))
	}
}

func TestFindOrders(t *testing.T) {
	p := payload(t, `{
		"orders": [
			{
				"store": {"name": "Green Grocer"},
				"createdAt": "2026-07-04T12:00:00Z",
				"orderId": "ord-123",
				"items": [
					{"name": "Milk", "quantity": 2, "price": 4.00},
					{"quantity": 1, "price": 2.00},
					{"name": "Bread"}
				]
			}
		]
	}`)

	orders := FindOrders([]any{p}, Profile{Platform: "ubereats"})
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.StoreName != "Green Grocer" {
		t.Errorf("storeName = %q", o.StoreName)
	}
	if o.OrderDate != "2026-07-04T12:00:00Z" {
		t.Errorf("orderDate = %q", o.OrderDate)
	}
	if o.OrderID != "ord-123" {
		t.Errorf("orderId = %q", o.OrderID)
	}
	// Nameless line item is skipped; "Bread" without price kept.
	if len(o.Items) != 2 {
		t.Fatalf("line items = %+v", o.Items)
	}
	if o.Items[0].Name != "Milk" || o.Items[0].Quantity != 2 {
		t.Errorf("first line item = %+v", o.Items[0])
	}
	if o.Items[1].Name != "Bread" || o.Items[1].Price != nil {
		t.Errorf("second line item = %+v", o.Items[1])
	}
}

func TestFindOrdersStoreOnlyIsOrderLike(t *testing.T) {
	p := payload(t, `{"results": [{"merchantName": "Taco Spot"}]}`)
	orders := FindOrders([]any{p}, Profile{Platform: "doordash"})
	if len(orders) != 1 || orders[0].StoreName != "Taco Spot" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestFindOrdersEpochDates(t *testing.T) {
	p := payload(t, `{"orders": [
		{"storeName": "A", "timestamp": 1751630400, "items": []},
		{"storeName": "B", "timestamp": 1751630400000, "items": []}
	]}`)

	orders := FindOrders([]any{p}, Profile{Platform: "doordash"})
	if len(orders) != 2 {
		t.Fatalf("got %d orders", len(orders))
	}
	if orders[0].OrderDate != orders[1].OrderDate {
		t.Errorf("seconds vs milliseconds disagree: %q / %q", orders[0].OrderDate, orders[1].OrderDate)
	}
	if orders[0].OrderDate == "" {
		t.Error("epoch date not normalized")
	}
}

func TestFindOrdersNumericID(t *testing.T) {
	p := payload(t, `{"orders": [{"storeName": "A", "id": 98765, "items": []}]}`)
	orders := FindOrders([]any{p}, Profile{Platform: "instacart"})
	if len(orders) != 1 || orders[0].OrderID != "98765" {
		t.Fatalf("orders = %+v", orders)
	}
}
