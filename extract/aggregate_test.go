package extract

import (
	"testing"
)

func fprice(v float64) *float64 { return &v }

func TestAggregateMergesAcrossStores(t *testing.T) {
	orders := []Order{
		{
			Platform:  "instacart",
			StoreName: "A",
			OrderDate: "2026-05-01T00:00:00Z",
			Items:     []OrderItem{{Name: "Milk", Quantity: 2, Price: fprice(4.00)}},
		},
		{
			Platform:  "doordash",
			StoreName: "B",
			OrderDate: "2026-06-01T00:00:00Z",
			Items:     []OrderItem{{Name: "milk", Quantity: 1, Price: fprice(3.50)}},
		},
	}

	var agg Aggregator
	out := agg.Aggregate(orders)
	if len(out) != 1 {
		t.Fatalf("got %d aggregated items, want 1", len(out))
	}

	milk := out[0]
	if milk.Name != "Milk" {
		t.Errorf("name = %q, want first-seen casing Milk", milk.Name)
	}
	if milk.Count != 3 {
		t.Errorf("count = %d, want 3", milk.Count)
	}
	if milk.LastOrdered != "2026-06-01T00:00:00Z" {
		t.Errorf("lastOrdered = %q", milk.LastOrdered)
	}
	if milk.LowestPrice == nil || milk.LowestPrice.Price != 3.50 {
		t.Errorf("lowestPrice = %+v, want 3.50", milk.LowestPrice)
	}
	if milk.LowestPrice.StoreName != "B" {
		t.Errorf("lowestPrice store = %q, want B", milk.LowestPrice.StoreName)
	}
	if milk.HighestPrice == nil || milk.HighestPrice.Price != 4.00 {
		t.Errorf("highestPrice = %+v, want 4.00", milk.HighestPrice)
	}
}

func TestAggregateNoPricesYieldsNil(t *testing.T) {
	orders := []Order{
		{Platform: "ubereats", StoreName: "A", Items: []OrderItem{{Name: "Napkins", Quantity: 1}}},
	}

	var agg Aggregator
	out := agg.Aggregate(orders)
	if len(out) != 1 {
		t.Fatalf("got %d items", len(out))
	}
	if out[0].LowestPrice != nil || out[0].HighestPrice != nil {
		t.Errorf("price bounds = %+v / %+v, want nil", out[0].LowestPrice, out[0].HighestPrice)
	}
}

func TestAggregateSortedByCountStable(t *testing.T) {
	orders := []Order{
		{Platform: "p", StoreName: "s1", Items: []OrderItem{
			{Name: "Rare", Quantity: 1},
			{Name: "Common", Quantity: 5},
			{Name: "AlsoRare", Quantity: 1},
		}},
	}

	var agg Aggregator
	out := agg.Aggregate(orders)
	if len(out) != 3 {
		t.Fatalf("got %d items", len(out))
	}
	if out[0].Name != "Common" {
		t.Errorf("first = %q, want Common", out[0].Name)
	}
	// Ties keep encounter order.
	if out[1].Name != "Rare" || out[2].Name != "AlsoRare" {
		t.Errorf("tie order = %q, %q", out[1].Name, out[2].Name)
	}
}

func TestCoarseOrderDedup(t *testing.T) {
	// Identical (platform, store, item-count) collapses even though the
	// item contents differ. That is the documented coarse-key trade-off.
	orders := []Order{
		{Platform: "doordash", StoreName: "A", Items: []OrderItem{{Name: "X", Quantity: 1}}},
		{Platform: "doordash", StoreName: "A", Items: []OrderItem{{Name: "Y", Quantity: 9}}},
	}

	unique := DeduplicateOrders(orders, nil)
	if len(unique) != 1 {
		t.Fatalf("got %d orders, want 1", len(unique))
	}
	if unique[0].Items[0].Name != "X" {
		t.Errorf("first order should win, got %+v", unique[0])
	}
}

func TestDedupKeyOverride(t *testing.T) {
	orders := []Order{
		{Platform: "doordash", StoreName: "A", OrderID: "1", Items: []OrderItem{{Name: "X", Quantity: 1}}},
		{Platform: "doordash", StoreName: "A", OrderID: "2", Items: []OrderItem{{Name: "Y", Quantity: 1}}},
	}

	agg := Aggregator{KeyFunc: func(o Order) string { return o.OrderID }}
	out := agg.Aggregate(orders)
	if len(out) != 2 {
		t.Fatalf("custom key should keep both orders, got %d items", len(out))
	}
}

func TestAggregateQuantityFloor(t *testing.T) {
	orders := []Order{
		{Platform: "p", StoreName: "s", Items: []OrderItem{{Name: "Thing", Quantity: 0}}},
	}

	var agg Aggregator
	out := agg.Aggregate(orders)
	if len(out) != 1 || out[0].Count != 1 {
		t.Fatalf("zero quantity should count as 1, got %+v", out)
	}
}
