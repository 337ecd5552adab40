package agent

import (
	"testing"
)

const orderPageHTML = `<html><body>
<div data-testid="order-card">
	<h3>Corner Market</h3>
	<time datetime="2024-03-15T10:00:00Z">March 15</time>
	<ul>
		<li>2 x Whole Milk $7.98</li>
		<li>Sourdough Bread $4.50</li>
		<li>$12.48</li>
	</ul>
</div>
<div data-testid="order-card">
	<h3>Green Grocer</h3>
	<ul>
		<li>Bananas $1.29</li>
	</ul>
</div>
<div data-testid="order-card">
	<h3>Empty Card</h3>
</div>
</body></html>`

func TestOrdersFromDOM(t *testing.T) {
	prof := DefaultProfiles()["ubereats"]

	orders := ordersFromDOM(orderPageHTML, prof)
	if len(orders) != 2 {
		t.Fatalf("len(orders) = %d, want 2 (card without items dropped)", len(orders))
	}

	first := orders[0]
	if first.Platform != "ubereats" {
		t.Errorf("Platform = %q", first.Platform)
	}
	if first.StoreName != "Corner Market" {
		t.Errorf("StoreName = %q", first.StoreName)
	}
	if first.OrderDate != "2024-03-15T10:00:00Z" {
		t.Errorf("OrderDate = %q", first.OrderDate)
	}
	if len(first.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2 (price-only line dropped)", len(first.Items))
	}
	if first.Items[0].Name != "Whole Milk" || first.Items[0].Quantity != 2 {
		t.Errorf("item[0] = %+v", first.Items[0])
	}
	if first.Items[0].Price == nil || *first.Items[0].Price != 7.98 {
		t.Errorf("item[0].Price = %v", first.Items[0].Price)
	}
	if first.Items[1].Name != "Sourdough Bread" || first.Items[1].Quantity != 1 {
		t.Errorf("item[1] = %+v", first.Items[1])
	}

	if orders[1].OrderDate != "" {
		t.Errorf("dateless card got OrderDate %q", orders[1].OrderDate)
	}
}

func TestOrdersFromDOMNoCards(t *testing.T) {
	prof := DefaultProfiles()["ubereats"]
	if got := ordersFromDOM(`<html><body><p>nothing here</p></body></html>`, prof); got != nil {
		t.Errorf("orders = %+v, want nil", got)
	}
}

func TestLineItem(t *testing.T) {
	tests := []struct {
		in       string
		ok       bool
		name     string
		quantity int
		price    float64 // 0 means nil expected
	}{
		{"2 x Whole Milk $7.98", true, "Whole Milk", 2, 7.98},
		{"3× Eggs", true, "Eggs", 3, 0},
		{"Sourdough Bread $4.50", true, "Sourdough Bread", 1, 4.50},
		{"  spaced   out   name  ", true, "spaced out name", 1, 0},
		{"$12.48", false, "", 0, 0},
		{"", false, "", 0, 0},
	}
	for _, tc := range tests {
		item, ok := lineItem(tc.in)
		if ok != tc.ok {
			t.Errorf("lineItem(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if item.Name != tc.name || item.Quantity != tc.quantity {
			t.Errorf("lineItem(%q) = %+v", tc.in, item)
		}
		switch {
		case tc.price == 0 && item.Price != nil:
			t.Errorf("lineItem(%q) price = %v, want nil", tc.in, *item.Price)
		case tc.price != 0 && (item.Price == nil || *item.Price != tc.price):
			t.Errorf("lineItem(%q) price = %v, want %v", tc.in, item.Price, tc.price)
		}
	}
}
