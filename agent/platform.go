package agent

import "github.com/pantryops/cartd/extract"

// Platform describes how to drive one commerce site: where its pages
// live, which API responses carry product data, and which DOM selectors
// to try. Selector lists are ordered candidates; sites ship several
// frontend variants at once, so the first match wins.
type Platform struct {
	Name      string
	HomeURL   string
	OrdersURL string

	// CollectPatterns filter captured network responses down to the
	// endpoints that carry catalog and order payloads.
	CollectPatterns []string

	SearchInputSelectors []string
	ItemCardSelectors    []string
	ItemNameSelectors    []string
	AddButtonSelectors   []string
	IncrementSelectors   []string

	OrderCardSelectors  []string
	OrderStoreSelectors []string
	OrderItemSelectors  []string
	OrderDateSelectors  []string

	Extract extract.Profile
}

// DefaultProfiles returns the built-in platform definitions.
func DefaultProfiles() map[string]Platform {
	return map[string]Platform{
		"ubereats": {
			Name:      "ubereats",
			HomeURL:   "https://www.ubereats.com/",
			OrdersURL: "https://www.ubereats.com/orders",
			CollectPatterns: []string{
				"getpastordersv1",
				"getorderssummaryv1",
				"catalogpresentation",
				"graphql",
			},
			SearchInputSelectors: []string{
				`input[placeholder*="Search"]`,
				`input[data-testid="store-search-input"]`,
				`input[type="search"]`,
			},
			ItemCardSelectors: []string{
				`[data-testid="store-item"]`,
				`[data-testid^="store-item"]`,
				`li[class*="item"]`,
			},
			ItemNameSelectors: []string{
				`[data-testid="rich-text"]`,
				`span`,
			},
			AddButtonSelectors: []string{
				`button[aria-label^="Add"]`,
				`[data-testid="quick-add-button"]`,
			},
			IncrementSelectors: []string{
				`button[aria-label="Increase quantity"]`,
				`button[aria-label^="Increment"]`,
			},
			OrderCardSelectors: []string{
				`[data-testid="order-card"]`,
				`div[class*="order"]`,
			},
			OrderStoreSelectors: []string{`h3`, `a[href*="store"]`},
			OrderItemSelectors:  []string{`li`, `[data-testid="order-item"]`},
			OrderDateSelectors:  []string{`time`, `span[class*="date"]`},
			// Uber Eats GraphQL payloads price in integer cents.
			Extract: extract.Profile{Platform: "ubereats", CentsOver: 100},
		},
		"doordash": {
			Name:      "doordash",
			HomeURL:   "https://www.doordash.com/",
			OrdersURL: "https://www.doordash.com/orders",
			CollectPatterns: []string{
				"graphql",
				"consumer_profile",
				"order_history",
			},
			SearchInputSelectors: []string{
				`input[aria-label="Search store"]`,
				`input[placeholder*="Search"]`,
				`input[type="search"]`,
			},
			ItemCardSelectors: []string{
				`[data-anchor-id="MenuItem"]`,
				`[data-testid="GenericItemCard"]`,
				`div[class*="MenuItem"]`,
			},
			ItemNameSelectors: []string{
				`[data-telemetry-id="storeMenuItem.title"]`,
				`h3`,
				`span`,
			},
			AddButtonSelectors: []string{
				`button[aria-label^="Add"]`,
				`[data-testid="AddToCartButton"]`,
			},
			IncrementSelectors: []string{
				`button[aria-label="Increase quantity"]`,
				`[data-testid="QuantityStepperIncrement"]`,
			},
			OrderCardSelectors: []string{
				`[data-testid="orderHistoryCard"]`,
				`div[class*="OrderCard"]`,
			},
			OrderStoreSelectors: []string{`h3`, `span[class*="store"]`},
			OrderItemSelectors:  []string{`li`, `div[class*="orderItem"]`},
			OrderDateSelectors:  []string{`time`, `span[class*="date"]`},
			Extract:             extract.Profile{Platform: "doordash", CentsOver: 100},
		},
		"instacart": {
			Name:      "instacart",
			HomeURL:   "https://www.instacart.com/",
			OrdersURL: "https://www.instacart.com/store/account/orders",
			CollectPatterns: []string{
				"graphql",
				"order_deliveries",
				"items",
			},
			SearchInputSelectors: []string{
				`input[aria-label="search"]`,
				`input[id="search-bar-input"]`,
				`input[type="search"]`,
			},
			ItemCardSelectors: []string{
				`[data-testid^="item_list_item"]`,
				`div[aria-label="Product"]`,
				`li[class*="item"]`,
			},
			ItemNameSelectors: []string{
				`[data-testid="item-card-name"]`,
				`h2`,
				`span`,
			},
			AddButtonSelectors: []string{
				`button[aria-label^="Add"]`,
				`[data-testid="addItemButton"]`,
			},
			IncrementSelectors: []string{
				`button[aria-label="Increment quantity"]`,
				`button[aria-label^="Add one"]`,
			},
			OrderCardSelectors: []string{
				`[data-testid="order-card"]`,
				`div[class*="order"]`,
			},
			OrderStoreSelectors: []string{`h2`, `h3`},
			OrderItemSelectors:  []string{`li`, `[data-testid="order-item"]`},
			OrderDateSelectors:  []string{`time`, `p[class*="date"]`},
			// Instacart payloads carry decimal dollar strings.
			Extract: extract.Profile{Platform: "instacart"},
		},
	}
}
