package models

import "time"

// Offer is one productOfferV2 node as returned by the affiliate API.
// Price, rating and commission arrive as decimal strings.
type Offer struct {
	ItemID            string
	ProductName       string
	ProductLink       string
	OfferLink         string
	ImageURL          string
	PriceMin          string
	PriceMax          string
	RatingStar        string
	CommissionRate    string
	Sales             int
	PriceDiscountRate int
	ShopName          string
}

// Product is a formatted offer persisted in the store
type Product struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Link        string     `json:"link"`
	ImageURL    string     `json:"image_url"`
	Price       string     `json:"price"` // e.g. "R$19.90 (de R$39.90)"
	Discount    int        `json:"discount"`
	Sales       string     `json:"sales"` // e.g. "2mil+ vendas"
	SalesCount  int        `json:"sales_count"`
	Rating      string     `json:"rating"`
	Commission  string     `json:"commission"`
	Shop        string     `json:"shop"`
	Category    string     `json:"category"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DefaultCategory is assigned when no keyword matches
const DefaultCategory = "Other"

// OrderBy selects how pending products are ranked
type OrderBy int

const (
	OrderInsertion OrderBy = iota
	OrderSalesDesc
)

func (o OrderBy) String() string {
	if o == OrderSalesDesc {
		return "sales"
	}
	return "default"
}

// SelectQuery describes a pending-products lookup
type SelectQuery struct {
	Limit      int
	OrderBy    OrderBy
	Categories []string // empty = no filter
}

// Counts summarises the store
type Counts struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Pending   int `json:"pending"`
}
