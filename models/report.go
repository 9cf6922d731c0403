package models

import "time"

// CollectReport summarises one collection run
type CollectReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Qualified  int       `json:"qualified"`
	Formatted  int       `json:"formatted"`
	Skipped    int       `json:"skipped"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Partial    bool      `json:"partial"`
	Error      string    `json:"error,omitempty"`

	Insights *CollectionInsights `json:"insights,omitempty"`
}

// CollectionInsights are computed over the formatted products of a run
type CollectionInsights struct {
	Total         int            `json:"total"`
	MaxDiscount   int            `json:"max_discount"`
	MaxCommission string         `json:"max_commission"`
	TopShop       string         `json:"top_shop"`
	TopShopCount  int            `json:"top_shop_count"`
	ByCategory    map[string]int `json:"by_category"`
}

// RenderReport summarises one render run
type RenderReport struct {
	RunID         string `json:"run_id"`
	Selected      int    `json:"selected"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	ImagesMissing int    `json:"images_missing"`
}

// DeliveryReport summarises one delivery run
type DeliveryReport struct {
	RunID     string `json:"run_id"`
	Pending   int    `json:"pending"`
	Attempted int    `json:"attempted"`
	Confirmed int    `json:"confirmed"`
	Rejected  int    `json:"rejected"`
	Marked    int    `json:"marked"`
	StoppedBy string `json:"stopped_by"` // "exhausted", "cap", "breaker", "cancelled", "nothing"
}

// StatusReport is the store overview
type StatusReport struct {
	Backend    string            `json:"backend"`
	Counts     Counts            `json:"counts"`
	ByCategory map[string]Counts `json:"by_category"`
	Queued     int               `json:"queued"`
}
