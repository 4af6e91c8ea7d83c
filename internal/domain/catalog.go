package domain

import "github.com/shopspring/decimal"

type CatalogUser struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role,omitempty"`
}

type CatalogItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CategoryID  string          `json:"category_id,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	TracksStock bool            `json:"tracks_stock"`
	Stock       decimal.Decimal `json:"stock"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StoreLocation struct {
	ID                 string `json:"id"`
	BusinessLocationID string `json:"business_location_id"`
	Name               string `json:"name"`
	ReceiptPrefix      string `json:"receipt_prefix,omitempty"`
	BillPrefix         string `json:"bill_prefix,omitempty"`
}

type MenuEntry struct {
	ID         string `json:"id"`
	ItemID     string `json:"item_id"`
	CategoryID string `json:"category_id,omitempty"`
	Position   int    `json:"position"`
	Available  bool   `json:"available"`
}

type CatalogSnapshot struct {
	Users          []CatalogUser   `json:"users"`
	Items          []CatalogItem   `json:"items"`
	StoreLocations []StoreLocation `json:"store_locations"`
	Categories     []Category      `json:"categories"`
	Menu           []MenuEntry     `json:"menu"`
}

type CatalogCounts struct {
	Users          int `json:"users"`
	Items          int `json:"items"`
	StoreLocations int `json:"store_locations"`
	Categories     int `json:"categories"`
	Menu           int `json:"menu"`
}

func (s CatalogSnapshot) Counts() CatalogCounts {
	return CatalogCounts{
		Users:          len(s.Users),
		Items:          len(s.Items),
		StoreLocations: len(s.StoreLocations),
		Categories:     len(s.Categories),
		Menu:           len(s.Menu),
	}
}

type CatalogResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Counts  CatalogCounts `json:"counts"`
}
