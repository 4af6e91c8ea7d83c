package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecordKind string

const (
	KindSale RecordKind = "sale"
	KindBill RecordKind = "bill"
)

func (k RecordKind) Valid() bool {
	return k == KindSale || k == KindBill
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

type BillStatus string

const (
	BillActive BillStatus = "active"
	BillVoided BillStatus = "voided"
	BillClosed BillStatus = "closed"
)

// Terminal reports whether the bill no longer holds its table.
func (s BillStatus) Terminal() bool {
	return s == BillVoided || s == BillClosed
}

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
)

type LineItem struct {
	ItemID       string          `json:"item_id" validate:"required"`
	ItemName     string          `json:"item_name"`
	CategoryName string          `json:"category_name"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice    decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Cost         decimal.Decimal `json:"cost" validate:"gte=0"`
	Discount     decimal.Decimal `json:"discount" validate:"gte=0"`
	TaxAmount    decimal.Decimal `json:"tax_amount" validate:"gte=0"`
	TracksStock  bool            `json:"tracks_stock"`
}

type UserRef struct {
	ID       string `json:"id" validate:"required"`
	UserName string `json:"user_name" validate:"required"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type PaymentDetail struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
}

type BillTagRef struct {
	TagName  string `json:"tag_name" validate:"required"`
	TagColor string `json:"tag_color"`
}

type SaleDetails struct {
	Change         decimal.Decimal `json:"change"`
	PaymentDetails []PaymentDetail `json:"payment_details"`
}

type BillDetails struct {
	TableNumber string      `json:"table_number,omitempty"`
	Tag         *BillTagRef `json:"tag,omitempty"`
	Status      BillStatus  `json:"status"`
}

// TransactionRecord is a locally recorded sale or bill. Exactly one of Sale
// and Bill is set, matching Kind.
type TransactionRecord struct {
	LocalID            string          `json:"local_id"`
	Kind               RecordKind      `json:"kind"`
	BusinessLocationID string          `json:"business_location_id"`
	StoreLocationID    string          `json:"store_location_id"`
	User               UserRef         `json:"user"`
	Customer           *Customer       `json:"customer,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Items              []LineItem      `json:"items"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Number             string          `json:"number"`
	Prefix             string          `json:"prefix,omitempty"`
	SyncStatus         SyncStatus      `json:"sync_status"`
	ServerID           string          `json:"server_id,omitempty"`
	ServerNumber       string          `json:"server_number,omitempty"`
	Error              string          `json:"error,omitempty"`
	Sale               *SaleDetails    `json:"sale,omitempty"`
	Bill               *BillDetails    `json:"bill,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableNumber returns the table held by an active bill, or "".
func (r TransactionRecord) TableNumber() string {
	if r.Kind != KindBill || r.Bill == nil {
		return ""
	}
	return r.Bill.TableNumber
}

type TableSlot struct {
	ID          string      `json:"id"`
	TableNumber string      `json:"table_number"`
	Status      TableStatus `json:"status"`
}

type BillTag struct {
	ID        string    `json:"id"`
	TagName   string    `json:"tag_name" validate:"required,max=64"`
	TagColor  string    `json:"tag_color" validate:"omitempty,max=32"`
	CreatedAt time.Time `json:"created_at"`
}

type SyncCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

type SaleDraft struct {
	BusinessLocationID string          `json:"business_location_id"`
	StoreLocationID    string          `json:"store_location_id"`
	User               UserRef         `json:"user"`
	Customer           *Customer       `json:"customer,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Items              []LineItem      `json:"items" validate:"required,min=1,dive"`
	PaymentDetails     []PaymentDetail `json:"payment_details" validate:"dive"`
	Change             decimal.Decimal `json:"change" validate:"gte=0"`
}

type BillDraft struct {
	BusinessLocationID string      `json:"business_location_id"`
	StoreLocationID    string      `json:"store_location_id"`
	User               UserRef     `json:"user"`
	Customer           *Customer   `json:"customer,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	Items              []LineItem  `json:"items" validate:"required,min=1,dive"`
	TableNumber        string      `json:"table_number,omitempty"`
	Tag                *BillTagRef `json:"tag,omitempty"`
}

type RecordUpdate struct {
	Items []LineItem `json:"items" validate:"required,min=1,dive"`
	Notes *string    `json:"notes,omitempty"`
}

type RecordFilter struct {
	Kind               RecordKind
	Statuses           []SyncStatus
	BusinessLocationID string
	StoreLocationID    string
	Limit              int
}

type SaveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LocalID string `json:"local_id,omitempty"`
	Number  string `json:"number,omitempty"`
}

type SyncOutcome struct {
	LocalID      string     `json:"local_id"`
	Kind         RecordKind `json:"kind"`
	Success      bool       `json:"success"`
	Skipped      bool       `json:"skipped"`
	Message      string     `json:"message"`
	ServerID     string     `json:"server_id,omitempty"`
	ServerNumber string     `json:"server_number,omitempty"`
}

type SweepResult struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

type RegenerateResult struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	Created        int         `json:"created"`
	Occupied       int         `json:"occupied"`
	Total          int         `json:"total"`
	RemovableCount int         `json:"removable_count,omitempty"`
	Slots          []TableSlot `json:"slots,omitempty"`
}
