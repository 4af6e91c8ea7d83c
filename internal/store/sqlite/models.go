package sqlite

import (
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

type schemaVersionRow struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:128;not null"`
	AppliedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (schemaVersionRow) TableName() string { return "schema_versions" }

type recordRow struct {
	LocalID            string              `gorm:"primaryKey;size:64"`
	Kind               string              `gorm:"size:8;not null"`
	BusinessLocationID string              `gorm:"size:64;not null"`
	StoreLocationID    string              `gorm:"size:64;not null"`
	User               domain.UserRef      `gorm:"serializer:json;type:text;not null"`
	Customer           *domain.Customer    `gorm:"serializer:json;type:text"`
	Notes              string              `gorm:"type:text"`
	Items              []domain.LineItem   `gorm:"serializer:json;type:text;not null"`
	TotalAmount        decimal.Decimal     `gorm:"type:text;not null"`
	Number             string              `gorm:"size:64;not null"`
	Prefix             string              `gorm:"size:32"`
	SyncStatus         string              `gorm:"size:16;not null"`
	ServerID           string              `gorm:"size:64"`
	ServerNumber       string              `gorm:"size:64"`
	Error              string              `gorm:"type:text"`
	Sale               *domain.SaleDetails `gorm:"serializer:json;type:text"`
	TableNumber        string              `gorm:"size:64"`
	Tag                *domain.BillTagRef  `gorm:"serializer:json;type:text"`
	BillStatus         string              `gorm:"size:16"`
	CreatedAt          time.Time           `gorm:"not null;autoCreateTime:false"`
	UpdatedAt          time.Time           `gorm:"not null;autoUpdateTime:false"`
}

func (recordRow) TableName() string { return "transactions" }

func toRecordRow(rec domain.TransactionRecord) recordRow {
	row := recordRow{
		LocalID:            rec.LocalID,
		Kind:               string(rec.Kind),
		BusinessLocationID: rec.BusinessLocationID,
		StoreLocationID:    rec.StoreLocationID,
		User:               rec.User,
		Customer:           rec.Customer,
		Notes:              rec.Notes,
		Items:              rec.Items,
		TotalAmount:        rec.TotalAmount,
		Number:             rec.Number,
		Prefix:             rec.Prefix,
		SyncStatus:         string(rec.SyncStatus),
		ServerID:           rec.ServerID,
		ServerNumber:       rec.ServerNumber,
		Error:              rec.Error,
		Sale:               rec.Sale,
		CreatedAt:          rec.CreatedAt.UTC(),
		UpdatedAt:          rec.UpdatedAt.UTC(),
	}
	if rec.Bill != nil {
		row.TableNumber = rec.Bill.TableNumber
		row.Tag = rec.Bill.Tag
		row.BillStatus = string(rec.Bill.Status)
	}
	return row
}

func (r recordRow) toDomain() domain.TransactionRecord {
	rec := domain.TransactionRecord{
		LocalID:            r.LocalID,
		Kind:               domain.RecordKind(r.Kind),
		BusinessLocationID: r.BusinessLocationID,
		StoreLocationID:    r.StoreLocationID,
		User:               r.User,
		Customer:           r.Customer,
		Notes:              r.Notes,
		Items:              r.Items,
		TotalAmount:        r.TotalAmount,
		Number:             r.Number,
		Prefix:             r.Prefix,
		SyncStatus:         domain.SyncStatus(r.SyncStatus),
		ServerID:           r.ServerID,
		ServerNumber:       r.ServerNumber,
		Error:              r.Error,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	switch rec.Kind {
	case domain.KindSale:
		rec.Sale = r.Sale
		if rec.Sale == nil {
			rec.Sale = &domain.SaleDetails{}
		}
	case domain.KindBill:
		rec.Bill = &domain.BillDetails{
			TableNumber: r.TableNumber,
			Tag:         r.Tag,
			Status:      domain.BillStatus(r.BillStatus),
		}
	}
	return rec
}

type tableSlotRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	TableNumber string `gorm:"size:64;not null;uniqueIndex:idx_table_slots_number"`
	Status      string `gorm:"size:16;not null"`
}

func (tableSlotRow) TableName() string { return "table_slots" }

func (r tableSlotRow) toDomain() domain.TableSlot {
	return domain.TableSlot{ID: r.ID, TableNumber: r.TableNumber, Status: domain.TableStatus(r.Status)}
}

type sequenceRow struct {
	SeqKey string `gorm:"primaryKey;size:128"`
	Value  int64  `gorm:"not null"`
}

func (sequenceRow) TableName() string { return "sequences" }

type billTagRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	TagName   string    `gorm:"size:64;not null"`
	TagColor  string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (billTagRow) TableName() string { return "bill_tags" }

type userRow struct {
	ID       string `gorm:"primaryKey;size:64"`
	UserName string `gorm:"size:128;not null"`
	Email    string `gorm:"size:128"`
	Phone    string `gorm:"size:32"`
	Role     string `gorm:"size:32"`
}

func (userRow) TableName() string { return "users" }

type categoryRow struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:128;not null"`
}

func (categoryRow) TableName() string { return "categories" }

type itemRow struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Name        string          `gorm:"size:255;not null"`
	CategoryID  string          `gorm:"size:64;index"`
	Price       decimal.Decimal `gorm:"type:text;not null"`
	Cost        decimal.Decimal `gorm:"type:text;not null"`
	TracksStock bool            `gorm:"not null"`
	Stock       decimal.Decimal `gorm:"type:text;not null"`
}

func (itemRow) TableName() string { return "items" }

type storeLocationRow struct {
	ID                 string `gorm:"primaryKey;size:64"`
	BusinessLocationID string `gorm:"size:64;not null;index"`
	Name               string `gorm:"size:255;not null"`
	ReceiptPrefix      string `gorm:"size:32"`
	BillPrefix         string `gorm:"size:32"`
}

func (storeLocationRow) TableName() string { return "store_locations" }

type menuRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	ItemID     string `gorm:"size:64;not null;index"`
	CategoryID string `gorm:"size:64"`
	Position   int    `gorm:"not null"`
	Available  bool   `gorm:"not null"`
}

func (menuRow) TableName() string { return "menu" }
