package remote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

type payloadUser struct {
	ID       string  `json:"id"`
	UserName string  `json:"user_name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
}

type payloadDevice struct {
	DeviceID   string  `json:"device_id"`
	DeviceKey  string  `json:"device_key"`
	DeviceName *string `json:"device_name"`
}

type payloadBase struct {
	BusinessLocationID string            `json:"business_location_id"`
	StoreLocationID    string            `json:"store_location_id"`
	User               payloadUser       `json:"user"`
	Device             payloadDevice     `json:"device"`
	Notes              *string           `json:"notes"`
	Items              []domain.LineItem `json:"items"`
}

// SalePayload is the wire shape of POST /store-locations/{id}/sale. Local
// bookkeeping (sync status, last error, server ids) is never sent.
type SalePayload struct {
	payloadBase
	Change         decimal.Decimal        `json:"change"`
	PaymentDetails []domain.PaymentDetail `json:"payment_details"`
	ReceiptNumber  string                 `json:"receipt_number"`
	ReceiptPrefix  *string                `json:"receipt_prefix"`
}

// BillPayload is the wire shape of POST /store-locations/{id}/bill.
type BillPayload struct {
	payloadBase
	TableNumber string             `json:"table_number"`
	Customer    *domain.Customer   `json:"customer"`
	Tag         *domain.BillTagRef `json:"tag"`
	Status      domain.BillStatus  `json:"status"`
	BillNumber  string             `json:"bill_number"`
	BillPrefix  *string            `json:"bill_prefix"`
}

func buildBase(rec domain.TransactionRecord, device domain.DeviceContext) payloadBase {
	items := rec.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return payloadBase{
		BusinessLocationID: rec.BusinessLocationID,
		StoreLocationID:    rec.StoreLocationID,
		User: payloadUser{
			ID:       rec.User.ID,
			UserName: rec.User.UserName,
			Email:    optional(rec.User.Email),
			Phone:    optional(rec.User.Phone),
		},
		Device: payloadDevice{
			DeviceID:   device.DeviceID,
			DeviceKey:  device.DeviceKey,
			DeviceName: optional(device.DeviceName),
		},
		Notes: optional(rec.Notes),
		Items: items,
	}
}

func BuildSalePayload(rec domain.TransactionRecord, device domain.DeviceContext) SalePayload {
	p := SalePayload{
		payloadBase:    buildBase(rec, device),
		ReceiptNumber:  rec.Number,
		ReceiptPrefix:  optional(rec.Prefix),
		PaymentDetails: []domain.PaymentDetail{},
	}
	if rec.Sale != nil {
		p.Change = rec.Sale.Change
		if rec.Sale.PaymentDetails != nil {
			p.PaymentDetails = rec.Sale.PaymentDetails
		}
	}
	return p
}

// BuildBillPayload includes the bill status so a voided bill still reaches
// the server as voided.
func BuildBillPayload(rec domain.TransactionRecord, device domain.DeviceContext) BillPayload {
	p := BillPayload{
		payloadBase: buildBase(rec, device),
		Customer:    rec.Customer,
		BillNumber:  rec.Number,
		BillPrefix:  optional(rec.Prefix),
	}
	if rec.Bill != nil {
		p.TableNumber = rec.Bill.TableNumber
		p.Tag = rec.Bill.Tag
		p.Status = rec.Bill.Status
	}
	return p
}

// BuildPayload shapes rec for its endpoint.
func BuildPayload(rec domain.TransactionRecord, device domain.DeviceContext) (any, error) {
	switch rec.Kind {
	case domain.KindSale:
		return BuildSalePayload(rec, device), nil
	case domain.KindBill:
		return BuildBillPayload(rec, device), nil
	default:
		return nil, fmt.Errorf("build payload: unknown kind %q", rec.Kind)
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
