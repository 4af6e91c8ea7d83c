package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTotals(t *testing.T) {
	items := []LineItem{
		{ItemID: "a", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), Discount: decimal.NewFromInt(10), TaxAmount: decimal.NewFromInt(5)},
		{ItemID: "b", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(20)},
	}

	tests := []struct {
		name string
		kind RecordKind
		want string
	}{
		{name: "sale applies discount and tax", kind: KindSale, want: "225"},
		{name: "bill uses plain line totals", kind: KindBill, want: "230"},
		{name: "unknown kind", kind: RecordKind("refund"), want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalFor(tt.kind, items)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestDeviceContextValidate(t *testing.T) {
	assert.ErrorIs(t, DeviceContext{}.Validate(), ErrInvalidDevice)
	assert.ErrorIs(t, DeviceContext{DeviceID: "dev-1", DeviceKey: "  "}.Validate(), ErrInvalidDevice)
	assert.NoError(t, DeviceContext{DeviceID: "dev-1", DeviceKey: "k"}.Validate())
}

func TestBillStatusTerminal(t *testing.T) {
	assert.False(t, BillActive.Terminal())
	assert.True(t, BillVoided.Terminal())
	assert.True(t, BillClosed.Terminal())
}
