package domain

import "github.com/shopspring/decimal"

// SaleTotal sums (quantity * unit_price) - discount + tax_amount per line.
func SaleTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		line := item.Quantity.Mul(item.UnitPrice).Sub(item.Discount).Add(item.TaxAmount)
		total = total.Add(line)
	}
	return total
}

// BillTotal sums quantity * unit_price per line.
func BillTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Quantity.Mul(item.UnitPrice))
	}
	return total
}

func TotalFor(kind RecordKind, items []LineItem) decimal.Decimal {
	switch kind {
	case KindSale:
		return SaleTotal(items)
	case KindBill:
		return BillTotal(items)
	default:
		return decimal.Zero
	}
}
