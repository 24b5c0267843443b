package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSummary is the slice of an order the reports need.
type OrderSummary struct {
	CreatedAt   time.Time
	Total       decimal.Decimal
	PaymentMode PaymentMode
}

// LineQuantity is the quantity sold of one menu item, with the category the
// item currently belongs to (zero when uncategorized or the item is gone).
type LineQuantity struct {
	MenuItemID MenuItemID
	CategoryID CategoryID
	Quantity   int64
}
