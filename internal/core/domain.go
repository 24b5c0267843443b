package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	Restaurant struct {
		ID        RestaurantID
		Name      string
		Timezone  string // IANA name, empty means UTC
		CreatedAt time.Time
	}

	Category struct {
		ID           CategoryID
		RestaurantID RestaurantID
		Name         string
	}

	MenuItem struct {
		ID           MenuItemID
		RestaurantID RestaurantID
		CategoryID   CategoryID // zero when uncategorized
		Name         string
		Price        decimal.Decimal
	}

	Order struct {
		ID           int64
		Ref          string
		RestaurantID RestaurantID
		CreatedAt    time.Time
		Total        decimal.Decimal
		PaymentMode  PaymentMode
		Lines        []OrderLine
	}

	OrderLine struct {
		MenuItemID MenuItemID
		Quantity   int
		UnitPrice  decimal.Decimal
	}

	Expense struct {
		ID           int64
		RestaurantID RestaurantID
		Date         time.Time
		Description  string
		Amount       decimal.Decimal
		Category     string
	}
)

const maxTextLen = 200

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidTimezone    = errors.New("invalid timezone")
	ErrEmptyName          = errors.New("empty name")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyOrder         = errors.New("order has no lines")
	ErrTextTooLong        = errors.New("text too long (max 200 characters)")
	ErrUnknownMenuItem    = errors.New("menu item does not belong to restaurant")
	ErrUnknownCategory    = errors.New("category does not belong to restaurant")
	ErrInvalidPaymentMode = errors.New("invalid payment mode")
)

// Location resolves the restaurant timezone. Unknown or empty names fall
// back to UTC so reports never fail on a bad setting.
func (r Restaurant) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r Restaurant) Validate() error {
	if err := validateText(r.Name, ErrEmptyName); err != nil {
		return err
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	return nil
}

func (c Category) Validate() error {
	return validateText(c.Name, ErrEmptyName)
}

func (m MenuItem) Validate() error {
	if err := validateText(m.Name, ErrEmptyName); err != nil {
		return err
	}
	if !m.Price.IsPositive() {
		return ErrInvalidAmount
	}
	if m.CategoryID < 0 {
		return ErrInvalidID
	}
	return nil
}

// Validate checks the order as submitted. Prices are not required here:
// they are filled from the menu when the order is recorded.
func (o Order) Validate() error {
	if len(o.Lines) == 0 {
		return ErrEmptyOrder
	}
	for _, l := range o.Lines {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	if !o.PaymentMode.Valid() {
		return ErrInvalidPaymentMode
	}
	return nil
}

// ComputeTotal sums quantity times unit price over all lines.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (l OrderLine) Validate() error {
	if l.MenuItemID <= 0 {
		return ErrInvalidID
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (e Expense) Validate() error {
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	if err := validateText(e.Description, ErrEmptyDescription); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return validateText(e.Category, ErrEmptyCategory)
}

func validateText(s string, empty error) error {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	if len(s) > maxTextLen {
		return ErrTextTooLong
	}
	return nil
}
