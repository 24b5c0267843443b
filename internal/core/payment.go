package core

import "strings"

// PaymentMode is how an order was settled.
type PaymentMode string

const (
	PaymentCash   PaymentMode = "cash"
	PaymentCard   PaymentMode = "card"
	PaymentUPI    PaymentMode = "upi"
	PaymentOnline PaymentMode = "online"
)

var paymentLabels = map[PaymentMode]string{
	PaymentCash:   "Cash",
	PaymentCard:   "Card",
	PaymentUPI:    "UPI",
	PaymentOnline: "Online",
}

// PaymentModes lists every accepted mode in display order.
func PaymentModes() []PaymentMode {
	return []PaymentMode{PaymentCash, PaymentCard, PaymentUPI, PaymentOnline}
}

// ParsePaymentMode is case-insensitive and rejects anything not listed in
// PaymentModes.
func ParsePaymentMode(s string) (PaymentMode, error) {
	m := PaymentMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", ErrInvalidPaymentMode
	}
	return m, nil
}

func (m PaymentMode) Valid() bool {
	_, ok := paymentLabels[m]
	return ok
}

// Label returns the display name, or false for an unknown mode.
func (m PaymentMode) Label() (string, bool) {
	l, ok := paymentLabels[m]
	return l, ok
}
