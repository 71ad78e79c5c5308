package models

import (
	"fmt"
	"time"
)

// BillStatus represents the payment state of a bill
type BillStatus string

const (
	BillOpen   BillStatus = "open"
	BillPaid   BillStatus = "paid"
	BillVoided BillStatus = "voided"
)

// PaymentMethod is how the guest settles the bill
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
)

// ParsePaymentMethod validates a payment method name
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentCash, PaymentCard, PaymentUPI:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("payment_method must be one of: cash, card, upi")
	}
}

// BillLine mirrors one order item at the moment the bill was created
type BillLine struct {
	OrderItemID string `json:"order_item_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Amount      Money  `json:"amount"`
}

// Bill represents the bill for a served order
type Bill struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	TableID       string        `json:"table_id"`
	Lines         []BillLine    `json:"lines"`
	Subtotal      Money         `json:"subtotal"`
	TaxRateBps    int64         `json:"tax_rate_bps"`
	Tax           Money         `json:"tax"`
	ServiceCharge Money         `json:"service_charge"`
	Discount      Money         `json:"discount"`
	Total         Money         `json:"total"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        BillStatus    `json:"status"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	VoidedAt      *time.Time    `json:"voided_at,omitempty"`
	Revision      int64         `json:"revision"`
}

// Clone returns a deep copy of the bill
func (b Bill) Clone() Bill {
	c := b
	c.Lines = append([]BillLine(nil), b.Lines...)
	if b.PaidAt != nil {
		t := *b.PaidAt
		c.PaidAt = &t
	}
	if b.VoidedAt != nil {
		t := *b.VoidedAt
		c.VoidedAt = &t
	}
	return c
}
