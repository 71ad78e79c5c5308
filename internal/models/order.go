package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusPlaced    OrderStatus = "placed"
	StatusCooking   OrderStatus = "cooking"
	StatusReady     OrderStatus = "ready"
	StatusServed    OrderStatus = "served"
	StatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus validates an order status name
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusPlaced, StatusCooking, StatusReady, StatusServed, StatusCancelled:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("status must be one of: placed, cooking, ready, served, cancelled")
	}
}

// Terminal reports whether no further transition is legal from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusServed || s == StatusCancelled
}

// ItemStatus represents the kitchen status of a single order item
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemCooking ItemStatus = "cooking"
	ItemReady   ItemStatus = "ready"
)

// ParseItemStatus validates an item status name
func ParseItemStatus(s string) (ItemStatus, error) {
	switch ItemStatus(s) {
	case ItemPending, ItemCooking, ItemReady:
		return ItemStatus(s), nil
	default:
		return "", fmt.Errorf("item status must be one of: pending, cooking, ready")
	}
}

// rank orders item statuses along the kitchen flow
func (s ItemStatus) rank() int {
	switch s {
	case ItemCooking:
		return 1
	case ItemReady:
		return 2
	default:
		return 0
	}
}

// OrderItem represents an item in an order
type OrderItem struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	MenuItemID string     `json:"menu_item_id"`
	Name       string     `json:"name"`
	Quantity   int        `json:"quantity"`
	UnitPrice  Money      `json:"unit_price"`
	Status     ItemStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LineTotal returns quantity x unit price snapshot
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// Order represents a table order
type Order struct {
	ID        string      `json:"id"`
	Number    string      `json:"order_number"`
	TableID   string      `json:"table_id"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items"`
	Notes     string      `json:"notes,omitempty"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
	// ReleasedAt is set when an admin freed the table of a Served order
	// that has no live bill. Such an order is no longer seated.
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	Revision   int64      `json:"revision"`
}

// Clone returns a deep copy so callers never share the item slice.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		c.ClosedAt = &t
	}
	if o.ReleasedAt != nil {
		t := *o.ReleasedAt
		c.ReleasedAt = &t
	}
	return c
}

// Seated reports whether the order still holds its table: it is not terminal,
// or it was served and is waiting for payment.
func (o Order) Seated(paid bool) bool {
	if !o.Status.Terminal() {
		return true
	}
	return o.Status == StatusServed && !paid && o.ReleasedAt == nil
}

// Subtotal sums the line totals of all items
func (o Order) Subtotal() Money {
	var total Money
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}

// ItemIndex returns the position of the item with the given id
func (o Order) ItemIndex(itemID string) (int, bool) {
	for i, item := range o.Items {
		if item.ID == itemID {
			return i, true
		}
	}
	return -1, false
}

// DeriveStatus computes the aggregate status of a non-terminal order from its
// items: Ready once every item is Ready, Cooking once any item has left
// Pending, Placed otherwise.
func DeriveStatus(items []OrderItem) OrderStatus {
	if len(items) == 0 {
		return StatusPlaced
	}

	started, ready := 0, 0
	for _, item := range items {
		if item.Status.rank() > 0 {
			started++
		}
		if item.Status == ItemReady {
			ready++
		}
	}

	switch {
	case ready == len(items):
		return StatusReady
	case started > 0:
		return StatusCooking
	default:
		return StatusPlaced
	}
}

// CanAdvanceItem reports whether an item may move from one status to the next
// kitchen step. Moving to the same status is handled by callers as a no-op.
func CanAdvanceItem(from, to ItemStatus) bool {
	return to.rank() == from.rank()+1
}

// GenerateOrderNumber generates a display number in format ORD_YYYYMMDD_XXXXXX
func GenerateOrderNumber(date time.Time, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("ORD_%s_%s", date.Format("20060102"), strings.ToUpper(suffix))
}
