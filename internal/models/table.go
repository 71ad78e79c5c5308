package models

import "time"

// TableStatus represents the occupancy state of a table
type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
	TableReserved TableStatus = "reserved"
	TableCleaning TableStatus = "cleaning"
)

// Table capacity limits
const (
	MinTableCapacity = 1
	MaxTableCapacity = 20
)

// Table represents a dining table
type Table struct {
	ID             string      `json:"id"`
	Label          string      `json:"label"`
	Capacity       int         `json:"capacity"`
	Status         TableStatus `json:"status"`
	CurrentOrderID string      `json:"current_order_id,omitempty"`
	Archived       bool        `json:"archived,omitempty"`
	Revision       int64       `json:"revision"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Seatable reports whether a new order may occupy the table.
func (t Table) Seatable() bool {
	return !t.Archived && (t.Status == TableFree || t.Status == TableReserved) && t.CurrentOrderID == ""
}
