package models

import "time"

// MenuItem is read-only reference data for the order workflow. Its price is
// copied onto each order item when the item is created.
type MenuItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     Money     `json:"price"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}
