package order

import (
	"fmt"
	"strings"

	"smartdine/internal/apperr"
)

const (
	maxItemsPerRequest = 20
	maxItemQuantity    = 99
	maxNotesLength     = 200
)

// ItemRequest is one line of a place-order or add-items command
type ItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

// PlaceOrderRequest is the input of PlaceOrder
type PlaceOrderRequest struct {
	TableID string        `json:"table_id"`
	Items   []ItemRequest `json:"items"`
	Notes   string        `json:"notes,omitempty"`
}

// ValidatePlaceOrder checks the shape of the request. Menu availability is
// checked later against the store.
func ValidatePlaceOrder(req PlaceOrderRequest) error {
	if strings.TrimSpace(req.TableID) == "" {
		return apperr.Validation("table_id", "table id is required")
	}
	if err := validateNotes("notes", req.Notes); err != nil {
		return err
	}
	return validateItems(req.Items)
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return apperr.Validation("items", "items cannot be empty")
	}
	if len(items) > maxItemsPerRequest {
		return apperr.Validation("items", fmt.Sprintf("a maximum of %d items is allowed", maxItemsPerRequest))
	}

	for i, item := range items {
		if err := validateItem(item, i); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(item ItemRequest, index int) error {
	if strings.TrimSpace(item.MenuItemID) == "" {
		return apperr.Validation(fmt.Sprintf("items[%d].menu_item_id", index), "menu item id is required")
	}
	if item.Quantity <= 0 {
		return apperr.Validation(fmt.Sprintf("items[%d].quantity", index), "item quantity must be greater than 0")
	}
	if item.Quantity > maxItemQuantity {
		return apperr.Validation(fmt.Sprintf("items[%d].quantity", index),
			fmt.Sprintf("item quantity must be less than or equal to %d", maxItemQuantity))
	}
	return validateNotes(fmt.Sprintf("items[%d].notes", index), item.Notes)
}

func validateNotes(field, notes string) error {
	if len(notes) > maxNotesLength {
		return apperr.Validation(field, fmt.Sprintf("notes must not exceed %d characters", maxNotesLength))
	}
	return nil
}
