package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemStatus
		want  OrderStatus
	}{
		{"all pending", []ItemStatus{ItemPending, ItemPending}, StatusPlaced},
		{"one cooking", []ItemStatus{ItemCooking, ItemPending}, StatusCooking},
		{"one ready one pending", []ItemStatus{ItemReady, ItemPending}, StatusCooking},
		{"all ready", []ItemStatus{ItemReady, ItemReady}, StatusReady},
		{"no items", nil, StatusPlaced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]OrderItem, len(tt.items))
			for i, s := range tt.items {
				items[i] = OrderItem{Status: s}
			}
			assert.Equal(t, tt.want, DeriveStatus(items))
		})
	}
}

func TestCanAdvanceItem(t *testing.T) {
	assert.True(t, CanAdvanceItem(ItemPending, ItemCooking))
	assert.True(t, CanAdvanceItem(ItemCooking, ItemReady))
	assert.False(t, CanAdvanceItem(ItemPending, ItemReady))
	assert.False(t, CanAdvanceItem(ItemReady, ItemCooking))
}

func TestOrderCloneDoesNotShareItems(t *testing.T) {
	o := Order{Items: []OrderItem{{ID: "a", Status: ItemPending}}}
	c := o.Clone()
	c.Items[0].Status = ItemReady
	assert.Equal(t, ItemPending, o.Items[0].Status)
}

func TestGenerateOrderNumber(t *testing.T) {
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "ORD_20260309_9F1C2A", GenerateOrderNumber(date, "9f1c2a44-0000-4000-8000-000000000000"))
}
