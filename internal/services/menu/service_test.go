package menu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/order"
	"smartdine/internal/services/table"
	"smartdine/internal/store"
	"smartdine/internal/testutil"
)

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	testutil.Seed(t, st)
	return NewService(st, logger.Nop()), st
}

func names(items []models.MenuItem) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.Name)
	}
	return out
}

func TestList(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	all, err := s.List(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lemonade", "Burger", "Fries", "Soup"}, names(all))

	available, err := s.List(ctx, true)
	require.NoError(t, err)
	assert.NotContains(t, names(available), "Soup")
}

func TestUpdateItem(t *testing.T) {
	ctx := context.Background()
	price := models.Cents(1400)
	off := false

	tests := []struct {
		name  string
		actor models.Actor
		id    string
		u     Update
		kind  apperr.Kind
	}{
		{"waiter denied", testutil.Waiter, testutil.Burger, Update{Price: &price}, apperr.KindAuthorization},
		{"empty update", testutil.Admin, testutil.Burger, Update{}, apperr.KindValidation},
		{"zero price", testutil.Admin, testutil.Burger, Update{Price: new(models.Money)}, apperr.KindValidation},
		{"unknown item", testutil.Admin, "m-pizza", Update{Available: &off}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newService(t)
			_, err := s.UpdateItem(ctx, tt.actor, tt.id, tt.u)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	t.Run("price edit leaves existing orders alone", func(t *testing.T) {
		s, st := newService(t)
		orders := order.NewService(st, table.NewManager(st, logger.Nop(), true), logger.Nop())
		o, err := orders.PlaceOrder(ctx, testutil.Waiter, order.PlaceOrderRequest{
			TableID: "t-1",
			Items:   []order.ItemRequest{{MenuItemID: testutil.Burger, Quantity: 1}},
		})
		require.NoError(t, err)

		m, err := s.UpdateItem(ctx, testutil.Admin, testutil.Burger, Update{Price: &price, Available: &off})
		require.NoError(t, err)
		assert.Equal(t, price, m.Price)
		assert.False(t, m.Available)

		got, err := orders.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Cents(1250), got.Items[0].UnitPrice)
	})
}
