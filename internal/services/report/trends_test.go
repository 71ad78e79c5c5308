package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
	"smartdine/internal/testutil"
)

var (
	day1 = time.Date(2026, 3, 9, 12, 15, 0, 0, time.UTC)
	day2 = time.Date(2026, 3, 10, 19, 40, 0, 0, time.UTC)
)

// history writes three closed orders on two days directly, so the trend
// reports see fixed timestamps
func history(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	testutil.Seed(t, st)

	item := func(id, menuID string, qty int, price int64) models.OrderItem {
		return models.OrderItem{ID: id, MenuItemID: menuID, Name: menuID, Quantity: qty, UnitPrice: models.Cents(price), Status: models.ItemReady}
	}
	orders := []models.Order{
		{
			ID: "o-1", TableID: "t-1", Status: models.StatusServed, CreatedBy: testutil.Waiter.UserID, CreatedAt: day1,
			Items: []models.OrderItem{item("i-1", testutil.Burger, 2, 1000), item("i-2", testutil.Fries, 1, 550)},
		},
		{
			ID: "o-2", TableID: "t-2", Status: models.StatusServed, CreatedBy: testutil.Waiter.UserID, CreatedAt: day2,
			Items: []models.OrderItem{item("i-3", testutil.Lemonade, 3, 300), item("i-4", "m-retired", 1, 700)},
		},
		{
			ID: "o-3", TableID: "t-3", Status: models.StatusCancelled, CreatedBy: testutil.Waiter2.UserID, CreatedAt: day2,
			Items: []models.OrderItem{item("i-5", testutil.Burger, 4, 1000)},
		},
	}
	paid := func(id, orderID string, at time.Time, total, tax int64) models.Bill {
		return models.Bill{ID: id, OrderID: orderID, Status: models.BillPaid, PaidAt: &at, Total: models.Cents(total), Tax: models.Cents(tax), CreatedAt: at}
	}
	voidedAt := day2
	bills := []models.Bill{
		paid("b-1", "o-1", day1.Add(time.Hour), 2805, 255),
		paid("b-2", "o-2", day2.Add(time.Hour), 1760, 160),
		{ID: "b-3", OrderID: "o-2", Status: models.BillVoided, VoidedAt: &voidedAt, Total: models.Cents(9999), CreatedAt: day2},
	}

	_, err := st.Update(ctx, nil, func(tx store.Tx) error {
		for _, o := range orders {
			if err := tx.PutOrder(ctx, o); err != nil {
				return err
			}
		}
		for _, b := range bills {
			if err := tx.PutBill(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return st
}

func TestRevenueByDate(t *testing.T) {
	s := NewService(history(t), logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to time.Time
		want     []DailyRevenue
	}{
		{
			name: "open range",
			want: []DailyRevenue{
				{Date: "2026-03-09", BillCount: 1, Revenue: models.Cents(2805), Tax: models.Cents(255)},
				{Date: "2026-03-10", BillCount: 1, Revenue: models.Cents(1760), Tax: models.Cents(160)},
			},
		},
		{
			name: "second day only",
			from: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			want: []DailyRevenue{
				{Date: "2026-03-10", BillCount: 1, Revenue: models.Cents(1760), Tax: models.Cents(160)},
			},
		},
		{
			name: "nothing paid",
			from: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			want: []DailyRevenue{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RevenueByDate(ctx, testutil.Cashier, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategorySales(t *testing.T) {
	s := NewService(history(t), logger.Nop())

	rows, err := s.CategorySales(context.Background(), testutil.Admin, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "mains", rows[0].Category)
	assert.Equal(t, 2, rows[0].Quantity, "cancelled orders are not counted")
	assert.Equal(t, models.Cents(2000), rows[0].Revenue)
	assert.InDelta(t, 0.4819, rows[0].Share, 0.0001)

	assert.Equal(t, "drinks", rows[1].Category)
	assert.Equal(t, models.Cents(900), rows[1].Revenue)
	assert.Equal(t, uncategorized, rows[2].Category)
	assert.Equal(t, models.Cents(700), rows[2].Revenue)
	assert.Equal(t, "sides", rows[3].Category)
	assert.Equal(t, models.Cents(550), rows[3].Revenue)
}

func TestHourlyPattern(t *testing.T) {
	s := NewService(history(t), logger.Nop())

	hours, err := s.HourlyPattern(context.Background(), testutil.Admin, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, hours, 24)

	for _, h := range hours {
		switch h.Hour {
		case 12:
			assert.Equal(t, HourlyStats{Hour: 12, Orders: 1, Items: 3, Revenue: models.Cents(2550)}, h)
		case 19:
			assert.Equal(t, HourlyStats{Hour: 19, Orders: 1, Items: 4, Revenue: models.Cents(1600)}, h)
		default:
			assert.Zero(t, h.Orders, "hour %d", h.Hour)
		}
	}
}

func TestTrendReportsRequireRole(t *testing.T) {
	s := NewService(history(t), logger.Nop())
	ctx := context.Background()

	_, err := s.RevenueByDate(ctx, testutil.Waiter, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = s.CategorySales(ctx, testutil.Chef, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = s.HourlyPattern(ctx, testutil.Admin, day2, day1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
