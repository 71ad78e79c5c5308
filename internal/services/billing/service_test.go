package billing

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

type fixture struct {
	st     *store.Memory
	orders *order.Service
	bills  *Service
	tables *table.Manager
}

func newFixture(t *testing.T, taxRateBps int64, cleaningStep bool) fixture {
	t.Helper()
	st := store.NewMemory()
	testutil.Seed(t, st)
	tables := table.NewManager(st, logger.Nop(), cleaningStep)
	return fixture{
		st:     st,
		tables: tables,
		orders: order.NewService(st, tables, logger.Nop()),
		bills:  NewService(st, tables, logger.Nop(), taxRateBps),
	}
}

// served places an order on tableID and walks it through the kitchen
func (f fixture) served(t *testing.T, tableID string, items ...order.ItemRequest) models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.PlaceOrder(ctx, testutil.Waiter, order.PlaceOrderRequest{TableID: tableID, Items: items})
	require.NoError(t, err)
	_, err = f.orders.AdvanceOrderStatus(ctx, testutil.Chef, o.ID, models.StatusCooking)
	require.NoError(t, err)
	_, err = f.orders.AdvanceOrderStatus(ctx, testutil.Chef, o.ID, models.StatusReady)
	require.NoError(t, err)
	o, err = f.orders.ServeOrder(ctx, testutil.Waiter, o.ID)
	require.NoError(t, err)
	return o
}

func TestCompute(t *testing.T) {
	o := models.Order{
		ID:      "o-1",
		TableID: "t-1",
		Items: []models.OrderItem{
			{ID: "i-1", Name: "Steak", Quantity: 2, UnitPrice: models.Cents(1000)},
			{ID: "i-2", Name: "Salad", Quantity: 1, UnitPrice: models.Cents(550)},
		},
	}

	tests := []struct {
		name          string
		bps           int64
		discount      models.Money
		serviceCharge models.Money
		wantTax       models.Money
		wantTotal     models.Money
		wantErr       bool
	}{
		{name: "ten percent", bps: 1000, wantTax: models.Cents(255), wantTotal: models.Cents(2805)},
		{name: "rounds half up", bps: 850, wantTax: models.Cents(217), wantTotal: models.Cents(2767)},
		{name: "zero tax", bps: 0, wantTax: 0, wantTotal: models.Cents(2550)},
		{
			name: "discount and service charge", bps: 1000,
			discount: models.Cents(300), serviceCharge: models.Cents(200),
			wantTax: models.Cents(255), wantTotal: models.Cents(2705),
		},
		{name: "negative discount", bps: 1000, discount: models.Cents(-1), wantErr: true},
		{name: "discount above total", bps: 1000, discount: models.Cents(5000), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Compute(o, tt.bps, tt.discount, tt.serviceCharge)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.Cents(2550), b.Subtotal)
			assert.Equal(t, tt.wantTax, b.Tax)
			assert.Equal(t, tt.wantTotal, b.Total)
			require.Len(t, b.Lines, 2)
			assert.Equal(t, models.Cents(2000), b.Lines[0].Amount)
			assert.Equal(t, models.Cents(550), b.Lines[1].Amount)

			for i := 0; i < 3; i++ {
				again, err := Compute(o, tt.bps, tt.discount, tt.serviceCharge)
				require.NoError(t, err)
				assert.Equal(t, b.Subtotal, again.Subtotal)
				assert.Equal(t, b.Tax, again.Tax)
				assert.Equal(t, b.Total, again.Total)
				assert.Equal(t, b.Lines, again.Lines)
			}
		})
	}
}

func TestBillLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, true)
	testutil.SetMenuPrice(t, f.st, testutil.Burger, models.Cents(1000))
	testutil.SetMenuPrice(t, f.st, testutil.Fries, models.Cents(550))
	o := f.served(t, "t-1",
		order.ItemRequest{MenuItemID: testutil.Burger, Quantity: 2},
		order.ItemRequest{MenuItemID: testutil.Fries, Quantity: 1},
	)

	bill, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCard})
	require.NoError(t, err)
	assert.Equal(t, models.BillOpen, bill.Status)
	assert.Equal(t, "25.50", bill.Subtotal.String())
	assert.Equal(t, "2.55", bill.Tax.String())
	assert.Equal(t, "28.05", bill.Total.String())

	tbl, err := f.tables.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, tbl.Status, "served but unpaid keeps the table")

	paid, err := f.bills.Pay(ctx, testutil.Cashier, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	tbl, err = f.tables.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableCleaning, tbl.Status)
	assert.Empty(t, tbl.CurrentOrderID)
	testutil.AssertOccupancy(t, f.st)

	tbl, err = f.tables.ReleaseTable(ctx, testutil.Waiter, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tbl.Status)
}

func TestPayWithoutCleaningStepFreesTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 850, false)
	o := f.served(t, "t-2", order.ItemRequest{MenuItemID: testutil.Lemonade, Quantity: 2})

	bill, err := f.bills.CreateBill(ctx, testutil.Admin, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCash})
	require.NoError(t, err)
	_, err = f.bills.Pay(ctx, testutil.Admin, bill.ID)
	require.NoError(t, err)

	tbl, err := f.tables.Get(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tbl.Status)
}

func TestPayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, true)
	o := f.served(t, "t-1", order.ItemRequest{MenuItemID: testutil.Burger, Quantity: 1})
	bill, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentUPI})
	require.NoError(t, err)

	first, err := f.bills.Pay(ctx, testutil.Cashier, bill.ID)
	require.NoError(t, err)

	var billsRev, tablesRev int64
	require.NoError(t, f.st.View(ctx, func(r store.Reader) error {
		billsRev, _ = r.Revision(ctx, models.CollectionBills)
		tablesRev, _ = r.Revision(ctx, models.CollectionTables)
		return nil
	}))

	again, err := f.bills.Pay(ctx, testutil.Cashier, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Revision, again.Revision)
	assert.Equal(t, first.PaidAt, again.PaidAt)

	require.NoError(t, f.st.View(ctx, func(r store.Reader) error {
		rev, _ := r.Revision(ctx, models.CollectionBills)
		assert.Equal(t, billsRev, rev)
		rev, _ = r.Revision(ctx, models.CollectionTables)
		assert.Equal(t, tablesRev, rev)
		return nil
	}))
}

func TestCreateBillRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, true)

	placed, err := f.orders.PlaceOrder(ctx, testutil.Waiter, order.PlaceOrderRequest{
		TableID: "t-3",
		Items:   []order.ItemRequest{{MenuItemID: testutil.Fries, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: placed.ID, PaymentMethod: models.PaymentCash})
	require.ErrorIs(t, err, apperr.ErrState, "order not served")

	o := f.served(t, "t-1", order.ItemRequest{MenuItemID: testutil.Burger, Quantity: 1})

	_, err = f.bills.CreateBill(ctx, testutil.Waiter, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCash})
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: "cheque"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: "o-missing", PaymentMethod: models.PaymentCash})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	first, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCash})
	require.NoError(t, err)

	_, err = f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCash})
	require.ErrorIs(t, err, apperr.ErrState)
	assert.Contains(t, err.Error(), first.ID)
}

func TestVoid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, true)
	o := f.served(t, "t-1", order.ItemRequest{MenuItemID: testutil.Burger, Quantity: 1})
	bill, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCard})
	require.NoError(t, err)

	_, err = f.bills.Void(ctx, testutil.Cashier, bill.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	voided, err := f.bills.Void(ctx, testutil.Admin, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillVoided, voided.Status)

	tbl, err := f.tables.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, tbl.Status, "voiding does not release the table")

	_, err = f.bills.Pay(ctx, testutil.Cashier, bill.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	// a voided bill may be replaced
	replacement, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{
		OrderID:       o.ID,
		PaymentMethod: models.PaymentCard,
		Discount:      models.Cents(125),
	})
	require.NoError(t, err)
	assert.Equal(t, "12.50", replacement.Total.String())

	paid, err := f.bills.Pay(ctx, testutil.Cashier, replacement.ID)
	require.NoError(t, err)
	_, err = f.bills.Void(ctx, testutil.Admin, paid.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	pending, err := f.bills.PendingBills(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := f.bills.BillsForOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	testutil.AssertOccupancy(t, f.st)
}

func TestAdminReleasesTableAfterVoid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, true)

	placed, err := f.orders.PlaceOrder(ctx, testutil.Waiter, order.PlaceOrderRequest{
		TableID: "t-2",
		Items:   []order.ItemRequest{{MenuItemID: testutil.Fries, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = f.tables.ReleaseTable(ctx, testutil.Admin, "t-2")
	require.ErrorIs(t, err, apperr.ErrState, "an order not yet served blocks release")

	o := f.served(t, "t-1", order.ItemRequest{MenuItemID: testutil.Burger, Quantity: 1})
	bill, err := f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCard})
	require.NoError(t, err)

	_, err = f.tables.ReleaseTable(ctx, testutil.Admin, "t-1")
	require.ErrorIs(t, err, apperr.ErrState, "an open bill blocks release")
	assert.Contains(t, err.Error(), bill.ID)

	_, err = f.bills.Void(ctx, testutil.Admin, bill.ID)
	require.NoError(t, err)

	_, err = f.tables.ReleaseTable(ctx, testutil.Waiter, "t-1")
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	tbl, err := f.tables.ReleaseTable(ctx, testutil.Admin, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableCleaning, tbl.Status)
	assert.Empty(t, tbl.CurrentOrderID)

	released, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServed, released.Status)
	require.NotNil(t, released.ReleasedAt)
	testutil.AssertOccupancy(t, f.st)

	_, err = f.bills.CreateBill(ctx, testutil.Cashier, CreateBillRequest{OrderID: o.ID, PaymentMethod: models.PaymentCash})
	require.ErrorIs(t, err, apperr.ErrState, "a released order cannot be billed")

	var history []models.StatusChange
	require.NoError(t, f.st.View(ctx, func(r store.Reader) error {
		history, err = r.History(ctx, models.CollectionTables, "t-1")
		return err
	}))
	require.NotEmpty(t, history)
	assert.Equal(t, "released by admin after void", history[len(history)-1].Notes)

	_, err = f.orders.CancelOrder(ctx, testutil.Waiter, placed.ID)
	require.NoError(t, err)
	testutil.AssertOccupancy(t, f.st)
}
