package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
	"smartdine/internal/testutil"
)

func newTestManager(t *testing.T, cleaningStep bool) (*Manager, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	testutil.Seed(t, st)
	return NewManager(st, logger.Nop(), cleaningStep), st
}

// seat occupies a table inside its own transaction, as PlaceOrder would
func seat(t *testing.T, m *Manager, st store.Store, tableID, orderID string) error {
	t.Helper()
	ctx := context.Background()
	_, err := st.Update(ctx, []store.Key{store.TableKey(tableID), store.OrderKey(orderID)}, func(tx store.Tx) error {
		_, err := m.Occupy(ctx, tx, tableID, orderID, testutil.Waiter)
		return err
	})
	return err
}

func release(t *testing.T, m *Manager, st store.Store, tableID, orderID string) models.Table {
	t.Helper()
	ctx := context.Background()
	var tbl models.Table
	_, err := st.Update(ctx, []store.Key{store.TableKey(tableID), store.OrderKey(orderID)}, func(tx store.Tx) error {
		var err error
		tbl, err = m.ReleaseFor(ctx, tx, tableID, orderID, testutil.Cashier, "bill paid")
		return err
	})
	require.NoError(t, err)
	return tbl
}

func TestOccupy(t *testing.T) {
	m, st := newTestManager(t, true)

	require.NoError(t, seat(t, m, st, "t-1", "o-1"))
	require.NoError(t, seat(t, m, st, "t-1", "o-1"), "same order is idempotent")

	err := seat(t, m, st, "t-1", "o-2")
	require.ErrorIs(t, err, apperr.ErrConflict)

	tbl, err := m.Get(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, tbl.Status)
	assert.Equal(t, "o-1", tbl.CurrentOrderID)
}

func TestOccupyReservedTable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, true)

	_, err := m.SetReserved(ctx, testutil.Admin, "t-2")
	require.NoError(t, err)
	require.NoError(t, seat(t, m, st, "t-2", "o-1"))

	history := tableHistory(t, st, "t-2")
	require.Len(t, history, 2)
	assert.Equal(t, "reserved", history[1].From)
	assert.Equal(t, "occupied", history[1].To)
}

func TestReleaseFor(t *testing.T) {
	tests := []struct {
		name         string
		cleaningStep bool
		want         models.TableStatus
		steps        []string
	}{
		{"with cleaning step", true, models.TableCleaning, []string{"occupied", "cleaning"}},
		{"without cleaning step", false, models.TableFree, []string{"occupied", "cleaning", "free"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st := newTestManager(t, tt.cleaningStep)
			require.NoError(t, seat(t, m, st, "t-1", "o-1"))

			tbl := release(t, m, st, "t-1", "o-1")
			assert.Equal(t, tt.want, tbl.Status)
			assert.Empty(t, tbl.CurrentOrderID)

			var steps []string
			for _, h := range tableHistory(t, st, "t-1") {
				steps = append(steps, h.To)
			}
			assert.Equal(t, tt.steps, steps)
		})
	}
}

func TestReleaseForOtherOrderIsNoop(t *testing.T) {
	m, st := newTestManager(t, true)
	require.NoError(t, seat(t, m, st, "t-1", "o-1"))

	tbl := release(t, m, st, "t-1", "o-2")
	assert.Equal(t, models.TableOccupied, tbl.Status)
	assert.Equal(t, "o-1", tbl.CurrentOrderID)
}

func TestReleaseTable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, true)
	require.NoError(t, seat(t, m, st, "t-1", "o-1"))

	_, err := m.ReleaseTable(ctx, testutil.Waiter, "t-1")
	require.ErrorIs(t, err, apperr.ErrAuthorization, "waiters only finish cleaning")

	_, err = m.ReleaseTable(ctx, testutil.Admin, "t-1")
	require.ErrorIs(t, err, apperr.ErrNotFound, "seated order must exist to be released")

	release(t, m, st, "t-1", "o-1")

	tbl, err := m.ReleaseTable(ctx, testutil.Waiter, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tbl.Status)

	rev := tbl.Revision
	tbl, err = m.ReleaseTable(ctx, testutil.Admin, "t-1")
	require.NoError(t, err)
	assert.Equal(t, rev, tbl.Revision, "releasing a free table writes nothing")
}

func TestReservations(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, true)

	_, err := m.SetReserved(ctx, testutil.Waiter, "t-1")
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	tbl, err := m.SetReserved(ctx, testutil.Admin, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableReserved, tbl.Status)

	_, err = m.ReleaseTable(ctx, testutil.Admin, "t-1")
	require.ErrorIs(t, err, apperr.ErrState)

	tbl, err = m.ClearReserved(ctx, testutil.Admin, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tbl.Status)

	require.NoError(t, seat(t, m, st, "t-1", "o-1"))
	_, err = m.SetReserved(ctx, testutil.Admin, "t-1")
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestCreateAndDeleteTable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, true)

	_, err := m.CreateTable(ctx, testutil.Waiter, "Patio 1", 4)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = m.CreateTable(ctx, testutil.Admin, "Patio 1", 0)
	require.ErrorIs(t, err, apperr.ErrValidation)

	created, err := m.CreateTable(ctx, testutil.Admin, "Patio 1", 4)
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, created.Status)

	_, err = m.CreateTable(ctx, testutil.Admin, "patio 1", 2)
	require.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, m.DeleteTable(ctx, testutil.Admin, created.ID))
	_, err = m.CreateTable(ctx, testutil.Admin, "Patio 1", 6)
	require.NoError(t, err, "archived labels may be reused")

	tables, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, len(testutil.Tables)+1)

	require.NoError(t, seat(t, m, st, "t-3", "o-1"))
	err = m.DeleteTable(ctx, testutil.Admin, "t-3")
	require.ErrorIs(t, err, apperr.ErrState)
}

func tableHistory(t *testing.T, st store.Viewer, id string) []models.StatusChange {
	t.Helper()
	var out []models.StatusChange
	require.NoError(t, st.View(context.Background(), func(r store.Reader) error {
		var err error
		out, err = r.History(context.Background(), models.CollectionTables, id)
		return err
	}))
	return out
}
