package database

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
)

// newTestStore connects to SMARTDINE_TEST_DATABASE_URL and migrates it. The
// tests use fresh ids so they can share one database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SMARTDINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SMARTDINE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, url, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.RunMigrations(ctx))
	require.NoError(t, db.RunMigrations(ctx), "migrations are idempotent")

	return NewStore(db, logger.Nop())
}

func newTable(label string) models.Table {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return models.Table{
		ID:        uuid.NewString(),
		Label:     label,
		Capacity:  4,
		Status:    models.TableFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStoreRoundTripAndRevisions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var fired atomic.Int32
	st.OnCommit(func(store.Commit) { fired.Add(1) })

	tbl := newTable("pg-" + uuid.NewString()[:8])
	menu := models.MenuItem{ID: uuid.NewString(), Name: "Tea", Category: "drinks", Price: models.Cents(250), Available: true}
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := models.Order{
		ID:        uuid.NewString(),
		TableID:   tbl.ID,
		Status:    models.StatusPlaced,
		CreatedBy: "u1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Number = models.GenerateOrderNumber(now, o.ID)
	o.Items = []models.OrderItem{
		{ID: uuid.NewString(), OrderID: o.ID, MenuItemID: menu.ID, Name: "Tea", Quantity: 2, UnitPrice: menu.Price, Status: models.ItemPending, UpdatedAt: now},
	}

	var before int64
	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		var err error
		before, err = r.Revision(ctx, models.CollectionOrders)
		return err
	}))

	commit, err := st.Update(ctx, []store.Key{store.TableKey(tbl.ID), store.OrderKey(o.ID)}, func(tx store.Tx) error {
		require.NoError(t, tx.PutMenuItem(ctx, menu))
		require.NoError(t, tx.PutTable(ctx, tbl))
		require.NoError(t, tx.PutOrder(ctx, o))
		return tx.AppendHistory(ctx, models.NewStatusChange(models.CollectionOrders, o.ID, "", "placed", models.Actor{UserID: "u1", Role: models.RoleWaiter}, "", now))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID}, commit.Changed[models.CollectionOrders])
	assert.Equal(t, int32(1), fired.Load())

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		got, err := r.Order(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, commit.Revisions[models.CollectionOrders], got.Revision)
		assert.Greater(t, got.Revision, before)
		require.Len(t, got.Items, 1)
		assert.Equal(t, models.Cents(500), got.Subtotal())

		cs, err := r.Changes(ctx, models.CollectionOrders, before)
		require.NoError(t, err)
		require.NotEmpty(t, cs.Orders)

		history, err := r.History(ctx, models.CollectionOrders, o.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "placed", history[0].To)

		_, err = r.Bill(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tbl := newTable("pg-" + uuid.NewString()[:8])

	_, err := st.Update(ctx, []store.Key{store.TableKey(tbl.ID)}, func(tx store.Tx) error {
		require.NoError(t, tx.PutTable(ctx, tbl))
		return apperr.State("table", tbl.ID, "free", "rejected")
	})
	require.ErrorIs(t, err, apperr.ErrState)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		_, err := r.Table(ctx, tbl.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestStoreSerializesSameKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tbl := newTable("pg-" + uuid.NewString()[:8])
	_, err := st.Update(ctx, []store.Key{store.TableKey(tbl.ID)}, func(tx store.Tx) error {
		return tx.PutTable(ctx, tbl)
	})
	require.NoError(t, err)

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			orderID := uuid.NewString()
			_, err := st.Update(ctx, []store.Key{store.TableKey(tbl.ID)}, func(tx store.Tx) error {
				cur, err := tx.Table(ctx, tbl.ID)
				if err != nil {
					return err
				}
				if cur.CurrentOrderID != "" {
					return apperr.Conflict("table", tbl.ID, string(cur.Status), "taken")
				}
				cur.Status = models.TableOccupied
				cur.CurrentOrderID = orderID
				return tx.PutTable(ctx, cur)
			})
			if err == nil {
				wins.Add(1)
				return nil
			}
			if apperr.KindOf(err) == apperr.KindConflict {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestDuplicateLabelIsConflict(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	label := "pg-" + uuid.NewString()[:8]

	for i, want := range []error{nil, apperr.ErrConflict} {
		tbl := newTable(label)
		_, err := st.Update(ctx, []store.Key{store.TableKey(tbl.ID)}, func(tx store.Tx) error {
			return tx.PutTable(ctx, tbl)
		})
		if want == nil {
			require.NoError(t, err, i)
			continue
		}
		assert.ErrorIs(t, err, want)
	}
}
