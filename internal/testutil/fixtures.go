// Package testutil seeds stores with a small restaurant for service tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smartdine/internal/models"
	"smartdine/internal/store"
)

var (
	Admin   = models.Actor{UserID: "u-admin", Role: models.RoleAdmin}
	Waiter  = models.Actor{UserID: "u-waiter", Role: models.RoleWaiter}
	Waiter2 = models.Actor{UserID: "u-waiter-2", Role: models.RoleWaiter}
	Chef    = models.Actor{UserID: "u-chef", Role: models.RoleChef}
	Cashier = models.Actor{UserID: "u-cashier", Role: models.RoleCashier}
)

// Menu item ids seeded by Seed
const (
	Burger   = "m-burger"   // 12.50
	Fries    = "m-fries"    // 4.25
	Lemonade = "m-lemonade" // 3.00
	Soup     = "m-soup"     // unavailable
)

// Tables seeded by Seed, all Free
var Tables = []string{"t-1", "t-2", "t-3"}

// Seed writes the fixture tables, menu and users into st.
func Seed(t testing.TB, st store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	keys := make([]store.Key, 0, len(Tables))
	for _, id := range Tables {
		keys = append(keys, store.TableKey(id))
	}

	_, err := st.Update(ctx, keys, func(tx store.Tx) error {
		for i, id := range Tables {
			err := tx.PutTable(ctx, models.Table{
				ID:        id,
				Label:     "T" + string(rune('1'+i)),
				Capacity:  4,
				Status:    models.TableFree,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
		}

		menu := []models.MenuItem{
			{ID: Burger, Name: "Burger", Category: "mains", Price: models.Cents(1250), Available: true},
			{ID: Fries, Name: "Fries", Category: "sides", Price: models.Cents(425), Available: true},
			{ID: Lemonade, Name: "Lemonade", Category: "drinks", Price: models.Cents(300), Available: true},
			{ID: Soup, Name: "Soup", Category: "starters", Price: models.Cents(600), Available: false},
		}
		for _, m := range menu {
			m.UpdatedAt = now
			if err := tx.PutMenuItem(ctx, m); err != nil {
				return err
			}
		}

		for _, a := range []models.Actor{Admin, Waiter, Waiter2, Chef, Cashier} {
			err := tx.PutUser(ctx, models.User{
				ID:        a.UserID,
				Username:  a.UserID,
				FullName:  a.UserID,
				Role:      a.Role,
				Active:    true,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// SetMenuPrice changes a menu item's price in place.
func SetMenuPrice(t testing.TB, st store.Store, id string, price models.Money) {
	t.Helper()
	ctx := context.Background()
	_, err := st.Update(ctx, nil, func(tx store.Tx) error {
		m, err := tx.MenuItem(ctx, id)
		if err != nil {
			return err
		}
		m.Price = price
		return tx.PutMenuItem(ctx, m)
	})
	require.NoError(t, err)
}

// AssertOccupancy checks that every Occupied table points at exactly one
// seated order and no seated order sits at a table that is not Occupied.
func AssertOccupancy(t testing.TB, st store.Viewer) {
	t.Helper()
	ctx := context.Background()
	err := st.View(ctx, func(r store.Reader) error {
		tables, err := r.Tables(ctx)
		if err != nil {
			return err
		}
		bills, err := r.Bills(ctx)
		if err != nil {
			return err
		}
		paid := make(map[string]bool)
		for _, b := range bills {
			if b.Status == models.BillPaid {
				paid[b.OrderID] = true
			}
		}

		for _, tbl := range tables {
			orders, err := r.OrdersByTable(ctx, tbl.ID)
			if err != nil {
				return err
			}
			var seated []string
			for _, o := range orders {
				if o.Seated(paid[o.ID]) {
					seated = append(seated, o.ID)
				}
			}

			if tbl.Status == models.TableOccupied {
				if len(seated) != 1 || seated[0] != tbl.CurrentOrderID {
					t.Errorf("table %s occupied by %q but seated orders are %v", tbl.ID, tbl.CurrentOrderID, seated)
				}
				continue
			}
			if len(seated) != 0 {
				t.Errorf("table %s is %s but has seated orders %v", tbl.ID, tbl.Status, seated)
			}
		}
		return nil
	})
	require.NoError(t, err)
}
