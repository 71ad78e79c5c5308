// Package store defines the Entity Store contract shared by the in-memory and
// PostgreSQL implementations.
//
// Writers call Update with the lock keys of the aggregate they touch; the
// function runs with those keys held and everything it writes commits
// atomically together with one revision bump per written collection. Readers
// call View and see one consistent snapshot without taking any writer lock.
package store

import (
	"context"
	"errors"
	"sort"

	"smartdine/internal/models"
)

// ErrNotFound is returned by Reader lookups for unknown ids.
var ErrNotFound = errors.New("store: not found")

// Key identifies one lockable entity.
type Key struct {
	Collection models.Collection
	ID         string
}

func TableKey(id string) Key { return Key{Collection: models.CollectionTables, ID: id} }
func OrderKey(id string) Key { return Key{Collection: models.CollectionOrders, ID: id} }
func BillKey(id string) Key  { return Key{Collection: models.CollectionBills, ID: id} }

// MenuKey locks a menu item. The menu is not revisioned, so its keys sort
// after every collection.
func MenuKey(id string) Key { return Key{Collection: "menu", ID: id} }

// UserKey locks a staff account, or a username when id is "username:<name>".
func UserKey(id string) Key { return Key{Collection: "users", ID: id} }

// SortKeys dedupes keys and orders them tables, orders, bills, then by id.
// Every implementation acquires locks in this order.
func SortKeys(keys []Key) []Key {
	seen := make(map[Key]bool, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k.ID == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := collectionRank(out[i].Collection), collectionRank(out[j].Collection)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func collectionRank(c models.Collection) int {
	for i, known := range models.Collections {
		if known == c {
			return i
		}
	}
	return len(models.Collections)
}

// ChangeSet is the answer to "what changed in a collection since revision N".
// Reset is set when the caller's revision is ahead of the store, in which case
// every entity is returned.
type ChangeSet struct {
	Collection models.Collection `json:"collection"`
	Revision   int64             `json:"revision"`
	Reset      bool              `json:"reset,omitempty"`
	Tables     []models.Table    `json:"tables,omitempty"`
	Orders     []models.Order    `json:"orders,omitempty"`
	Bills      []models.Bill     `json:"bills,omitempty"`
}

// Len returns the number of changed entities
func (c ChangeSet) Len() int {
	return len(c.Tables) + len(c.Orders) + len(c.Bills)
}

// Reader is the read side of the store.
type Reader interface {
	Table(ctx context.Context, id string) (models.Table, error)
	Tables(ctx context.Context) ([]models.Table, error)
	Order(ctx context.Context, id string) (models.Order, error)
	Orders(ctx context.Context) ([]models.Order, error)
	OrdersByTable(ctx context.Context, tableID string) ([]models.Order, error)
	Bill(ctx context.Context, id string) (models.Bill, error)
	Bills(ctx context.Context) ([]models.Bill, error)
	BillsByOrder(ctx context.Context, orderID string) ([]models.Bill, error)
	MenuItem(ctx context.Context, id string) (models.MenuItem, error)
	MenuItems(ctx context.Context) ([]models.MenuItem, error)
	User(ctx context.Context, id string) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	Users(ctx context.Context) ([]models.User, error)
	History(ctx context.Context, collection models.Collection, entityID string) ([]models.StatusChange, error)
	Revision(ctx context.Context, collection models.Collection) (int64, error)
	Changes(ctx context.Context, collection models.Collection, since int64) (ChangeSet, error)
}

// Tx is the write side, valid only inside Update.
type Tx interface {
	Reader
	PutTable(ctx context.Context, t models.Table) error
	PutOrder(ctx context.Context, o models.Order) error
	PutBill(ctx context.Context, b models.Bill) error
	PutMenuItem(ctx context.Context, m models.MenuItem) error
	PutUser(ctx context.Context, u models.User) error
	AppendHistory(ctx context.Context, change models.StatusChange) error
}

// Commit describes what one Update made visible.
type Commit struct {
	Revisions map[models.Collection]int64
	Changed   map[models.Collection][]string
	History   []models.StatusChange
}

// Empty reports whether the update wrote no revisioned entity.
func (c Commit) Empty() bool {
	return len(c.Changed) == 0
}

// Viewer gives read-only access. Report code depends on this alone so it
// cannot mutate state.
type Viewer interface {
	View(ctx context.Context, fn func(r Reader) error) error
}

// Store is the storage collaborator the workflow services depend on.
type Store interface {
	Viewer
	Update(ctx context.Context, keys []Key, fn func(tx Tx) error) (Commit, error)
	OnCommit(fn func(Commit))
}
