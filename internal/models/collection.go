package models

// Collection names an entity collection that carries its own revision counter.
type Collection string

const (
	CollectionTables Collection = "tables"
	CollectionOrders Collection = "orders"
	CollectionBills  Collection = "bills"
)

// Collections lists every revisioned collection in a stable order.
var Collections = []Collection{CollectionTables, CollectionOrders, CollectionBills}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionTables, CollectionOrders, CollectionBills:
		return true
	}
	return false
}
