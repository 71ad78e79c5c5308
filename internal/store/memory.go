package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"smartdine/internal/models"
)

// Memory is an in-process Store. Writers hold per-entity mutexes for the
// duration of their function and publish a new immutable snapshot on commit;
// readers load the current snapshot pointer and never wait.
type Memory struct {
	locks    sync.Map // Key -> *sync.Mutex
	commitMu sync.Mutex
	snap     atomic.Pointer[snapshot]

	hooksMu sync.RWMutex
	hooks   []func(Commit)
}

type snapshot struct {
	tables    map[string]models.Table
	orders    map[string]models.Order
	bills     map[string]models.Bill
	menu      map[string]models.MenuItem
	users     map[string]models.User
	history   []models.StatusChange
	revisions map[models.Collection]int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	m := &Memory{}
	m.snap.Store(&snapshot{
		tables:    map[string]models.Table{},
		orders:    map[string]models.Order{},
		bills:     map[string]models.Bill{},
		menu:      map[string]models.MenuItem{},
		users:     map[string]models.User{},
		revisions: map[models.Collection]int64{},
	})
	return m
}

// View runs fn against the latest committed snapshot
func (m *Memory) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memReader{snap: m.snap.Load()})
}

// Update runs fn with keys locked and commits its writes atomically
func (m *Memory) Update(ctx context.Context, keys []Key, fn func(tx Tx) error) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}

	commit, err := m.update(keys, fn)
	if err != nil {
		return Commit{}, err
	}
	if !commit.Empty() {
		m.fire(commit)
	}
	return commit, nil
}

// OnCommit registers a hook called after every non-empty commit
func (m *Memory) OnCommit(fn func(Commit)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Memory) fire(c Commit) {
	m.hooksMu.RLock()
	hooks := slices.Clone(m.hooks)
	m.hooksMu.RUnlock()

	for _, h := range hooks {
		h(c)
	}
}

func (m *Memory) update(keys []Key, fn func(tx Tx) error) (Commit, error) {
	unlock := m.lock(keys)
	defer unlock()

	// loaded after the locks are held so the aggregate is current
	base := m.snap.Load()
	working := *base
	tx := &memTx{
		memReader: memReader{snap: &working},
		dirty:     map[models.Collection]map[string]bool{},
		menu:      map[string]bool{},
		users:     map[string]bool{},
		cloned:    map[string]bool{},
	}

	if err := fn(tx); err != nil {
		return Commit{}, err
	}
	return m.apply(tx), nil
}

func (m *Memory) lock(keys []Key) func() {
	sorted := SortKeys(keys)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		v, _ := m.locks.LoadOrStore(k, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		held = append(held, mu)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// apply merges the transaction's writes into the latest snapshot. Other
// aggregates may have committed since the transaction started; their entries
// are untouched because a transaction only writes entities it holds locks on.
func (m *Memory) apply(tx *memTx) Commit {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	cur := m.snap.Load()
	next := *cur
	next.revisions = maps.Clone(cur.revisions)

	commit := Commit{
		Revisions: map[models.Collection]int64{},
		Changed:   map[models.Collection][]string{},
	}
	bump := func(c models.Collection) (int64, []string) {
		ids := sortedIDs(tx.dirty[c])
		if len(ids) == 0 {
			return 0, nil
		}
		rev := next.revisions[c] + 1
		next.revisions[c] = rev
		commit.Revisions[c] = rev
		commit.Changed[c] = ids
		return rev, ids
	}

	if rev, ids := bump(models.CollectionTables); len(ids) > 0 {
		next.tables = maps.Clone(cur.tables)
		for _, id := range ids {
			t := tx.snap.tables[id]
			t.Revision = rev
			next.tables[id] = t
		}
	}
	if rev, ids := bump(models.CollectionOrders); len(ids) > 0 {
		next.orders = maps.Clone(cur.orders)
		for _, id := range ids {
			o := tx.snap.orders[id].Clone()
			o.Revision = rev
			next.orders[id] = o
		}
	}
	if rev, ids := bump(models.CollectionBills); len(ids) > 0 {
		next.bills = maps.Clone(cur.bills)
		for _, id := range ids {
			b := tx.snap.bills[id].Clone()
			b.Revision = rev
			next.bills[id] = b
		}
	}

	if len(tx.menu) > 0 {
		next.menu = maps.Clone(cur.menu)
		for id := range tx.menu {
			next.menu[id] = tx.snap.menu[id]
		}
	}
	if len(tx.users) > 0 {
		next.users = maps.Clone(cur.users)
		for id := range tx.users {
			next.users[id] = tx.snap.users[id]
		}
	}
	if len(tx.history) > 0 {
		n := len(cur.history)
		next.history = append(cur.history[:n:n], tx.history...)
		commit.History = append([]models.StatusChange(nil), tx.history...)
	}

	m.snap.Store(&next)
	return commit
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// memReader answers queries from one snapshot
type memReader struct {
	snap *snapshot
}

func (r *memReader) Table(_ context.Context, id string) (models.Table, error) {
	t, ok := r.snap.tables[id]
	if !ok {
		return models.Table{}, ErrNotFound
	}
	return t, nil
}

func (r *memReader) Tables(_ context.Context) ([]models.Table, error) {
	out := make([]models.Table, 0, len(r.snap.tables))
	for _, t := range r.snap.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memReader) Order(_ context.Context, id string) (models.Order, error) {
	o, ok := r.snap.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *memReader) Orders(_ context.Context) ([]models.Order, error) {
	return r.filterOrders(func(models.Order) bool { return true }), nil
}

func (r *memReader) OrdersByTable(_ context.Context, tableID string) ([]models.Order, error) {
	return r.filterOrders(func(o models.Order) bool { return o.TableID == tableID }), nil
}

func (r *memReader) filterOrders(keep func(models.Order) bool) []models.Order {
	out := make([]models.Order, 0)
	for _, o := range r.snap.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memReader) Bill(_ context.Context, id string) (models.Bill, error) {
	b, ok := r.snap.bills[id]
	if !ok {
		return models.Bill{}, ErrNotFound
	}
	return b.Clone(), nil
}

func (r *memReader) Bills(_ context.Context) ([]models.Bill, error) {
	return r.filterBills(func(models.Bill) bool { return true }), nil
}

func (r *memReader) BillsByOrder(_ context.Context, orderID string) ([]models.Bill, error) {
	return r.filterBills(func(b models.Bill) bool { return b.OrderID == orderID }), nil
}

func (r *memReader) filterBills(keep func(models.Bill) bool) []models.Bill {
	out := make([]models.Bill, 0)
	for _, b := range r.snap.bills {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memReader) MenuItem(_ context.Context, id string) (models.MenuItem, error) {
	item, ok := r.snap.menu[id]
	if !ok {
		return models.MenuItem{}, ErrNotFound
	}
	return item, nil
}

func (r *memReader) MenuItems(_ context.Context) ([]models.MenuItem, error) {
	out := make([]models.MenuItem, 0, len(r.snap.menu))
	for _, item := range r.snap.menu {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memReader) User(_ context.Context, id string) (models.User, error) {
	u, ok := r.snap.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (r *memReader) UserByUsername(_ context.Context, username string) (models.User, error) {
	for _, u := range r.snap.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (r *memReader) Users(_ context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(r.snap.users))
	for _, u := range r.snap.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *memReader) History(_ context.Context, collection models.Collection, entityID string) ([]models.StatusChange, error) {
	return filterHistory(r.snap.history, collection, entityID), nil
}

func filterHistory(all []models.StatusChange, collection models.Collection, entityID string) []models.StatusChange {
	out := make([]models.StatusChange, 0)
	for _, h := range all {
		if h.Collection == collection && h.EntityID == entityID {
			out = append(out, h)
		}
	}
	return out
}

func (r *memReader) Revision(_ context.Context, collection models.Collection) (int64, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	return r.snap.revisions[collection], nil
}

func (r *memReader) Changes(_ context.Context, collection models.Collection, since int64) (ChangeSet, error) {
	if !collection.Valid() {
		return ChangeSet{}, fmt.Errorf("unknown collection %q", collection)
	}

	cs := ChangeSet{Collection: collection, Revision: r.snap.revisions[collection]}
	if since > cs.Revision {
		cs.Reset = true
		since = 0
	}

	switch collection {
	case models.CollectionTables:
		for _, t := range r.snap.tables {
			if t.Revision > since {
				cs.Tables = append(cs.Tables, t)
			}
		}
		sort.Slice(cs.Tables, func(i, j int) bool { return revLess(cs.Tables[i].Revision, cs.Tables[j].Revision, cs.Tables[i].ID, cs.Tables[j].ID) })
	case models.CollectionOrders:
		for _, o := range r.snap.orders {
			if o.Revision > since {
				cs.Orders = append(cs.Orders, o.Clone())
			}
		}
		sort.Slice(cs.Orders, func(i, j int) bool { return revLess(cs.Orders[i].Revision, cs.Orders[j].Revision, cs.Orders[i].ID, cs.Orders[j].ID) })
	case models.CollectionBills:
		for _, b := range r.snap.bills {
			if b.Revision > since {
				cs.Bills = append(cs.Bills, b.Clone())
			}
		}
		sort.Slice(cs.Bills, func(i, j int) bool { return revLess(cs.Bills[i].Revision, cs.Bills[j].Revision, cs.Bills[i].ID, cs.Bills[j].ID) })
	}
	return cs, nil
}

func revLess(ri, rj int64, idi, idj string) bool {
	if ri != rj {
		return ri < rj
	}
	return idi < idj
}

// memTx reads through its private working snapshot, so a transaction sees
// its own writes. Maps are cloned on first write.
type memTx struct {
	memReader
	dirty   map[models.Collection]map[string]bool
	menu    map[string]bool
	users   map[string]bool
	history []models.StatusChange
	cloned  map[string]bool
}

func (tx *memTx) markDirty(c models.Collection, id string) {
	if tx.dirty[c] == nil {
		tx.dirty[c] = map[string]bool{}
	}
	tx.dirty[c][id] = true
}

func (tx *memTx) PutTable(_ context.Context, t models.Table) error {
	if t.ID == "" {
		return fmt.Errorf("table id is empty")
	}
	if !tx.cloned["tables"] {
		tx.snap.tables = maps.Clone(tx.snap.tables)
		tx.cloned["tables"] = true
	}
	tx.snap.tables[t.ID] = t
	tx.markDirty(models.CollectionTables, t.ID)
	return nil
}

func (tx *memTx) PutOrder(_ context.Context, o models.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id is empty")
	}
	if !tx.cloned["orders"] {
		tx.snap.orders = maps.Clone(tx.snap.orders)
		tx.cloned["orders"] = true
	}
	tx.snap.orders[o.ID] = o.Clone()
	tx.markDirty(models.CollectionOrders, o.ID)
	return nil
}

func (tx *memTx) PutBill(_ context.Context, b models.Bill) error {
	if b.ID == "" {
		return fmt.Errorf("bill id is empty")
	}
	if !tx.cloned["bills"] {
		tx.snap.bills = maps.Clone(tx.snap.bills)
		tx.cloned["bills"] = true
	}
	tx.snap.bills[b.ID] = b.Clone()
	tx.markDirty(models.CollectionBills, b.ID)
	return nil
}

func (tx *memTx) PutMenuItem(_ context.Context, item models.MenuItem) error {
	if item.ID == "" {
		return fmt.Errorf("menu item id is empty")
	}
	if !tx.cloned["menu"] {
		tx.snap.menu = maps.Clone(tx.snap.menu)
		tx.cloned["menu"] = true
	}
	tx.snap.menu[item.ID] = item
	tx.menu[item.ID] = true
	return nil
}

func (tx *memTx) PutUser(_ context.Context, u models.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is empty")
	}
	if !tx.cloned["users"] {
		tx.snap.users = maps.Clone(tx.snap.users)
		tx.cloned["users"] = true
	}
	tx.snap.users[u.ID] = u
	tx.users[u.ID] = true
	return nil
}

func (tx *memTx) AppendHistory(_ context.Context, change models.StatusChange) error {
	tx.history = append(tx.history, change)
	return nil
}

func (tx *memTx) History(ctx context.Context, collection models.Collection, entityID string) ([]models.StatusChange, error) {
	committed, _ := tx.memReader.History(ctx, collection, entityID)
	return append(committed, filterHistory(tx.history, collection, entityID)...), nil
}
