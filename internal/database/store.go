package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
)

const uniqueViolation = "23505"

// Store implements store.Store on PostgreSQL. Update serializes aggregates
// with transaction-scoped advisory locks taken in store.SortKeys order, so a
// key needs no row to exist yet. Revisions are bumped last, right before
// commit, which orders revisions by commit time within each collection.
type Store struct {
	db     *DB
	logger *logger.Logger

	hooksMu sync.RWMutex
	hooks   []func(store.Commit)
}

var _ store.Store = (*Store)(nil)

// NewStore creates a PostgreSQL entity store. Migrations must have run.
func NewStore(db *DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// View runs fn in a read-only repeatable-read transaction, which gives it
// one snapshot without blocking writers.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn holding keys and commits its writes with one revision bump
// per written collection.
func (s *Store) Update(ctx context.Context, keys []store.Key, fn func(tx store.Tx) error) (store.Commit, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return store.Commit{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, k := range store.SortKeys(keys) {
		if _, err := tx.Exec(ctx, LockKeySQL, string(k.Collection)+":"+k.ID); err != nil {
			return store.Commit{}, fmt.Errorf("failed to lock %s %s: %w", k.Collection, k.ID, err)
		}
	}

	ptx := &pgTx{
		pgReader: pgReader{q: tx},
		dirty:    map[models.Collection]map[string]bool{},
	}
	if err := fn(ptx); err != nil {
		return store.Commit{}, err
	}

	commit, err := ptx.stamp(ctx)
	if err != nil {
		return store.Commit{}, mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Commit{}, mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	if !commit.Empty() {
		s.fire(commit)
	}
	return commit, nil
}

// OnCommit registers a hook called after every non-empty commit
func (s *Store) OnCommit(fn func(store.Commit)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) fire(c store.Commit) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()

	for _, h := range hooks {
		h(c)
	}
}

// mapError turns constraint violations into conflicts; everything else stays
// opaque for the command layer to wrap
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Conflict(pgErr.TableName, "", "", fmt.Sprintf("unique constraint %s violated", pgErr.ConstraintName))
	}
	return err
}

// querier is the part of pgx.Tx the reader needs
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

func (r *pgReader) Table(ctx context.Context, id string) (models.Table, error) {
	t, err := scanTable(r.q.QueryRow(ctx, GetTableSQL, id))
	return t, notFound(err)
}

func (r *pgReader) Tables(ctx context.Context) ([]models.Table, error) {
	return r.queryTables(ctx, ListTablesSQL)
}

func (r *pgReader) queryTables(ctx context.Context, sql string, args ...any) ([]models.Table, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var out []models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *pgReader) Order(ctx context.Context, id string) (models.Order, error) {
	orders, err := r.queryOrders(ctx, GetOrderSQL, id)
	if err != nil {
		return models.Order{}, err
	}
	if len(orders) == 0 {
		return models.Order{}, store.ErrNotFound
	}
	return orders[0], nil
}

func (r *pgReader) Orders(ctx context.Context) ([]models.Order, error) {
	return r.queryOrders(ctx, ListOrdersSQL)
}

func (r *pgReader) OrdersByTable(ctx context.Context, tableID string) ([]models.Order, error) {
	return r.queryOrders(ctx, OrdersByTableSQL, tableID)
}

// queryOrders loads order rows and then their items in one extra query
func (r *pgReader) queryOrders(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []models.Order
	index := map[string]int{}
	for rows.Next() {
		var o models.Order
		err := rows.Scan(&o.ID, &o.Number, &o.TableID, &o.Status, &o.Notes, &o.CreatedBy,
			&o.Revision, &o.CreatedAt, &o.UpdatedAt, &o.ClosedAt, &o.ReleasedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	itemRows, err := r.q.Query(ctx, OrderItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item models.OrderItem
		var price int64
		err := itemRows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Quantity,
			&price, &item.Status, &item.Notes, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.UnitPrice = models.Cents(price)
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, itemRows.Err()
}

func (r *pgReader) Bill(ctx context.Context, id string) (models.Bill, error) {
	b, err := scanBill(r.q.QueryRow(ctx, GetBillSQL, id))
	return b, notFound(err)
}

func (r *pgReader) Bills(ctx context.Context) ([]models.Bill, error) {
	return r.queryBills(ctx, ListBillsSQL)
}

func (r *pgReader) BillsByOrder(ctx context.Context, orderID string) ([]models.Bill, error) {
	return r.queryBills(ctx, BillsByOrderSQL, orderID)
}

func (r *pgReader) queryBills(ctx context.Context, sql string, args ...any) ([]models.Bill, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []models.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *pgReader) MenuItem(ctx context.Context, id string) (models.MenuItem, error) {
	var m models.MenuItem
	var price int64
	err := r.q.QueryRow(ctx, GetMenuItemSQL, id).Scan(&m.ID, &m.Name, &m.Category, &price, &m.Available, &m.UpdatedAt)
	m.Price = models.Cents(price)
	return m, notFound(err)
}

func (r *pgReader) MenuItems(ctx context.Context) ([]models.MenuItem, error) {
	rows, err := r.q.Query(ctx, ListMenuItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu: %w", err)
	}
	defer rows.Close()

	var out []models.MenuItem
	for rows.Next() {
		var m models.MenuItem
		var price int64
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &price, &m.Available, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		m.Price = models.Cents(price)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgReader) User(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.q.QueryRow(ctx, GetUserSQL, id))
}

func (r *pgReader) UserByUsername(ctx context.Context, username string) (models.User, error) {
	return scanUser(r.q.QueryRow(ctx, GetUserByUsernameSQL, username))
}

func (r *pgReader) Users(ctx context.Context) ([]models.User, error) {
	rows, err := r.q.Query(ctx, ListUsersSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *pgReader) History(ctx context.Context, collection models.Collection, entityID string) ([]models.StatusChange, error) {
	rows, err := r.q.Query(ctx, GetStatusHistorySQL, string(collection), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		var h models.StatusChange
		if err := rows.Scan(&h.Collection, &h.EntityID, &h.From, &h.To, &h.ChangedBy, &h.Role, &h.Notes, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *pgReader) Revision(ctx context.Context, collection models.Collection) (int64, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	var rev int64
	if err := r.q.QueryRow(ctx, GetRevisionSQL, string(collection)).Scan(&rev); err != nil {
		return 0, fmt.Errorf("failed to read %s revision: %w", collection, err)
	}
	return rev, nil
}

func (r *pgReader) Changes(ctx context.Context, collection models.Collection, since int64) (store.ChangeSet, error) {
	rev, err := r.Revision(ctx, collection)
	if err != nil {
		return store.ChangeSet{}, err
	}

	cs := store.ChangeSet{Collection: collection, Revision: rev}
	if since > rev {
		cs.Reset = true
		since = 0
	}

	switch collection {
	case models.CollectionTables:
		cs.Tables, err = r.queryTables(ctx, TablesSinceSQL, since)
	case models.CollectionOrders:
		cs.Orders, err = r.queryOrders(ctx, OrdersSinceSQL, since)
	case models.CollectionBills:
		cs.Bills, err = r.queryBills(ctx, BillsSinceSQL, since)
	}
	return cs, err
}

// pgTx records which entities were written so stamp can bump and apply
// the revisions at the end of the transaction.
type pgTx struct {
	pgReader
	dirty   map[models.Collection]map[string]bool
	history []models.StatusChange
}

func (tx *pgTx) markDirty(c models.Collection, id string) {
	if tx.dirty[c] == nil {
		tx.dirty[c] = map[string]bool{}
	}
	tx.dirty[c][id] = true
}

func (tx *pgTx) PutTable(ctx context.Context, t models.Table) error {
	_, err := tx.q.Exec(ctx, UpsertTableSQL, t.ID, t.Label, t.Capacity, string(t.Status), t.CurrentOrderID,
		t.Archived, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to write table %s: %w", t.ID, err))
	}
	tx.markDirty(models.CollectionTables, t.ID)
	return nil
}

func (tx *pgTx) PutOrder(ctx context.Context, o models.Order) error {
	_, err := tx.q.Exec(ctx, UpsertOrderSQL, o.ID, o.Number, o.TableID, string(o.Status), o.Notes, o.CreatedBy,
		o.CreatedAt, o.UpdatedAt, o.ClosedAt, o.ReleasedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to write order %s: %w", o.ID, err))
	}

	if _, err := tx.q.Exec(ctx, DeleteOrderItemsSQL, o.ID); err != nil {
		return fmt.Errorf("failed to clear order items: %w", err)
	}
	for i, item := range o.Items {
		_, err := tx.q.Exec(ctx, InsertOrderItemSQL, item.ID, o.ID, i, item.MenuItemID, item.Name, item.Quantity,
			item.UnitPrice.Cents(), string(item.Status), item.Notes, item.UpdatedAt)
		if err != nil {
			return mapError(fmt.Errorf("failed to write order item %s: %w", item.ID, err))
		}
	}

	tx.markDirty(models.CollectionOrders, o.ID)
	return nil
}

func (tx *pgTx) PutBill(ctx context.Context, b models.Bill) error {
	lines, err := json.Marshal(b.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode bill lines: %w", err)
	}
	_, err = tx.q.Exec(ctx, UpsertBillSQL, b.ID, b.OrderID, b.TableID, lines, b.Subtotal.Cents(), b.TaxRateBps,
		b.Tax.Cents(), b.ServiceCharge.Cents(), b.Discount.Cents(), b.Total.Cents(), string(b.PaymentMethod),
		string(b.Status), b.CreatedBy, b.CreatedAt, b.UpdatedAt, b.PaidAt, b.VoidedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to write bill %s: %w", b.ID, err))
	}
	tx.markDirty(models.CollectionBills, b.ID)
	return nil
}

func (tx *pgTx) PutMenuItem(ctx context.Context, m models.MenuItem) error {
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := tx.q.Exec(ctx, UpsertMenuItemSQL, m.ID, m.Name, m.Category, m.Price.Cents(), m.Available, updated)
	if err != nil {
		return mapError(fmt.Errorf("failed to write menu item %s: %w", m.ID, err))
	}
	return nil
}

func (tx *pgTx) PutUser(ctx context.Context, u models.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := tx.q.Exec(ctx, UpsertUserSQL, u.ID, u.Username, u.FullName, u.PasswordHash, string(u.Role), u.Active, created)
	if err != nil {
		return mapError(fmt.Errorf("failed to write user %s: %w", u.ID, err))
	}
	return nil
}

func (tx *pgTx) AppendHistory(ctx context.Context, h models.StatusChange) error {
	_, err := tx.q.Exec(ctx, InsertStatusLogSQL, string(h.Collection), h.EntityID, h.From, h.To, h.ChangedBy,
		string(h.Role), h.Notes, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to write status log: %w", err)
	}
	tx.history = append(tx.history, h)
	return nil
}

var stampSQL = map[models.Collection]string{
	models.CollectionTables: StampTablesSQL,
	models.CollectionOrders: StampOrdersSQL,
	models.CollectionBills:  StampBillsSQL,
}

// stamp bumps each written collection's revision once and writes it onto
// every entity written in this transaction. The revisions row stays locked
// until commit.
func (tx *pgTx) stamp(ctx context.Context) (store.Commit, error) {
	commit := store.Commit{
		Revisions: map[models.Collection]int64{},
		Changed:   map[models.Collection][]string{},
		History:   tx.history,
	}

	for _, c := range models.Collections {
		set := tx.dirty[c]
		if len(set) == 0 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var rev int64
		if err := tx.q.QueryRow(ctx, BumpRevisionSQL, string(c)).Scan(&rev); err != nil {
			return store.Commit{}, fmt.Errorf("failed to bump %s revision: %w", c, err)
		}
		if _, err := tx.q.Exec(ctx, stampSQL[c], rev, ids); err != nil {
			return store.Commit{}, fmt.Errorf("failed to stamp %s: %w", c, err)
		}
		commit.Revisions[c] = rev
		commit.Changed[c] = ids
	}
	return commit, nil
}

func scanTable(row pgx.Row) (models.Table, error) {
	var t models.Table
	err := row.Scan(&t.ID, &t.Label, &t.Capacity, &t.Status, &t.CurrentOrderID, &t.Archived,
		&t.Revision, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Table{}, err
	}
	return t, nil
}

func scanBill(row pgx.Row) (models.Bill, error) {
	var b models.Bill
	var lines []byte
	var subtotal, tax, service, discount, total int64
	err := row.Scan(&b.ID, &b.OrderID, &b.TableID, &lines, &subtotal, &b.TaxRateBps, &tax, &service,
		&discount, &total, &b.PaymentMethod, &b.Status, &b.CreatedBy, &b.Revision, &b.CreatedAt,
		&b.UpdatedAt, &b.PaidAt, &b.VoidedAt)
	if err != nil {
		return models.Bill{}, err
	}
	if err := json.Unmarshal(lines, &b.Lines); err != nil {
		return models.Bill{}, fmt.Errorf("failed to decode bill lines: %w", err)
	}
	b.Subtotal = models.Cents(subtotal)
	b.Tax = models.Cents(tax)
	b.ServiceCharge = models.Cents(service)
	b.Discount = models.Cents(discount)
	b.Total = models.Cents(total)
	return b, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	return u, notFound(err)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
