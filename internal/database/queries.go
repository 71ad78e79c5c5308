package database

// Revision and locking queries
const (
	LockKeySQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	BumpRevisionSQL = `
		UPDATE revisions SET revision = revision + 1
		WHERE collection = $1
		RETURNING revision`

	GetRevisionSQL = `SELECT revision FROM revisions WHERE collection = $1`
)

// Table queries
const (
	tableColumns = `id, label, capacity, status, COALESCE(current_order_id, ''), archived, revision, created_at, updated_at`

	UpsertTableSQL = `
		INSERT INTO dining_tables (id, label, capacity, status, current_order_id, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			capacity = EXCLUDED.capacity,
			status = EXCLUDED.status,
			current_order_id = EXCLUDED.current_order_id,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at`

	GetTableSQL = `SELECT ` + tableColumns + ` FROM dining_tables WHERE id = $1`

	ListTablesSQL = `SELECT ` + tableColumns + ` FROM dining_tables ORDER BY label, id`

	TablesSinceSQL = `SELECT ` + tableColumns + ` FROM dining_tables WHERE revision > $1 ORDER BY revision, id`

	StampTablesSQL = `UPDATE dining_tables SET revision = $1 WHERE id = ANY($2)`
)

// Order queries
const (
	orderColumns = `id, number, table_id, status, notes, created_by, revision, created_at, updated_at, closed_at, released_at`

	UpsertOrderSQL = `
		INSERT INTO orders (id, number, table_id, status, notes, created_by, created_at, updated_at, closed_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at,
			released_at = EXCLUDED.released_at`

	DeleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	InsertOrderItemSQL = `
		INSERT INTO order_items (id, order_id, position, menu_item_id, name, quantity, unit_price_cents, status, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	GetOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	ListOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at, id`

	OrdersByTableSQL = `SELECT ` + orderColumns + ` FROM orders WHERE table_id = $1 ORDER BY created_at, id`

	OrdersSinceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE revision > $1 ORDER BY revision, id`

	OrderItemsSQL = `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price_cents, status, notes, updated_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	StampOrdersSQL = `UPDATE orders SET revision = $1 WHERE id = ANY($2)`
)

// Bill queries
const (
	billColumns = `id, order_id, table_id, lines, subtotal_cents, tax_rate_bps, tax_cents, service_charge_cents,
		discount_cents, total_cents, payment_method, status, created_by, revision, created_at, updated_at, paid_at, voided_at`

	UpsertBillSQL = `
		INSERT INTO bills (id, order_id, table_id, lines, subtotal_cents, tax_rate_bps, tax_cents, service_charge_cents,
			discount_cents, total_cents, payment_method, status, created_by, created_at, updated_at, paid_at, voided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payment_method = EXCLUDED.payment_method,
			updated_at = EXCLUDED.updated_at,
			paid_at = EXCLUDED.paid_at,
			voided_at = EXCLUDED.voided_at`

	GetBillSQL = `SELECT ` + billColumns + ` FROM bills WHERE id = $1`

	ListBillsSQL = `SELECT ` + billColumns + ` FROM bills ORDER BY created_at, id`

	BillsByOrderSQL = `SELECT ` + billColumns + ` FROM bills WHERE order_id = $1 ORDER BY created_at, id`

	BillsSinceSQL = `SELECT ` + billColumns + ` FROM bills WHERE revision > $1 ORDER BY revision, id`

	StampBillsSQL = `UPDATE bills SET revision = $1 WHERE id = ANY($2)`
)

// Reference data queries
const (
	UpsertMenuItemSQL = `
		INSERT INTO menu_items (id, name, category, price_cents, available, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			available = EXCLUDED.available,
			updated_at = EXCLUDED.updated_at`

	GetMenuItemSQL = `SELECT id, name, category, price_cents, available, updated_at FROM menu_items WHERE id = $1`

	ListMenuItemsSQL = `SELECT id, name, category, price_cents, available, updated_at FROM menu_items ORDER BY category, name`

	UpsertUserSQL = `
		INSERT INTO users (id, username, full_name, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			active = EXCLUDED.active`

	GetUserSQL = `SELECT id, username, full_name, password_hash, role, active, created_at FROM users WHERE id = $1`

	GetUserByUsernameSQL = `SELECT id, username, full_name, password_hash, role, active, created_at FROM users WHERE username = $1`

	ListUsersSQL = `SELECT id, username, full_name, password_hash, role, active, created_at FROM users ORDER BY username`
)

// Status log queries
const (
	InsertStatusLogSQL = `
		INSERT INTO status_log (collection, entity_id, from_status, to_status, changed_by, role, notes, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	GetStatusHistorySQL = `
		SELECT collection, entity_id, from_status, to_status, changed_by, role, notes, changed_at
		FROM status_log
		WHERE collection = $1 AND entity_id = $2
		ORDER BY id ASC`
)
