package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

const entity = "table"

// Manager owns table occupancy transitions. Occupy and Release run inside a
// caller's transaction so that the order and billing engines can move the
// table in the same atomic unit as the order or bill; the remaining methods
// are standalone commands.
type Manager struct {
	store        store.Store
	logger       *logger.Logger
	cleaningStep bool
	now          func() time.Time
}

// NewManager creates a table manager. With cleaningStep disabled a released
// table goes straight to Free; the Cleaning step is still recorded in the
// table's history.
func NewManager(st store.Store, log *logger.Logger, cleaningStep bool) *Manager {
	return &Manager{
		store:        st,
		logger:       log,
		cleaningStep: cleaningStep,
		now:          time.Now,
	}
}

// Occupy seats orderID at the table. Fails with ConflictError when the table
// is not Free or Reserved or already has a seated order.
func (m *Manager) Occupy(ctx context.Context, tx store.Tx, tableID, orderID string, actor models.Actor) (models.Table, error) {
	t, err := m.load(ctx, tx, tableID)
	if err != nil {
		return models.Table{}, err
	}

	if t.Status == models.TableOccupied && t.CurrentOrderID == orderID {
		return t, nil
	}
	if t.CurrentOrderID != "" {
		return models.Table{}, apperr.Conflict(entity, tableID, string(t.Status),
			fmt.Sprintf("table already has active order %s", t.CurrentOrderID))
	}
	if !t.Seatable() {
		return models.Table{}, apperr.Conflict(entity, tableID, string(t.Status),
			fmt.Sprintf("table is %s", t.Status))
	}

	from := t.Status
	t.Status = models.TableOccupied
	t.CurrentOrderID = orderID
	if err := m.write(ctx, tx, &t, from, actor, "seated order "+orderID); err != nil {
		return models.Table{}, err
	}
	return t, nil
}

// ReleaseFor frees the table if orderID is the order seated at it. It is a
// no-op otherwise, which covers retries and orders whose table was already
// released.
func (m *Manager) ReleaseFor(ctx context.Context, tx store.Tx, tableID, orderID string, actor models.Actor, reason string) (models.Table, error) {
	t, err := m.load(ctx, tx, tableID)
	if err != nil {
		return models.Table{}, err
	}
	if t.Status != models.TableOccupied || t.CurrentOrderID != orderID {
		return t, nil
	}
	return m.release(ctx, tx, t, actor, reason)
}

// release moves an occupied table to Cleaning, and on to Free when the
// cleaning step is disabled.
func (m *Manager) release(ctx context.Context, tx store.Tx, t models.Table, actor models.Actor, reason string) (models.Table, error) {
	t.CurrentOrderID = ""
	t.Status = models.TableCleaning
	if err := m.write(ctx, tx, &t, models.TableOccupied, actor, reason); err != nil {
		return models.Table{}, err
	}
	if m.cleaningStep {
		return t, nil
	}

	t.Status = models.TableFree
	if err := m.write(ctx, tx, &t, models.TableCleaning, actor, "cleaning step disabled"); err != nil {
		return models.Table{}, err
	}
	return t, nil
}

// CreateTable adds a table. Labels are unique among non-archived tables.
func (m *Manager) CreateTable(ctx context.Context, actor models.Actor, label string, capacity int) (models.Table, error) {
	if err := access.Check(actor, access.OpCreateTable, ""); err != nil {
		return models.Table{}, err
	}

	label = strings.TrimSpace(label)
	if label == "" {
		return models.Table{}, apperr.Validation("label", "label is required")
	}
	if len(label) > 20 {
		return models.Table{}, apperr.Validation("label", "label must not exceed 20 characters")
	}
	if capacity < models.MinTableCapacity || capacity > models.MaxTableCapacity {
		return models.Table{}, apperr.Validation("capacity",
			fmt.Sprintf("capacity must be between %d and %d", models.MinTableCapacity, models.MaxTableCapacity))
	}

	now := m.now().UTC()
	t := models.Table{
		ID:        uuid.NewString(),
		Label:     label,
		Capacity:  capacity,
		Status:    models.TableFree,
		CreatedAt: now,
		UpdatedAt: now,
	}

	labelKey := store.TableKey("label:" + strings.ToLower(label))
	commit, err := command.Run(ctx, m.store, m.logger, "create_table", []store.Key{labelKey}, func(tx store.Tx) error {
		existing, err := tx.Tables(ctx)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if !e.Archived && strings.EqualFold(e.Label, label) {
				return apperr.Conflict(entity, e.ID, string(e.Status), fmt.Sprintf("label %q is already in use", label))
			}
		}
		return tx.PutTable(ctx, t)
	})
	if err != nil {
		return models.Table{}, err
	}

	t.Revision = commit.Revisions[models.CollectionTables]
	m.logger.Info("table_created", fmt.Sprintf("Table %s created", label), "", map[string]interface{}{
		"table_id": t.ID,
		"capacity": capacity,
	})
	return t, nil
}

// DeleteTable archives a Free table that no order has ever referenced.
func (m *Manager) DeleteTable(ctx context.Context, actor models.Actor, tableID string) error {
	if err := access.Check(actor, access.OpDeleteTable, ""); err != nil {
		return err
	}

	_, err := command.Run(ctx, m.store, m.logger, "delete_table", []store.Key{store.TableKey(tableID)}, func(tx store.Tx) error {
		t, err := m.load(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.Status != models.TableFree {
			return apperr.State(entity, tableID, string(t.Status), "only a free table can be deleted")
		}
		orders, err := tx.OrdersByTable(ctx, tableID)
		if err != nil {
			return err
		}
		if len(orders) > 0 {
			return apperr.State(entity, tableID, string(t.Status),
				fmt.Sprintf("table is referenced by %d orders", len(orders)))
		}

		t.Archived = true
		t.UpdatedAt = m.now().UTC()
		return tx.PutTable(ctx, t)
	})
	return err
}

// SetReserved marks a Free table as reserved.
func (m *Manager) SetReserved(ctx context.Context, actor models.Actor, tableID string) (models.Table, error) {
	return m.transition(ctx, actor, tableID, access.OpReserveTable, func(t models.Table) (models.TableStatus, error) {
		switch t.Status {
		case models.TableReserved:
			return t.Status, nil
		case models.TableFree:
			return models.TableReserved, nil
		default:
			return "", apperr.State(entity, t.ID, string(t.Status), "only a free table can be reserved")
		}
	})
}

// ClearReserved returns a reserved table to Free.
func (m *Manager) ClearReserved(ctx context.Context, actor models.Actor, tableID string) (models.Table, error) {
	return m.transition(ctx, actor, tableID, access.OpClearReservation, func(t models.Table) (models.TableStatus, error) {
		switch t.Status {
		case models.TableFree:
			return t.Status, nil
		case models.TableReserved:
			return models.TableFree, nil
		default:
			return "", apperr.State(entity, t.ID, string(t.Status), "table is not reserved")
		}
	})
}

// ReleaseTable is the standalone release command: it finishes cleaning
// (Cleaning -> Free) or, for an admin, clears an occupied table. An admin may
// release a table whose order is Served with no open or paid bill left, which
// is how a table is freed after its only bill was voided; the order is then
// marked released and can no longer be billed.
func (m *Manager) ReleaseTable(ctx context.Context, actor models.Actor, tableID string) (models.Table, error) {
	var seatedID string
	err := command.View(ctx, m.store, func(r store.Reader) error {
		t, err := m.load(ctx, r, tableID)
		seatedID = t.CurrentOrderID
		return err
	})
	if err != nil {
		return models.Table{}, err
	}

	keys := []store.Key{store.TableKey(tableID)}
	if seatedID != "" {
		keys = append(keys, store.OrderKey(seatedID))
	}

	var result models.Table
	commit, err := command.Run(ctx, m.store, m.logger, "release_table", keys, func(tx store.Tx) error {
		t, err := m.load(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.OpReleaseTable, string(t.Status)); err != nil {
			return err
		}

		switch t.Status {
		case models.TableFree:
			result = t
			return nil
		case models.TableCleaning:
			t.Status = models.TableFree
			err := m.write(ctx, tx, &t, models.TableCleaning, actor, "cleaned")
			result = t
			return err
		case models.TableOccupied:
			if t.CurrentOrderID == "" {
				result, err = m.release(ctx, tx, t, actor, "released by admin")
				return err
			}
			if t.CurrentOrderID != seatedID {
				return apperr.Conflict(entity, tableID, string(t.Status), "seated order changed, retry")
			}
			if err := m.writeOff(ctx, tx, t); err != nil {
				return err
			}
			result, err = m.release(ctx, tx, t, actor, "released by admin after void")
			return err
		default:
			return apperr.State(entity, tableID, string(t.Status), "reserved tables are cleared, not released")
		}
	})
	if err != nil {
		return models.Table{}, err
	}
	return stamp(result, commit), nil
}

// writeOff marks the order seated at t as released. The order must be Served
// and every bill it has must be voided.
func (m *Manager) writeOff(ctx context.Context, tx store.Tx, t models.Table) error {
	o, err := tx.Order(ctx, t.CurrentOrderID)
	if err != nil {
		return command.Lookup(err, "order", t.CurrentOrderID)
	}
	if o.Status != models.StatusServed {
		return apperr.State(entity, t.ID, string(t.Status),
			fmt.Sprintf("order %s is still %s; cancel it first", o.ID, o.Status))
	}

	bills, err := tx.BillsByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, b := range bills {
		if b.Status != models.BillVoided {
			return apperr.State(entity, t.ID, string(t.Status),
				fmt.Sprintf("order %s has %s bill %s; pay or void it first", o.ID, b.Status, b.ID))
		}
	}

	now := m.now().UTC()
	o.ReleasedAt = &now
	o.UpdatedAt = now
	return tx.PutOrder(ctx, o)
}

// Get returns one table
func (m *Manager) Get(ctx context.Context, tableID string) (models.Table, error) {
	var t models.Table
	err := command.View(ctx, m.store, func(r store.Reader) error {
		var err error
		t, err = r.Table(ctx, tableID)
		return command.Lookup(err, entity, tableID)
	})
	return t, err
}

// List returns all non-archived tables
func (m *Manager) List(ctx context.Context) ([]models.Table, error) {
	var out []models.Table
	err := command.View(ctx, m.store, func(r store.Reader) error {
		all, err := r.Tables(ctx)
		if err != nil {
			return err
		}
		out = make([]models.Table, 0, len(all))
		for _, t := range all {
			if !t.Archived {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

func (m *Manager) transition(ctx context.Context, actor models.Actor, tableID string, op access.Operation, next func(models.Table) (models.TableStatus, error)) (models.Table, error) {
	var result models.Table
	commit, err := command.Run(ctx, m.store, m.logger, string(op), []store.Key{store.TableKey(tableID)}, func(tx store.Tx) error {
		t, err := m.load(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if err := access.Check(actor, op, string(t.Status)); err != nil {
			return err
		}

		to, err := next(t)
		if err != nil {
			return err
		}
		result = t
		if to == t.Status {
			return nil
		}

		from := t.Status
		t.Status = to
		err = m.write(ctx, tx, &t, from, actor, string(op))
		result = t
		return err
	})
	if err != nil {
		return models.Table{}, err
	}
	return stamp(result, commit), nil
}

func (m *Manager) load(ctx context.Context, r store.Reader, tableID string) (models.Table, error) {
	t, err := r.Table(ctx, tableID)
	if err != nil {
		return models.Table{}, command.Lookup(err, entity, tableID)
	}
	if t.Archived {
		return models.Table{}, apperr.NotFound(entity, tableID)
	}
	return t, nil
}

func (m *Manager) write(ctx context.Context, tx store.Tx, t *models.Table, from models.TableStatus, actor models.Actor, notes string) error {
	now := m.now().UTC()
	t.UpdatedAt = now
	if err := tx.PutTable(ctx, *t); err != nil {
		return err
	}
	return tx.AppendHistory(ctx, models.NewStatusChange(models.CollectionTables, t.ID, string(from), string(t.Status), actor, notes, now))
}

func stamp(t models.Table, commit store.Commit) models.Table {
	if rev, ok := commit.Revisions[models.CollectionTables]; ok {
		t.Revision = rev
	}
	return t
}
