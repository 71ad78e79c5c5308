package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/services/table"
	"smartdine/internal/store"
)

const (
	entity     = "order"
	itemEntity = "order_item"
)

// Service is the order workflow engine. Every command locks the order
// together with its table, re-reads both, validates the transition and writes
// the result as one atomic unit.
type Service struct {
	store  store.Store
	tables *table.Manager
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates the order workflow engine
func NewService(st store.Store, tables *table.Manager, log *logger.Logger) *Service {
	return &Service{
		store:  st,
		tables: tables,
		logger: log,
		now:    time.Now,
	}
}

// PlaceOrder creates an order and seats it at its table. Either both happen
// or neither does.
func (s *Service) PlaceOrder(ctx context.Context, actor models.Actor, req PlaceOrderRequest) (models.Order, error) {
	if err := access.Check(actor, access.OpPlaceOrder, ""); err != nil {
		return models.Order{}, err
	}
	if err := ValidatePlaceOrder(req); err != nil {
		return models.Order{}, err
	}

	now := s.now().UTC()
	id := uuid.NewString()
	order := models.Order{
		ID:        id,
		Number:    models.GenerateOrderNumber(now, id),
		TableID:   req.TableID,
		Status:    models.StatusPlaced,
		Notes:     req.Notes,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	keys := []store.Key{store.TableKey(req.TableID), store.OrderKey(id)}
	commit, err := command.Run(ctx, s.store, s.logger, "place_order", keys, func(tx store.Tx) error {
		items, err := s.buildItems(ctx, tx, id, req.Items, 0, now)
		if err != nil {
			return err
		}
		order.Items = items

		if _, err := s.tables.Occupy(ctx, tx, req.TableID, id, actor); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		return s.record(ctx, tx, order, "", actor, "order placed")
	})
	if err != nil {
		return models.Order{}, err
	}

	order = stamp(order, commit)
	s.logger.Info("order_placed", fmt.Sprintf("Order %s placed", order.Number), "", map[string]interface{}{
		"order_id":   order.ID,
		"table_id":   order.TableID,
		"item_count": len(order.Items),
		"subtotal":   order.Subtotal().String(),
	})
	return order, nil
}

// AddItems appends items to an order that is still Placed or Cooking.
func (s *Service) AddItems(ctx context.Context, actor models.Actor, orderID string, items []ItemRequest) (models.Order, error) {
	return s.mutate(ctx, "add_items", orderID, func(tx store.Tx, o *models.Order) (bool, error) {
		if err := access.Check(actor, access.OpAddItems, string(o.Status)); err != nil {
			return false, err
		}
		if err := validateItems(items); err != nil {
			return false, err
		}
		if o.Status.Terminal() {
			return false, apperr.Immutable(entity, o.ID, string(o.Status), "add_items")
		}
		if o.Status != models.StatusPlaced && o.Status != models.StatusCooking {
			return false, apperr.State(entity, o.ID, string(o.Status), "items can only be added while the order is placed or cooking")
		}

		added, err := s.buildItems(ctx, tx, o.ID, items, len(o.Items), s.now().UTC())
		if err != nil {
			return false, err
		}
		o.Items = append(o.Items, added...)
		return true, s.rederive(ctx, tx, o, actor, fmt.Sprintf("%d items added", len(added)))
	})
}

// AdvanceOrderStatus moves the whole order to target. Cooking and Ready are
// kitchen steps that move every item along; Served and Cancelled delegate to
// ServeOrder and CancelOrder. Moving back to Placed is a kitchen request that
// is always an invalid transition once cooking has started.
func (s *Service) AdvanceOrderStatus(ctx context.Context, actor models.Actor, orderID string, target models.OrderStatus) (models.Order, error) {
	var op access.Operation
	switch target {
	case models.StatusServed:
		return s.ServeOrder(ctx, actor, orderID)
	case models.StatusCancelled:
		return s.CancelOrder(ctx, actor, orderID)
	case models.StatusPlaced, models.StatusCooking:
		op = access.OpStartCooking
	case models.StatusReady:
		op = access.OpMarkReady
	default:
		return models.Order{}, apperr.Validation("status", fmt.Sprintf("unknown order status %q", target))
	}

	return s.mutate(ctx, string(op), orderID, func(tx store.Tx, o *models.Order) (bool, error) {
		if err := access.Check(actor, op, string(o.Status)); err != nil {
			return false, err
		}
		if o.Status == target {
			return false, nil
		}
		if o.Status.Terminal() {
			return false, apperr.Immutable(entity, o.ID, string(o.Status), string(op))
		}
		if !kitchenStep(o.Status, target) {
			return false, apperr.InvalidTransition(entity, o.ID, string(o.Status), string(target))
		}

		now := s.now().UTC()
		for i := range o.Items {
			item := &o.Items[i]
			switch {
			case target == models.StatusCooking && item.Status == models.ItemPending:
				item.Status = models.ItemCooking
				item.UpdatedAt = now
			case target == models.StatusReady && item.Status != models.ItemReady:
				item.Status = models.ItemReady
				item.UpdatedAt = now
			}
		}
		return true, s.rederive(ctx, tx, o, actor, string(op))
	})
}

// AdvanceItemStatus moves one item along Pending -> Cooking -> Ready and
// recomputes the order status from all items.
func (s *Service) AdvanceItemStatus(ctx context.Context, actor models.Actor, orderID, itemID string, target models.ItemStatus) (models.Order, error) {
	var op access.Operation
	switch target {
	case models.ItemPending, models.ItemCooking:
		op = access.OpStartCooking
	case models.ItemReady:
		op = access.OpMarkReady
	default:
		return models.Order{}, apperr.Validation("status", fmt.Sprintf("unknown item status %q", target))
	}

	return s.mutate(ctx, "advance_item", orderID, func(tx store.Tx, o *models.Order) (bool, error) {
		if err := access.Check(actor, op, string(o.Status)); err != nil {
			return false, err
		}
		idx, ok := o.ItemIndex(itemID)
		if !ok {
			return false, apperr.NotFound(itemEntity, itemID)
		}
		item := &o.Items[idx]
		if item.Status == target {
			return false, nil
		}
		if o.Status.Terminal() {
			return false, apperr.Immutable(entity, o.ID, string(o.Status), string(op))
		}
		if !models.CanAdvanceItem(item.Status, target) {
			return false, apperr.InvalidTransition(itemEntity, itemID, string(item.Status), string(target))
		}

		item.Status = target
		item.UpdatedAt = s.now().UTC()
		return true, s.rederive(ctx, tx, o, actor, fmt.Sprintf("item %s %s", item.Name, target))
	})
}

// ServeOrder marks a Ready order as Served. The table stays occupied until the
// bill is paid.
func (s *Service) ServeOrder(ctx context.Context, actor models.Actor, orderID string) (models.Order, error) {
	return s.mutate(ctx, string(access.OpServeOrder), orderID, func(tx store.Tx, o *models.Order) (bool, error) {
		if err := access.Check(actor, access.OpServeOrder, string(o.Status)); err != nil {
			return false, err
		}
		if o.Status == models.StatusServed {
			return false, nil
		}
		if o.Status.Terminal() {
			return false, apperr.Immutable(entity, o.ID, string(o.Status), string(access.OpServeOrder))
		}
		if o.Status != models.StatusReady {
			return false, apperr.InvalidTransition(entity, o.ID, string(o.Status), string(models.StatusServed))
		}

		return true, s.close(ctx, tx, o, models.StatusServed, actor, "order served")
	})
}

// CancelOrder cancels a Placed or Cooking order and releases its table in the
// same atomic step.
func (s *Service) CancelOrder(ctx context.Context, actor models.Actor, orderID string) (models.Order, error) {
	return s.mutate(ctx, string(access.OpCancelOrder), orderID, func(tx store.Tx, o *models.Order) (bool, error) {
		if err := access.Check(actor, access.OpCancelOrder, string(o.Status)); err != nil {
			return false, err
		}
		if o.Status == models.StatusCancelled {
			return false, nil
		}
		if o.Status.Terminal() {
			return false, apperr.Immutable(entity, o.ID, string(o.Status), string(access.OpCancelOrder))
		}
		if o.Status != models.StatusPlaced && o.Status != models.StatusCooking {
			return false, apperr.InvalidTransition(entity, o.ID, string(o.Status), string(models.StatusCancelled))
		}

		if err := s.close(ctx, tx, o, models.StatusCancelled, actor, "order cancelled"); err != nil {
			return false, err
		}
		_, err := s.tables.ReleaseFor(ctx, tx, o.TableID, o.ID, actor, "order cancelled")
		return true, err
	})
}

// GetOrder returns one order
func (s *Service) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	var o models.Order
	err := command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		o, err = r.Order(ctx, orderID)
		return command.Lookup(err, entity, orderID)
	})
	return o, err
}

// Filter narrows ListOrders. Zero values match everything.
type Filter struct {
	Status     models.OrderStatus
	CreatedBy  string
	ActiveOnly bool
}

// ListOrders returns orders oldest first
func (s *Service) ListOrders(ctx context.Context, f Filter) ([]models.Order, error) {
	var out []models.Order
	err := command.View(ctx, s.store, func(r store.Reader) error {
		all, err := r.Orders(ctx)
		if err != nil {
			return err
		}
		out = make([]models.Order, 0, len(all))
		for _, o := range all {
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			if f.CreatedBy != "" && o.CreatedBy != f.CreatedBy {
				continue
			}
			if f.ActiveOnly && o.Status.Terminal() {
				continue
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// ActiveOrders is the kitchen queue: every order not yet Served or Cancelled
func (s *Service) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	return s.ListOrders(ctx, Filter{ActiveOnly: true})
}

// OrderHistory returns the status transitions of an order, oldest first
func (s *Service) OrderHistory(ctx context.Context, orderID string) ([]models.StatusChange, error) {
	var out []models.StatusChange
	err := command.View(ctx, s.store, func(r store.Reader) error {
		if _, err := r.Order(ctx, orderID); err != nil {
			return command.Lookup(err, entity, orderID)
		}
		var err error
		out, err = r.History(ctx, models.CollectionOrders, orderID)
		return err
	})
	return out, err
}

// mutate locks the order and its table, re-reads the order and applies fn.
// fn reports whether it changed the order; an unchanged order is not written,
// so retried commands do not bump the revision.
func (s *Service) mutate(ctx context.Context, name, orderID string, fn func(tx store.Tx, o *models.Order) (bool, error)) (models.Order, error) {
	tableID, err := s.tableOf(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	var result models.Order
	keys := []store.Key{store.TableKey(tableID), store.OrderKey(orderID)}
	commit, err := command.Run(ctx, s.store, s.logger, name, keys, func(tx store.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return command.Lookup(err, entity, orderID)
		}

		changed, err := fn(tx, &o)
		if err != nil {
			return err
		}
		result = o
		if !changed {
			return nil
		}

		o.UpdatedAt = s.now().UTC()
		result = o
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return models.Order{}, err
	}
	return stamp(result, commit), nil
}

// tableOf reads the order's table id, which never changes, so the lock keys
// can be computed before the transaction starts.
func (s *Service) tableOf(ctx context.Context, orderID string) (string, error) {
	var tableID string
	err := command.View(ctx, s.store, func(r store.Reader) error {
		o, err := r.Order(ctx, orderID)
		if err != nil {
			return command.Lookup(err, entity, orderID)
		}
		tableID = o.TableID
		return nil
	})
	return tableID, err
}

// buildItems resolves menu items and snapshots their current price
func (s *Service) buildItems(ctx context.Context, r store.Reader, orderID string, reqs []ItemRequest, offset int, now time.Time) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(reqs))
	for i, req := range reqs {
		field := fmt.Sprintf("items[%d].menu_item_id", offset+i)
		menuItem, err := r.MenuItem(ctx, req.MenuItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Validation(field, fmt.Sprintf("menu item %s does not exist", req.MenuItemID))
		}
		if err != nil {
			return nil, err
		}
		if !menuItem.Available {
			return nil, apperr.Validation(field, fmt.Sprintf("menu item %s is unavailable", menuItem.Name))
		}

		items = append(items, models.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			Quantity:   req.Quantity,
			UnitPrice:  menuItem.Price,
			Status:     models.ItemPending,
			Notes:      req.Notes,
			UpdatedAt:  now,
		})
	}
	return items, nil
}

// rederive recomputes the aggregate status after an item change and records
// the transition when it moved
func (s *Service) rederive(ctx context.Context, tx store.Tx, o *models.Order, actor models.Actor, notes string) error {
	derived := models.DeriveStatus(o.Items)
	if derived == o.Status {
		return nil
	}
	from := o.Status
	o.Status = derived
	return s.record(ctx, tx, *o, from, actor, notes)
}

func (s *Service) close(ctx context.Context, tx store.Tx, o *models.Order, to models.OrderStatus, actor models.Actor, notes string) error {
	now := s.now().UTC()
	from := o.Status
	o.Status = to
	o.ClosedAt = &now
	return s.record(ctx, tx, *o, from, actor, notes)
}

func (s *Service) record(ctx context.Context, tx store.Tx, o models.Order, from models.OrderStatus, actor models.Actor, notes string) error {
	return tx.AppendHistory(ctx, models.NewStatusChange(models.CollectionOrders, o.ID, string(from), string(o.Status), actor, notes, s.now()))
}

func kitchenStep(from, to models.OrderStatus) bool {
	return (from == models.StatusPlaced && to == models.StatusCooking) ||
		(from == models.StatusCooking && to == models.StatusReady)
}

func stamp(o models.Order, commit store.Commit) models.Order {
	if rev, ok := commit.Revisions[models.CollectionOrders]; ok {
		o.Revision = rev
	}
	return o
}
