package billing

import (
	"context"
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

const entity = "bill"

// CreateBillRequest is the input of CreateBill. Discount and service charge
// default to zero.
type CreateBillRequest struct {
	OrderID       string               `json:"order_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Discount      models.Money         `json:"discount"`
	ServiceCharge models.Money         `json:"service_charge"`
}

// Service is the billing engine. Bill commands lock the bill's order and table
// so that creation, payment and the resulting table release serialize with
// order commands on the same aggregate.
type Service struct {
	store      store.Store
	tables     *table.Manager
	logger     *logger.Logger
	taxRateBps int64
	now        func() time.Time
}

// NewService creates the billing engine with a tax rate in basis points
// (850 = 8.5%).
func NewService(st store.Store, tables *table.Manager, log *logger.Logger, taxRateBps int64) *Service {
	return &Service{
		store:      st,
		tables:     tables,
		logger:     log,
		taxRateBps: taxRateBps,
		now:        time.Now,
	}
}

// Compute fills in the bill lines and amounts for order. It is pure so that
// repeated computation always yields the same cents.
func Compute(o models.Order, taxRateBps int64, discount, serviceCharge models.Money) (models.Bill, error) {
	if discount < 0 {
		return models.Bill{}, apperr.Validation("discount", "discount must not be negative")
	}
	if serviceCharge < 0 {
		return models.Bill{}, apperr.Validation("service_charge", "service charge must not be negative")
	}

	b := models.Bill{
		OrderID:       o.ID,
		TableID:       o.TableID,
		TaxRateBps:    taxRateBps,
		Discount:      discount,
		ServiceCharge: serviceCharge,
		Lines:         make([]models.BillLine, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		amount := item.LineTotal()
		b.Lines = append(b.Lines, models.BillLine{
			OrderItemID: item.ID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      amount,
		})
		b.Subtotal += amount
	}

	b.Tax = b.Subtotal.ApplyRate(taxRateBps)
	gross := b.Subtotal + b.Tax + serviceCharge
	if discount > gross {
		return models.Bill{}, apperr.Validation("discount", fmt.Sprintf("discount %s exceeds bill amount %s", discount, gross))
	}
	b.Total = gross - discount
	return b, nil
}

// CreateBill bills a Served order. Fails with StateError when the order is
// not Served or already has a bill that is not voided.
func (s *Service) CreateBill(ctx context.Context, actor models.Actor, req CreateBillRequest) (models.Bill, error) {
	if err := access.Check(actor, access.OpCreateBill, ""); err != nil {
		return models.Bill{}, err
	}
	if _, err := models.ParsePaymentMethod(string(req.PaymentMethod)); err != nil {
		return models.Bill{}, apperr.Validation("payment_method", err.Error())
	}

	tableID, err := s.tableOfOrder(ctx, req.OrderID)
	if err != nil {
		return models.Bill{}, err
	}

	var bill models.Bill
	keys := []store.Key{store.TableKey(tableID), store.OrderKey(req.OrderID)}
	commit, err := command.Run(ctx, s.store, s.logger, string(access.OpCreateBill), keys, func(tx store.Tx) error {
		o, err := tx.Order(ctx, req.OrderID)
		if err != nil {
			return command.Lookup(err, "order", req.OrderID)
		}
		if o.Status != models.StatusServed {
			return apperr.State("order", o.ID, string(o.Status), "only a served order can be billed")
		}
		if o.ReleasedAt != nil {
			return apperr.State("order", o.ID, string(o.Status), "order was released without payment")
		}

		existing, err := tx.BillsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, b := range existing {
			if b.Status != models.BillVoided {
				return apperr.State("order", o.ID, string(o.Status),
					fmt.Sprintf("order already has %s bill %s", b.Status, b.ID))
			}
		}

		bill, err = Compute(o, s.taxRateBps, req.Discount, req.ServiceCharge)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		bill.ID = uuid.NewString()
		bill.PaymentMethod = req.PaymentMethod
		bill.Status = models.BillOpen
		bill.CreatedBy = actor.UserID
		bill.CreatedAt = now
		bill.UpdatedAt = now

		if err := tx.PutBill(ctx, bill); err != nil {
			return err
		}
		return s.record(ctx, tx, bill, "", actor, "bill created")
	})
	if err != nil {
		return models.Bill{}, err
	}

	bill = stamp(bill, commit)
	s.logger.Info("bill_created", fmt.Sprintf("Bill created for order %s", req.OrderID), "", map[string]interface{}{
		"bill_id":  bill.ID,
		"order_id": bill.OrderID,
		"subtotal": bill.Subtotal.String(),
		"tax":      bill.Tax.String(),
		"total":    bill.Total.String(),
	})
	return bill, nil
}

// Pay settles an Open bill and releases the table in the same atomic step.
func (s *Service) Pay(ctx context.Context, actor models.Actor, billID string) (models.Bill, error) {
	return s.mutate(ctx, access.OpPayBill, billID, func(tx store.Tx, b *models.Bill) (bool, error) {
		if err := access.Check(actor, access.OpPayBill, string(b.Status)); err != nil {
			return false, err
		}
		if b.Status == models.BillPaid {
			return false, nil
		}
		if b.Status != models.BillOpen {
			return false, apperr.InvalidTransition(entity, b.ID, string(b.Status), string(models.BillPaid))
		}

		now := s.now().UTC()
		b.Status = models.BillPaid
		b.PaidAt = &now
		if err := s.record(ctx, tx, *b, models.BillOpen, actor, "bill paid"); err != nil {
			return false, err
		}
		_, err := s.tables.ReleaseFor(ctx, tx, b.TableID, b.OrderID, actor, "bill paid")
		return true, err
	})
}

// Void cancels an Open bill. Only an admin may void; the table is left as is.
func (s *Service) Void(ctx context.Context, actor models.Actor, billID string) (models.Bill, error) {
	return s.mutate(ctx, access.OpVoidBill, billID, func(tx store.Tx, b *models.Bill) (bool, error) {
		if err := access.Check(actor, access.OpVoidBill, string(b.Status)); err != nil {
			return false, err
		}
		if b.Status == models.BillVoided {
			return false, nil
		}
		if b.Status != models.BillOpen {
			return false, apperr.InvalidTransition(entity, b.ID, string(b.Status), string(models.BillVoided))
		}

		now := s.now().UTC()
		b.Status = models.BillVoided
		b.VoidedAt = &now
		return true, s.record(ctx, tx, *b, models.BillOpen, actor, "bill voided")
	})
}

// GetBill returns one bill
func (s *Service) GetBill(ctx context.Context, billID string) (models.Bill, error) {
	var b models.Bill
	err := command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		b, err = r.Bill(ctx, billID)
		return command.Lookup(err, entity, billID)
	})
	return b, err
}

// PendingBills returns Open bills oldest first
func (s *Service) PendingBills(ctx context.Context) ([]models.Bill, error) {
	var out []models.Bill
	err := command.View(ctx, s.store, func(r store.Reader) error {
		all, err := r.Bills(ctx)
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.Status == models.BillOpen {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

// BillsForOrder returns every bill of an order, voided ones included
func (s *Service) BillsForOrder(ctx context.Context, orderID string) ([]models.Bill, error) {
	var out []models.Bill
	err := command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		out, err = r.BillsByOrder(ctx, orderID)
		return err
	})
	return out, err
}

func (s *Service) mutate(ctx context.Context, op access.Operation, billID string, fn func(tx store.Tx, b *models.Bill) (bool, error)) (models.Bill, error) {
	var tableID, orderID string
	err := command.View(ctx, s.store, func(r store.Reader) error {
		b, err := r.Bill(ctx, billID)
		if err != nil {
			return command.Lookup(err, entity, billID)
		}
		tableID, orderID = b.TableID, b.OrderID
		return nil
	})
	if err != nil {
		return models.Bill{}, err
	}

	var result models.Bill
	keys := []store.Key{store.TableKey(tableID), store.OrderKey(orderID), store.BillKey(billID)}
	commit, err := command.Run(ctx, s.store, s.logger, string(op), keys, func(tx store.Tx) error {
		b, err := tx.Bill(ctx, billID)
		if err != nil {
			return command.Lookup(err, entity, billID)
		}

		changed, err := fn(tx, &b)
		if err != nil {
			return err
		}
		result = b
		if !changed {
			return nil
		}

		b.UpdatedAt = s.now().UTC()
		result = b
		return tx.PutBill(ctx, b)
	})
	if err != nil {
		return models.Bill{}, err
	}
	return stamp(result, commit), nil
}

func (s *Service) tableOfOrder(ctx context.Context, orderID string) (string, error) {
	var tableID string
	err := command.View(ctx, s.store, func(r store.Reader) error {
		o, err := r.Order(ctx, orderID)
		if err != nil {
			return command.Lookup(err, "order", orderID)
		}
		tableID = o.TableID
		return nil
	})
	return tableID, err
}

func (s *Service) record(ctx context.Context, tx store.Tx, b models.Bill, from models.BillStatus, actor models.Actor, notes string) error {
	return tx.AppendHistory(ctx, models.NewStatusChange(models.CollectionBills, b.ID, string(from), string(b.Status), actor, notes, s.now()))
}

func stamp(b models.Bill, commit store.Commit) models.Bill {
	if rev, ok := commit.Revisions[models.CollectionBills]; ok {
		b.Revision = rev
	}
	return b
}
