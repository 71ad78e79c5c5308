package report

import (
	"context"
	"sort"
	"time"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

// SalesSummary aggregates Paid bills in a time range
type SalesSummary struct {
	From        time.Time                             `json:"from"`
	To          time.Time                             `json:"to"`
	BillCount   int                                   `json:"bill_count"`
	Revenue     models.Money                          `json:"revenue"`
	Tax         models.Money                          `json:"tax"`
	Discounts   models.Money                          `json:"discounts"`
	Average     models.Money                          `json:"average"`
	ByMethod    map[models.PaymentMethod]models.Money `json:"by_payment_method"`
	MethodCount map[models.PaymentMethod]int          `json:"count_by_payment_method"`
}

// ItemSales is one row of the top items report
type ItemSales struct {
	MenuItemID string       `json:"menu_item_id"`
	Name       string       `json:"name"`
	Quantity   int          `json:"quantity"`
	Revenue    models.Money `json:"revenue"`
}

// Occupancy counts tables by status
type Occupancy struct {
	Total    int                        `json:"total"`
	ByStatus map[models.TableStatus]int `json:"by_status"`
	Rate     float64                    `json:"occupancy_rate"`
	Revision int64                      `json:"revision"`
}

// WaiterStats summarizes the orders a waiter placed
type WaiterStats struct {
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Orders    int          `json:"orders"`
	Served    int          `json:"served"`
	Cancelled int          `json:"cancelled"`
	Revenue   models.Money `json:"revenue"`
}

// Service runs read-only reports. It depends on store.Viewer only, so it has
// no way to mutate state, and each report reads a single snapshot.
type Service struct {
	viewer store.Viewer
	logger *logger.Logger
}

func NewService(v store.Viewer, log *logger.Logger) *Service {
	return &Service{viewer: v, logger: log}
}

// Sales sums Paid bills whose payment time falls in [from, to)
func (s *Service) Sales(ctx context.Context, actor models.Actor, from, to time.Time) (SalesSummary, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return SalesSummary{}, err
	}

	summary := SalesSummary{
		From:        from,
		To:          to,
		ByMethod:    map[models.PaymentMethod]models.Money{},
		MethodCount: map[models.PaymentMethod]int{},
	}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		bills, err := r.Bills(ctx)
		if err != nil {
			return err
		}
		for _, b := range bills {
			if b.Status != models.BillPaid || b.PaidAt == nil || !inRange(*b.PaidAt, from, to) {
				continue
			}
			summary.BillCount++
			summary.Revenue += b.Total
			summary.Tax += b.Tax
			summary.Discounts += b.Discount
			summary.ByMethod[b.PaymentMethod] += b.Total
			summary.MethodCount[b.PaymentMethod]++
		}
		return nil
	})
	if err != nil {
		return SalesSummary{}, err
	}

	if summary.BillCount > 0 {
		summary.Average = models.Cents((summary.Revenue.Cents() + int64(summary.BillCount)/2) / int64(summary.BillCount))
	}
	s.logger.Debug("report_sales", "Sales report generated", "", map[string]interface{}{
		"bill_count": summary.BillCount,
		"revenue":    summary.Revenue.String(),
	})
	return summary, nil
}

// TopItems ranks menu items by quantity ordered in [from, to), skipping
// cancelled orders. limit <= 0 returns every item.
func (s *Service) TopItems(ctx context.Context, actor models.Actor, from, to time.Time, limit int) ([]ItemSales, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return nil, err
	}

	byItem := map[string]*ItemSales{}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		orders, err := r.Orders(ctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Status == models.StatusCancelled || !inRange(o.CreatedAt, from, to) {
				continue
			}
			for _, item := range o.Items {
				row, ok := byItem[item.MenuItemID]
				if !ok {
					row = &ItemSales{MenuItemID: item.MenuItemID, Name: item.Name}
					byItem[item.MenuItemID] = row
				}
				row.Quantity += item.Quantity
				row.Revenue += item.LineTotal()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ItemSales, 0, len(byItem))
	for _, row := range byItem {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TableOccupancy counts non-archived tables by status
func (s *Service) TableOccupancy(ctx context.Context, actor models.Actor) (Occupancy, error) {
	if err := access.Check(actor, access.OpViewReports, ""); err != nil {
		return Occupancy{}, err
	}

	occ := Occupancy{ByStatus: map[models.TableStatus]int{}}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		tables, err := r.Tables(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if t.Archived {
				continue
			}
			occ.Total++
			occ.ByStatus[t.Status]++
		}
		occ.Revision, err = r.Revision(ctx, models.CollectionTables)
		return err
	})
	if err != nil {
		return Occupancy{}, err
	}

	if occ.Total > 0 {
		occ.Rate = float64(occ.ByStatus[models.TableOccupied]) / float64(occ.Total)
	}
	return occ, nil
}

// Waiters reports per-waiter order counts and the revenue of their Paid bills
// for orders created in [from, to).
func (s *Service) Waiters(ctx context.Context, actor models.Actor, from, to time.Time) ([]WaiterStats, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return nil, err
	}

	byWaiter := map[string]*WaiterStats{}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		orders, err := r.Orders(ctx)
		if err != nil {
			return err
		}
		bills, err := r.Bills(ctx)
		if err != nil {
			return err
		}
		paid := make(map[string]models.Money, len(bills))
		for _, b := range bills {
			if b.Status == models.BillPaid {
				paid[b.OrderID] = b.Total
			}
		}

		for _, o := range orders {
			if !inRange(o.CreatedAt, from, to) {
				continue
			}
			row, ok := byWaiter[o.CreatedBy]
			if !ok {
				row = &WaiterStats{UserID: o.CreatedBy, Name: o.CreatedBy}
				if u, err := r.User(ctx, o.CreatedBy); err == nil {
					row.Name = u.FullName
				}
				byWaiter[o.CreatedBy] = row
			}
			row.Orders++
			switch o.Status {
			case models.StatusServed:
				row.Served++
			case models.StatusCancelled:
				row.Cancelled++
			}
			row.Revenue += paid[o.ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]WaiterStats, 0, len(byWaiter))
	for _, row := range byWaiter {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Service) authorize(actor models.Actor, from, to time.Time) error {
	if err := access.Check(actor, access.OpViewReports, ""); err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return apperr.Validation("from", "from must be before to")
	}
	return nil
}

// inRange treats a zero bound as open
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
