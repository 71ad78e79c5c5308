package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"smartdine/internal/models"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

const (
	dateLayout           = "2006-01-02"
	uncategorized        = "uncategorized"
	hoursPerDay          = 24
	shareRoundingDivisor = 10000
)

// DailyRevenue sums the Paid bills of one calendar day (UTC)
type DailyRevenue struct {
	Date      string       `json:"date"`
	BillCount int          `json:"bill_count"`
	Revenue   models.Money `json:"revenue"`
	Tax       models.Money `json:"tax"`
}

// CategorySales is one row of the category breakdown
type CategorySales struct {
	Category string       `json:"category"`
	Quantity int          `json:"quantity"`
	Revenue  models.Money `json:"revenue"`
	Share    float64      `json:"share"`
}

// HourlyStats counts the orders placed in one hour of the day (UTC)
type HourlyStats struct {
	Hour    int          `json:"hour"`
	Orders  int          `json:"orders"`
	Items   int          `json:"items"`
	Revenue models.Money `json:"revenue"`
}

// RevenueByDate groups Paid bills whose payment time falls in [from, to) by
// day, oldest first. Days without a paid bill are left out.
func (s *Service) RevenueByDate(ctx context.Context, actor models.Actor, from, to time.Time) ([]DailyRevenue, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return nil, err
	}

	byDate := map[string]*DailyRevenue{}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		bills, err := r.Bills(ctx)
		if err != nil {
			return err
		}
		for _, b := range bills {
			if b.Status != models.BillPaid || b.PaidAt == nil || !inRange(*b.PaidAt, from, to) {
				continue
			}
			date := b.PaidAt.UTC().Format(dateLayout)
			row, ok := byDate[date]
			if !ok {
				row = &DailyRevenue{Date: date}
				byDate[date] = row
			}
			row.BillCount++
			row.Revenue += b.Total
			row.Tax += b.Tax
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]DailyRevenue, 0, len(byDate))
	for _, row := range byDate {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// CategorySales breaks down the items of non-cancelled orders created in
// [from, to) by menu category, highest revenue first. Items whose menu entry
// is gone are reported as uncategorized.
func (s *Service) CategorySales(ctx context.Context, actor models.Actor, from, to time.Time) ([]CategorySales, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return nil, err
	}

	byCategory := map[string]*CategorySales{}
	var total models.Money
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		orders, err := r.Orders(ctx)
		if err != nil {
			return err
		}
		categories := map[string]string{}
		for _, o := range orders {
			if o.Status == models.StatusCancelled || !inRange(o.CreatedAt, from, to) {
				continue
			}
			for _, item := range o.Items {
				category, ok := categories[item.MenuItemID]
				if !ok {
					category, err = categoryOf(ctx, r, item.MenuItemID)
					if err != nil {
						return err
					}
					categories[item.MenuItemID] = category
				}

				row, ok := byCategory[category]
				if !ok {
					row = &CategorySales{Category: category}
					byCategory[category] = row
				}
				row.Quantity += item.Quantity
				row.Revenue += item.LineTotal()
				total += item.LineTotal()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]CategorySales, 0, len(byCategory))
	for _, row := range byCategory {
		if total > 0 {
			// truncated to four decimal places
			row.Share = float64(row.Revenue.Cents()*shareRoundingDivisor/total.Cents()) / shareRoundingDivisor
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// HourlyPattern counts non-cancelled orders created in [from, to) by the hour
// of day they were placed. It always returns 24 rows, hour 0 first.
func (s *Service) HourlyPattern(ctx context.Context, actor models.Actor, from, to time.Time) ([]HourlyStats, error) {
	if err := s.authorize(actor, from, to); err != nil {
		return nil, err
	}

	out := make([]HourlyStats, hoursPerDay)
	for h := range out {
		out[h].Hour = h
	}
	err := command.View(ctx, s.viewer, func(r store.Reader) error {
		orders, err := r.Orders(ctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Status == models.StatusCancelled || !inRange(o.CreatedAt, from, to) {
				continue
			}
			row := &out[o.CreatedAt.UTC().Hour()]
			row.Orders++
			for _, item := range o.Items {
				row.Items += item.Quantity
			}
			row.Revenue += o.Subtotal()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func categoryOf(ctx context.Context, r store.Reader, menuItemID string) (string, error) {
	m, err := r.MenuItem(ctx, menuItemID)
	if errors.Is(err, store.ErrNotFound) {
		return uncategorized, nil
	}
	if err != nil {
		return "", err
	}
	if m.Category == "" {
		return uncategorized, nil
	}
	return m.Category, nil
}
