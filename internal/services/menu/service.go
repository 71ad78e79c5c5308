// Package menu serves the menu to terminals and lets an admin change prices
// and availability. Orders snapshot the price when an item is added, so edits
// here never touch existing orders or bills.
package menu

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

const entity = "menu_item"

// Update is a partial edit; nil fields are left unchanged
type Update struct {
	Price     *models.Money `json:"price,omitempty"`
	Available *bool         `json:"available,omitempty"`
}

type Service struct {
	store  store.Store
	logger *logger.Logger
	now    func() time.Time
}

func NewService(st store.Store, log *logger.Logger) *Service {
	return &Service{store: st, logger: log, now: time.Now}
}

// List returns the menu sorted by category then name
func (s *Service) List(ctx context.Context, availableOnly bool) ([]models.MenuItem, error) {
	var out []models.MenuItem
	err := command.View(ctx, s.store, func(r store.Reader) error {
		all, err := r.MenuItems(ctx)
		if err != nil {
			return err
		}
		out = make([]models.MenuItem, 0, len(all))
		for _, m := range all {
			if availableOnly && !m.Available {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateItem applies an admin edit to one menu item
func (s *Service) UpdateItem(ctx context.Context, actor models.Actor, id string, u Update) (models.MenuItem, error) {
	if err := access.Check(actor, access.OpManageMenu, ""); err != nil {
		return models.MenuItem{}, err
	}
	if u.Price == nil && u.Available == nil {
		return models.MenuItem{}, apperr.Validation("body", "nothing to update")
	}
	if u.Price != nil && (*u.Price <= 0 || *u.Price > models.MaxMoney) {
		return models.MenuItem{}, apperr.Validation("price", "price must be positive")
	}

	var result models.MenuItem
	_, err := command.Run(ctx, s.store, s.logger, "update_menu_item", []store.Key{store.MenuKey(id)}, func(tx store.Tx) error {
		m, err := tx.MenuItem(ctx, id)
		if err != nil {
			return command.Lookup(err, entity, id)
		}
		if u.Price != nil {
			m.Price = *u.Price
		}
		if u.Available != nil {
			m.Available = *u.Available
		}
		m.UpdatedAt = s.now().UTC()
		result = m
		return tx.PutMenuItem(ctx, m)
	})
	if err != nil {
		return models.MenuItem{}, err
	}

	s.logger.Info("menu_item_updated", fmt.Sprintf("Menu item %s updated", id), "", map[string]interface{}{
		"price":     result.Price.String(),
		"available": result.Available,
	})
	return result, nil
}
