// Package seed loads reference data (tables, menu and staff accounts) from a
// YAML file into a store.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/auth"
	"smartdine/internal/store"
)

// File is the layout of a seed file
type File struct {
	Tables []Table    `yaml:"tables"`
	Menu   []MenuItem `yaml:"menu"`
	Users  []User     `yaml:"users"`
}

type Table struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Capacity int    `yaml:"capacity"`
}

type MenuItem struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Category  string `yaml:"category"`
	Price     string `yaml:"price"`
	Available *bool  `yaml:"available"`
}

type User struct {
	Username string `yaml:"username"`
	FullName string `yaml:"full_name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// Result counts what Apply wrote
type Result struct {
	TablesCreated int
	TablesSkipped int
	MenuItems     int
	UsersCreated  int
	UsersUpdated  int
}

// Load reads and parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes seed YAML. Unknown keys are rejected so a typo does not
// silently drop data.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Apply writes the seed data in one atomic unit. It can be run repeatedly:
// tables whose label already exists are left alone so live occupancy is never
// reset, menu items are upserted by id, and users are matched by username.
func Apply(ctx context.Context, st store.Store, f *File, log *logger.Logger) (Result, error) {
	var res Result
	now := time.Now().UTC()

	users, err := prepareUsers(f.Users)
	if err != nil {
		return res, err
	}
	menu, err := prepareMenu(f.Menu, now)
	if err != nil {
		return res, err
	}

	keys := make([]store.Key, 0, len(f.Tables))
	for _, t := range f.Tables {
		if err := validateTable(t); err != nil {
			return res, err
		}
		keys = append(keys, store.TableKey("label:"+strings.ToLower(strings.TrimSpace(t.Label))))
	}

	_, err = st.Update(ctx, keys, func(tx store.Tx) error {
		res = Result{}

		existing, err := tx.Tables(ctx)
		if err != nil {
			return err
		}
		labels := make(map[string]bool, len(existing))
		for _, t := range existing {
			if !t.Archived {
				labels[strings.ToLower(t.Label)] = true
			}
		}

		for _, t := range f.Tables {
			label := strings.TrimSpace(t.Label)
			if labels[strings.ToLower(label)] {
				res.TablesSkipped++
				continue
			}
			id := t.ID
			if id == "" {
				id = uuid.NewString()
			}
			err := tx.PutTable(ctx, models.Table{
				ID:        id,
				Label:     label,
				Capacity:  t.Capacity,
				Status:    models.TableFree,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			labels[strings.ToLower(label)] = true
			res.TablesCreated++
		}

		for _, m := range menu {
			if err := tx.PutMenuItem(ctx, m); err != nil {
				return err
			}
			res.MenuItems++
		}

		for _, u := range users {
			current, err := tx.UserByUsername(ctx, u.Username)
			switch {
			case err == nil:
				u.ID = current.ID
				u.CreatedAt = current.CreatedAt
				res.UsersUpdated++
			case errors.Is(err, store.ErrNotFound):
				u.ID = uuid.NewString()
				u.CreatedAt = now
				res.UsersCreated++
			default:
				return err
			}
			if err := tx.PutUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Info("seed_applied", "Seed data applied", "", map[string]interface{}{
		"tables_created": res.TablesCreated,
		"tables_skipped": res.TablesSkipped,
		"menu_items":     res.MenuItems,
		"users_created":  res.UsersCreated,
		"users_updated":  res.UsersUpdated,
	})
	return res, nil
}

func validateTable(t Table) error {
	label := strings.TrimSpace(t.Label)
	if label == "" {
		return apperr.Validation("tables.label", "label is required")
	}
	if t.Capacity < models.MinTableCapacity || t.Capacity > models.MaxTableCapacity {
		return apperr.Validation("tables.capacity",
			fmt.Sprintf("table %s: capacity must be between %d and %d", label, models.MinTableCapacity, models.MaxTableCapacity))
	}
	return nil
}

func prepareMenu(items []MenuItem, now time.Time) ([]models.MenuItem, error) {
	out := make([]models.MenuItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, m := range items {
		if m.ID == "" || strings.TrimSpace(m.Name) == "" {
			return nil, apperr.Validation("menu", "menu items need an id and a name")
		}
		if seen[m.ID] {
			return nil, apperr.Validation("menu.id", fmt.Sprintf("duplicate menu item %s", m.ID))
		}
		seen[m.ID] = true

		price, err := models.ParseMoney(m.Price)
		if err != nil || price <= 0 {
			return nil, apperr.Validation("menu.price", fmt.Sprintf("menu item %s: invalid price %q", m.ID, m.Price))
		}
		available := true
		if m.Available != nil {
			available = *m.Available
		}
		out = append(out, models.MenuItem{
			ID:        m.ID,
			Name:      strings.TrimSpace(m.Name),
			Category:  m.Category,
			Price:     price,
			Available: available,
			UpdatedAt: now,
		})
	}
	return out, nil
}

func prepareUsers(users []User) ([]models.User, error) {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if strings.TrimSpace(u.Username) == "" {
			return nil, apperr.Validation("users.username", "username is required")
		}
		role, err := models.ParseRole(u.Role)
		if err != nil {
			return nil, apperr.Validation("users.role", fmt.Sprintf("user %s: %v", u.Username, err))
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Username, err)
		}
		out = append(out, models.User{
			Username:     strings.TrimSpace(u.Username),
			FullName:     u.FullName,
			PasswordHash: hash,
			Role:         role,
			Active:       true,
		})
	}
	return out, nil
}
