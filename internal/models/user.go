package models

import (
	"fmt"
	"time"
)

// Role is the staff role a command is issued under
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleWaiter  Role = "waiter"
	RoleChef    Role = "chef"
	RoleCashier Role = "cashier"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleWaiter, RoleChef, RoleCashier:
		return Role(s), nil
	default:
		return "", fmt.Errorf("role must be one of: admin, waiter, chef, cashier")
	}
}

// User is a staff account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor identifies who issues a command. The role is trusted as already
// verified by the caller.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
