// Package access holds the permission table for every command. Authorize is a
// pure function of role, operation and the current state of the target.
package access

import (
	"fmt"
	"sort"
	"strings"

	"smartdine/internal/apperr"
	"smartdine/internal/models"
)

// Operation is a command a role may be allowed to issue
type Operation string

const (
	OpPlaceOrder       Operation = "place_order"
	OpAddItems         Operation = "add_items"
	OpStartCooking     Operation = "start_cooking"
	OpMarkReady        Operation = "mark_ready"
	OpServeOrder       Operation = "serve_order"
	OpCancelOrder      Operation = "cancel_order"
	OpCreateBill       Operation = "create_bill"
	OpPayBill          Operation = "pay_bill"
	OpVoidBill         Operation = "void_bill"
	OpCreateTable      Operation = "create_table"
	OpDeleteTable      Operation = "delete_table"
	OpReserveTable     Operation = "reserve_table"
	OpClearReservation Operation = "clear_reservation"
	OpReleaseTable     Operation = "release_table"
	OpViewChanges      Operation = "view_changes"
	OpViewReports      Operation = "view_reports"
	OpManageMenu       Operation = "manage_menu"
	OpManageUsers      Operation = "manage_users"
)

// anyState allows the role regardless of the target's state
var anyState []string

// permissions maps operation -> role -> states of the target in which the
// role may act. A nil state list means any state.
var permissions = map[Operation]map[models.Role][]string{
	OpPlaceOrder:   {models.RoleWaiter: anyState},
	OpAddItems:     {models.RoleWaiter: anyState},
	OpStartCooking: {models.RoleChef: anyState},
	OpMarkReady:    {models.RoleChef: anyState},
	OpServeOrder:   {models.RoleWaiter: anyState},
	OpCancelOrder:  {models.RoleWaiter: anyState, models.RoleAdmin: anyState},

	OpCreateBill: {models.RoleCashier: anyState, models.RoleAdmin: anyState},
	OpPayBill:    {models.RoleCashier: anyState, models.RoleAdmin: anyState},
	OpVoidBill:   {models.RoleAdmin: anyState},

	OpCreateTable:      {models.RoleAdmin: anyState},
	OpDeleteTable:      {models.RoleAdmin: anyState},
	OpReserveTable:     {models.RoleAdmin: anyState},
	OpClearReservation: {models.RoleAdmin: anyState},
	OpReleaseTable: {
		models.RoleAdmin:  anyState,
		models.RoleWaiter: {string(models.TableCleaning)},
	},

	OpViewChanges: {
		models.RoleAdmin:   anyState,
		models.RoleWaiter:  anyState,
		models.RoleChef:    anyState,
		models.RoleCashier: anyState,
	},
	OpViewReports: {models.RoleAdmin: anyState, models.RoleCashier: anyState},
	OpManageMenu:  {models.RoleAdmin: anyState},
	OpManageUsers: {models.RoleAdmin: anyState},
}

// Decision is the gate's verdict. Reason is set when the operation is denied.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize decides whether role may perform op on a target currently in
// targetState. Pass an empty targetState for operations without a target.
func Authorize(role models.Role, op Operation, targetState string) Decision {
	roles, ok := permissions[op]
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown operation %q", op)}
	}

	states, ok := roles[role]
	if !ok {
		return Decision{Reason: fmt.Sprintf("allowed roles are %s", joinRoles(roles))}
	}

	if states == nil {
		return Decision{Allowed: true}
	}
	for _, s := range states {
		if s == targetState {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: fmt.Sprintf("only allowed while target is %s", strings.Join(states, " or "))}
}

// Check is Authorize for command handlers: it returns an AuthorizationError
// when the operation is denied.
func Check(actor models.Actor, op Operation, targetState string) error {
	d := Authorize(actor.Role, op, targetState)
	if d.Allowed {
		return nil
	}
	return apperr.Authorization(string(actor.Role), string(op), d.Reason)
}

// Roles lists the roles that may perform op in at least some state
func Roles(op Operation) []models.Role {
	out := make([]models.Role, 0, len(permissions[op]))
	for r := range permissions[op] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinRoles(roles map[models.Role][]string) string {
	names := make([]string, 0, len(roles))
	for r := range roles {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
