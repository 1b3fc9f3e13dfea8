package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/lacehouse/store-api/internal/domain"
)

// Roles recognised by the authorization policy.
const (
	RoleCustomer = "user"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// SystemActorID marks changes made by scheduled jobs or provider callbacks.
const SystemActorID = "system"

// Actor is the authenticated principal a service call acts for.
type Actor struct {
	ID    string
	Email string
	Roles []string
}

// SystemActor returns the principal used for unattended work.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Roles: []string{RoleAdmin}}
}

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != ""
}

// HasRole reports whether the actor holds role (case-insensitive).
func (a Actor) HasRole(role string) bool {
	return slices.ContainsFunc(a.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// IsStaff reports whether the actor holds the staff or admin role.
func (a Actor) IsStaff() bool { return a.HasRole(RoleStaff) || a.IsAdmin() }

// NotificationRecipients lists the inbox ids the actor may read.
func (a Actor) NotificationRecipients() []string {
	ids := []string{a.ID}
	if a.IsStaff() {
		ids = append(ids, domain.AdminRecipient)
	}
	return ids
}

// OrderAction names an operation guarded by OrderPolicy.
type OrderAction string

const (
	OrderActionView       OrderAction = "view"
	OrderActionPay        OrderAction = "pay"
	OrderActionCancel     OrderAction = "cancel"
	OrderActionTransition OrderAction = "transition"
	OrderActionList       OrderAction = "list"
)

// OrderPolicy is the single ownership and role predicate for order operations.
type OrderPolicy struct{}

// Authorize returns nil when actor may perform action on order. order is ignored for list.
func (OrderPolicy) Authorize(actor Actor, action OrderAction, order domain.Order) error {
	if !actor.Authenticated() {
		return ErrUnauthorized
	}
	owner := order.UserID != "" && order.UserID == actor.ID
	var allowed bool
	switch action {
	case OrderActionView:
		allowed = owner || actor.IsStaff()
	case OrderActionPay:
		allowed = owner || actor.IsAdmin()
	case OrderActionCancel:
		allowed = owner
	case OrderActionTransition, OrderActionList:
		allowed = actor.IsStaff()
	default:
		return fmt.Errorf("%w: unknown order action %q", ErrInvalidInput, action)
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}
