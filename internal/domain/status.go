package domain

import (
	"fmt"
	"slices"
	"strings"
)

// SaleStatus representa os possíveis status de uma venda
type SaleStatus string

const (
	SaleStatusPending           SaleStatus = "PENDING"
	SaleStatusPaymentProcessing SaleStatus = "PAYMENT_PROCESSING"
	SaleStatusDeliveryPending   SaleStatus = "DELIVERY_PENDING"
	SaleStatusCompleted         SaleStatus = "COMPLETED"
	SaleStatusCanceled          SaleStatus = "CANCELED"
	SaleStatusRefunded          SaleStatus = "REFUNDED"
	SaleStatusDisputed          SaleStatus = "DISPUTED"
)

// AllSaleStatuses lists every status in declaration order.
var AllSaleStatuses = []SaleStatus{
	SaleStatusPending,
	SaleStatusPaymentProcessing,
	SaleStatusDeliveryPending,
	SaleStatusCompleted,
	SaleStatusCanceled,
	SaleStatusRefunded,
	SaleStatusDisputed,
}

// Role identifies who is driving a transition.
type Role string

const (
	RoleSystem Role = "system"
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// saleTransitions maps current -> next -> roles allowed to perform the move.
var saleTransitions = map[SaleStatus]map[SaleStatus][]Role{
	SaleStatusPending: {
		SaleStatusPaymentProcessing: {RoleSystem},
		SaleStatusCanceled:          {RoleBuyer, RoleSeller},
	},
	SaleStatusPaymentProcessing: {
		SaleStatusDeliveryPending: {RoleSystem},
		SaleStatusCanceled:        {RoleBuyer, RoleSeller},
	},
	SaleStatusDeliveryPending: {
		SaleStatusCompleted: {RoleSeller},
		SaleStatusDisputed:  {RoleBuyer, RoleSeller},
	},
	SaleStatusDisputed: {
		SaleStatusCompleted: {RoleSystem},
		SaleStatusRefunded:  {RoleSystem},
	},
	SaleStatusCompleted: {
		SaleStatusRefunded: {RoleSystem},
	},
}

// mainChain ranks the happy path. Events may skip ahead along it.
var mainChain = map[SaleStatus]int{
	SaleStatusPending:           0,
	SaleStatusPaymentProcessing: 1,
	SaleStatusDeliveryPending:   2,
	SaleStatusCompleted:         3,
}

// ParseSaleStatus normalises a client supplied status.
func ParseSaleStatus(raw string) (SaleStatus, error) {
	status := SaleStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !slices.Contains(AllSaleStatuses, status) {
		return "", fmt.Errorf("%w: unknown sale status %q", ErrValidation, raw)
	}
	return status, nil
}

// IsTerminal reports whether no further transitions leave the status.
func (s SaleStatus) IsTerminal() bool {
	return len(saleTransitions[s]) == 0
}

// IsOpen reports whether the sale may still be correlated by a relaxed match.
func (s SaleStatus) IsOpen() bool {
	switch s {
	case SaleStatusCompleted, SaleStatusCanceled, SaleStatusRefunded:
		return false
	}
	return true
}

// CanTransition reports whether role may move a sale from current to target in a single step.
func CanTransition(current, target SaleStatus, role Role) bool {
	next, ok := saleTransitions[current]
	if !ok {
		return false
	}
	roles, ok := next[target]
	if !ok {
		return false
	}
	return slices.Contains(roles, role)
}

// IsForwardProgress reports whether an event may move a sale from current to target.
// Along the main chain events may skip intermediate states (PENDING -> COMPLETED).
// Any other move, including every move into CANCELED, DISPUTED or REFUNDED, must be
// a direct edge of the transition table, whatever the role.
func IsForwardProgress(current, target SaleStatus) bool {
	from, fromOnChain := mainChain[current]
	to, toOnChain := mainChain[target]
	if fromOnChain && toOnChain {
		return from < to
	}
	_, ok := saleTransitions[current][target]
	return ok
}
