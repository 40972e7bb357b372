package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	// ExtraStatusUpdate is the extra_data key holding the append-only status history.
	ExtraStatusUpdate = "status_update"
	// ExtraEscrowFundsHeldAt and ExtraEscrowFundsReleasedAt record escrow milestones.
	ExtraEscrowFundsHeldAt     = "escrow_funds_held_at"
	ExtraEscrowFundsReleasedAt = "escrow_funds_released_at"
	// ExtraTestMode flags sales created through the diagnostic fast-forward path.
	ExtraTestMode = "test_mode"
)

// Sale representa a tentativa de compra de um listing por um comprador
type Sale struct {
	ID            int64           `json:"id" db:"id"`
	ListingID     int64           `json:"listing_id" db:"listing_id"`
	BuyerID       int64           `json:"buyer_id" db:"buyer_id"`
	SellerID      int64           `json:"seller_id" db:"seller_id"`
	ItemID        int64           `json:"item_id" db:"item_id"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Currency      string          `json:"currency" db:"currency"`
	Status        SaleStatus      `json:"status" db:"status"`
	TransactionID *int64          `json:"transaction_id" db:"transaction_id"`
	ChatID        *string         `json:"chat_id" db:"chat_id"`
	ExtraData     map[string]any  `json:"extra_data" db:"extra_data"`
	IsTest        bool            `json:"is_test" db:"is_test"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at" db:"completed_at"`
}

// StatusChange describes who or what caused a status update.
type StatusChange struct {
	Actor         string
	Reason        string
	Source        string
	TransactionID *int64
	// OccurredAt overrides the completion timestamp when the payment side supplied one.
	OccurredAt *time.Time
}

// StatusUpdate is one entry of extra_data.status_update.
type StatusUpdate struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Reason         string `json:"reason,omitempty"`
	Actor          string `json:"actor"`
	Source         string `json:"source,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// NewSale cria uma nova venda em PENDING
func NewSale(listing Listing, buyerID int64, now time.Time) *Sale {
	return &Sale{
		ListingID: listing.ID,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		ItemID:    listing.ItemID,
		Price:     listing.Price,
		Currency:  listing.Currency,
		Status:    SaleStatusPending,
		ExtraData: map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RoleOf returns the participant role of userID, or false when the user is neither party.
func (s *Sale) RoleOf(userID int64) (Role, bool) {
	switch userID {
	case s.SellerID:
		return RoleSeller, true
	case s.BuyerID:
		return RoleBuyer, true
	}
	return "", false
}

// Transition applies a participant-driven status change, enforcing the actor constraints.
func (s *Sale) Transition(target SaleStatus, actorID int64, reason string, now time.Time) error {
	role, ok := s.RoleOf(actorID)
	if !ok {
		return ErrAuthorization
	}
	if !CanTransition(s.Status, target, role) {
		return fmt.Errorf("%w: %s -> %s by %s", ErrStateTransition, s.Status, target, role)
	}
	s.applyStatus(target, StatusChange{
		Actor:  fmt.Sprintf("%s:%d", role, actorID),
		Reason: reason,
		Source: "api",
	}, now)
	return nil
}

// Advance applies a system-driven status change only when it is forward progress.
// It reports whether the status changed.
func (s *Sale) Advance(target SaleStatus, change StatusChange, now time.Time) bool {
	if !IsForwardProgress(s.Status, target) {
		return false
	}
	if change.Actor == "" {
		change.Actor = string(RoleSystem)
	}
	s.applyStatus(target, change, now)
	return true
}

// LinkTransaction sets transaction_id once. It reports whether the link was created.
func (s *Sale) LinkTransaction(transactionID int64) (bool, error) {
	if s.TransactionID != nil {
		if *s.TransactionID != transactionID {
			return false, fmt.Errorf("%w: sale %d has %d, event carries %d",
				ErrTransactionConflict, s.ID, *s.TransactionID, transactionID)
		}
		return false, nil
	}
	id := transactionID
	s.TransactionID = &id
	return true, nil
}

// MergeExtra adds keys that are not yet present; existing audit keys are never overwritten.
func (s *Sale) MergeExtra(values map[string]any) {
	if s.ExtraData == nil {
		s.ExtraData = map[string]any{}
	}
	for k, v := range values {
		if _, exists := s.ExtraData[k]; !exists {
			s.ExtraData[k] = v
		}
	}
}

// StatusHistory decodes extra_data.status_update.
func (s *Sale) StatusHistory() []StatusUpdate {
	raw, _ := s.ExtraData[ExtraStatusUpdate].([]any)
	out := make([]StatusUpdate, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, StatusUpdate{
			ID:             stringValue(entry["id"]),
			Status:         stringValue(entry["status"]),
			PreviousStatus: stringValue(entry["previous_status"]),
			Reason:         stringValue(entry["reason"]),
			Actor:          stringValue(entry["actor"]),
			Source:         stringValue(entry["source"]),
			Timestamp:      stringValue(entry["timestamp"]),
		})
	}
	return out
}

// Clone returns a deep enough copy for callers that must not share extra_data.
func (s *Sale) Clone() *Sale {
	cloned := *s
	cloned.ExtraData = maps.Clone(s.ExtraData)
	if history, ok := s.ExtraData[ExtraStatusUpdate].([]any); ok {
		cloned.ExtraData[ExtraStatusUpdate] = append([]any(nil), history...)
	}
	return &cloned
}

func (s *Sale) applyStatus(target SaleStatus, change StatusChange, now time.Time) {
	previous := s.Status
	s.Status = target
	s.UpdatedAt = now

	switch target {
	case SaleStatusCompleted:
		completedAt := now
		if change.OccurredAt != nil {
			completedAt = change.OccurredAt.UTC()
		}
		s.CompletedAt = &completedAt
	default:
		s.CompletedAt = nil
	}

	if s.ExtraData == nil {
		s.ExtraData = map[string]any{}
	}
	history, _ := s.ExtraData[ExtraStatusUpdate].([]any)
	entry := map[string]any{
		"id":              ulid.Make().String(),
		"status":          string(target),
		"previous_status": string(previous),
		"actor":           change.Actor,
		"timestamp":       now.UTC().Format(time.RFC3339Nano),
	}
	if change.Reason != "" {
		entry["reason"] = change.Reason
	}
	if change.Source != "" {
		entry["source"] = change.Source
	}
	if change.TransactionID != nil {
		entry["transaction_id"] = *change.TransactionID
	}
	s.ExtraData[ExtraStatusUpdate] = append(history, entry)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
