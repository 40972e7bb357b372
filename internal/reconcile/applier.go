package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/events"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

// Outcome describes what an apply step changed.
type Outcome struct {
	Sale           *domain.Sale
	PreviousStatus domain.SaleStatus
	StatusChanged  bool
	Linked         bool
	ShadowCreated  bool
	ShadowUpdated  bool
}

// Applier performs the idempotent part of the pipeline on an already locked sale.
type Applier struct {
	store repository.Store
	clock func() time.Time
}

// NewApplier cria o applier; clock pode ser nil
func NewApplier(store repository.Store, clock func() time.Time) *Applier {
	if clock == nil {
		clock = time.Now
	}
	return &Applier{
		store: store,
		clock: func() time.Time { return clock().UTC() },
	}
}

// Apply upserts the transaction shadow, links it once, then advances the sale only on forward
// progress. A stale or duplicate event leaves the sale untouched.
func (a *Applier) Apply(ctx context.Context, tx repository.Tx, sale *domain.Sale, mapping Mapping, evt events.Event) (Outcome, error) {
	out := Outcome{Sale: sale, PreviousStatus: sale.Status}
	now := a.clock()

	if evt.TransactionID != nil {
		created, updated, err := a.upsertShadow(ctx, tx, sale, mapping, evt)
		if err != nil {
			return out, err
		}
		out.ShadowCreated, out.ShadowUpdated = created, updated

		linked, err := sale.LinkTransaction(*evt.TransactionID)
		if err != nil {
			return out, err
		}
		out.Linked = linked
	}

	out.StatusChanged = sale.Advance(mapping.Sale, domain.StatusChange{
		Reason:        fmt.Sprintf("payment event %s (%s)", evt.EventType, mapping.Source),
		Source:        evt.RoutingKey,
		TransactionID: sale.TransactionID,
		OccurredAt:    evt.CompletedAt,
	}, now)

	if out.StatusChanged {
		stamp := now.Format(time.RFC3339Nano)
		eventType := strings.ToLower(evt.EventType)
		switch {
		case strings.Contains(eventType, "escrow_funds_held"):
			sale.MergeExtra(map[string]any{domain.ExtraEscrowFundsHeldAt: stamp})
		case strings.Contains(eventType, "escrow_funds_released"):
			sale.MergeExtra(map[string]any{domain.ExtraEscrowFundsReleasedAt: stamp})
		}
	}

	if !out.Linked && !out.StatusChanged {
		return out, nil
	}
	if out.Linked && !out.StatusChanged {
		sale.UpdatedAt = now
	}
	if err := a.store.UpdateSale(ctx, tx, sale); err != nil {
		return out, fmt.Errorf("persist sale %d: %w", sale.ID, err)
	}
	return out, nil
}

// upsertShadow creates the shadow from the event with the sale as fallback, or enriches it.
func (a *Applier) upsertShadow(ctx context.Context, tx repository.Tx, sale *domain.Sale, mapping Mapping, evt events.Event) (bool, bool, error) {
	incoming := evt.Shadow()
	incoming.Status = mapping.Transaction

	existing, found, err := a.store.GetTransactionForUpdate(ctx, tx, incoming.ID)
	if err != nil {
		return false, false, err
	}

	if !found {
		shadow := fallbackShadow(sale, incoming.ID)
		shadow.Enrich(incoming)
		if err := a.store.InsertTransaction(ctx, tx, &shadow); err != nil {
			return false, false, fmt.Errorf("create transaction shadow: %w", err)
		}
		return true, false, nil
	}

	if !existing.Enrich(incoming) {
		return false, false, nil
	}
	if err := a.store.UpdateTransaction(ctx, tx, existing); err != nil {
		return false, false, fmt.Errorf("enrich transaction shadow: %w", err)
	}
	return false, true, nil
}

func fallbackShadow(sale *domain.Sale, transactionID int64) domain.Transaction {
	listingID, buyerID, sellerID := sale.ListingID, sale.BuyerID, sale.SellerID
	currency := sale.Currency
	return domain.Transaction{
		ID:        transactionID,
		ListingID: &listingID,
		BuyerID:   &buyerID,
		SellerID:  &sellerID,
		Amount:    decimal.NewNullDecimal(sale.Price),
		Currency:  &currency,
	}
}
