package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/events"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

// Strategy names the rule that matched an event to a sale.
type Strategy string

const (
	StrategySaleID        Strategy = "sale_id"
	StrategyTransactionID Strategy = "transaction_id"
	StrategyParticipants  Strategy = "participants"
	StrategyListing       Strategy = "listing"
)

// Correlator resolves an event to exactly one sale, locking its row.
type Correlator struct {
	sales repository.SaleRepository
}

// NewCorrelator cria um correlator sobre o repositório de vendas
func NewCorrelator(sales repository.SaleRepository) *Correlator {
	return &Correlator{sales: sales}
}

// Resolve walks the strategies in priority order. The returned sale is locked for the
// remainder of tx. When nothing matches the error wraps domain.ErrReconciliation.
func (c *Correlator) Resolve(ctx context.Context, tx repository.Tx, evt events.Event) (*domain.Sale, Strategy, error) {
	if evt.SaleID != nil {
		sale, err := c.sales.GetSaleForUpdate(ctx, tx, *evt.SaleID)
		switch {
		case err == nil:
			return sale, StrategySaleID, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, "", err
		}
	}

	if evt.TransactionID != nil {
		id, found, err := c.sales.FindSaleIDByTransactionID(ctx, tx, *evt.TransactionID)
		if err != nil {
			return nil, "", err
		}
		if found {
			return c.lock(ctx, tx, id, StrategyTransactionID)
		}
	}

	// A sale already linked to another transaction must not be captured by a relaxed match.
	excludeLinked := evt.TransactionID != nil

	if evt.HasParticipants() {
		id, found, err := c.sales.FindLatestOpenSaleID(ctx, tx, repository.SaleMatch{
			ListingID:     *evt.ListingID,
			BuyerID:       evt.BuyerID,
			SellerID:      evt.SellerID,
			Statuses:      []domain.SaleStatus{domain.SaleStatusPending, domain.SaleStatusPaymentProcessing},
			ExcludeLinked: excludeLinked,
		})
		if err != nil {
			return nil, "", err
		}
		if found {
			return c.lock(ctx, tx, id, StrategyParticipants)
		}
	}

	if evt.ListingID != nil {
		id, found, err := c.sales.FindLatestOpenSaleID(ctx, tx, repository.SaleMatch{
			ListingID:     *evt.ListingID,
			ExcludeLinked: excludeLinked,
		})
		if err != nil {
			return nil, "", err
		}
		if found {
			return c.lock(ctx, tx, id, StrategyListing)
		}
	}

	return nil, "", fmt.Errorf("%w: no sale matches %s", domain.ErrReconciliation, describe(evt))
}

func (c *Correlator) lock(ctx context.Context, tx repository.Tx, saleID int64, strategy Strategy) (*domain.Sale, Strategy, error) {
	sale, err := c.sales.GetSaleForUpdate(ctx, tx, saleID)
	if err != nil {
		return nil, "", fmt.Errorf("lock sale %d: %w", saleID, err)
	}
	return sale, strategy, nil
}

func describe(evt events.Event) string {
	return fmt.Sprintf("routing_key=%s sale_id=%s transaction_id=%s listing_id=%s buyer_id=%s seller_id=%s",
		evt.RoutingKey, fmtID(evt.SaleID), fmtID(evt.TransactionID), fmtID(evt.ListingID),
		fmtID(evt.BuyerID), fmtID(evt.SellerID))
}

func fmtID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}
