package announce

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

// Publisher publishes an event payload under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any, attrs map[string]string) (string, error)
}

// Direct commits the sale through the repository and then publishes sale.initiated on the
// broker. Publishing is best-effort: a failure is logged and the sale stays created.
type Direct struct {
	sales     repository.SaleRepository
	publisher Publisher
	logger    *zap.Logger
}

// NewDirect cria o anunciador sem DTM
func NewDirect(sales repository.SaleRepository, publisher Publisher, logger *zap.Logger) (*Direct, error) {
	if sales == nil {
		return nil, errors.New("direct announcer: sale repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Direct{sales: sales, publisher: publisher, logger: logger}, nil
}

// CreateSale inserts sale in its own transaction and announces it after commit.
func (d *Direct) CreateSale(ctx context.Context, sale *domain.Sale) error {
	tx, err := d.sales.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.sales.CreateSale(ctx, tx, sale); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sale: %w", err)
	}

	if d.publisher == nil {
		return nil
	}
	_, err = d.publisher.Publish(ctx, domain.RoutingKeySaleInitiated, domain.NewSaleInitiated(sale), map[string]string{
		"sale_id": strconv.FormatInt(sale.ID, 10),
	})
	if err != nil {
		d.logger.Warn("failed to publish sale.initiated",
			zap.Int64("sale_id", sale.ID),
			zap.Error(err),
		)
	}
	return nil
}
