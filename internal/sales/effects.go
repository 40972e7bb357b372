package sales

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// Publisher publishes an event payload under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any, attrs map[string]string) (string, error)
}

// Notifier fans a committed transition out to the chat dispatcher and, when the sale has just
// completed, to the sale.completed topic. Nothing here blocks the caller or reports errors back.
type Notifier struct {
	chat      SideEffects
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewNotifier cria o notificador de efeitos colaterais
func NewNotifier(chat SideEffects, publisher Publisher, logger *zap.Logger, timeout time.Duration) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{chat: chat, publisher: publisher, logger: logger, timeout: timeout}
}

// Dispatch implements SideEffects.
func (n *Notifier) Dispatch(ctx context.Context, transition domain.Transition) {
	if transition.Sale == nil {
		return
	}
	if n.chat != nil {
		n.chat.Dispatch(ctx, transition)
	}
	if n.publisher == nil || !justCompleted(transition) {
		return
	}

	sale := transition.Sale
	completedAt := sale.UpdatedAt
	if sale.CompletedAt != nil {
		completedAt = *sale.CompletedAt
	}
	payload := domain.SaleCompleted{
		SaleID:        sale.ID,
		ListingID:     sale.ListingID,
		BuyerID:       sale.BuyerID,
		SellerID:      sale.SellerID,
		TransactionID: sale.TransactionID,
		CompletedAt:   completedAt,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		_, err := n.publisher.Publish(pubCtx, domain.RoutingKeySaleCompleted, payload, map[string]string{
			"sale_id": strconv.FormatInt(sale.ID, 10),
			"source":  transition.Source,
		})
		if err != nil {
			n.logger.Warn("failed to publish sale.completed",
				zap.Int64("sale_id", sale.ID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight publishes finish or ctx expires.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("notifier: in-flight publishes abandoned"), ctx.Err())
	}
}

func justCompleted(t domain.Transition) bool {
	return t.Sale.Status == domain.SaleStatusCompleted && t.PreviousStatus != domain.SaleStatusCompleted
}
