package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// Service is the chat API used by the dispatcher.
type Service interface {
	CreateChat(ctx context.Context, req CreateChatRequest) (Chat, error)
	PostMessage(ctx context.Context, chatID string, msg Message) error
}

// SaleChats records the chat id on the sale when it is still unset.
type SaleChats interface {
	SetChatID(ctx context.Context, saleID int64, chatID string) error
}

// DefaultTimeout bounds one dispatch, retries included.
const DefaultTimeout = 15 * time.Second

// Dispatcher runs chat side effects in the background. Failures are logged and dropped.
type Dispatcher struct {
	chats   Service
	sales   SaleChats
	logger  *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher cria o dispatcher de efeitos colaterais de chat
func NewDispatcher(chats Service, sales SaleChats, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{chats: chats, sales: sales, logger: logger, timeout: timeout}
}

// Dispatch returns immediately. The work runs detached from ctx cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, transition domain.Transition) {
	if d == nil || d.chats == nil || transition.Sale == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.Deliver(runCtx, transition); err != nil {
			d.logger.Warn("chat side effect dropped",
				zap.Int64("sale_id", transition.Sale.ID),
				zap.String("status", string(transition.Sale.Status)),
				zap.Error(err),
			)
		}
	}()
}

// Deliver runs the side effect synchronously: ensure the chat carries the transaction
// reference, remember chat_id, and post a system message when the sale completed.
func (d *Dispatcher) Deliver(ctx context.Context, transition domain.Transition) error {
	sale := transition.Sale

	created, err := d.chats.CreateChat(ctx, CreateChatRequest{
		BuyerID:       sale.BuyerID,
		SellerID:      sale.SellerID,
		ListingID:     sale.ListingID,
		SaleID:        sale.ID,
		TransactionID: sale.TransactionID,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSideEffect, err)
	}

	chatID := created.ID
	if sale.ChatID != nil && *sale.ChatID != "" {
		chatID = *sale.ChatID
	} else if d.sales != nil {
		if err := d.sales.SetChatID(ctx, sale.ID, chatID); err != nil {
			d.logger.Warn("failed to record chat on sale",
				zap.Int64("sale_id", sale.ID),
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
		}
	}

	if sale.Status != domain.SaleStatusCompleted || transition.PreviousStatus == domain.SaleStatusCompleted {
		return nil
	}
	err = d.chats.PostMessage(ctx, chatID, Message{
		Content: fmt.Sprintf("Sale #%d is complete. Thank you for using the marketplace!", sale.ID),
		System:  true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSideEffect, err)
	}
	return nil
}

// Wait blocks until in-flight dispatches finish or ctx expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("chat dispatcher: in-flight side effects abandoned"), ctx.Err())
	}
}
