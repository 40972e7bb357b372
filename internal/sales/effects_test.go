package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

func completedSale() *domain.Sale {
	txID := int64(555)
	completedAt := fixedNow
	sale := domain.NewSale(activeListing(), 7, fixedNow.Add(-time.Hour))
	sale.ID = 1
	sale.Status = domain.SaleStatusCompleted
	sale.TransactionID = &txID
	sale.CompletedAt = &completedAt
	return sale
}

func TestNotifier_PublishesSaleCompletedOnce(t *testing.T) {
	// Arrange
	chat := &recordingEffects{}
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, domain.RoutingKeySaleCompleted,
		domain.SaleCompleted{
			SaleID:        1,
			ListingID:     42,
			BuyerID:       7,
			SellerID:      3,
			TransactionID: completedSale().TransactionID,
			CompletedAt:   fixedNow,
		},
		map[string]string{"sale_id": "1", "source": "transaction.completed"},
	).Return("msg-1", nil).Once()
	notifier := NewNotifier(chat, publisher, nil, time.Second)

	// Act
	notifier.Dispatch(context.Background(), domain.Transition{
		Sale:           completedSale(),
		PreviousStatus: domain.SaleStatusPaymentProcessing,
		Source:         "transaction.completed",
	})
	require.NoError(t, notifier.Wait(context.Background()))

	// Assert
	publisher.AssertExpectations(t)
	assert.Len(t, chat.all(), 1)
}

func TestNotifier_SkipsPublishWhenNotJustCompleted(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.SaleStatus
		previous domain.SaleStatus
	}{
		{"still processing", domain.SaleStatusPaymentProcessing, domain.SaleStatusPending},
		{"already completed", domain.SaleStatusCompleted, domain.SaleStatusCompleted},
		{"refunded", domain.SaleStatusRefunded, domain.SaleStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			chat := &recordingEffects{}
			publisher := &mockPublisher{}
			notifier := NewNotifier(chat, publisher, nil, time.Second)
			sale := completedSale()
			sale.Status = tt.status

			// Act
			notifier.Dispatch(context.Background(), domain.Transition{Sale: sale, PreviousStatus: tt.previous})
			require.NoError(t, notifier.Wait(context.Background()))

			// Assert
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Len(t, chat.all(), 1)
		})
	}
}

func TestNotifier_PublishFailureIsSwallowed(t *testing.T) {
	// Arrange
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("broker down"))
	notifier := NewNotifier(nil, publisher, nil, time.Second)

	// Act
	notifier.Dispatch(context.Background(), domain.Transition{Sale: completedSale(), PreviousStatus: domain.SaleStatusDisputed})

	// Assert
	assert.NoError(t, notifier.Wait(context.Background()))
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNotifier_PublishOutlivesCanceledRequest(t *testing.T) {
	// Arrange
	publisher := &mockPublisher{}
	var publishCtxErr error
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			publishCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return("msg-1", nil)
	notifier := NewNotifier(nil, publisher, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	notifier.Dispatch(ctx, domain.Transition{Sale: completedSale(), PreviousStatus: domain.SaleStatusDeliveryPending})
	require.NoError(t, notifier.Wait(context.Background()))

	// Assert
	assert.NoError(t, publishCtxErr)
}
