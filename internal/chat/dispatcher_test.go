package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

type fakeChatService struct {
	mu        sync.Mutex
	createErr error
	postErr   error
	created   []CreateChatRequest
	posted    map[string][]Message
}

func newFakeChatService() *fakeChatService {
	return &fakeChatService{posted: map[string][]Message{}}
}

func (f *fakeChatService) CreateChat(_ context.Context, req CreateChatRequest) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return Chat{}, f.createErr
	}
	return Chat{ID: "chat-new"}, nil
}

func (f *fakeChatService) PostMessage(_ context.Context, chatID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted[chatID] = append(f.posted[chatID], msg)
	return nil
}

type fakeSaleChats struct {
	mu  sync.Mutex
	ids map[int64]string
}

func (f *fakeSaleChats) SetChatID(_ context.Context, saleID int64, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = map[int64]string{}
	}
	f.ids[saleID] = chatID
	return nil
}

func saleWithStatus(status domain.SaleStatus) *domain.Sale {
	sale := domain.NewSale(domain.Listing{ID: 42, SellerID: 3, Price: decimal.NewFromInt(100), Currency: "USD"}, 7, time.Now())
	sale.ID = 1
	sale.Status = status
	return sale
}

func TestDispatcher_DeliverCreatesChatAndRecordsID(t *testing.T) {
	// Arrange
	chats := newFakeChatService()
	sales := &fakeSaleChats{}
	d := NewDispatcher(chats, sales, nil, time.Second)

	// Act
	err := d.Deliver(context.Background(), domain.Transition{Sale: saleWithStatus(domain.SaleStatusPending)})

	// Assert
	require.NoError(t, err)
	require.Len(t, chats.created, 1)
	assert.Equal(t, int64(1), chats.created[0].SaleID)
	assert.Equal(t, "chat-new", sales.ids[1])
	assert.Empty(t, chats.posted)
}

func TestDispatcher_DeliverPostsCompletionMessage(t *testing.T) {
	// Arrange
	chats := newFakeChatService()
	sales := &fakeSaleChats{}
	d := NewDispatcher(chats, sales, nil, time.Second)
	sale := saleWithStatus(domain.SaleStatusCompleted)
	existing := "chat-existing"
	sale.ChatID = &existing
	txID := int64(555)
	sale.TransactionID = &txID

	// Act
	err := d.Deliver(context.Background(), domain.Transition{Sale: sale, PreviousStatus: domain.SaleStatusDeliveryPending})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, &txID, chats.created[0].TransactionID)
	assert.Empty(t, sales.ids, "an existing chat id is kept")
	require.Len(t, chats.posted["chat-existing"], 1)
	msg := chats.posted["chat-existing"][0]
	assert.True(t, msg.System)
	assert.Equal(t, "Sale #1 is complete. Thank you for using the marketplace!", msg.Content)
}

func TestDispatcher_DeliverDoesNotRepeatCompletionMessage(t *testing.T) {
	// Arrange
	chats := newFakeChatService()
	d := NewDispatcher(chats, nil, nil, time.Second)

	// Act
	err := d.Deliver(context.Background(), domain.Transition{
		Sale:           saleWithStatus(domain.SaleStatusCompleted),
		PreviousStatus: domain.SaleStatusCompleted,
	})

	// Assert
	require.NoError(t, err)
	assert.Empty(t, chats.posted)
}

func TestDispatcher_DeliverWrapsFailures(t *testing.T) {
	chats := newFakeChatService()
	chats.createErr = errors.New("chat service down")
	d := NewDispatcher(chats, nil, nil, time.Second)

	err := d.Deliver(context.Background(), domain.Transition{Sale: saleWithStatus(domain.SaleStatusPending)})

	assert.ErrorIs(t, err, domain.ErrSideEffect)
}

func TestDispatcher_DispatchLogsAndDropsFailures(t *testing.T) {
	// Arrange
	core, logs := observer.New(zapcore.WarnLevel)
	chats := newFakeChatService()
	chats.postErr = errors.New("timeout")
	d := NewDispatcher(chats, &fakeSaleChats{}, zap.New(core), time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	// Act
	d.Dispatch(ctx, domain.Transition{Sale: saleWithStatus(domain.SaleStatusCompleted), PreviousStatus: domain.SaleStatusDisputed})
	cancel()
	require.NoError(t, d.Wait(context.Background()))

	// Assert
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "chat side effect dropped", logs.All()[0].Message)
	assert.Len(t, chats.created, 1, "request cancellation does not abort the side effect")
}

func TestDispatcher_WaitHonoursDeadline(t *testing.T) {
	// Arrange
	block := make(chan struct{})
	defer close(block)
	d := NewDispatcher(blockingService{block: block}, nil, nil, time.Minute)
	d.Dispatch(context.Background(), domain.Transition{Sale: saleWithStatus(domain.SaleStatusPending)})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Act
	err := d.Wait(ctx)

	// Assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingService struct {
	block chan struct{}
}

func (b blockingService) CreateChat(ctx context.Context, _ CreateChatRequest) (Chat, error) {
	select {
	case <-b.block:
	case <-ctx.Done():
	}
	return Chat{}, errors.New("unavailable")
}

func (b blockingService) PostMessage(context.Context, string, Message) error { return nil }
