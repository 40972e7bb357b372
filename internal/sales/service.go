// Package sales implements the participant-facing sale lifecycle.
package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxReasonLength = 500
)

// Catalog resolves listings and user profiles.
type Catalog interface {
	GetListing(ctx context.Context, listingID int64) (domain.Listing, error)
	GetUser(ctx context.Context, userID int64) (domain.User, error)
}

// listingCache is implemented by catalogs that cache listings locally.
type listingCache interface {
	InvalidateListing(listingID int64)
}

// SaleCreator persists a new sale and announces sale.initiated.
type SaleCreator interface {
	CreateSale(ctx context.Context, sale *domain.Sale) error
}

// SideEffects receives committed transitions.
type SideEffects interface {
	Dispatch(ctx context.Context, transition domain.Transition)
}

// ServiceDeps bundles collaborators required to construct the service.
type ServiceDeps struct {
	Store   repository.Store
	Catalog Catalog
	Creator SaleCreator
	Effects SideEffects
	Clock   func() time.Time
	Logger  *zap.Logger
}

// ListQuery are the raw list parameters from the caller.
type ListQuery struct {
	Role     string
	Status   string
	Page     int
	PageSize int
}

// Page is one page of sales.
type Page struct {
	Items    []*domain.Sale
	Page     int
	PageSize int
	Total    int
}

// Service orquestra o ciclo de vida da venda iniciado pelos participantes
type Service struct {
	store   repository.Store
	catalog Catalog
	creator SaleCreator
	effects SideEffects
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService cria uma nova instância de Service
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("sales service: store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("sales service: catalog is required")
	}
	if deps.Creator == nil {
		return nil, errors.New("sales service: sale creator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   deps.Store,
		catalog: deps.Catalog,
		creator: deps.Creator,
		effects: deps.Effects,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// InitiateSale cria a venda em PENDING para um listing ativo. Em test mode a venda recebe
// uma transação sintética e avança direto para DELIVERY_PENDING.
func (s *Service) InitiateSale(ctx context.Context, listingID, buyerID int64, testMode bool) (*domain.Sale, error) {
	if listingID <= 0 {
		return nil, fmt.Errorf("%w: listing id must be positive", domain.ErrValidation)
	}
	if buyerID <= 0 {
		return nil, fmt.Errorf("%w: buyer id must be positive", domain.ErrValidation)
	}

	listing, err := s.catalog.GetListing(ctx, listingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: listing %d does not exist", domain.ErrValidation, listingID)
	}
	if err != nil {
		return nil, err
	}
	if !listing.IsActive() {
		return nil, fmt.Errorf("%w: listing %d is not active", domain.ErrValidation, listingID)
	}
	if listing.SellerID == buyerID {
		return nil, fmt.Errorf("%w: you cannot buy your own listing", domain.ErrValidation)
	}
	if listing.Price.LessThanOrEqual(decimal.Zero) || strings.TrimSpace(listing.Currency) == "" {
		return nil, fmt.Errorf("%w: listing %d has no valid price", domain.ErrValidation, listingID)
	}

	sale := domain.NewSale(listing, buyerID, s.clock())
	sale.Currency = strings.ToUpper(strings.TrimSpace(sale.Currency))

	if testMode {
		if err := s.createTestSale(ctx, sale); err != nil {
			return nil, err
		}
	} else if err := s.creator.CreateSale(ctx, sale); err != nil {
		return nil, err
	}

	s.logger.Info("sale initiated",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("listing_id", sale.ListingID),
		zap.Int64("buyer_id", sale.BuyerID),
		zap.Int64("seller_id", sale.SellerID),
		zap.Bool("test_mode", testMode),
	)

	s.forgetListing(sale.ListingID)

	// best-effort chat creation
	s.dispatch(ctx, domain.Transition{Sale: sale.Clone(), Source: "initiate_sale"})
	return sale, nil
}

// createTestSale links a synthetic transaction (-sale id, never a payment-owned id) and
// fast-forwards to DELIVERY_PENDING in one transaction.
func (s *Service) createTestSale(ctx context.Context, sale *domain.Sale) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sale.IsTest = true
	sale.MergeExtra(map[string]any{domain.ExtraTestMode: true})
	if err := s.store.CreateSale(ctx, tx, sale); err != nil {
		return err
	}

	transactionID := -sale.ID
	status := domain.TransactionStatusPaid
	now := s.clock()
	listingID, buyerID, sellerID, currency := sale.ListingID, sale.BuyerID, sale.SellerID, sale.Currency
	shadow := domain.Transaction{
		ID:        transactionID,
		ListingID: &listingID,
		BuyerID:   &buyerID,
		SellerID:  &sellerID,
		Amount:    decimal.NewNullDecimal(sale.Price),
		Currency:  &currency,
		Status:    &status,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	if err := s.store.InsertTransaction(ctx, tx, &shadow); err != nil {
		return fmt.Errorf("create test transaction: %w", err)
	}
	if _, err := sale.LinkTransaction(transactionID); err != nil {
		return err
	}
	sale.Advance(domain.SaleStatusDeliveryPending, domain.StatusChange{
		Reason:        "test mode fast-forward",
		Source:        domain.ExtraTestMode,
		TransactionID: &transactionID,
	}, now)

	if err := s.store.UpdateSale(ctx, tx, sale); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit test sale: %w", err)
	}
	return nil
}

// UpdateSaleStatus aplica uma transição pedida por comprador ou vendedor, com lock na linha
func (s *Service) UpdateSaleStatus(ctx context.Context, saleID, actorID int64, target domain.SaleStatus, reason string) (*domain.Sale, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason must be at most %d characters", domain.ErrValidation, maxReasonLength)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sale, err := s.store.GetSaleForUpdate(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	previous := sale.Status

	if err := sale.Transition(target, actorID, reason, s.clock()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSale(ctx, tx, sale); err != nil {
		return nil, fmt.Errorf("persist sale %d: %w", sale.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sale %d: %w", sale.ID, err)
	}

	s.logger.Info("sale status updated",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("actor_id", actorID),
		zap.String("previous_status", string(previous)),
		zap.String("status", string(sale.Status)),
	)

	if sale.Status == domain.SaleStatusCompleted {
		s.forgetListing(sale.ListingID)
		s.dispatch(ctx, domain.Transition{Sale: sale.Clone(), PreviousStatus: previous, Source: "api"})
	}
	return sale, nil
}

// GetSale returns the sale only to its participants; anyone else gets ErrAuthorization.
func (s *Service) GetSale(ctx context.Context, saleID, callerID int64) (*domain.Sale, error) {
	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if _, ok := sale.RoleOf(callerID); !ok {
		return nil, domain.ErrAuthorization
	}
	return sale, nil
}

// ListSales lista as vendas do usuário, filtradas por papel e status
func (s *Service) ListSales(ctx context.Context, callerID int64, query ListQuery) (Page, error) {
	filter := repository.SaleFilter{UserID: callerID, Page: query.Page, PageSize: query.PageSize}

	switch strings.ToLower(strings.TrimSpace(query.Role)) {
	case "":
	case string(domain.RoleBuyer):
		filter.Role = domain.RoleBuyer
	case string(domain.RoleSeller):
		filter.Role = domain.RoleSeller
	default:
		return Page{}, fmt.Errorf("%w: role must be buyer or seller", domain.ErrValidation)
	}

	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := domain.ParseSaleStatus(raw)
		if err != nil {
			return Page{}, err
		}
		filter.Status = &status
	}

	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.Page < 1 || filter.PageSize < 1 || filter.PageSize > maxPageSize {
		return Page{}, fmt.Errorf("%w: page must be >= 1 and page_size between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	items, total, err := s.store.ListSales(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: filter.Page, PageSize: filter.PageSize, Total: total}, nil
}

// forgetListing drops the cached listing; the catalog changes its status once it is bought.
func (s *Service) forgetListing(listingID int64) {
	if cache, ok := s.catalog.(listingCache); ok {
		cache.InvalidateListing(listingID)
	}
}

func (s *Service) dispatch(ctx context.Context, transition domain.Transition) {
	if s.effects == nil {
		return
	}
	s.effects.Dispatch(ctx, transition)
}
