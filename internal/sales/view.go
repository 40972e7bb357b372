package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// SaleView is the sale as returned to API callers, enriched with catalog names.
type SaleView struct {
	ID            int64           `json:"id"`
	ListingID     int64           `json:"listing_id"`
	ListingTitle  string          `json:"listing_title"`
	BuyerID       int64           `json:"buyer_id"`
	BuyerName     string          `json:"buyer_name"`
	SellerID      int64           `json:"seller_id"`
	SellerName    string          `json:"seller_name"`
	ItemID        int64           `json:"item_id"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	ChatID        *string         `json:"chat_id"`
	TransactionID *int64          `json:"transaction_id"`
	Description   string          `json:"description"`
	ExtraData     map[string]any  `json:"extra_data"`
}

// View builds the DTO. Catalog lookups are best-effort; missing names stay empty.
func (s *Service) View(ctx context.Context, sale *domain.Sale) SaleView {
	view := SaleView{
		ID:            sale.ID,
		ListingID:     sale.ListingID,
		BuyerID:       sale.BuyerID,
		SellerID:      sale.SellerID,
		ItemID:        sale.ItemID,
		Price:         sale.Price,
		Currency:      sale.Currency,
		Status:        string(sale.Status),
		CreatedAt:     sale.CreatedAt,
		UpdatedAt:     sale.UpdatedAt,
		CompletedAt:   sale.CompletedAt,
		ChatID:        sale.ChatID,
		TransactionID: sale.TransactionID,
		ExtraData:     sale.ExtraData,
	}
	if view.ExtraData == nil {
		view.ExtraData = map[string]any{}
	}

	if listing, err := s.catalog.GetListing(ctx, sale.ListingID); err == nil {
		view.ListingTitle = listing.Title
		view.Description = listing.Description
	} else {
		s.logger.Debug("listing lookup failed", zap.Int64("listing_id", sale.ListingID), zap.Error(err))
	}
	if buyer, err := s.catalog.GetUser(ctx, sale.BuyerID); err == nil {
		view.BuyerName = buyer.Username
	} else {
		s.logger.Debug("buyer lookup failed", zap.Int64("user_id", sale.BuyerID), zap.Error(err))
	}
	if seller, err := s.catalog.GetUser(ctx, sale.SellerID); err == nil {
		view.SellerName = seller.Username
	} else {
		s.logger.Debug("seller lookup failed", zap.Int64("user_id", sale.SellerID), zap.Error(err))
	}
	return view
}

// Views maps View over sales.
func (s *Service) Views(ctx context.Context, sales []*domain.Sale) []SaleView {
	out := make([]SaleView, 0, len(sales))
	for _, sale := range sales {
		out = append(out, s.View(ctx, sale))
	}
	return out
}
