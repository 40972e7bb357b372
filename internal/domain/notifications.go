package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoutingKeySaleInitiated = "sale.initiated"
	RoutingKeySaleCompleted = "sale.completed"
)

// SaleInitiated is announced once a sale row exists.
type SaleInitiated struct {
	SaleID    int64           `json:"sale_id"`
	ListingID int64           `json:"listing_id"`
	BuyerID   int64           `json:"buyer_id"`
	SellerID  int64           `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
}

// NewSaleInitiated builds the announcement payload for sale.
func NewSaleInitiated(sale *Sale) SaleInitiated {
	return SaleInitiated{
		SaleID:    sale.ID,
		ListingID: sale.ListingID,
		BuyerID:   sale.BuyerID,
		SellerID:  sale.SellerID,
		Price:     sale.Price,
		Currency:  sale.Currency,
	}
}

// SaleCompleted notifies downstream consumers that a sale reached COMPLETED.
type SaleCompleted struct {
	SaleID        int64     `json:"sale_id"`
	ListingID     int64     `json:"listing_id"`
	BuyerID       int64     `json:"buyer_id"`
	SellerID      int64     `json:"seller_id"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Transition is the committed outcome of a status change, handed to side effects.
type Transition struct {
	Sale           *Sale
	PreviousStatus SaleStatus
	Source         string
}
