package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ListingStatusActive is the only listing status that accepts purchases.
const ListingStatusActive = "ACTIVE"

// Listing is the catalog's view of an item offered for sale.
type Listing struct {
	ID          int64           `json:"id"`
	SellerID    int64           `json:"seller_id"`
	ItemID      int64           `json:"item_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
}

// IsActive reports whether the listing can be purchased.
func (l Listing) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(l.Status), ListingStatusActive)
}

// User is the identity service's public profile.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
