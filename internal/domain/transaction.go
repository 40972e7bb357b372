package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the payment-side status vocabulary.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusEscrowHeld TransactionStatus = "ESCROW_HELD"
	TransactionStatusPaid       TransactionStatus = "PAID"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
	TransactionStatusDisputed   TransactionStatus = "DISPUTED"
	TransactionStatusCanceled   TransactionStatus = "CANCELED"
)

// transactionToSale is the single translation table between the two vocabularies.
var transactionToSale = map[TransactionStatus]SaleStatus{
	TransactionStatusPending:    SaleStatusPending,
	TransactionStatusEscrowHeld: SaleStatusPaymentProcessing,
	TransactionStatusPaid:       SaleStatusPaymentProcessing,
	TransactionStatusCompleted:  SaleStatusCompleted,
	TransactionStatusRefunded:   SaleStatusRefunded,
	TransactionStatusDisputed:   SaleStatusDisputed,
	TransactionStatusCanceled:   SaleStatusCanceled,
}

var transactionStatusAliases = map[string]TransactionStatus{
	"CANCELLED": TransactionStatusCanceled,
}

// ParseTransactionStatus resolves a bare member name (no "Type." prefix).
func ParseTransactionStatus(member string) (TransactionStatus, bool) {
	member = strings.ToUpper(strings.TrimSpace(member))
	if alias, ok := transactionStatusAliases[member]; ok {
		return alias, true
	}
	status := TransactionStatus(member)
	if _, ok := transactionToSale[status]; !ok {
		return "", false
	}
	return status, true
}

// SaleStatus translates a known payment status into the sale vocabulary.
func (s TransactionStatus) SaleStatus() (SaleStatus, bool) {
	status, ok := transactionToSale[s]
	return status, ok
}

// Transaction é o espelho local (shadow) do registro de transação do serviço de pagamentos
type Transaction struct {
	ID          int64               `json:"id" db:"id"`
	ListingID   *int64              `json:"listing_id,omitempty" db:"listing_id"`
	BuyerID     *int64              `json:"buyer_id,omitempty" db:"buyer_id"`
	SellerID    *int64              `json:"seller_id,omitempty" db:"seller_id"`
	Amount      decimal.NullDecimal `json:"amount" db:"amount"`
	Currency    *string             `json:"currency,omitempty" db:"currency"`
	FeeAmount   decimal.NullDecimal `json:"fee_amount" db:"fee_amount"`
	Status      *TransactionStatus  `json:"status,omitempty" db:"status"`
	CreatedAt   *time.Time          `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt   *time.Time          `json:"updated_at,omitempty" db:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
}

// Enrich copies every non-null field of incoming that differs from the stored value.
// A populated field is never cleared. It reports whether anything changed.
func (t *Transaction) Enrich(incoming Transaction) bool {
	changed := false
	changed = fillInt(&t.ListingID, incoming.ListingID) || changed
	changed = fillInt(&t.BuyerID, incoming.BuyerID) || changed
	changed = fillInt(&t.SellerID, incoming.SellerID) || changed
	changed = fillDecimal(&t.Amount, incoming.Amount) || changed
	changed = fillDecimal(&t.FeeAmount, incoming.FeeAmount) || changed
	changed = fillString(&t.Currency, incoming.Currency) || changed
	if incoming.Status != nil && (t.Status == nil || *t.Status != *incoming.Status) {
		status := *incoming.Status
		t.Status = &status
		changed = true
	}
	changed = fillTime(&t.CreatedAt, incoming.CreatedAt) || changed
	changed = fillTime(&t.UpdatedAt, incoming.UpdatedAt) || changed
	changed = fillTime(&t.CompletedAt, incoming.CompletedAt) || changed
	return changed
}

func fillInt(dst **int64, src *int64) bool {
	if src == nil || (*dst != nil && **dst == *src) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func fillString(dst **string, src *string) bool {
	if src == nil || *src == "" || (*dst != nil && **dst == *src) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func fillTime(dst **time.Time, src *time.Time) bool {
	if src == nil || (*dst != nil && (*dst).Equal(*src)) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func fillDecimal(dst *decimal.NullDecimal, src decimal.NullDecimal) bool {
	if !src.Valid || (dst.Valid && dst.Decimal.Equal(src.Decimal)) {
		return false
	}
	*dst = src
	return true
}
