package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

const transactionColumns = `id, listing_id, buyer_id, seller_id, amount, currency, fee_amount, status,
	created_at, updated_at, completed_at`

// GetTransactionForUpdate busca o shadow com lock pessimista (FOR UPDATE)
func (r *Store) GetTransactionForUpdate(ctx context.Context, tx repository.Tx, transactionID int64) (*domain.Transaction, bool, error) {
	var (
		shadow domain.Transaction
		status *string
	)
	err := pgTx(tx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID).Scan(
		&shadow.ID,
		&shadow.ListingID,
		&shadow.BuyerID,
		&shadow.SellerID,
		&shadow.Amount,
		&shadow.Currency,
		&shadow.FeeAmount,
		&status,
		&shadow.CreatedAt,
		&shadow.UpdatedAt,
		&shadow.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get transaction %d for update: %w", transactionID, err)
	}
	if status != nil {
		s := domain.TransactionStatus(*status)
		shadow.Status = &s
	}
	return &shadow, true, nil
}

// InsertTransaction cria o shadow da transação
func (r *Store) InsertTransaction(ctx context.Context, tx repository.Tx, shadow *domain.Transaction) error {
	_, err := pgTx(tx).Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($10, NOW()), $11)
	`, transactionArgs(shadow)...)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %d: %w", shadow.ID, err)
	}
	return nil
}

// UpdateTransaction grava os campos enriquecidos do shadow
func (r *Store) UpdateTransaction(ctx context.Context, tx repository.Tx, shadow *domain.Transaction) error {
	tag, err := pgTx(tx).Exec(ctx, `
		UPDATE transactions
		SET listing_id = $2,
		    buyer_id = $3,
		    seller_id = $4,
		    amount = $5,
		    currency = $6,
		    fee_amount = $7,
		    status = $8,
		    created_at = COALESCE($9, created_at),
		    updated_at = COALESCE($10, NOW()),
		    completed_at = $11
		WHERE id = $1
	`, transactionArgs(shadow)...)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", shadow.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func transactionArgs(shadow *domain.Transaction) []any {
	var status *string
	if shadow.Status != nil {
		s := string(*shadow.Status)
		status = &s
	}
	return []any{
		shadow.ID,
		shadow.ListingID,
		shadow.BuyerID,
		shadow.SellerID,
		shadow.Amount,
		shadow.Currency,
		shadow.FeeAmount,
		status,
		shadow.CreatedAt,
		shadow.UpdatedAt,
		shadow.CompletedAt,
	}
}
