// Package postgres implementa os repositórios usando PostgreSQL (pgx)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

const saleColumns = `id, listing_id, buyer_id, seller_id, item_id, price, currency, status,
	transaction_id, chat_id, extra_data, is_test, created_at, updated_at, completed_at`

// InsertSaleSQL is shared with the dtm announcer, which writes through database/sql.
const InsertSaleSQL = `
	INSERT INTO sales (id, listing_id, buyer_id, seller_id, item_id, price, currency, status,
		transaction_id, extra_data, is_test, created_at, updated_at, completed_at)
	VALUES (COALESCE($1, nextval('sales_id_seq')), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id
`

// Store implementa repository.Store usando PostgreSQL
type Store struct {
	db *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// NewStore cria uma nova instância de Store
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db: db,
	}
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// BeginTx inicia uma nova transação
func (r *Store) BeginTx(ctx context.Context) (repository.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

func pgTx(tx repository.Tx) pgx.Tx {
	return tx.(*PostgresTx).tx
}

// CreateSale insere a venda na transação e devolve o ID gerado
func (r *Store) CreateSale(ctx context.Context, tx repository.Tx, sale *domain.Sale) error {
	args, err := InsertSaleArgs(nil, sale)
	if err != nil {
		return err
	}
	if err := pgTx(tx).QueryRow(ctx, InsertSaleSQL, args...).Scan(&sale.ID); err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

// InsertSaleArgs builds the positional arguments of InsertSaleSQL. A nil id lets the sequence assign one.
func InsertSaleArgs(id *int64, sale *domain.Sale) ([]any, error) {
	extra, err := json.Marshal(sale.ExtraData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra_data: %w", err)
	}
	return []any{
		id, sale.ListingID, sale.BuyerID, sale.SellerID, sale.ItemID, sale.Price, sale.Currency,
		string(sale.Status), sale.TransactionID, string(extra), sale.IsTest,
		sale.CreatedAt, sale.UpdatedAt, sale.CompletedAt,
	}, nil
}

// GetSale busca uma venda pelo ID
func (r *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	row := r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID)
	return scanSale(row)
}

// ListSales retorna as vendas do usuário, mais recentes primeiro
func (r *Store) ListSales(ctx context.Context, filter repository.SaleFilter) ([]*domain.Sale, int, error) {
	var (
		where []string
		args  []any
	)
	args = append(args, filter.UserID)
	switch filter.Role {
	case domain.RoleBuyer:
		where = append(where, "buyer_id = $1")
	case domain.RoleSeller:
		where = append(where, "seller_id = $1")
	default:
		where = append(where, "(buyer_id = $1 OR seller_id = $1)")
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM sales WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		saleColumns, clause, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	sales := make([]*domain.Sale, 0, filter.PageSize)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sales: %w", err)
	}
	return sales, total, nil
}

// GetSaleForUpdate obtém a venda com lock pessimista (FOR UPDATE)
func (r *Store) GetSaleForUpdate(ctx context.Context, tx repository.Tx, saleID int64) (*domain.Sale, error) {
	row := pgTx(tx).QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID)
	return scanSale(row)
}

// FindSaleIDByTransactionID retorna a venda já ligada à transação
func (r *Store) FindSaleIDByTransactionID(ctx context.Context, tx repository.Tx, transactionID int64) (int64, bool, error) {
	var id int64
	err := pgTx(tx).QueryRow(ctx, `SELECT id FROM sales WHERE transaction_id = $1`, transactionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find sale by transaction: %w", err)
	}
	return id, true, nil
}

// FindLatestOpenSaleID retorna a venda mais recente que satisfaz o filtro
func (r *Store) FindLatestOpenSaleID(ctx context.Context, tx repository.Tx, match repository.SaleMatch) (int64, bool, error) {
	args := []any{match.ListingID}
	where := []string{"listing_id = $1", "NOT is_test"}
	if match.BuyerID != nil {
		args = append(args, *match.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if match.SellerID != nil {
		args = append(args, *match.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if match.ExcludeLinked {
		where = append(where, "transaction_id IS NULL")
	}
	statuses := match.Statuses
	if len(statuses) == 0 {
		for _, status := range domain.AllSaleStatuses {
			if status.IsOpen() {
				statuses = append(statuses, status)
			}
		}
	}
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	args = append(args, names)
	where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))

	query := `SELECT id FROM sales WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT 1`

	var id int64
	err := pgTx(tx).QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to match open sale: %w", err)
	}
	return id, true, nil
}

// UpdateSale persiste status, vínculo de transação, extra_data e timestamps
func (r *Store) UpdateSale(ctx context.Context, tx repository.Tx, sale *domain.Sale) error {
	extra, err := json.Marshal(sale.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to encode extra_data: %w", err)
	}

	// transaction_id só é gravado quando ainda está nulo
	tag, err := pgTx(tx).Exec(ctx, `
		UPDATE sales
		SET status = $1,
		    transaction_id = COALESCE(transaction_id, $2),
		    extra_data = $3,
		    updated_at = $4,
		    completed_at = $5
		WHERE id = $6
	`, string(sale.Status), sale.TransactionID, string(extra), sale.UpdatedAt, sale.CompletedAt, sale.ID)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetChatID grava o chat apenas se ainda não houver um
func (r *Store) SetChatID(ctx context.Context, saleID int64, chatID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sales
		SET chat_id = $1, updated_at = NOW()
		WHERE id = $2 AND chat_id IS NULL
	`, chatID, saleID)
	if err != nil {
		return fmt.Errorf("failed to set chat id: %w", err)
	}
	return nil
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		sale   domain.Sale
		status string
		extra  []byte
	)
	err := row.Scan(
		&sale.ID,
		&sale.ListingID,
		&sale.BuyerID,
		&sale.SellerID,
		&sale.ItemID,
		&sale.Price,
		&sale.Currency,
		&status,
		&sale.TransactionID,
		&sale.ChatID,
		&extra,
		&sale.IsTest,
		&sale.CreatedAt,
		&sale.UpdatedAt,
		&sale.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sale: %w", err)
	}
	sale.Status = domain.SaleStatus(status)
	sale.ExtraData = map[string]any{}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &sale.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to decode extra_data of sale %d: %w", sale.ID, err)
		}
	}
	return &sale, nil
}
