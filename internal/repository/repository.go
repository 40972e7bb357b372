// Package repository declares the persistence contracts shared by the Postgres and in-memory stores.
package repository

import (
	"context"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// SaleMatch filtra vendas abertas na correlação por tupla (listing, comprador, vendedor)
type SaleMatch struct {
	ListingID int64
	BuyerID   *int64
	SellerID  *int64
	// Statuses restricts candidates; empty means every non-terminal status.
	Statuses []domain.SaleStatus
	// ExcludeLinked skips sales already linked to a transaction.
	ExcludeLinked bool
}

// SaleFilter define os filtros da listagem paginada
type SaleFilter struct {
	UserID   int64
	Role     domain.Role
	Status   *domain.SaleStatus
	Page     int
	PageSize int
}

// SaleRepository define a interface para operações de banco de dados de vendas
type SaleRepository interface {
	// BeginTx inicia uma nova transação
	BeginTx(ctx context.Context) (Tx, error)

	// CreateSale insere a venda e preenche ID/timestamps
	CreateSale(ctx context.Context, tx Tx, sale *domain.Sale) error

	// GetSale busca uma venda pelo ID, fora de transação
	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)

	// ListSales retorna uma página de vendas e o total
	ListSales(ctx context.Context, filter SaleFilter) ([]*domain.Sale, int, error)

	// GetSaleForUpdate obtém a venda com lock pessimista (FOR UPDATE)
	GetSaleForUpdate(ctx context.Context, tx Tx, saleID int64) (*domain.Sale, error)

	// FindSaleIDByTransactionID retorna a venda já ligada à transação
	FindSaleIDByTransactionID(ctx context.Context, tx Tx, transactionID int64) (int64, bool, error)

	// FindLatestOpenSaleID retorna a venda mais recente que satisfaz o filtro
	FindLatestOpenSaleID(ctx context.Context, tx Tx, match SaleMatch) (int64, bool, error)

	// UpdateSale persiste status, vínculo de transação, extra_data e timestamps
	UpdateSale(ctx context.Context, tx Tx, sale *domain.Sale) error

	// SetChatID grava o chat apenas se ainda não houver um
	SetChatID(ctx context.Context, saleID int64, chatID string) error
}

// TransactionRepository persiste o shadow das transações do serviço de pagamentos
type TransactionRepository interface {
	// GetTransactionForUpdate busca o shadow com lock; found=false quando ainda não existe
	GetTransactionForUpdate(ctx context.Context, tx Tx, transactionID int64) (*domain.Transaction, bool, error)

	// InsertTransaction cria o shadow
	InsertTransaction(ctx context.Context, tx Tx, shadow *domain.Transaction) error

	// UpdateTransaction grava os campos enriquecidos
	UpdateTransaction(ctx context.Context, tx Tx, shadow *domain.Transaction) error
}

// Store agrupa os repositórios usados pelo pipeline de reconciliação
type Store interface {
	SaleRepository
	TransactionRepository
}
