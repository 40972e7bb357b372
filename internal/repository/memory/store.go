// Package memory implements repository.Store in process memory. A transaction holds a
// store-wide lock until Commit or Rollback, which is at least as strict as row locking.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository"
)

var errTxClosed = errors.New("memory: transaction already closed")

// Store keeps sales and transaction shadows in maps.
type Store struct {
	mu           sync.Mutex
	sales        map[int64]*domain.Sale
	transactions map[int64]*domain.Transaction
	nextSaleID   int64
	updateErr    error
}

var _ repository.Store = (*Store)(nil)

// NewStore cria um store vazio
func NewStore() *Store {
	return &Store{
		sales:        map[int64]*domain.Sale{},
		transactions: map[int64]*domain.Transaction{},
	}
}

// FailUpdatesWith makes every UpdateSale return err until called again with nil.
func (s *Store) FailUpdatesWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// CountSales returns the number of committed sales.
func (s *Store) CountSales() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

// Transaction returns a copy of a committed shadow.
func (s *Store) Transaction(id int64) (*domain.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

type memTx struct {
	store        *Store
	sales        map[int64]*domain.Sale
	transactions map[int64]*domain.Transaction
	closed       bool
}

func (t *memTx) Commit() error {
	if t.closed {
		return errTxClosed
	}
	for id, sale := range t.sales {
		t.store.sales[id] = sale
	}
	for id, shadow := range t.transactions {
		t.store.transactions[id] = shadow
	}
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (repository.Tx, error) {
	s.mu.Lock()
	return &memTx{
		store:        s,
		sales:        map[int64]*domain.Sale{},
		transactions: map[int64]*domain.Transaction{},
	}, nil
}

func asTx(tx repository.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok || t.closed {
		return nil, errTxClosed
	}
	return t, nil
}

func (t *memTx) sale(id int64) (*domain.Sale, bool) {
	if sale, ok := t.sales[id]; ok {
		return sale, true
	}
	sale, ok := t.store.sales[id]
	return sale, ok
}

func (t *memTx) allSales() []*domain.Sale {
	out := make([]*domain.Sale, 0, len(t.store.sales)+len(t.sales))
	for id, sale := range t.store.sales {
		if staged, ok := t.sales[id]; ok {
			sale = staged
		}
		out = append(out, sale)
	}
	for id, sale := range t.sales {
		if _, ok := t.store.sales[id]; !ok {
			out = append(out, sale)
		}
	}
	return out
}

func (s *Store) CreateSale(ctx context.Context, tx repository.Tx, sale *domain.Sale) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if sale.TransactionID != nil {
		if _, ok := t.transactionFor(*sale.TransactionID); !ok {
			return fmt.Errorf("memory: transaction %d does not exist", *sale.TransactionID)
		}
	}
	s.nextSaleID++
	sale.ID = s.nextSaleID
	t.sales[sale.ID] = sale.Clone()
	return nil
}

func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sale.Clone(), nil
}

func (s *Store) ListSales(ctx context.Context, filter repository.SaleFilter) ([]*domain.Sale, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Sale
	for _, sale := range s.sales {
		switch filter.Role {
		case domain.RoleBuyer:
			if sale.BuyerID != filter.UserID {
				continue
			}
		case domain.RoleSeller:
			if sale.SellerID != filter.UserID {
				continue
			}
		default:
			if sale.BuyerID != filter.UserID && sale.SellerID != filter.UserID {
				continue
			}
		}
		if filter.Status != nil && sale.Status != *filter.Status {
			continue
		}
		matched = append(matched, sale)
	}
	sortNewestFirst(matched)

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start < 0 || start >= total {
		return []*domain.Sale{}, total, nil
	}
	end := min(start+filter.PageSize, total)
	page := make([]*domain.Sale, 0, end-start)
	for _, sale := range matched[start:end] {
		page = append(page, sale.Clone())
	}
	return page, total, nil
}

func (s *Store) GetSaleForUpdate(ctx context.Context, tx repository.Tx, saleID int64) (*domain.Sale, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	sale, ok := t.sale(saleID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sale.Clone(), nil
}

func (s *Store) FindSaleIDByTransactionID(ctx context.Context, tx repository.Tx, transactionID int64) (int64, bool, error) {
	t, err := asTx(tx)
	if err != nil {
		return 0, false, err
	}
	for _, sale := range t.allSales() {
		if sale.TransactionID != nil && *sale.TransactionID == transactionID {
			return sale.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *Store) FindLatestOpenSaleID(ctx context.Context, tx repository.Tx, match repository.SaleMatch) (int64, bool, error) {
	t, err := asTx(tx)
	if err != nil {
		return 0, false, err
	}
	var candidates []*domain.Sale
	for _, sale := range t.allSales() {
		if sale.IsTest || sale.ListingID != match.ListingID {
			continue
		}
		if match.BuyerID != nil && sale.BuyerID != *match.BuyerID {
			continue
		}
		if match.SellerID != nil && sale.SellerID != *match.SellerID {
			continue
		}
		if match.ExcludeLinked && sale.TransactionID != nil {
			continue
		}
		if !statusMatches(sale.Status, match.Statuses) {
			continue
		}
		candidates = append(candidates, sale)
	}
	if len(candidates) == 0 {
		return 0, false, nil
	}
	sortNewestFirst(candidates)
	return candidates[0].ID, true, nil
}

func (s *Store) UpdateSale(ctx context.Context, tx repository.Tx, sale *domain.Sale) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := t.sale(sale.ID); !ok {
		return domain.ErrNotFound
	}
	if sale.TransactionID != nil {
		if _, ok := t.transactionFor(*sale.TransactionID); !ok {
			return fmt.Errorf("memory: transaction %d does not exist", *sale.TransactionID)
		}
	}
	t.sales[sale.ID] = sale.Clone()
	return nil
}

func (s *Store) SetChatID(ctx context.Context, saleID int64, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return domain.ErrNotFound
	}
	if sale.ChatID != nil {
		return nil
	}
	updated := sale.Clone()
	updated.ChatID = &chatID
	s.sales[saleID] = updated
	return nil
}

func (t *memTx) transactionFor(id int64) (*domain.Transaction, bool) {
	if shadow, ok := t.transactions[id]; ok {
		return shadow, true
	}
	shadow, ok := t.store.transactions[id]
	return shadow, ok
}

func (s *Store) GetTransactionForUpdate(ctx context.Context, tx repository.Tx, transactionID int64) (*domain.Transaction, bool, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, false, err
	}
	shadow, ok := t.transactionFor(transactionID)
	if !ok {
		return nil, false, nil
	}
	cp := *shadow
	return &cp, true, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx repository.Tx, shadow *domain.Transaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, ok := t.transactionFor(shadow.ID); ok {
		return fmt.Errorf("memory: transaction %d already exists", shadow.ID)
	}
	cp := *shadow
	t.transactions[shadow.ID] = &cp
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx repository.Tx, shadow *domain.Transaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, ok := t.transactionFor(shadow.ID); !ok {
		return domain.ErrNotFound
	}
	cp := *shadow
	t.transactions[shadow.ID] = &cp
	return nil
}

func statusMatches(status domain.SaleStatus, allowed []domain.SaleStatus) bool {
	if len(allowed) == 0 {
		return status.IsOpen()
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func sortNewestFirst(sales []*domain.Sale) {
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return sales[i].ID > sales[j].ID
	})
}
