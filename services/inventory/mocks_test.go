package inventory

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stockroom-labs/stockroom/internal/cache"
	"github.com/stockroom-labs/stockroom/internal/database"
)

type MockStockRepository struct {
	mock.Mock
}

func (m *MockStockRepository) GetProductForUpdate(ctx context.Context, tx database.Tx, productID int64) (*Product, error) {
	args := m.Called(ctx, tx, productID)
	p, _ := args.Get(0).(*Product)
	return p, args.Error(1)
}

func (m *MockStockRepository) DecreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) error {
	return m.Called(ctx, tx, productID, quantity, orderRef).Error(0)
}

func (m *MockStockRepository) IncreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64, kind MovementType) error {
	return m.Called(ctx, tx, productID, quantity, orderRef, kind).Error(0)
}

func (m *MockStockRepository) ListMovements(ctx context.Context, productID int64, page database.Page) ([]StockMovement, error) {
	args := m.Called(ctx, productID, page)
	movements, _ := args.Get(0).([]StockMovement)
	return movements, args.Error(1)
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) CreateProduct(ctx context.Context, tx database.Tx, np NewProduct) (*Product, error) {
	args := m.Called(ctx, tx, np)
	p, _ := args.Get(0).(*Product)
	return p, args.Error(1)
}

func (m *MockProductRepository) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	args := m.Called(ctx, productID)
	p, _ := args.Get(0).(*Product)
	return p, args.Error(1)
}

func (m *MockProductRepository) ListProducts(ctx context.Context, filter ProductFilter, page database.Page) ([]Product, error) {
	args := m.Called(ctx, filter, page)
	products, _ := args.Get(0).([]Product)
	return products, args.Error(1)
}

func (m *MockProductRepository) UpdateProduct(ctx context.Context, productID int64, update ProductUpdate) (*Product, error) {
	args := m.Called(ctx, productID, update)
	p, _ := args.Get(0).(*Product)
	return p, args.Error(1)
}

func (m *MockProductRepository) DeactivateProduct(ctx context.Context, productID int64) error {
	return m.Called(ctx, productID).Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Fetch(ctx context.Context, key string, dest any, load cache.LoadFunc) error {
	return m.Called(ctx, key, dest, load).Error(0)
}

func (m *MockCache) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

// stubTx records how a scope ended.
type stubTx struct {
	committed  bool
	rolledBack bool
}

func (t *stubTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// stubTransactor hands out stubTx scopes and keeps them for inspection.
type stubTransactor struct {
	*database.ScopedTransactor
	txs []*stubTx
}

func newStubTransactor() *stubTransactor {
	st := &stubTransactor{}
	st.ScopedTransactor = database.NewScopedTransactor(func(context.Context, database.Tx) (database.Tx, error) {
		tx := &stubTx{}
		st.txs = append(st.txs, tx)
		return tx, nil
	})
	return st
}
