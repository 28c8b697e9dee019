package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/services/inventory"
)

// memStore is an in-memory transactional store for coordinator tests. Row locks are real
// mutexes held by the outermost transaction until it ends; every write registers an undo so
// rollback (of a transaction or a savepoint) restores the previous state.
type memStore struct {
	mu        sync.Mutex
	products  map[int64]*inventory.Product
	orders    map[int64]*Order
	clients   map[int64]bool
	movements map[uuid.UUID]inventory.StockMovement
	rowLocks  map[string]*sync.Mutex

	nextOrderID int64
	nextLineID  int64
	begins      int32

	failInsertOrder error
}

func newMemStore() *memStore {
	return &memStore{
		products:  make(map[int64]*inventory.Product),
		orders:    make(map[int64]*Order),
		clients:   make(map[int64]bool),
		movements: make(map[uuid.UUID]inventory.StockMovement),
		rowLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *memStore) addProduct(id int64, stock int, price, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = &inventory.Product{
		ID:       id,
		Name:     fmt.Sprintf("product-%d", id),
		Category: category,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
}

func (s *memStore) addClient(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = active
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) setActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].IsActive = active
}

func (s *memStore) movementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movements)
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) transactor() *database.ScopedTransactor {
	return database.NewScopedTransactor(func(_ context.Context, parent database.Tx) (database.Tx, error) {
		if parent == nil {
			atomic.AddInt32(&s.begins, 1)
			tx := &memTx{store: s, held: make(map[string]*sync.Mutex)}
			tx.root = tx
			return tx, nil
		}
		p := parent.(*memTx)
		return &memTx{store: s, root: p.root, parent: p}, nil
	})
}

type memTx struct {
	store  *memStore
	root   *memTx
	parent *memTx
	held   map[string]*sync.Mutex
	undo   []func()
	done   bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.parent != nil {
		t.parent.undo = append(t.parent.undo, t.undo...)
		return nil
	}
	t.releaseLocks()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	if t.parent == nil {
		t.releaseLocks()
	}
	return nil
}

func (t *memTx) releaseLocks() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

func (t *memTx) lock(key string) {
	root := t.root
	if _, ok := root.held[key]; ok {
		return
	}
	t.store.mu.Lock()
	m, ok := t.store.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		t.store.rowLocks[key] = m
	}
	t.store.mu.Unlock()

	m.Lock()
	root.held[key] = m
}

func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func asMemTx(tx database.Tx) *memTx {
	return tx.(*memTx)
}

// inventory.StockRepository

func (s *memStore) GetProductForUpdate(_ context.Context, tx database.Tx, productID int64) (*inventory.Product, error) {
	asMemTx(tx).lock(fmt.Sprintf("product:%d", productID))

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, apperr.NotFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) DecreaseStock(_ context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) error {
	return s.applyStock(asMemTx(tx), productID, -quantity, inventory.NewStockMovement(productID, orderRef, quantity, inventory.MovementDecreased))
}

func (s *memStore) IncreaseStock(_ context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64, kind inventory.MovementType) error {
	return s.applyStock(asMemTx(tx), productID, quantity, inventory.NewStockMovement(productID, orderRef, quantity, kind))
}

func (s *memStore) applyStock(tx *memTx, productID int64, delta int, m inventory.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	if p.Stock+delta < 0 {
		return fmt.Errorf("check constraint products_stock_non_negative violated for product %d", productID)
	}
	p.Stock += delta
	s.movements[m.ID] = m

	tx.onRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.products[productID].Stock -= delta
		delete(s.movements, m.ID)
	})
	return nil
}

func (s *memStore) ListMovements(_ context.Context, productID int64, page database.Page) ([]inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []inventory.StockMovement
	for _, m := range s.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

// ClientDirectory

func (s *memStore) ActiveClient(_ context.Context, _ database.Tx, clientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[clientID], nil
}

// Repository

func (s *memStore) NextOrderID(context.Context, database.Tx) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	return s.nextOrderID, nil
}

func (s *memStore) InsertOrder(_ context.Context, tx database.Tx, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsertOrder != nil {
		return s.failInsertOrder
	}

	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Lines {
		s.nextLineID++
		order.Lines[i].ID = s.nextLineID
	}
	s.orders[order.ID] = copyOrder(order)

	id := order.ID
	asMemTx(tx).onRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.orders, id)
	})
	return nil
}

func (s *memStore) GetOrderForUpdate(_ context.Context, tx database.Tx, orderID int64) (*Order, error) {
	asMemTx(tx).lock(fmt.Sprintf("order:%d", orderID))

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	return copyOrder(o), nil
}

func (s *memStore) UpdateStatus(_ context.Context, tx database.Tx, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.ID]
	if !ok {
		return apperr.NotFound("order", order.ID)
	}
	previous, previousUpdated := stored.Status, stored.UpdatedAt
	stored.Status = order.Status
	stored.UpdatedAt = time.Now().UTC()
	order.UpdatedAt = stored.UpdatedAt

	asMemTx(tx).onRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		stored.Status, stored.UpdatedAt = previous, previousUpdated
	})
	return nil
}

func (s *memStore) GetOrder(_ context.Context, orderID int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	return copyOrder(o), nil
}

func (s *memStore) ListOrders(_ context.Context, filter OrderFilter, page database.Page) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Order
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.ClientID > 0 && o.ClientID != filter.ClientID {
			continue
		}
		if filter.From != nil && o.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && o.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.Category != "" && !s.hasCategory(o, filter.Category) {
			continue
		}
		out = append(out, *copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, page), nil
}

func (s *memStore) hasCategory(o *Order, category string) bool {
	for _, l := range o.Lines {
		if p, ok := s.products[l.ProductID]; ok && p.Category == category {
			return true
		}
	}
	return false
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	return &cp
}

func paginate[T any](items []T, page database.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
