package orders

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/services/inventory"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// transitions is the forward state machine. Cancellation appears here but is only reachable
// through Order.Cancel, which is paired with the stock release.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a client's purchase. TotalAmount always equals the sum of the line subtotals.
type Order struct {
	ID          int64           `json:"id"`
	ClientID    int64           `json:"client_id"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Lines       []OrderLine     `json:"lines"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderLine snapshots the unit price observed under the product lock.
type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is the unit price times the quantity.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewOrder builds an order from items and the prices returned by the reservations. Lines keep
// the order of items.
func NewOrder(id, clientID int64, status Status, items []OrderItem, prices map[int64]decimal.Decimal) *Order {
	order := &Order{
		ID:          id,
		ClientID:    clientID,
		Status:      status,
		TotalAmount: decimal.Zero,
		Lines:       make([]OrderLine, 0, len(items)),
	}
	for _, item := range items {
		line := OrderLine{
			OrderID:   id,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: prices[item.ProductID],
		}
		order.Lines = append(order.Lines, line)
		order.TotalAmount = order.TotalAmount.Add(line.Subtotal())
	}
	return order
}

// Cancel moves a pending order to cancelled. The caller must release the reserved stock in
// the same transaction.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return &apperr.InvalidStateTransitionError{From: string(o.Status), To: string(StatusCancelled)}
	}
	o.Status = StatusCancelled
	return nil
}

// Advance applies a non-cancelling transition.
func (o *Order) Advance(next Status) error {
	if next == StatusCancelled || !o.Status.CanTransitionTo(next) {
		return &apperr.InvalidStateTransitionError{From: string(o.Status), To: string(next)}
	}
	o.Status = next
	return nil
}

// Items returns the order's lines as ledger items.
func (o *Order) Items() []inventory.Item {
	items := make([]inventory.Item, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = inventory.Item{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return items
}

// OrderItem is one requested (product, quantity) pair.
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CreateOrderInput struct {
	ClientID int64
	Items    []OrderItem
	Status   Status
}

// normalize validates the input and merges repeated products, keeping first-seen order.
func (in CreateOrderInput) normalize() ([]OrderItem, Status, error) {
	if in.ClientID <= 0 {
		return nil, "", apperr.Invalid("client_id", "must be a positive integer")
	}
	if len(in.Items) == 0 {
		return nil, "", apperr.Invalid("items", "must not be empty")
	}

	status := in.Status
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending && status != StatusProcessing {
		return nil, "", apperr.Invalid("status", "initial status must be pending or processing")
	}

	merged := make([]OrderItem, 0, len(in.Items))
	index := make(map[int64]int, len(in.Items))
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return nil, "", apperr.Invalid("product_id", "must be a positive integer")
		}
		if item.Quantity <= 0 {
			return nil, "", apperr.Invalid("quantity", "must be positive")
		}
		// order_lines.quantity is an INTEGER column.
		if item.Quantity > math.MaxInt32 {
			return nil, "", apperr.Invalid("quantity", "too large")
		}
		if i, ok := index[item.ProductID]; ok {
			if merged[i].Quantity > math.MaxInt32-item.Quantity {
				return nil, "", apperr.Invalid("quantity", "too large")
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, status, nil
}

// OrderFilter narrows ListOrders. Zero values mean no constraint.
type OrderFilter struct {
	From     *time.Time
	To       *time.Time
	Status   Status
	ClientID int64
	Category string
}

func (f OrderFilter) validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return apperr.Invalid("status", "unknown order status")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.Invalid("to", "must not be before from")
	}
	return nil
}
