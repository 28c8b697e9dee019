package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/events"
	"github.com/stockroom-labs/stockroom/services/inventory"
)

// StockLedger is the part of the inventory Ledger the coordinator drives.
type StockLedger interface {
	ReserveAll(ctx context.Context, tx database.Tx, items []inventory.Item, orderRef *int64) (map[int64]decimal.Decimal, error)
	ReleaseAll(ctx context.Context, tx database.Tx, items []inventory.Item, orderRef *int64) error
}

// ClientDirectory answers whether a client may place orders. The row is share-locked for the
// rest of tx so it cannot be deactivated mid-order.
type ClientDirectory interface {
	ActiveClient(ctx context.Context, tx database.Tx, clientID int64) (bool, error)
}

// Coordinator runs order creation and cancellation as single all-or-nothing transactions.
type Coordinator struct {
	repository Repository
	ledger     StockLedger
	clients    ClientDirectory
	transactor database.Transactor
	publisher  events.Publisher
	metrics    *Metrics
	tracer     trace.Tracer
}

// NewCoordinator wires the order use cases. A nil publisher or tracer falls back to a noop.
func NewCoordinator(
	repository Repository,
	ledger StockLedger,
	clients ClientDirectory,
	transactor database.Transactor,
	publisher events.Publisher,
	metrics *Metrics,
	tracer trace.Tracer,
) *Coordinator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("orders")
	}
	return &Coordinator{
		repository: repository,
		ledger:     ledger,
		clients:    clients,
		transactor: transactor,
		publisher:  publisher,
		metrics:    metrics,
		tracer:     tracer,
	}
}

// CreateOrder validates the input, then in one transaction checks the client, reserves every
// item in ascending product id order, and writes the order with its lines.
func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (order *Order, err error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "orders.create")
	defer func() {
		c.finish(span, "create", err, started)
	}()
	span.SetAttributes(attribute.Int64("client_id", in.ClientID), attribute.Int("items", len(in.Items)))

	items, status, err := in.normalize()
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().Int64("client_id", in.ClientID).Int("items", len(items)).Msg("➡️ [CREATE ORDER] start")

	err = c.transactor.WithinTx(ctx, func(ctx context.Context, tx database.Tx) error {
		active, err := c.clients.ActiveClient(ctx, tx, in.ClientID)
		if err != nil {
			return err
		}
		if !active {
			return apperr.NotFound("client", in.ClientID)
		}

		orderID, err := c.repository.NextOrderID(ctx, tx)
		if err != nil {
			return err
		}

		ledgerItems := make([]inventory.Item, len(items))
		for i, item := range items {
			ledgerItems[i] = inventory.Item{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		prices, err := c.ledger.ReserveAll(ctx, tx, ledgerItems, &orderID)
		if err != nil {
			return err
		}

		created := NewOrder(orderID, in.ClientID, status, items, prices)
		if err := c.repository.InsertOrder(ctx, tx, created); err != nil {
			return err
		}

		database.OnCommit(ctx, func(ctx context.Context) {
			events.PublishLogged(ctx, c.publisher, orderEvent(events.OrderCreated, created, ""))
		})
		order = created
		return nil
	})
	if err != nil {
		err = database.AsTransactionFailed(err)
		logger.Info().Err(err).Int64("client_id", in.ClientID).Msg("❌ [CREATE ORDER] failed")
		return nil, err
	}

	logger.Info().
		Int64("order_id", order.ID).
		Str("total_amount", order.TotalAmount.StringFixed(2)).
		Msg("✅ [CREATE ORDER] committed")
	return order, nil
}

// CancelOrder cancels a pending order and returns every reserved unit to stock.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID int64) (order *Order, err error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "orders.cancel")
	defer func() {
		c.finish(span, "cancel", err, started)
	}()
	span.SetAttributes(attribute.Int64("order_id", orderID))

	logger := zerolog.Ctx(ctx)

	err = c.transactor.WithinTx(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := c.repository.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := current.Cancel(); err != nil {
			return err
		}
		if err := c.ledger.ReleaseAll(ctx, tx, current.Items(), &current.ID); err != nil {
			return err
		}
		if err := c.repository.UpdateStatus(ctx, tx, current); err != nil {
			return err
		}

		database.OnCommit(ctx, func(ctx context.Context) {
			events.PublishLogged(ctx, c.publisher, orderEvent(events.OrderCancelled, current, string(StatusPending)))
		})
		order = current
		return nil
	})
	if err != nil {
		err = database.AsTransactionFailed(err)
		logger.Info().Err(err).Int64("order_id", orderID).Msg("❌ [CANCEL ORDER] failed")
		return nil, err
	}

	logger.Info().Int64("order_id", orderID).Msg("↩️ [CANCEL ORDER] stock released")
	return order, nil
}

// UpdateStatus applies a forward transition. It never touches stock, so cancelled is refused
// here and must go through CancelOrder.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID int64, next Status) (order *Order, err error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "orders.update_status")
	defer func() {
		c.finish(span, "update_status", err, started)
	}()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.String("status", string(next)))

	if !next.Valid() {
		return nil, apperr.Invalid("status", "unknown order status")
	}

	err = c.transactor.WithinTx(ctx, func(ctx context.Context, tx database.Tx) error {
		current, err := c.repository.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		previous := current.Status
		if err := current.Advance(next); err != nil {
			return err
		}
		if err := c.repository.UpdateStatus(ctx, tx, current); err != nil {
			return err
		}

		database.OnCommit(ctx, func(ctx context.Context) {
			events.PublishLogged(ctx, c.publisher, orderEvent(events.OrderStatusChanged, current, string(previous)))
		})
		order = current
		return nil
	})
	if err != nil {
		return nil, database.AsTransactionFailed(err)
	}

	zerolog.Ctx(ctx).Info().Int64("order_id", orderID).Str("status", string(next)).Msg("[UPDATE STATUS] committed")
	return order, nil
}

// GetOrder returns an order with its lines, or a NotFoundError.
func (c *Coordinator) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	return c.repository.GetOrder(ctx, orderID)
}

// ListOrders returns orders newest first.
func (c *Coordinator) ListOrders(ctx context.Context, filter OrderFilter, page database.Page) ([]Order, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return c.repository.ListOrders(ctx, filter, page.Normalize())
}

func (c *Coordinator) finish(span trace.Span, op string, err error, started time.Time) {
	if err != nil {
		span.RecordError(err)
		if !apperr.IsDomain(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
	c.metrics.observe(op, err, started)
}

func orderEvent(kind string, o *Order, previous string) events.Event {
	lines := make([]events.Line, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = events.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice.StringFixed(2)}
	}
	return events.Event{
		Type:        kind,
		OrderID:     o.ID,
		ClientID:    o.ClientID,
		Status:      string(o.Status),
		PrevStatus:  previous,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Lines:       lines,
		OccurredAt:  time.Now().UTC(),
	}
}
