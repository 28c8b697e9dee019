package inventory

import (
	"context"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/cache"
	"github.com/stockroom-labs/stockroom/internal/database"
)

// Ledger is the single writer of product stock. Reserve and Release run inside the caller's
// transaction and hold the product row lock until it ends.
type Ledger struct {
	repository   StockRepository
	transactor   database.Transactor
	cache        cache.Cache
	tracer       trace.Tracer
	reservations metric.Int64Counter
	releases     metric.Int64Counter
	rejections   metric.Int64Counter
}

// NewLedger builds the ledger. A nil cache, tracer or meter falls back to a pass-through or
// noop implementation.
func NewLedger(
	repository StockRepository,
	transactor database.Transactor,
	productCache cache.Cache,
	tracer trace.Tracer,
	meter metric.Meter,
) *Ledger {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("inventory")
	}
	if productCache == nil {
		productCache = cache.Passthrough{}
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("inventory")
	}

	return &Ledger{
		repository:   repository,
		transactor:   transactor,
		cache:        productCache,
		tracer:       tracer,
		reservations: counter(meter, "inventory.reservations", "Units reserved from stock"),
		releases:     counter(meter, "inventory.releases", "Units returned to stock"),
		rejections:   counter(meter, "inventory.rejections", "Reservations refused for insufficient stock"),
	}
}

// counter falls back to a noop instrument when the meter refuses the registration.
func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Warn().Err(err).Str("instrument", name).Msg("[INVENTORY] counter unavailable, recording nothing")
		return noop.Int64Counter{}
	}
	return c
}

// Reserve locks the product, checks availability and decrements stock. It returns the unit
// price read under the lock.
func (l *Ledger) Reserve(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) (decimal.Decimal, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))

	if quantity <= 0 {
		return decimal.Zero, apperr.Invalid("quantity", "must be positive")
	}

	product, err := l.repository.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if !database.Visible(product.IsActive, false) {
		return decimal.Zero, apperr.NotFound("product", productID)
	}

	if product.Stock < quantity {
		l.rejections.Add(ctx, 1)
		zerolog.Ctx(ctx).Info().
			Int64("product_id", productID).
			Int("requested", quantity).
			Int("available", product.Stock).
			Msg("[RESERVE] insufficient stock")
		return decimal.Zero, &apperr.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	if err := l.repository.DecreaseStock(ctx, tx, productID, quantity, orderRef); err != nil {
		return decimal.Zero, err
	}

	l.reservations.Add(ctx, int64(quantity))
	l.invalidateOnCommit(ctx, productID)
	return product.Price, nil
}

// Release locks the product and returns quantity units to stock. Inactive products still
// take their units back.
func (l *Ledger) Release(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) error {
	ctx, span := l.tracer.Start(ctx, "inventory.release")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))

	if quantity <= 0 {
		return apperr.Invalid("quantity", "must be positive")
	}

	if _, err := l.repository.GetProductForUpdate(ctx, tx, productID); err != nil {
		return err
	}
	if err := l.repository.IncreaseStock(ctx, tx, productID, quantity, orderRef, MovementIncreased); err != nil {
		return err
	}

	l.releases.Add(ctx, int64(quantity))
	l.invalidateOnCommit(ctx, productID)
	return nil
}

// SortItems orders items by ascending product id, the global lock order.
func SortItems(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

// ReserveAll reserves every item in ascending product id order and returns the unit prices.
// The first failure is returned unchanged; the caller's rollback undoes earlier reservations.
func (l *Ledger) ReserveAll(ctx context.Context, tx database.Tx, items []Item, orderRef *int64) (map[int64]decimal.Decimal, error) {
	prices := make(map[int64]decimal.Decimal, len(items))
	for _, item := range SortItems(items) {
		price, err := l.Reserve(ctx, tx, item.ProductID, item.Quantity, orderRef)
		if err != nil {
			return nil, err
		}
		prices[item.ProductID] = price
	}
	return prices, nil
}

// ReleaseAll is the mirror of ReserveAll.
func (l *Ledger) ReleaseAll(ctx context.Context, tx database.Tx, items []Item, orderRef *int64) error {
	for _, item := range SortItems(items) {
		if err := l.Release(ctx, tx, item.ProductID, item.Quantity, orderRef); err != nil {
			return err
		}
	}
	return nil
}

// Receive books incoming stock in its own transaction scope, nested into the caller's when
// one is active.
func (l *Ledger) Receive(ctx context.Context, productID int64, quantity int) (*Product, error) {
	if quantity <= 0 {
		return nil, apperr.Invalid("quantity", "must be positive")
	}

	var received *Product
	err := l.transactor.WithinTx(ctx, func(ctx context.Context, tx database.Tx) error {
		product, err := l.repository.GetProductForUpdate(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !database.Visible(product.IsActive, false) {
			return apperr.NotFound("product", productID)
		}
		if err := l.repository.IncreaseStock(ctx, tx, productID, quantity, nil, MovementReceived); err != nil {
			return err
		}
		product.Stock += quantity
		received = product
		l.invalidateOnCommit(ctx, productID)
		return nil
	})
	if err != nil {
		return nil, database.AsTransactionFailed(err)
	}

	zerolog.Ctx(ctx).Info().Int64("product_id", productID).Int("quantity", quantity).Msg("[RECEIVE] stock booked")
	return received, nil
}

// Movements lists the audit rows of one product, newest first.
func (l *Ledger) Movements(ctx context.Context, productID int64, page database.Page) ([]StockMovement, error) {
	return l.repository.ListMovements(ctx, productID, page.Normalize())
}

func (l *Ledger) invalidateOnCommit(ctx context.Context, productID int64) {
	database.OnCommit(ctx, func(ctx context.Context) {
		if err := l.cache.Delete(ctx, ProductCacheKey(productID)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("[CACHE] invalidate failed")
		}
	})
}

// ProductCacheKey is the cache key of one product.
func ProductCacheKey(productID int64) string {
	return "product:" + strconv.FormatInt(productID, 10)
}
