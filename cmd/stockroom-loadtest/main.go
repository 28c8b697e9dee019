// Command stockroom-loadtest races many single-unit orders for one product and checks that
// the API never oversells: exactly min(orders, stock) orders win and the stock left matches.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/stockroom-labs/stockroom/internal/apiclient"
	"github.com/stockroom-labs/stockroom/services/orders"
)

type options struct {
	baseURL     string
	email       string
	password    string
	orders      int
	stock       int
	concurrency int
	timeout     time.Duration
}

type summary struct {
	orders       int
	initialStock int
	wins         int64
	rejected     int64
	failed       int64
	finalStock   int
}

func (s summary) verify() error {
	expected := min(s.orders, s.initialStock)
	switch {
	case s.failed > 0:
		return errors.Errorf("%d orders failed for reasons other than stock", s.failed)
	case int(s.wins) != expected:
		return errors.Errorf("%d orders won, want %d", s.wins, expected)
	case s.finalStock != s.initialStock-int(s.wins):
		return errors.Errorf("final stock %d, want %d", s.finalStock, s.initialStock-int(s.wins))
	}
	return nil
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "stockroom base URL")
	flag.StringVar(&opts.email, "email", os.Getenv("BOOTSTRAP_ADMIN_EMAIL"), "superuser email")
	flag.StringVar(&opts.password, "password", os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"), "superuser password")
	flag.IntVar(&opts.orders, "orders", 50, "number of concurrent single-unit orders")
	flag.IntVar(&opts.stock, "stock", 10, "initial stock of the contested product")
	flag.IntVar(&opts.concurrency, "concurrency", 25, "maximum requests in flight")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	s, err := run(ctx, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("[LOADTEST] run failed")
	}

	logger.Info().
		Int("orders", s.orders).
		Int("initial_stock", s.initialStock).
		Int64("wins", s.wins).
		Int64("rejected", s.rejected).
		Int64("failed", s.failed).
		Int("final_stock", s.finalStock).
		Msg("[LOADTEST] finished")

	if err := s.verify(); err != nil {
		logger.Error().Err(err).Msg("[LOADTEST] consistency check failed")
		os.Exit(1)
	}
	logger.Info().Msg("[LOADTEST] no overselling detected")
}

func run(ctx context.Context, opts options) (summary, error) {
	logger := zerolog.Ctx(ctx)
	api := apiclient.New(opts.baseURL, opts.timeout)
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	if _, err := api.Login(ctx, opts.email, opts.password); err != nil {
		return summary{}, errors.Wrap(err, "login")
	}

	product, err := api.CreateProduct(ctx, apiclient.CreateProductRequest{
		Name:     "loadtest-" + uuid.NewString()[:8],
		Category: "loadtest",
		Barcode:  randomEAN13(r),
		Price:    decimal.RequireFromString("9.90"),
		Stock:    opts.stock,
	})
	if err != nil {
		return summary{}, errors.Wrap(err, "create product")
	}
	client, err := api.CreateClient(ctx, apiclient.CreateClientRequest{
		Name:  "Load Test",
		Email: fmt.Sprintf("loadtest+%s@example.com", uuid.NewString()[:8]),
		CPF:   randomCPF(r),
	})
	if err != nil {
		return summary{}, errors.Wrap(err, "create client")
	}
	logger.Info().Int64("product_id", product.ID).Int64("client_id", client.ID).Msg("[LOADTEST] fixtures ready")

	s := summary{orders: opts.orders, initialStock: opts.stock}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.orders; i++ {
		g.Go(func() error {
			_, err := api.CreateOrder(gctx, apiclient.CreateOrderRequest{
				ClientID: client.ID,
				Items:    []orders.OrderItem{{ProductID: product.ID, Quantity: 1}},
			})
			var apiErr *apiclient.APIError
			switch {
			case err == nil:
				atomic.AddInt64(&s.wins, 1)
			case errors.As(err, &apiErr) && apiErr.InsufficientStock():
				atomic.AddInt64(&s.rejected, 1)
			default:
				atomic.AddInt64(&s.failed, 1)
				logger.Warn().Err(err).Msg("[LOADTEST] order failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	final, err := api.GetProduct(ctx, product.ID)
	if err != nil {
		return s, errors.Wrap(err, "read final stock")
	}
	s.finalStock = final.Stock
	return s, nil
}
