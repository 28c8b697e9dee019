package orders

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stockroom-labs/stockroom/internal/apperr"
)

// Metrics counts coordinator outcomes. A nil *Metrics records nothing.
type Metrics struct {
	results    *prometheus.CounterVec
	txDuration *prometheus.HistogramVec
}

// NewMetrics registers the order operation counters and latency histogram on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_orders_total",
			Help: "Order operations by outcome.",
		}, []string{"op", "result"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockroom_order_tx_duration_seconds",
			Help:    "Duration of order transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.results, m.txDuration)
	}
	return m
}

func (m *Metrics) observe(op string, err error, started time.Time) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(op, resultLabel(err)).Inc()
	m.txDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func resultLabel(err error) string {
	var (
		stock      *apperr.InsufficientStockError
		notFound   *apperr.NotFoundError
		transition *apperr.InvalidStateTransitionError
		validation *apperr.ValidationError
		failed     *apperr.TransactionFailedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &transition):
		return "invalid_transition"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &failed):
		return "transaction_failed"
	}
	return "error"
}
