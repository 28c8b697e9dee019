package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsTransactionFailed(t *testing.T) {
	stock := &InsufficientStockError{ProductID: 7, Requested: 5, Available: 2}

	tests := []struct {
		name       string
		err        error
		wantFailed bool
	}{
		{name: "nil stays nil", err: nil},
		{name: "insufficient stock is domain", err: stock},
		{name: "wrapped not found is domain", err: fmt.Errorf("loading: %w", NotFound("order", 3))},
		{name: "transition is domain", err: &InvalidStateTransitionError{From: "shipped", To: "cancelled"}},
		{name: "forbidden is domain", err: ErrForbidden},
		{name: "driver error is wrapped", err: errors.New("connection reset"), wantFailed: true},
		{name: "deadline is wrapped", err: context.DeadlineExceeded, wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsTransactionFailed(tt.err)

			var failed *TransactionFailedError
			assert.Equal(t, tt.wantFailed, errors.As(got, &failed))
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestAsTransactionFailed_DoesNotDoubleWrap(t *testing.T) {
	first := AsTransactionFailed(errors.New("lock timeout"))
	second := AsTransactionFailed(first)

	assert.Same(t, first, second)
	assert.False(t, first.(*TransactionFailedError).Retryable())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "insufficient stock for product 7: requested 5, available 2",
		(&InsufficientStockError{ProductID: 7, Requested: 5, Available: 2}).Error())
	assert.Equal(t, "client 9 not found", NotFound("client", 9).Error())
	assert.Equal(t, "invalid state transition from cancelled to cancelled",
		(&InvalidStateTransitionError{From: "cancelled", To: "cancelled"}).Error())
	assert.Equal(t, "invalid quantity: must be greater than zero", Invalid("quantity", "must be greater than zero").Error())
	assert.Equal(t, "product with this barcode already exists", (&ConflictError{Entity: "product", Field: "barcode"}).Error())
}
