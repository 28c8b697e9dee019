// Package web holds the gin helpers shared by every service's handlers: error mapping, path and
// query parsing, and the authenticated principal.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
)

// Status maps an error from the use cases to its HTTP status and a stable code.
func Status(err error) (int, string) {
	var (
		stock      *apperr.InsufficientStockError
		notFound   *apperr.NotFoundError
		transition *apperr.InvalidStateTransitionError
		failed     *apperr.TransactionFailedError
		validation *apperr.ValidationError
		conflict   *apperr.ConflictError
		fieldErrs  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &stock):
		return http.StatusConflict, "insufficient_stock"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &transition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.As(err, &validation), errors.As(err, &fieldErrs):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &failed):
		return http.StatusServiceUnavailable, "transaction_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

// RespondError writes the JSON error body for err and aborts the chain.
func RespondError(c *gin.Context, err error) {
	status, code := Status(err)
	body := gin.H{"error": err.Error(), "code": code}

	var (
		stock     *apperr.InsufficientStockError
		fieldErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &stock):
		body["product_id"] = stock.ProductID
		body["requested"] = stock.Requested
		body["available"] = stock.Available
	case errors.As(err, &fieldErrs):
		body["error"] = "invalid request"
		body["fields"] = describeFields(fieldErrs)
	}

	switch {
	case status >= http.StatusInternalServerError:
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Int("status", status).Msg("request failed")
	default:
		zerolog.Ctx(c.Request.Context()).Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	var failed *apperr.TransactionFailedError
	if errors.As(err, &failed) && failed.Retryable() {
		c.Header("Retry-After", "1")
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(status, body)
}

// BadRequest reports a body or query that failed binding.
func BadRequest(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		RespondError(c, fieldErrs)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}

func describeFields(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		out[strings.ToLower(fe.Field())] = reason
	}
	return out
}

// ParseID reads a positive int64 path parameter.
func ParseID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// PageQuery is bound from ?limit=&offset=.
type PageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// Page converts the query into a normalized database page.
func (q PageQuery) Page() database.Page {
	return database.Page{Limit: q.Limit, Offset: q.Offset}.Normalize()
}

// List is the envelope for paginated responses.
type List[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewList wraps items in the list envelope. A nil slice is rendered as [].
func NewList[T any](items []T, page database.Page) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Items: items, Limit: page.Limit, Offset: page.Offset}
}
