package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/web"
)

// Service is the order use case surface the handlers call.
type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	CancelOrder(ctx context.Context, orderID int64) (*Order, error)
	UpdateStatus(ctx context.Context, orderID int64, next Status) (*Order, error)
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, page database.Page) ([]Order, error)
}

type OrderHandler struct {
	service Service
}

// NewOrderHandler serves the order endpoints.
func NewOrderHandler(service Service) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes mounts reads and writes on user and cancellation on admin.
func (h *OrderHandler) RegisterRoutes(user, admin *gin.RouterGroup) {
	user.POST("/orders", h.CreateOrder)
	user.GET("/orders", h.ListOrders)
	user.GET("/orders/:id", h.GetOrder)
	user.PATCH("/orders/:id/status", h.UpdateStatus)

	admin.POST("/orders/:id/cancel", h.CancelOrder)
}

type orderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

type createOrderRequest struct {
	ClientID int64              `json:"client_id" binding:"required,gt=0"`
	Items    []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	Status   string             `json:"status" binding:"omitempty,oneof=pending processing"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending processing shipped delivered cancelled"`
}

type listOrdersQuery struct {
	web.PageQuery
	From     string `form:"from"`
	To       string `form:"to"`
	Status   string `form:"status" binding:"omitempty,oneof=pending processing shipped delivered cancelled"`
	ClientID int64  `form:"client_id" binding:"omitempty,gt=0"`
	Category string `form:"category"`
}

// parseBound accepts RFC 3339 or a plain date. A plain "to" date covers the whole day.
func parseBound(field, value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, apperr.Invalid(field, "must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// CreateOrder handles POST /api/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}

	items := make([]OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	order, err := h.service.CreateOrder(c.Request.Context(), CreateOrderInput{
		ClientID: req.ClientID,
		Items:    items,
		Status:   Status(req.Status),
	})
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetOrder handles GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/orders.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		web.BadRequest(c, err)
		return
	}
	from, err := parseBound("from", q.From, false)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	to, err := parseBound("to", q.To, true)
	if err != nil {
		web.RespondError(c, err)
		return
	}

	page := q.Page()
	orders, err := h.service.ListOrders(c.Request.Context(), OrderFilter{
		From:     from,
		To:       to,
		Status:   Status(q.Status),
		ClientID: q.ClientID,
		Category: q.Category,
	}, page)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewList(orders, page))
}

// UpdateStatus handles PATCH /api/orders/:id/status.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}

	order, err := h.service.UpdateStatus(c.Request.Context(), id, Status(req.Status))
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder handles POST /api/orders/:id/cancel.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	order, err := h.service.CancelOrder(c.Request.Context(), id)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
