package inventory

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/web"
)

// Catalog is the product use case surface the handlers call.
type Catalog interface {
	Register(ctx context.Context, np NewProduct) (*Product, error)
	Get(ctx context.Context, productID int64, includeInactive bool) (*Product, error)
	List(ctx context.Context, filter ProductFilter, page database.Page) ([]Product, error)
	Update(ctx context.Context, productID int64, update ProductUpdate) (*Product, error)
	SoftDelete(ctx context.Context, productID int64) error
}

// StockBook is the stock use case surface the handlers call.
type StockBook interface {
	Receive(ctx context.Context, productID int64, quantity int) (*Product, error)
	Movements(ctx context.Context, productID int64, page database.Page) ([]StockMovement, error)
}

type ProductHandler struct {
	catalog Catalog
	stock   StockBook
}

// NewProductHandler serves the product and stock endpoints.
func NewProductHandler(catalog Catalog, stock StockBook) *ProductHandler {
	return &ProductHandler{catalog: catalog, stock: stock}
}

// RegisterRoutes mounts reads on user and writes on admin.
func (h *ProductHandler) RegisterRoutes(user, admin *gin.RouterGroup) {
	user.GET("/products", h.List)
	user.GET("/products/:id", h.Get)
	user.GET("/products/:id/movements", h.Movements)

	admin.POST("/products", h.Create)
	admin.PATCH("/products/:id", h.Update)
	admin.DELETE("/products/:id", h.Delete)
	admin.POST("/products/:id/stock", h.ReceiveStock)
}

type createProductRequest struct {
	Name        string           `json:"name" binding:"required,max=100"`
	Description string           `json:"description" binding:"max=200"`
	Category    string           `json:"category" binding:"required,max=100"`
	Barcode     string           `json:"barcode" binding:"required,barcode"`
	Price       *decimal.Decimal `json:"price" binding:"required"`
	Stock       int              `json:"stock" binding:"min=0"`
	ExpiryDate  *string          `json:"expiry_date" binding:"omitempty,datetime=2006-01-02"`
	ImageURL    string           `json:"image_url" binding:"omitempty,url,max=200"`
}

type updateProductRequest struct {
	Name        *string          `json:"name" binding:"omitempty,min=1,max=100"`
	Description *string          `json:"description" binding:"omitempty,max=200"`
	Category    *string          `json:"category" binding:"omitempty,min=1,max=100"`
	Barcode     *string          `json:"barcode" binding:"omitempty,barcode"`
	Price       *decimal.Decimal `json:"price"`
	ExpiryDate  *string          `json:"expiry_date" binding:"omitempty,datetime=2006-01-02"`
	ImageURL    *string          `json:"image_url" binding:"omitempty,url,max=200"`
}

type receiveStockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

type listProductsQuery struct {
	web.PageQuery
	Name            string `form:"name"`
	Category        string `form:"category"`
	IncludeInactive bool   `form:"include_inactive"`
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, apperr.Invalid("expiry_date", "must be YYYY-MM-DD")
	}
	return &d, nil
}

// includeInactive is honoured for superusers only.
func includeInactive(c *gin.Context, requested bool) bool {
	p, err := web.CurrentPrincipal(c)
	return requested && err == nil && p.IsSuperuser
}

// Create handles POST /api/products.
func (h *ProductHandler) Create(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		web.RespondError(c, err)
		return
	}

	product, err := h.catalog.Register(c.Request.Context(), NewProduct{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Barcode:      req.Barcode,
		Price:        *req.Price,
		InitialStock: req.Stock,
		ExpiryDate:   expiry,
		ImageURL:     req.ImageURL,
	})
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// Get handles GET /api/products/:id.
func (h *ProductHandler) Get(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}

	product, err := h.catalog.Get(c.Request.Context(), id, includeInactive(c, c.Query("include_inactive") == "true"))
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// List handles GET /api/products.
func (h *ProductHandler) List(c *gin.Context) {
	var q listProductsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		web.BadRequest(c, err)
		return
	}

	page := q.Page()
	products, err := h.catalog.List(c.Request.Context(), ProductFilter{
		Name:            q.Name,
		Category:        q.Category,
		IncludeInactive: includeInactive(c, q.IncludeInactive),
	}, page)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewList(products, page))
}

// Update handles PATCH /api/products/:id.
func (h *ProductHandler) Update(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		web.RespondError(c, err)
		return
	}

	product, err := h.catalog.Update(c.Request.Context(), id, ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Barcode:     req.Barcode,
		Price:       req.Price,
		ExpiryDate:  expiry,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// Delete handles DELETE /api/products/:id.
func (h *ProductHandler) Delete(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	if err := h.catalog.SoftDelete(c.Request.Context(), id); err != nil {
		web.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReceiveStock handles POST /api/products/:id/stock.
func (h *ProductHandler) ReceiveStock(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var req receiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}

	product, err := h.stock.Receive(c.Request.Context(), id, req.Quantity)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// Movements handles GET /api/products/:id/movements.
func (h *ProductHandler) Movements(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var q web.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		web.BadRequest(c, err)
		return
	}

	page := q.Page()
	movements, err := h.stock.Movements(c.Request.Context(), id, page)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewList(movements, page))
}
