package clients

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/web"
)

type Directory interface {
	Register(ctx context.Context, nc NewClient) (*Client, error)
	Get(ctx context.Context, clientID int64, includeInactive bool) (*Client, error)
	List(ctx context.Context, filter ClientFilter, page database.Page) ([]Client, error)
	Update(ctx context.Context, clientID int64, update ClientUpdate) (*Client, error)
	SoftDelete(ctx context.Context, clientID int64) error
}

type ClientHandler struct {
	directory Directory
}

// NewClientHandler serves the client endpoints.
func NewClientHandler(directory Directory) *ClientHandler {
	return &ClientHandler{directory: directory}
}

// RegisterRoutes mounts reads on user and writes on admin.
func (h *ClientHandler) RegisterRoutes(user, admin *gin.RouterGroup) {
	user.GET("/clients", h.List)
	user.GET("/clients/:id", h.Get)

	admin.POST("/clients", h.Create)
	admin.PATCH("/clients/:id", h.Update)
	admin.DELETE("/clients/:id", h.Delete)
}

type createClientRequest struct {
	Name    string `json:"name" binding:"required,max=100"`
	Email   string `json:"email" binding:"required,email,max=255"`
	CPF     string `json:"cpf" binding:"required,cpf"`
	Phone   string `json:"phone" binding:"omitempty,phone"`
	Company string `json:"company" binding:"max=100"`
	Address string `json:"address" binding:"max=200"`
}

type updateClientRequest struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=100"`
	Email   *string `json:"email" binding:"omitempty,email,max=255"`
	CPF     *string `json:"cpf" binding:"omitempty,cpf"`
	Phone   *string `json:"phone" binding:"omitempty,phone"`
	Company *string `json:"company" binding:"omitempty,max=100"`
	Address *string `json:"address" binding:"omitempty,max=200"`
}

type listClientsQuery struct {
	web.PageQuery
	Search          string `form:"q"`
	IncludeInactive bool   `form:"include_inactive"`
}

func includeInactive(c *gin.Context, requested bool) bool {
	p, err := web.CurrentPrincipal(c)
	return requested && err == nil && p.IsSuperuser
}

// Create handles POST /api/clients.
func (h *ClientHandler) Create(c *gin.Context) {
	var req createClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}

	client, err := h.directory.Register(c.Request.Context(), NewClient{
		Name:    req.Name,
		Email:   req.Email,
		CPF:     req.CPF,
		Phone:   req.Phone,
		Company: req.Company,
		Address: req.Address,
	})
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

// Get handles GET /api/clients/:id.
func (h *ClientHandler) Get(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	client, err := h.directory.Get(c.Request.Context(), id, includeInactive(c, c.Query("include_inactive") == "true"))
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// List handles GET /api/clients.
func (h *ClientHandler) List(c *gin.Context) {
	var q listClientsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		web.BadRequest(c, err)
		return
	}

	page := q.Page()
	clients, err := h.directory.List(c.Request.Context(), ClientFilter{
		Search:          q.Search,
		IncludeInactive: includeInactive(c, q.IncludeInactive),
	}, page)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, web.NewList(clients, page))
}

// Update handles PATCH /api/clients/:id.
func (h *ClientHandler) Update(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var req updateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}

	client, err := h.directory.Update(c.Request.Context(), id, ClientUpdate(req))
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// Delete handles DELETE /api/clients/:id.
func (h *ClientHandler) Delete(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	if err := h.directory.SoftDelete(c.Request.Context(), id); err != nil {
		web.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
