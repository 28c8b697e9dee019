package users

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockroom-labs/stockroom/internal/web"
)

type Accounts interface {
	Register(ctx context.Context, nu NewUser) (*User, error)
	Login(ctx context.Context, email, password string) (*Token, error)
	Get(ctx context.Context, userID int64) (*User, error)
	SetSuperuser(ctx context.Context, userID int64, superuser bool) (*User, error)
}

type UserHandler struct {
	accounts Accounts
}

// NewUserHandler serves the account and token endpoints.
func NewUserHandler(accounts Accounts) *UserHandler {
	return &UserHandler{accounts: accounts}
}

// RegisterRoutes mounts registration and login on public, the rest behind authentication.
func (h *UserHandler) RegisterRoutes(public, user, admin *gin.RouterGroup) {
	public.POST("/users", h.Register)
	public.POST("/token", h.Token)

	user.GET("/users/me", h.Me)

	admin.PATCH("/users/:id/superuser", h.SetSuperuser)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=100"`
	Phone    string `json:"phone" binding:"omitempty,phone"`
}

// tokenRequest accepts the OAuth2 password form (username, password) or the same fields as JSON.
type tokenRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type superuserRequest struct {
	IsSuperuser *bool `json:"is_superuser" binding:"required"`
}

// Register handles POST /api/users.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}
	u, err := h.accounts.Register(c.Request.Context(), NewUser{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// Token handles POST /api/token with form credentials.
func (h *UserHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		web.BadRequest(c, err)
		return
	}
	token, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	p, err := web.CurrentPrincipal(c)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	u, err := h.accounts.Get(c.Request.Context(), p.ID)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// SetSuperuser handles PATCH /api/users/:id/superuser.
func (h *UserHandler) SetSuperuser(c *gin.Context) {
	id, err := web.ParseID(c, "id")
	if err != nil {
		web.RespondError(c, err)
		return
	}
	var req superuserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, err)
		return
	}
	u, err := h.accounts.SetSuperuser(c.Request.Context(), id, *req.IsSuperuser)
	if err != nil {
		web.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
