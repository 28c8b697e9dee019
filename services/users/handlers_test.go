package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/web"
)

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) Register(ctx context.Context, nu NewUser) (*User, error) {
	args := m.Called(ctx, nu)
	u, _ := args.Get(0).(*User)
	return u, args.Error(1)
}

func (m *MockAccounts) Login(ctx context.Context, email, password string) (*Token, error) {
	args := m.Called(ctx, email, password)
	t, _ := args.Get(0).(*Token)
	return t, args.Error(1)
}

func (m *MockAccounts) Get(ctx context.Context, userID int64) (*User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*User)
	return u, args.Error(1)
}

func (m *MockAccounts) SetSuperuser(ctx context.Context, userID int64, superuser bool) (*User, error) {
	args := m.Called(ctx, userID, superuser)
	u, _ := args.Get(0).(*User)
	return u, args.Error(1)
}

func (m *MockAccounts) Authenticate(ctx context.Context, token string) (*User, error) {
	args := m.Called(ctx, token)
	u, _ := args.Get(0).(*User)
	return u, args.Error(1)
}

func newUserRouter(t *testing.T) (*gin.Engine, *MockAccounts) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, web.RegisterValidators())

	accounts := new(MockAccounts)
	router := gin.New()
	public := router.Group("/api")
	user := public.Group("", Middleware(accounts))
	admin := user.Group("", web.RequireSuperuser())
	NewUserHandler(accounts).RegisterRoutes(public, user, admin)
	return router, accounts
}

func TestUserHandler_Register(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Register", mock.Anything, NewUser{Email: "ana@example.com", Password: "s3cret-pass"}).
		Return(&User{ID: 1, Email: "ana@example.com", HashedPassword: "$2a$hash"}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users",
		strings.NewReader(`{"email":"ana@example.com","password":"s3cret-pass"}`)))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "$2a$hash")
	accounts.AssertExpectations(t)
}

func TestUserHandler_Register_ShortPassword(t *testing.T) {
	router, accounts := newUserRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users",
		strings.NewReader(`{"email":"ana@example.com","password":"short"}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	accounts.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestUserHandler_Token_Form(t *testing.T) {
	// Arrange
	router, accounts := newUserRouter(t)
	accounts.On("Login", mock.Anything, "ana@example.com", "s3cret-pass").
		Return(&Token{AccessToken: "abc", TokenType: "bearer"}, nil)
	form := url.Values{"username": {"ana@example.com"}, "password": {"s3cret-pass"}}
	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token_type":"bearer"`)
}

func TestUserHandler_Token_BadCredentials(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Login", mock.Anything, "ana@example.com", "nope").Return(nil, apperr.ErrUnauthorized)
	req := httptest.NewRequest(http.MethodPost, "/api/token",
		strings.NewReader(`{"username":"ana@example.com","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestUserHandler_Me(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Authenticate", mock.Anything, "good-token").Return(&User{ID: 4, IsActive: true}, nil)
	accounts.On("Get", mock.Anything, int64(4)).Return(&User{ID: 4, Email: "me@example.com"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "me@example.com")
}

func TestMiddleware_RejectsMissingOrBadToken(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Authenticate", mock.Anything, "expired").Return(nil, apperr.ErrUnauthorized)

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer expired"} {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
	accounts.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestUserHandler_SetSuperuser_RequiresSuperuser(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Authenticate", mock.Anything, "user-token").Return(&User{ID: 4, IsActive: true}, nil)
	req := httptest.NewRequest(http.MethodPatch, "/api/users/7/superuser", strings.NewReader(`{"is_superuser":true}`))
	req.Header.Set("Authorization", "Bearer user-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	accounts.AssertNotCalled(t, "SetSuperuser", mock.Anything, mock.Anything, mock.Anything)
}

func TestUserHandler_SetSuperuser(t *testing.T) {
	router, accounts := newUserRouter(t)
	accounts.On("Authenticate", mock.Anything, "admin-token").Return(&User{ID: 1, IsActive: true, IsSuperuser: true}, nil)
	accounts.On("SetSuperuser", mock.Anything, int64(7), false).Return(&User{ID: 7}, nil)
	req := httptest.NewRequest(http.MethodPatch, "/api/users/7/superuser", strings.NewReader(`{"is_superuser":false}`))
	req.Header.Set("Authorization", "Bearer admin-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	accounts.AssertExpectations(t)
}
