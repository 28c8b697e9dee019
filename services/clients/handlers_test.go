package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/web"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Register(ctx context.Context, nc NewClient) (*Client, error) {
	args := m.Called(ctx, nc)
	c, _ := args.Get(0).(*Client)
	return c, args.Error(1)
}

func (m *MockDirectory) Get(ctx context.Context, clientID int64, includeInactive bool) (*Client, error) {
	args := m.Called(ctx, clientID, includeInactive)
	c, _ := args.Get(0).(*Client)
	return c, args.Error(1)
}

func (m *MockDirectory) List(ctx context.Context, filter ClientFilter, page database.Page) ([]Client, error) {
	args := m.Called(ctx, filter, page)
	clients, _ := args.Get(0).([]Client)
	return clients, args.Error(1)
}

func (m *MockDirectory) Update(ctx context.Context, clientID int64, update ClientUpdate) (*Client, error) {
	args := m.Called(ctx, clientID, update)
	c, _ := args.Get(0).(*Client)
	return c, args.Error(1)
}

func (m *MockDirectory) SoftDelete(ctx context.Context, clientID int64) error {
	return m.Called(ctx, clientID).Error(0)
}

func newClientRouter(t *testing.T, principal web.Principal) (*gin.Engine, *MockDirectory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, web.RegisterValidators())

	directory := new(MockDirectory)
	router := gin.New()
	api := router.Group("/api", func(c *gin.Context) { web.SetPrincipal(c, principal) })
	admin := api.Group("", web.RequireSuperuser())
	NewClientHandler(directory).RegisterRoutes(api, admin)
	return router, directory
}

func TestClientHandler_Create(t *testing.T) {
	// Arrange
	router, directory := newClientRouter(t, web.Principal{ID: 1, IsSuperuser: true})
	body := `{"name":"Ana","email":"ana@example.com","cpf":"529.982.247-25","phone":"+55 (11) 98765-4321"}`
	directory.On("Register", mock.Anything, NewClient{
		Name: "Ana", Email: "ana@example.com", CPF: validCPF, Phone: "+55 (11) 98765-4321",
	}).Return(&Client{ID: 7, Name: "Ana"}, nil)

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(body)))

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":7`)
	directory.AssertExpectations(t)
}

func TestClientHandler_Create_RejectsBadCPF(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 1, IsSuperuser: true})
	body := `{"name":"Ana","email":"ana@example.com","cpf":"52998224725"}`

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
	directory.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestClientHandler_Create_Conflict(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 1, IsSuperuser: true})
	body := `{"name":"Ana","email":"ana@example.com","cpf":"529.982.247-25"}`
	directory.On("Register", mock.Anything, mock.Anything).Return(nil, &apperr.ConflictError{Entity: "client", Field: "email"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(body)))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestClientHandler_WritesRequireSuperuser(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 2})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodPatch, "/api/clients/1", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodDelete, "/api/clients/1", nil),
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, req.Method)
	}
	directory.AssertExpectations(t)
}

func TestClientHandler_List_IgnoresIncludeInactiveForUsers(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 2})
	directory.On("List", mock.Anything, ClientFilter{Search: "ana"}, database.Page{Limit: 20}).
		Return([]Client{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/clients?q=ana&include_inactive=true", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"limit":20,"offset":0}`, w.Body.String())
	directory.AssertExpectations(t)
}

func TestClientHandler_Update(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 1, IsSuperuser: true})
	directory.On("Update", mock.Anything, int64(3), mock.MatchedBy(func(u ClientUpdate) bool {
		return u.Company != nil && *u.Company == "ACME" && u.Name == nil
	})).Return(&Client{ID: 3, Company: "ACME"}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/clients/3", strings.NewReader(`{"company":"ACME"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	directory.AssertExpectations(t)
}

func TestClientHandler_Delete(t *testing.T) {
	router, directory := newClientRouter(t, web.Principal{ID: 1, IsSuperuser: true})
	directory.On("SoftDelete", mock.Anything, int64(3)).Return(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/clients/3", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}
