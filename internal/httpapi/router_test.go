package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/services/clients"
	"github.com/stockroom-labs/stockroom/services/inventory"
	"github.com/stockroom-labs/stockroom/services/orders"
	"github.com/stockroom-labs/stockroom/services/users"
)

type tokenAuthenticator map[string]*users.User

func (a tokenAuthenticator) Authenticate(_ context.Context, token string) (*users.User, error) {
	if u, ok := a[token]; ok {
		return u, nil
	}
	return nil, apperr.ErrUnauthorized
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var logs bytes.Buffer
	router, err := NewRouter(Options{
		ServiceName: "stockroom-test",
		Logger:      zerolog.New(&logs),
		Registry:    prometheus.NewRegistry(),
		Authenticator: tokenAuthenticator{
			"clerk": {ID: 2, Email: "clerk@example.com", IsActive: true},
			"admin": {ID: 1, Email: "admin@example.com", IsActive: true, IsSuperuser: true},
		},
		Health: checks,
	}, Handlers{
		Users:    users.NewUserHandler(nil),
		Products: inventory.NewProductHandler(nil, nil),
		Clients:  clients.NewClientHandler(nil),
		Orders:   orders.NewOrderHandler(nil),
	})
	require.NoError(t, err)
	return router, &logs
}

func serve(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_RequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, path := range []string{"/api/orders", "/api/products", "/api/clients", "/api/users/me"} {
		w := serve(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := serve(router, http.MethodGet, "/api/orders", "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)
}

func TestRouter_AdminRoutesRequireSuperuser(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := []struct{ method, path string }{
		{http.MethodPost, "/api/orders/1/cancel"},
		{http.MethodPost, "/api/products"},
		{http.MethodDelete, "/api/clients/1"},
		{http.MethodPatch, "/api/users/1/superuser"},
	}
	for _, tc := range cases {
		w := serve(router, tc.method, tc.path, "clerk")
		assert.Equal(t, http.StatusForbidden, w.Code, tc.path)
	}
}

func TestRouter_Health(t *testing.T) {
	// Arrange
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	// Act
	w := serve(router, http.MethodGet, "/health", "")

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"up"`)
	assert.Contains(t, w.Body.String(), `"redis":"down"`)
}

func TestRouter_HealthWithoutChecks(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := serve(router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestRouter_MetricsAndRequestID(t *testing.T) {
	// Arrange
	router, logs := newTestRouter(t, nil)

	// Act
	first := serve(router, http.MethodGet, "/api/orders", "")
	metrics := serve(router, http.MethodGet, "/metrics", "")

	// Assert
	assert.NotEmpty(t, first.Header().Get(requestIDHeader))
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(),
		`stockroom_http_requests_total{method="GET",route="/api/orders",status="401"} 1`)
	assert.Contains(t, logs.String(), `"request_id":"`+first.Header().Get(requestIDHeader)+`"`)
}

func TestRequestLogger_KeepsValidIncomingID(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "4b7a3c8e-1d2f-4e5a-9b6c-7d8e9f0a1b2c")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "4b7a3c8e-1d2f-4e5a-9b6c-7d8e9f0a1b2c", w.Header().Get(requestIDHeader))
}

func TestRoute_UnmatchedPaths(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	serve(router, http.MethodGet, "/nope/1", "")
	serve(router, http.MethodGet, "/nope/2", "")
	metrics := serve(router, http.MethodGet, "/metrics", "")

	assert.Contains(t, metrics.Body.String(),
		`stockroom_http_requests_total{method="GET",route="unmatched",status="404"} 2`)
}
