// Package apiclient is a typed HTTP client for the stockroom API, used by the load generator
// and by operators' scripts.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stockroom-labs/stockroom/services/clients"
	"github.com/stockroom-labs/stockroom/services/inventory"
	"github.com/stockroom-labs/stockroom/services/orders"
	"github.com/stockroom-labs/stockroom/services/users"
)

// APIError is the decoded error body of a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
	ProductID  int64  `json:"product_id,omitempty"`
	Requested  int    `json:"requested,omitempty"`
	Available  int    `json:"available,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stockroom api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// InsufficientStock reports whether the request lost the race for stock.
func (e *APIError) InsufficientStock() bool {
	return e.Code == "insufficient_stock"
}

// Client calls the stockroom API. It is safe for concurrent use once logged in.
type Client struct {
	http *resty.Client
}

// New returns a client for baseURL. timeout bounds every request.
func New(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
			return nil
		})
	return &Client{http: rc}
}

// SetToken makes every following request carry the bearer token.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// Login exchanges the credentials for an access token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*users.Token, error) {
	var token users.Token
	req := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"username": email, "password": password})
	if err := do(req, http.MethodPost, "/api/token", &token); err != nil {
		return nil, err
	}
	c.SetToken(token.AccessToken)
	return &token, nil
}

// CreateProductRequest is the body of POST /api/products.
type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// CreateProduct registers a product with its initial stock.
func (c *Client) CreateProduct(ctx context.Context, in CreateProductRequest) (*inventory.Product, error) {
	var p inventory.Product
	if err := do(c.http.R().SetContext(ctx).SetBody(in), http.MethodPost, "/api/products", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProduct reads a product, including its current stock.
func (c *Client) GetProduct(ctx context.Context, productID int64) (*inventory.Product, error) {
	var p inventory.Product
	if err := do(c.http.R().SetContext(ctx), http.MethodGet, "/api/products/"+id(productID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReceiveStock adds quantity units to the product.
func (c *Client) ReceiveStock(ctx context.Context, productID int64, quantity int) (*inventory.Product, error) {
	var p inventory.Product
	req := c.http.R().SetContext(ctx).SetBody(map[string]int{"quantity": quantity})
	if err := do(req, http.MethodPost, "/api/products/"+id(productID)+"/stock", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	CPF   string `json:"cpf"`
	Phone string `json:"phone,omitempty"`
}

// CreateClient registers a client.
func (c *Client) CreateClient(ctx context.Context, in CreateClientRequest) (*clients.Client, error) {
	var cl clients.Client
	if err := do(c.http.R().SetContext(ctx).SetBody(in), http.MethodPost, "/api/clients", &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

type CreateOrderRequest struct {
	ClientID int64              `json:"client_id"`
	Items    []orders.OrderItem `json:"items"`
	Status   string             `json:"status,omitempty"`
}

// CreateOrder places an order. A lost race for stock comes back as an *APIError with
// InsufficientStock set.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderRequest) (*orders.Order, error) {
	var o orders.Order
	if err := do(c.http.R().SetContext(ctx).SetBody(in), http.MethodPost, "/api/orders", &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder reads an order with its lines.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*orders.Order, error) {
	var o orders.Order
	if err := do(c.http.R().SetContext(ctx), http.MethodGet, "/api/orders/"+id(orderID), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder cancels a pending order and returns its stock.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*orders.Order, error) {
	var o orders.Order
	if err := do(c.http.R().SetContext(ctx), http.MethodPost, "/api/orders/"+id(orderID)+"/cancel", &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func do(req *resty.Request, method, path string, out any) error {
	apiErr := &APIError{}
	resp, err := req.SetResult(out).SetError(apiErr).Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
