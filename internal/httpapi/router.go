// Package httpapi assembles the gin engine: middleware, route groups, health and metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/stockroom-labs/stockroom/internal/web"
	"github.com/stockroom-labs/stockroom/services/clients"
	"github.com/stockroom-labs/stockroom/services/inventory"
	"github.com/stockroom-labs/stockroom/services/orders"
	"github.com/stockroom-labs/stockroom/services/users"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	ServiceName   string
	Logger        zerolog.Logger
	Registry      *prometheus.Registry
	Authenticator users.Authenticator
	Health        map[string]HealthCheck
}

type Handlers struct {
	Users    *users.UserHandler
	Products *inventory.ProductHandler
	Clients  *clients.ClientHandler
	Orders   *orders.OrderHandler
}

// NewRouter builds the engine. Everything under /api except registration and login requires
// a bearer token; mutations of the catalog and order cancellation also require a superuser.
func NewRouter(opts Options, h Handlers) (*gin.Engine, error) {
	if err := web.RegisterValidators(); err != nil {
		return nil, errors.Wrap(err, "register validators")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(RequestLogger(opts.Logger))
	if opts.Registry != nil {
		r.Use(NewHTTPMetrics(opts.Registry).Middleware())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
	r.GET("/health", health(opts.Health))

	public := r.Group("/api")
	user := public.Group("", users.Middleware(opts.Authenticator))
	admin := user.Group("", web.RequireSuperuser())

	h.Users.RegisterRoutes(public, user, admin)
	h.Products.RegisterRoutes(user, admin)
	h.Clients.RegisterRoutes(user, admin)
	h.Orders.RegisterRoutes(user, admin)

	return r, nil
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("dependency", name).Msg("[HEALTH] check failed")
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "up"
		}

		body := gin.H{"status": "healthy", "checks": results}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		c.JSON(status, body)
	}
}
