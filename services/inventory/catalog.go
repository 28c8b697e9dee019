package inventory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/cache"
	"github.com/stockroom-labs/stockroom/internal/database"
)

// CatalogService manages product master data. Stock changes go through the Ledger.
type CatalogService struct {
	repository ProductRepository
	ledger     *Ledger
	transactor database.Transactor
	cache      cache.Cache
}

// NewCatalogService wires the catalog use cases. A nil cache means every read hits Postgres.
func NewCatalogService(
	repository ProductRepository,
	ledger *Ledger,
	transactor database.Transactor,
	productCache cache.Cache,
) *CatalogService {
	if productCache == nil {
		productCache = cache.Passthrough{}
	}
	return &CatalogService{
		repository: repository,
		ledger:     ledger,
		transactor: transactor,
		cache:      productCache,
	}
}

// Register creates a product. Initial stock is booked through the Ledger in the same
// transaction.
func (s *CatalogService) Register(ctx context.Context, np NewProduct) (*Product, error) {
	if err := validateNewProduct(np); err != nil {
		return nil, err
	}

	var created *Product
	err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx database.Tx) error {
		p, err := s.repository.CreateProduct(ctx, tx, np)
		if err != nil {
			return err
		}
		if np.InitialStock > 0 {
			received, err := s.ledger.Receive(ctx, p.ID, np.InitialStock)
			if err != nil {
				return err
			}
			p.Stock = received.Stock
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, database.AsTransactionFailed(err)
	}

	zerolog.Ctx(ctx).Info().Int64("product_id", created.ID).Str("barcode", created.Barcode).Msg("[CATALOG] product registered")
	return created, nil
}

// Get returns a product. Inactive products are reported as not found unless includeInactive.
func (s *CatalogService) Get(ctx context.Context, productID int64, includeInactive bool) (*Product, error) {
	var p Product
	err := s.cache.Fetch(ctx, ProductCacheKey(productID), &p, func(ctx context.Context) (any, error) {
		return s.repository.GetProduct(ctx, productID)
	})
	if err != nil {
		return nil, err
	}
	if !database.Visible(p.IsActive, includeInactive) {
		return nil, apperr.NotFound("product", productID)
	}
	return &p, nil
}

// List returns products matching filter.
func (s *CatalogService) List(ctx context.Context, filter ProductFilter, page database.Page) ([]Product, error) {
	return s.repository.ListProducts(ctx, filter, page.Normalize())
}

// Update applies a partial update to an active product.
func (s *CatalogService) Update(ctx context.Context, productID int64, update ProductUpdate) (*Product, error) {
	if update.Empty() {
		return s.Get(ctx, productID, false)
	}
	if update.Price != nil && update.Price.IsNegative() {
		return nil, apperr.Invalid("price", "must not be negative")
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}

	p, err := s.repository.UpdateProduct(ctx, productID, update)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, productID)
	return p, nil
}

// SoftDelete hides the product from listings and new orders. Existing orders keep their lines.
func (s *CatalogService) SoftDelete(ctx context.Context, productID int64) error {
	if err := s.repository.DeactivateProduct(ctx, productID); err != nil {
		return err
	}
	s.invalidate(ctx, productID)
	zerolog.Ctx(ctx).Info().Int64("product_id", productID).Msg("[CATALOG] product deactivated")
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context, productID int64) {
	if err := s.cache.Delete(ctx, ProductCacheKey(productID)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("[CACHE] invalidate failed")
	}
}

func validateNewProduct(np NewProduct) error {
	switch {
	case strings.TrimSpace(np.Name) == "":
		return apperr.Invalid("name", "must not be empty")
	case strings.TrimSpace(np.Category) == "":
		return apperr.Invalid("category", "must not be empty")
	case np.Price.IsNegative():
		return apperr.Invalid("price", "must not be negative")
	case np.InitialStock < 0:
		return apperr.Invalid("stock", "must not be negative")
	}
	return nil
}
