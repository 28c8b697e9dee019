package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Stock is only ever written by the Ledger.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	ImageURL    string          `json:"image_url"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewProduct holds the fields accepted when registering a product. Initial stock is recorded
// as a received movement.
type NewProduct struct {
	Name         string
	Description  string
	Category     string
	Barcode      string
	Price        decimal.Decimal
	InitialStock int
	ExpiryDate   *time.Time
	ImageURL     string
}

// ProductUpdate is a partial update. Nil fields are left alone; there is deliberately no
// stock field.
type ProductUpdate struct {
	Name        *string
	Description *string
	Category    *string
	Barcode     *string
	Price       *decimal.Decimal
	ExpiryDate  *time.Time
	ImageURL    *string
}

// Empty reports whether the update changes nothing.
func (u ProductUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Category == nil && u.Barcode == nil &&
		u.Price == nil && u.ExpiryDate == nil && u.ImageURL == nil
}

// ProductFilter narrows a product listing.
type ProductFilter struct {
	Name            string
	Category        string
	IncludeInactive bool
}

type MovementType string

const (
	MovementDecreased MovementType = "decreased"
	MovementIncreased MovementType = "increased"
	MovementReceived  MovementType = "received"
)

// StockMovement is one audit row of the stock ledger.
type StockMovement struct {
	ID             uuid.UUID    `json:"id"`
	ProductID      int64        `json:"product_id"`
	OrderID        *int64       `json:"order_id,omitempty"`
	ChangeQuantity int          `json:"change_quantity"`
	MovementType   MovementType `json:"movement_type"`
	CreatedAt      time.Time    `json:"created_at"`
}

// NewStockMovement records a stock change. Decreases are stored as negative quantities.
func NewStockMovement(productID int64, orderRef *int64, quantity int, kind MovementType) StockMovement {
	change := quantity
	if kind == MovementDecreased {
		change = -quantity
	}
	return StockMovement{
		ID:             uuid.New(),
		ProductID:      productID,
		OrderID:        orderRef,
		ChangeQuantity: change,
		MovementType:   kind,
		CreatedAt:      time.Now().UTC(),
	}
}

// Item is a quantity of one product to reserve or release.
type Item struct {
	ProductID int64
	Quantity  int
}
