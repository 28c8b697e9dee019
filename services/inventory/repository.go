package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
)

// StockRepository is what the Ledger needs: row locks and stock writes inside a transaction.
type StockRepository interface {
	// GetProductForUpdate locks the product row until tx ends. Inactive products are returned.
	GetProductForUpdate(ctx context.Context, tx database.Tx, productID int64) (*Product, error)
	DecreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) error
	IncreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64, kind MovementType) error
	ListMovements(ctx context.Context, productID int64, page database.Page) ([]StockMovement, error)
}

// ProductRepository is what the catalog needs.
type ProductRepository interface {
	CreateProduct(ctx context.Context, tx database.Tx, p NewProduct) (*Product, error)
	GetProduct(ctx context.Context, productID int64) (*Product, error)
	ListProducts(ctx context.Context, filter ProductFilter, page database.Page) ([]Product, error)
	UpdateProduct(ctx context.Context, productID int64, update ProductUpdate) (*Product, error)
	DeactivateProduct(ctx context.Context, productID int64) error
}

// PostgresRepository implements StockRepository and ProductRepository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository stores products and stock movements in Postgres.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const productColumns = `id, name, description, category, barcode, price, stock, expiry_date, image_url, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Barcode, &p.Price, &p.Stock,
		&p.ExpiryDate, &p.ImageURL, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductForUpdate locks the product row for the rest of tx.
func (r *PostgresRepository) GetProductForUpdate(ctx context.Context, tx database.Tx, productID int64) (*Product, error) {
	row := database.Conn(tx).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID)

	p, err := scanProduct(row)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock product %d", productID)
	}
	return p, nil
}

// DecreaseStock takes quantity units and records the movement inside tx.
func (r *PostgresRepository) DecreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64) error {
	conn := database.Conn(tx)

	_, err := conn.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return errors.Wrapf(err, "decrease stock of product %d", productID)
	}

	return insertMovement(ctx, conn, NewStockMovement(productID, orderRef, quantity, MovementDecreased))
}

// IncreaseStock adds quantity units and records a movement of kind inside tx.
func (r *PostgresRepository) IncreaseStock(ctx context.Context, tx database.Tx, productID int64, quantity int, orderRef *int64, kind MovementType) error {
	conn := database.Conn(tx)

	_, err := conn.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return errors.Wrapf(err, "increase stock of product %d", productID)
	}

	return insertMovement(ctx, conn, NewStockMovement(productID, orderRef, quantity, kind))
}

func insertMovement(ctx context.Context, conn database.Querier, m StockMovement) error {
	_, err := conn.Exec(ctx, `
		INSERT INTO stock_movements (id, product_id, order_id, change_quantity, movement_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ProductID, m.OrderID, m.ChangeQuantity, string(m.MovementType), m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert stock movement")
	}
	return nil
}

// ListMovements returns the product history, newest first.
func (r *PostgresRepository) ListMovements(ctx context.Context, productID int64, page database.Page) ([]StockMovement, error) {
	var f database.Filter
	f.Add("product_id = ?", productID)
	query := `SELECT id, product_id, order_id, change_quantity, movement_type, created_at FROM stock_movements` +
		f.Where() + ` ORDER BY created_at DESC, id` + f.Paginate(page)

	rows, err := r.db.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, errors.Wrap(err, "list stock movements")
	}
	defer rows.Close()

	var out []StockMovement
	for rows.Next() {
		var (
			m    StockMovement
			kind string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.OrderID, &m.ChangeQuantity, &kind, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan stock movement")
		}
		m.MovementType = MovementType(kind)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "list stock movements")
}

// CreateProduct inserts the product with zero stock. Initial stock is booked by the caller.
func (r *PostgresRepository) CreateProduct(ctx context.Context, tx database.Tx, np NewProduct) (*Product, error) {
	row := database.Conn(tx).QueryRow(ctx, `
		INSERT INTO products (name, description, category, barcode, price, stock, expiry_date, image_url)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		RETURNING `+productColumns,
		np.Name, np.Description, np.Category, np.Barcode, np.Price, np.ExpiryDate, np.ImageURL,
	)

	p, err := scanProduct(row)
	if err != nil {
		return nil, productWriteError(err, "insert product")
	}
	return p, nil
}

// GetProduct reads a product, active or not.
func (r *PostgresRepository) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	return p, nil
}

// ListProducts returns products matching filter, ordered by id.
func (r *PostgresRepository) ListProducts(ctx context.Context, filter ProductFilter, page database.Page) ([]Product, error) {
	var f database.Filter
	if filter.Name != "" {
		f.Add("name ILIKE ?", database.Contains(filter.Name))
	}
	if filter.Category != "" {
		f.Add("category = ?", filter.Category)
	}
	f.Active("is_active", filter.IncludeInactive)

	query := `SELECT ` + productColumns + ` FROM products` + f.Where() + ` ORDER BY id` + f.Paginate(page)
	rows, err := r.db.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, *p)
	}
	return out, errors.Wrap(rows.Err(), "list products")
}

// UpdateProduct applies the non-nil fields of u to an active product.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, productID int64, u ProductUpdate) (*Product, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Category != nil {
		set("category", *u.Category)
	}
	if u.Barcode != nil {
		set("barcode", *u.Barcode)
	}
	if u.Price != nil {
		set("price", *u.Price)
	}
	if u.ExpiryDate != nil {
		set("expiry_date", *u.ExpiryDate)
	}
	if u.ImageURL != nil {
		set("image_url", *u.ImageURL)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, productID)

	query := fmt.Sprintf(`UPDATE products SET %s WHERE id = $%d%s RETURNING %s`,
		strings.Join(sets, ", "), len(args), database.ActiveOnly("is_active", false), productColumns)

	p, err := scanProduct(r.db.QueryRow(ctx, query, args...))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, productWriteError(err, "update product")
	}
	return p, nil
}

// DeactivateProduct soft-deletes an active product.
func (r *PostgresRepository) DeactivateProduct(ctx context.Context, productID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`+database.ActiveOnly("is_active", false),
		productID)
	if err != nil {
		return errors.Wrapf(err, "deactivate product %d", productID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("product", productID)
	}
	return nil
}

func productWriteError(err error, op string) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		field := "barcode"
		if !strings.Contains(constraint, "barcode") {
			field = constraint
		}
		return &apperr.ConflictError{Entity: "product", Field: field}
	}
	if database.IsCheckViolation(err) {
		return apperr.Invalid("price", "must not be negative")
	}
	return errors.Wrap(err, op)
}
