package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
)

// Repository persists orders. Methods taking a Tx run inside the caller's transaction.
type Repository interface {
	NextOrderID(ctx context.Context, tx database.Tx) (int64, error)
	InsertOrder(ctx context.Context, tx database.Tx, order *Order) error
	GetOrderForUpdate(ctx context.Context, tx database.Tx, orderID int64) (*Order, error)
	UpdateStatus(ctx context.Context, tx database.Tx, order *Order) error
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, page database.Page) ([]Order, error)
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository stores orders and their lines in Postgres.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NextOrderID reserves an id up front so stock movements can reference the order.
func (r *PostgresRepository) NextOrderID(ctx context.Context, tx database.Tx) (int64, error) {
	var id int64
	err := database.Conn(tx).QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('orders', 'id'))`).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "allocate order id")
	}
	return id, nil
}

// InsertOrder writes the order and its lines inside tx and fills in the generated line ids
// and timestamps.
func (r *PostgresRepository) InsertOrder(ctx context.Context, tx database.Tx, order *Order) error {
	conn := database.Conn(tx)

	err := conn.QueryRow(ctx, `
		INSERT INTO orders (id, client_id, status, total_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, order.ID, order.ClientID, string(order.Status), order.TotalAmount).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert order %d", order.ID)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		err := conn.QueryRow(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, order.ID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&line.ID)
		if err != nil {
			return errors.Wrapf(err, "insert line for product %d", line.ProductID)
		}
	}
	return nil
}

// GetOrderForUpdate locks the order row for the rest of tx and loads its lines.
func (r *PostgresRepository) GetOrderForUpdate(ctx context.Context, tx database.Tx, orderID int64) (*Order, error) {
	conn := database.Conn(tx)

	order, err := scanOrder(conn.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock order %d", orderID)
	}

	if err := loadLines(ctx, conn, []*Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateStatus persists order.Status inside tx.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, tx database.Tx, order *Order) error {
	err := database.Conn(tx).QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, order.ID, string(order.Status)).Scan(&order.UpdatedAt)
	if database.IsNoRows(err) {
		return apperr.NotFound("order", order.ID)
	}
	return errors.Wrapf(err, "update status of order %d", order.ID)
}

// GetOrder reads an order and its lines without locking.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", orderID)
	}

	if err := loadLines(ctx, r.db, []*Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders matching filter, newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter OrderFilter, page database.Page) ([]Order, error) {
	var f database.Filter
	if filter.From != nil {
		f.Add("o.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		f.Add("o.created_at <= ?", *filter.To)
	}
	if filter.Status != "" {
		f.Add("o.status = ?", string(filter.Status))
	}
	if filter.ClientID > 0 {
		f.Add("o.client_id = ?", filter.ClientID)
	}
	if filter.Category != "" {
		f.Add(`EXISTS (
			SELECT 1 FROM order_lines l
			JOIN products p ON p.id = l.product_id
			WHERE l.order_id = o.id AND p.category = ?)`, filter.Category)
	}

	query := `SELECT o.id, o.client_id, o.status, o.total_amount, o.created_at, o.updated_at FROM orders o` +
		f.Where() + ` ORDER BY o.created_at DESC, o.id DESC` + f.Paginate(page)

	rows, err := r.db.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	if err := loadLines(ctx, r.db, out); err != nil {
		return nil, err
	}

	result := make([]Order, len(out))
	for i, o := range out {
		result[i] = *o
	}
	return result, nil
}

const orderColumns = `id, client_id, status, total_amount, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.ClientID, &status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.Lines = []OrderLine{}
	return &o, nil
}

// loadLines fills the lines of orders with one query.
func loadLines(ctx context.Context, q database.Querier, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, ids)
	if err != nil {
		return errors.Wrap(err, "load order lines")
	}
	defer rows.Close()

	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return errors.Wrap(err, "scan order line")
		}
		if o, ok := byID[l.OrderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return errors.Wrap(rows.Err(), "load order lines")
}
