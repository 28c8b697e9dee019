package clients

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

type Repository interface {
	CreateClient(ctx context.Context, nc NewClient) (*Client, error)
	GetClient(ctx context.Context, clientID int64) (*Client, error)
	ListClients(ctx context.Context, filter ClientFilter, page database.Page) ([]Client, error)
	UpdateClient(ctx context.Context, clientID int64, update ClientUpdate) (*Client, error)
	DeactivateClient(ctx context.Context, clientID int64) error
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository stores clients in Postgres.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const clientColumns = `id, name, email, cpf, phone, company, address, is_active, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CPF, &c.Phone, &c.Company, &c.Address,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveClient share-locks the client row for the rest of tx. A missing client is reported as
// inactive.
func (r *PostgresRepository) ActiveClient(ctx context.Context, tx database.Tx, clientID int64) (bool, error) {
	var active bool
	err := database.Conn(tx).QueryRow(ctx,
		`SELECT is_active FROM clients WHERE id = $1 FOR SHARE`, clientID).Scan(&active)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "lock client %d", clientID)
	}
	return active, nil
}

// CreateClient inserts the client. Duplicate email or CPF is a ConflictError.
func (r *PostgresRepository) CreateClient(ctx context.Context, nc NewClient) (*Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx, `
		INSERT INTO clients (name, email, cpf, phone, company, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+clientColumns,
		nc.Name, nc.Email, nc.CPF, nc.Phone, nc.Company, nc.Address,
	))
	if err != nil {
		return nil, clientWriteError(err, "insert client")
	}
	return c, nil
}

// GetClient reads a client, active or not.
func (r *PostgresRepository) GetClient(ctx context.Context, clientID int64) (*Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("client", clientID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get client %d", clientID)
	}
	return c, nil
}

// ListClients returns clients matching filter, ordered by id.
func (r *PostgresRepository) ListClients(ctx context.Context, filter ClientFilter, page database.Page) ([]Client, error) {
	var f database.Filter
	if filter.Search != "" {
		pattern := database.Contains(filter.Search)
		f.Add("(name ILIKE ? OR email ILIKE ?)", pattern, pattern)
	}
	f.Active("is_active", filter.IncludeInactive)

	query := `SELECT ` + clientColumns + ` FROM clients` + f.Where() + ` ORDER BY id` + f.Paginate(page)
	rows, err := r.db.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, errors.Wrap(err, "list clients")
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan client")
		}
		out = append(out, *c)
	}
	return out, errors.Wrap(rows.Err(), "list clients")
}

// UpdateClient applies the non-nil fields of u to an active client.
func (r *PostgresRepository) UpdateClient(ctx context.Context, clientID int64, u ClientUpdate) (*Client, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	set("name", u.Name)
	set("email", u.Email)
	set("cpf", u.CPF)
	set("phone", u.Phone)
	set("company", u.Company)
	set("address", u.Address)
	sets = append(sets, "updated_at = NOW()")
	args = append(args, clientID)

	query := fmt.Sprintf(`UPDATE clients SET %s WHERE id = $%d%s RETURNING %s`,
		strings.Join(sets, ", "), len(args), database.ActiveOnly("is_active", false), clientColumns)

	c, err := scanClient(r.db.QueryRow(ctx, query, args...))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("client", clientID)
	}
	if err != nil {
		return nil, clientWriteError(err, "update client")
	}
	return c, nil
}

// DeactivateClient soft-deletes an active client.
func (r *PostgresRepository) DeactivateClient(ctx context.Context, clientID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET is_active = FALSE, updated_at = NOW() WHERE id = $1`+database.ActiveOnly("is_active", false),
		clientID)
	if err != nil {
		return errors.Wrapf(err, "deactivate client %d", clientID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("client", clientID)
	}
	return nil
}

func clientWriteError(err error, op string) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		return &apperr.ConflictError{Entity: "client", Field: conflictField(constraint)}
	}
	return errors.Wrap(err, op)
}

func conflictField(constraint string) string {
	switch {
	case strings.Contains(constraint, "email"):
		return "email"
	case strings.Contains(constraint, "cpf"):
		return "cpf"
	}
	return constraint
}
