package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Querier is the subset of pgx shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is an open transaction scope. Repositories receive it explicitly.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PostgresTx implements Tx on top of pgx. Nested scopes are savepoints.
type PostgresTx struct {
	tx pgx.Tx
}

// Commit commits the transaction, or releases the savepoint of a nested scope.
func (t *PostgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback undoes the scope. Rolling back an already closed transaction is not an error.
func (t *PostgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Conn returns the pgx handle behind tx. It panics when tx was not opened by a Postgres transactor.
func Conn(tx Tx) Querier {
	pgTx, ok := tx.(*PostgresTx)
	if !ok {
		panic(fmt.Sprintf("database: %T is not a *PostgresTx", tx))
	}
	return pgTx.tx
}

// TxFunc is the body of a transaction scope.
type TxFunc func(ctx context.Context, tx Tx) error

// Transactor opens transaction scopes. A scope opened while another one is active in ctx nests
// into it.
type Transactor interface {
	WithinTx(ctx context.Context, fn TxFunc) error
}

// BeginFunc starts a transaction. parent is nil for an outermost scope.
type BeginFunc func(ctx context.Context, parent Tx) (Tx, error)

// ScopedTransactor runs each TxFunc inside a transaction and always releases it: commit when fn
// returns nil, rollback on error or panic.
type ScopedTransactor struct {
	begin BeginFunc
}

// NewScopedTransactor builds a transactor around begin. Tests pass a fake begin to run
// scopes without a database.
func NewScopedTransactor(begin BeginFunc) *ScopedTransactor {
	return &ScopedTransactor{begin: begin}
}

// NewPostgresTransactor opens transactions on pool. Outermost transactions get
// lock_timeout so a stalled row lock surfaces as an error instead of hanging.
func NewPostgresTransactor(pool *pgxpool.Pool, lockTimeout LockTimeout) *ScopedTransactor {
	return NewScopedTransactor(func(ctx context.Context, parent Tx) (Tx, error) {
		if parent != nil {
			sp, err := parent.(*PostgresTx).tx.Begin(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "begin savepoint")
			}
			return &PostgresTx{tx: sp}, nil
		}

		tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return nil, errors.Wrap(err, "begin transaction")
		}
		if stmt := lockTimeout.statement(); stmt != "" {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(context.WithoutCancel(ctx))
				return nil, errors.Wrap(err, "set lock_timeout")
			}
		}
		return &PostgresTx{tx: tx}, nil
	})
}

type scope struct {
	tx     Tx
	parent *scope
	hooks  []func(context.Context)
}

type scopeKey struct{}

// TxFromContext returns the innermost transaction scope active in ctx.
func TxFromContext(ctx context.Context) (Tx, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		return nil, false
	}
	return s.tx, true
}

// OnCommit registers fn to run once the outermost transaction in ctx commits. Hooks registered
// in a scope that rolls back are dropped. Without an active scope fn runs immediately.
func OnCommit(ctx context.Context, fn func(context.Context)) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		fn(ctx)
		return
	}
	s.hooks = append(s.hooks, fn)
}

// WithinTx runs fn in a new scope, nested into the scope already in ctx if there is one.
// OnCommit hooks registered anywhere in the tree run once the outermost scope commits.
func (t *ScopedTransactor) WithinTx(ctx context.Context, fn TxFunc) error {
	parent, _ := ctx.Value(scopeKey{}).(*scope)

	var parentTx Tx
	if parent != nil {
		parentTx = parent.tx
	}

	tx, err := t.begin(ctx, parentTx)
	if err != nil {
		return err
	}

	current := &scope{tx: tx, parent: parent}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(context.WithValue(ctx, scopeKey{}, current), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	done = true

	if parent != nil {
		parent.hooks = append(parent.hooks, current.hooks...)
		return nil
	}
	for _, hook := range current.hooks {
		hook(ctx)
	}
	return nil
}
