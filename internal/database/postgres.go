package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/config"
)

// LockTimeout bounds how long a statement waits for a row lock.
type LockTimeout time.Duration

func (l LockTimeout) statement() string {
	if l <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", time.Duration(l).Milliseconds())
}

// Connect builds the pgx pool and waits for the database to accept connections.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse database config")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create connection pool")
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			logger.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("connected to database")
			return pool, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Int("of", attempts).Msg("waiting for database")

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, pkgerrors.Wrapf(err, "connect to database after %d attempts", attempts)
}

// Postgres SQLSTATE codes the service reacts to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// UniqueViolation returns the violated constraint name when err is a unique violation.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// IsCheckViolation reports a CHECK constraint failure, e.g. products_stock_non_negative.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation
}

// IsRetryable reports failures that are expected to go away on a fresh attempt:
// lock wait timeouts, deadlocks, serialization failures and timeouts.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return true
		}
		return false
	}
	return pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}

// AsTransactionFailed wraps infrastructure failures like apperr.AsTransactionFailed and tags
// the ones IsRetryable accepts as transient.
func AsTransactionFailed(err error) error {
	err = apperr.AsTransactionFailed(err)
	var failed *apperr.TransactionFailedError
	if errors.As(err, &failed) && IsRetryable(failed.Cause) {
		failed.Transient = true
	}
	return err
}
