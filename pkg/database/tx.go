package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type contextKey string

// txKey is the context key for the transaction opened by WithTx.
const txKey contextKey = "tx"

// GetTx retrieves the transaction stored by WithTx.
func GetTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// Conn returns the transaction in ctx if there is one, the pool otherwise.
// Repositories call this so their writes join an enclosing WithTx.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return tx
	}
	return db.Pool
}

// WithTx runs fn inside a transaction carried by the context passed to fn.
// The transaction commits when fn returns nil and rolls back otherwise.
// Calls nested inside an outer WithTx join the outer transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit
		_ = tx.Rollback(context.Background())
	}()

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
