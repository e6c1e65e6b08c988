package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/flightclean/pkg/apperrors"
)

// Scope holds one pooled connection for the duration of a pipeline run.
// The returned Scope MUST be closed with defer scope.Close().
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection to the pool.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire reserves a connection from the pool.
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Scope{Conn: conn}, nil
}

// WithScope returns a context carrying a fresh scope.
// The cleanup function must be called when the scope is no longer needed.
func (db *DB) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := db.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// RunInTx runs fn inside a transaction on the scope found in ctx.
// fn receives a context whose Querier is the transaction. The transaction is
// committed when fn returns nil and rolled back otherwise, including on panic.
func RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetScope(ctx)
	if !ok || scope.Conn == nil {
		return apperrors.ErrNoScope
	}

	tx, err := scope.Conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(SetTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
