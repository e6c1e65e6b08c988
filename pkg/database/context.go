package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const (
	// ScopeKey is the context key for the run's pooled connection.
	ScopeKey contextKey = "dbScope"
	// TxKey is the context key for the transaction of the current stage.
	TxKey contextKey = "dbTx"
)

// Querier is the subset of pgx shared by *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// GetScope retrieves the scoped database connection from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok
}

// SetScope stores the scoped database connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// SetTx stores an open transaction in context. Repositories prefer it over the scope.
func SetTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, TxKey, tx)
}

// GetTx retrieves the open transaction from context.
func GetTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(TxKey).(pgx.Tx)
	return tx, ok
}

// GetQuerier returns the transaction in ctx if there is one, otherwise the scope's connection.
func GetQuerier(ctx context.Context) (Querier, bool) {
	if tx, ok := GetTx(ctx); ok && tx != nil {
		return tx, true
	}
	if scope, ok := GetScope(ctx); ok && scope.Conn != nil {
		return scope.Conn, true
	}
	return nil, false
}
