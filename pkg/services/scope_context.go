package services

import (
	"context"

	"github.com/ekaya-inc/flightclean/pkg/database"
)

// ScopeContextFunc acquires a database scope for one run.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type ScopeContextFunc func(ctx context.Context) (context.Context, func(), error)

// TxFunc runs fn inside one transaction on the scope carried by ctx.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// NewScopeContextFunc creates a ScopeContextFunc that uses the given database.
func NewScopeContextFunc(db *database.DB) ScopeContextFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		return db.WithScope(ctx)
	}
}
