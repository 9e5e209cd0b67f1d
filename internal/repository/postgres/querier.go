// Package postgres implements the repository boundaries internal/action
// and internal/input declare as interfaces, grounded on the teacher's
// internal/repository/postgres package: plain SQL with $N placeholders,
// a struct wrapping *pgxpool.Pool, errors.Is(err, pgx.ErrNoRows) mapped
// to this repository's own sentinel errors.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// querier is satisfied by both *pgxpool.Pool, pgx.Tx, and
// pgxmock.PgxPoolIface, so the stores in this package work unchanged
// whether called at the top level, inside a transaction (input.Tx's
// methods run exclusively inside one), or against a test double.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner is the slice of *pgxpool.Pool (or pgxmock.PgxPoolIface) that
// InputStore needs beyond querier: the ability to start a
// SERIALIZABLE-isolation transaction.
type txBeginner interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}
