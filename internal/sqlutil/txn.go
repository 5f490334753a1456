package sqlutil

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Run executes fn inside a *sql.Tx with default isolation.
// If fn returns an error the tx rolls back, else it commits.
func Run(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return run(ctx, db, nil, fn)
}

// RunSerializable executes fn inside a SERIALIZABLE transaction. The
// read-validate-write sequence on a single auction row must not interleave
// with a concurrent writer, so the bid commit path runs at this level.
func RunSerializable(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return run(ctx, db, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func run(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializationFailure is SQLSTATE 40001, raised when Postgres aborts one of
// two conflicting serializable transactions.
const serializationFailure = "40001"

// IsSerializationFailure reports whether err is a Postgres serialization
// conflict, i.e. the losing side of two concurrent serializable transactions.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}
