package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Transactor = (*PgTransactor)(nil)

var ErrTxNotFound = errors.New("tx not found in context")

type txKey struct{}

// PgTransactor runs fn inside one transaction. Repositories called with the
// derived context join it; a nested WithTx joins the outer transaction and
// leaves commit to the outermost call.
type PgTransactor struct {
	db  *DB
	log *zap.Logger
}

func NewTransactor(db *DB, log *zap.Logger) *PgTransactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &PgTransactor{db: db, log: log}
}

func (t *PgTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, joinErr := extractTx(ctx); joinErr == nil {
		return fn(ctx)
	}

	tx, err := t.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			t.rollback(tx)
			panic(p)
		}
		if err != nil {
			t.rollback(tx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(txCtx)
}

func (t *PgTransactor) rollback(tx pgx.Tx) {
	// the caller's ctx may already be canceled
	if err := tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.log.Error("rollback", zap.Error(err))
	}
}

func extractTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok || tx == nil {
		return nil, ErrTxNotFound
	}
	return tx, nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction carried by ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, err := extractTx(ctx); err == nil {
		return tx
	}
	return db.Pool
}
