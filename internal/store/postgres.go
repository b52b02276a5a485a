package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinflip-backend/internal/models"
)

// PostgresStore runs under READ COMMITTED. The conditional UPDATE in Swap
// takes the row lock and re-checks its predicate after any concurrent
// writer commits, which is what makes racing joins lose cleanly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := applySchema(ctx, pgConn{pool}, "postgres"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Transact(ctx context.Context, wagerID string, fn func(context.Context, Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &sqlTx{conn: pgConn{tx}, wagerID: wagerID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*models.Wager, error) {
	return getWagerSQL(ctx, pgConn{s.pool}, id)
}

func (s *PostgresStore) ListOpenWagers(ctx context.Context, limit int) ([]*models.Wager, error) {
	return listOpenSQL(ctx, pgConn{s.pool}, limit)
}

func (s *PostgresStore) ListPartyWagers(ctx context.Context, partyID string, limit int) ([]*models.Wager, error) {
	return listPartySQL(ctx, pgConn{s.pool}, partyID, limit)
}

func (s *PostgresStore) Deposit(ctx context.Context, partyID string, items []models.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := creditSQL(ctx, pgConn{tx}, partyID, items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Holdings(ctx context.Context, partyID string) ([]models.Item, error) {
	return holdingsSQL(ctx, pgConn{s.pool}, partyID)
}

// pgQuerier is implemented by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgConn struct {
	q pgQuerier
}

func (c pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return c.q.QueryRow(ctx, rebind(query), args...)
}

func (c pgConn) query(ctx context.Context, query string, args ...any) (sqlRows, error) {
	return c.q.Query(ctx, rebind(query), args...)
}

var _ Store = (*PostgresStore)(nil)
