package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"coinflip-backend/internal/models"
	"coinflip-backend/internal/store/migrations"
)

// SQLiteStore keeps wagers and the ledger in a single SQLite file. Write
// transactions begin IMMEDIATE so concurrent joins queue on the database
// lock instead of failing on upgrade.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applySchema(ctx, stdConn{db}, "sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Transact(ctx context.Context, wagerID string, fn func(context.Context, Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{conn: stdConn{tx}, wagerID: wagerID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWager(ctx context.Context, id string) (*models.Wager, error) {
	return getWagerSQL(ctx, stdConn{s.db}, id)
}

func (s *SQLiteStore) ListOpenWagers(ctx context.Context, limit int) ([]*models.Wager, error) {
	return listOpenSQL(ctx, stdConn{s.db}, limit)
}

func (s *SQLiteStore) ListPartyWagers(ctx context.Context, partyID string, limit int) ([]*models.Wager, error) {
	return listPartySQL(ctx, stdConn{s.db}, partyID, limit)
}

func (s *SQLiteStore) Deposit(ctx context.Context, partyID string, items []models.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := creditSQL(ctx, stdConn{tx}, partyID, items); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Holdings(ctx context.Context, partyID string) ([]models.Item, error) {
	return holdingsSQL(ctx, stdConn{s.db}, partyID)
}

// stdQuerier is implemented by both *sql.DB and *sql.Tx.
type stdQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type stdConn struct {
	q stdQuerier
}

func (c stdConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c stdConn) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return c.q.QueryRowContext(ctx, query, args...)
}

func (c stdConn) query(ctx context.Context, query string, args ...any) (sqlRows, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return stdRows{rows}, nil
}

type stdRows struct {
	*sql.Rows
}

func (r stdRows) Close() {
	_ = r.Rows.Close()
}

// applySchema runs every embedded file for dialect in name order. The files
// are idempotent so they run on every start.
func applySchema(ctx context.Context, conn sqlConn, dialect string) error {
	entries, err := fs.ReadDir(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(migrations.FS, dialect+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := conn.exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
