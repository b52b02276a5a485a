package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coinflip-backend/internal/models"
)

// sqlConn abstracts a pool or an open transaction of either SQL driver.
// Queries are written with ? placeholders; the postgres adapter rebinds them.
type sqlConn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (sqlRows, error)
}

type sqlRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

type sqlTx struct {
	conn    sqlConn
	wagerID string
}

func (t *sqlTx) Wager(ctx context.Context) (*models.Wager, error) {
	return getWagerSQL(ctx, t.conn, t.wagerID)
}

func (t *sqlTx) Insert(ctx context.Context, w *models.Wager) error {
	if w.ID != t.wagerID {
		return fmt.Errorf("insert wager %s in transaction bound to %s", w.ID, t.wagerID)
	}
	args, err := wagerArgs(w)
	if err != nil {
		return err
	}
	n, err := t.conn.exec(ctx,
		`INSERT INTO wagers (`+wagerColumns+`) VALUES (`+placeholders(len(args))+`)
		 ON CONFLICT (id) DO NOTHING`,
		args...)
	if err != nil {
		return fmt.Errorf("insert wager %s: %w", w.ID, err)
	}
	if n == 0 {
		return models.Errorf(models.CodeConflict, "wager %s already exists", w.ID)
	}
	return nil
}

func (t *sqlTx) Swap(ctx context.Context, prev, next *models.Wager) error {
	if prev.ID != t.wagerID || next.ID != t.wagerID {
		return fmt.Errorf("swap wager %s in transaction bound to %s", next.ID, t.wagerID)
	}
	args, err := wagerArgs(next)
	if err != nil {
		return err
	}
	// id is the first column; the rest are assigned.
	args = append(args[1:], t.wagerID, prev.Version)

	n, err := t.conn.exec(ctx,
		`UPDATE wagers SET
		   version = ?, state = ?, proposer_id = ?, proposer_items = ?, proposer_side = ?, proposer_value = ?,
		   accept_min = ?, accept_max = ?, counterparty_id = ?, counterparty_items = ?, server_seed = ?, server_seed_hash = ?,
		   client_seed = ?, outcome = ?, winning_side = ?, winner_id = ?, taxed_items = ?, tax_value = ?,
		   created_at = ?, settled_at = ?, cancelled_at = ?
		 WHERE id = ? AND version = ? AND state = 'open' AND counterparty_id IS NULL`,
		args...)
	if err != nil {
		return fmt.Errorf("swap wager %s: %w", t.wagerID, err)
	}
	if n != 1 {
		return staleSwap(t.wagerID)
	}
	return nil
}

func (t *sqlTx) Debit(ctx context.Context, partyID string, items []models.Item) error {
	for _, it := range items {
		n, err := t.conn.exec(ctx,
			`DELETE FROM ledger_items WHERE item_id = ? AND party_id = ? AND value = ?`,
			it.ID, partyID, it.Value)
		if err != nil {
			return fmt.Errorf("debit %s from %s: %w", it.ID, partyID, err)
		}
		if n == 0 {
			return insufficient(partyID, it)
		}
	}
	return nil
}

func (t *sqlTx) Credit(ctx context.Context, partyID string, items []models.Item) error {
	return creditSQL(ctx, t.conn, partyID, items)
}

func creditSQL(ctx context.Context, conn sqlConn, partyID string, items []models.Item) error {
	for _, it := range items {
		md, err := encodeMetadata(it.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", it.ID, err)
		}
		n, err := conn.exec(ctx,
			`INSERT INTO ledger_items (item_id, party_id, value, metadata) VALUES (?, ?, ?, ?)
			 ON CONFLICT (item_id) DO NOTHING`,
			it.ID, partyID, it.Value, md)
		if err != nil {
			return fmt.Errorf("credit %s to %s: %w", it.ID, partyID, err)
		}
		if n == 0 {
			return alreadyHeld(it)
		}
	}
	return nil
}
