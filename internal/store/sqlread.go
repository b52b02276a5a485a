package store

import (
	"context"
	"fmt"

	"coinflip-backend/internal/models"
)

func getWagerSQL(ctx context.Context, conn sqlConn, id string) (*models.Wager, error) {
	w, err := scanWager(conn.queryRow(ctx, `SELECT `+wagerColumns+` FROM wagers WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, models.Errorf(models.CodeNotFound, "wager %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get wager %s: %w", id, err)
	}
	return w, nil
}

func listOpenSQL(ctx context.Context, conn sqlConn, limit int) ([]*models.Wager, error) {
	return listWagersSQL(ctx, conn,
		`SELECT `+wagerColumns+` FROM wagers WHERE state = 'open'
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		clampLimit(limit))
}

func listPartySQL(ctx context.Context, conn sqlConn, partyID string, limit int) ([]*models.Wager, error) {
	return listWagersSQL(ctx, conn,
		`SELECT `+wagerColumns+` FROM wagers WHERE proposer_id = ? OR counterparty_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		partyID, partyID, clampLimit(limit))
}

func listWagersSQL(ctx context.Context, conn sqlConn, query string, args ...any) ([]*models.Wager, error) {
	rows, err := conn.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	defer rows.Close()

	wagers := []*models.Wager{}
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	return wagers, nil
}

func holdingsSQL(ctx context.Context, conn sqlConn, partyID string) ([]models.Item, error) {
	rows, err := conn.query(ctx,
		`SELECT item_id, value, metadata FROM ledger_items WHERE party_id = ? ORDER BY item_id`,
		partyID)
	if err != nil {
		return nil, fmt.Errorf("holdings of %s: %w", partyID, err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var (
			it models.Item
			md string
		)
		if err := rows.Scan(&it.ID, &it.Value, &md); err != nil {
			return nil, fmt.Errorf("scan ledger item: %w", err)
		}
		if it.Metadata, err = decodeMetadata(md); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("holdings of %s: %w", partyID, err)
	}
	return items, nil
}
