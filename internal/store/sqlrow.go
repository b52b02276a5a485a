package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coinflip-backend/internal/models"
)

const wagerColumns = `id, version, state, proposer_id, proposer_items, proposer_side, proposer_value,
	accept_min, accept_max, counterparty_id, counterparty_items, server_seed, server_seed_hash,
	client_seed, outcome, winning_side, winner_id, taxed_items, tax_value,
	created_at, settled_at, cancelled_at`

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func scanWager(row rowScanner) (*models.Wager, error) {
	var (
		w                                             models.Wager
		state, proposerItems, proposerSide            string
		counterpartyID, counterpartyItems, clientSeed sql.NullString
		winningSide, winnerID, taxedItems             sql.NullString
		outcome                                       sql.NullFloat64
		createdAt                                     int64
		settledAt, cancelledAt                        sql.NullInt64
	)

	err := row.Scan(
		&w.ID, &w.Version, &state, &w.ProposerID, &proposerItems, &proposerSide, &w.ProposerValue,
		&w.AcceptMin, &w.AcceptMax, &counterpartyID, &counterpartyItems, &w.ServerSeed, &w.ServerSeedHash,
		&clientSeed, &outcome, &winningSide, &winnerID, &taxedItems, &w.TaxValue,
		&createdAt, &settledAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = models.WagerState(state)
	w.ProposerSide = models.Side(proposerSide)
	w.CounterpartyID = counterpartyID.String
	w.ClientSeed = clientSeed.String
	w.Outcome = outcome.Float64
	w.WinningSide = models.Side(winningSide.String)
	w.WinnerID = winnerID.String
	w.CreatedAt = fromMillis(createdAt)
	if settledAt.Valid {
		t := fromMillis(settledAt.Int64)
		w.SettledAt = &t
	}
	if cancelledAt.Valid {
		t := fromMillis(cancelledAt.Int64)
		w.CancelledAt = &t
	}

	if w.ProposerItems, err = decodeItems(proposerItems); err != nil {
		return nil, fmt.Errorf("decode proposer items of %s: %w", w.ID, err)
	}
	if w.CounterpartyItems, err = decodeItems(counterpartyItems.String); err != nil {
		return nil, fmt.Errorf("decode counterparty items of %s: %w", w.ID, err)
	}
	if w.TaxedItems, err = decodeItems(taxedItems.String); err != nil {
		return nil, fmt.Errorf("decode taxed items of %s: %w", w.ID, err)
	}
	return &w, nil
}

// wagerArgs returns values in wagerColumns order.
func wagerArgs(w *models.Wager) ([]any, error) {
	proposerItems, err := json.Marshal(w.ProposerItems)
	if err != nil {
		return nil, fmt.Errorf("encode proposer items: %w", err)
	}
	counterpartyItems, err := encodeNullableItems(w.CounterpartyItems)
	if err != nil {
		return nil, fmt.Errorf("encode counterparty items: %w", err)
	}
	taxedItems, err := encodeNullableItems(w.TaxedItems)
	if err != nil {
		return nil, fmt.Errorf("encode taxed items: %w", err)
	}

	var outcome any
	if w.State == models.WagerStateSettled {
		outcome = w.Outcome
	}

	return []any{
		w.ID, w.Version, string(w.State), w.ProposerID, string(proposerItems), string(w.ProposerSide), w.ProposerValue,
		w.AcceptMin, w.AcceptMax, nullString(w.CounterpartyID), counterpartyItems, w.ServerSeed, w.ServerSeedHash,
		nullString(w.ClientSeed), outcome, nullString(string(w.WinningSide)), nullString(w.WinnerID), taxedItems, w.TaxValue,
		toMillis(w.CreatedAt), nullMillis(w.SettledAt), nullMillis(w.CancelledAt),
	}, nil
}

func decodeItems(raw string) ([]models.Item, error) {
	if raw == "" {
		return nil, nil
	}
	var items []models.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeNullableItems(items []models.Item) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, err
	}
	return md, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
