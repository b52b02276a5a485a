// Package store persists wager records and the item ledger.
//
// Every backend offers the same transactional unit: Transact binds a single
// wager record and hands fn a Tx through which the record and any number of
// party ledgers are read and written. Either every write made through the Tx
// becomes visible or none does. Swap is the only way an existing record
// changes and it succeeds for at most one caller per record version.
package store

import (
	"context"
	"fmt"

	"coinflip-backend/internal/config"
	"coinflip-backend/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

type Store interface {
	// Transact runs fn in one atomic unit bound to wagerID. A non-nil error
	// from fn rolls back every write made through the Tx.
	Transact(ctx context.Context, wagerID string, fn func(ctx context.Context, tx Tx) error) error

	GetWager(ctx context.Context, id string) (*models.Wager, error)
	// ListOpenWagers returns open wagers, oldest first.
	ListOpenWagers(ctx context.Context, limit int) ([]*models.Wager, error)
	// ListPartyWagers returns wagers a party proposed or joined, newest first.
	ListPartyWagers(ctx context.Context, partyID string, limit int) ([]*models.Wager, error)

	// Deposit places items into a party's ledger outside any wager.
	Deposit(ctx context.Context, partyID string, items []models.Item) error
	Holdings(ctx context.Context, partyID string) ([]models.Item, error)

	Close() error
}

type Tx interface {
	// Wager loads the bound record. ErrNotFound when it does not exist.
	Wager(ctx context.Context) (*models.Wager, error)
	Insert(ctx context.Context, w *models.Wager) error
	// Swap replaces prev with next only if the stored record still has
	// prev's version, is open and has no counterparty. ErrConflict otherwise.
	Swap(ctx context.Context, prev, next *models.Wager) error

	// Debit removes items from a party's ledger. ErrInsufficientItems when
	// any item is not held by the party at the stated value.
	Debit(ctx context.Context, partyID string, items []models.Item) error
	Credit(ctx context.Context, partyID string, items []models.Item) error
}

// Open connects to the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case config.DriverRedis:
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func insufficient(partyID string, it models.Item) error {
	return models.WithMetadata(models.CodeInsufficientItems,
		fmt.Sprintf("item %s is not held by %s", it.ID, partyID),
		map[string]string{"item_id": it.ID})
}

func alreadyHeld(it models.Item) error {
	return models.Errorf(models.CodeConflict, "item %s is already in the ledger", it.ID)
}

func staleSwap(id string) error {
	return models.Errorf(models.CodeConflict, "wager %s was modified concurrently", id)
}
