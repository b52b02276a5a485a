// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"coinflip-backend/internal/models"
	"coinflip-backend/internal/store"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"GetMissing", testGetMissing},
		{"SwapSettles", testSwapSettles},
		{"SwapRejectsStaleVersion", testSwapRejectsStaleVersion},
		{"SwapRejectsTerminal", testSwapRejectsTerminal},
		{"RollbackOnError", testRollbackOnError},
		{"DebitRequiresHolding", testDebitRequiresHolding},
		{"CreditRejectsHeldItem", testCreditRejectsHeldItem},
		{"DebitThenCreditSameItem", testDebitThenCreditSameItem},
		{"ItemsUniqueAcrossParties", testItemsUniqueAcrossParties},
		{"Listing", testListing},
		{"ConcurrentSwaps", testConcurrentSwaps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.UnixMilli(1_700_000_000_000).UTC()

func openWager(proposer string, items []models.Item, createdAt time.Time) *models.Wager {
	value := models.TotalValue(items)
	return &models.Wager{
		ID:             models.GenerateWagerID(),
		Version:        1,
		State:          models.WagerStateOpen,
		ProposerID:     proposer,
		ProposerItems:  items,
		ProposerSide:   models.SideHeads,
		ProposerValue:  value,
		AcceptMin:      value * 95 / 100,
		AcceptMax:      value * 105 / 100,
		ServerSeed:     "seed-" + proposer,
		ServerSeedHash: "hash-" + proposer,
		CreatedAt:      createdAt,
	}
}

func insert(t *testing.T, s store.Store, w *models.Wager) {
	t.Helper()
	err := s.Transact(context.Background(), w.ID, func(ctx context.Context, tx store.Tx) error {
		return tx.Insert(ctx, w)
	})
	if err != nil {
		t.Fatalf("insert %s: %v", w.ID, err)
	}
}

func settlement(counterparty string, items []models.Item) models.Settlement {
	return models.Settlement{
		CounterpartyID:    counterparty,
		CounterpartyItems: items,
		ClientSeed:        "client-" + counterparty,
		Outcome:           0.75,
		WinningSide:       models.SideTails,
		Tax:               models.TaxOutcome{Items: []models.Item{items[0]}, Total: items[0].Value},
		At:                base.Add(time.Minute),
	}
}

func settle(t *testing.T, s store.Store, id, counterparty string, items []models.Item) *models.Wager {
	t.Helper()
	var settled *models.Wager
	err := s.Transact(context.Background(), id, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wager(ctx)
		if err != nil {
			return err
		}
		next, err := w.Settle(settlement(counterparty, items))
		if err != nil {
			return err
		}
		settled = next
		return tx.Swap(ctx, w, next)
	})
	if err != nil {
		t.Fatalf("settle %s: %v", id, err)
	}
	return settled
}

func holdingIDs(t *testing.T, s store.Store, party string) []string {
	t.Helper()
	items, err := s.Holdings(context.Background(), party)
	if err != nil {
		t.Fatalf("holdings of %s: %v", party, err)
	}
	return models.ItemIDs(items)
}

func sameIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func wagerIDs(ws []*models.Wager) []string {
	ids := make([]string, len(ws))
	for i, w := range ws {
		ids[i] = w.ID
	}
	return ids
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := []models.Item{
		{ID: "a1", Value: 600, Metadata: map[string]string{"name": "Blue Hat"}},
		{ID: "a2", Value: 400},
	}
	if err := s.Deposit(ctx, "alice", items); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	w := openWager("alice", items, base)
	err := s.Transact(ctx, w.ID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debit(ctx, "alice", items); err != nil {
			return err
		}
		return tx.Insert(ctx, w)
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	got, err := s.GetWager(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != w.ID || got.Version != 1 || got.State != models.WagerStateOpen {
		t.Errorf("unexpected header %+v", got)
	}
	if got.ProposerID != "alice" || got.ProposerSide != models.SideHeads || got.ProposerValue != 1000 {
		t.Errorf("unexpected proposer fields %+v", got)
	}
	if got.AcceptMin != 950 || got.AcceptMax != 1050 {
		t.Errorf("expected range [950, 1050], got [%d, %d]", got.AcceptMin, got.AcceptMax)
	}
	if got.ServerSeed != w.ServerSeed || got.ServerSeedHash != w.ServerSeedHash {
		t.Errorf("commitment not persisted: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("expected created at %v, got %v", base, got.CreatedAt)
	}
	if got.CounterpartyID != "" || got.WinnerID != "" || got.SettledAt != nil || got.CancelledAt != nil {
		t.Errorf("open wager has settlement fields: %+v", got)
	}
	if len(got.ProposerItems) != 2 || got.ProposerItems[0].Metadata["name"] != "Blue Hat" {
		t.Errorf("proposer items not persisted: %v", got.ProposerItems)
	}

	if ids := holdingIDs(t, s, "alice"); len(ids) != 0 {
		t.Errorf("expected alice's items escrowed, still holds %v", ids)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetWager(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	err := s.Transact(ctx, "missing", func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Wager(ctx)
		return err
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found inside transaction, got %v", err)
	}
}

func testSwapSettles(t *testing.T, s store.Store) {
	w := openWager("alice", []models.Item{{ID: "a1", Value: 1000}}, base)
	insert(t, s, w)

	settle(t, s, w.ID, "bob", []models.Item{{ID: "b1", Value: 1040}})

	got, err := s.GetWager(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.WagerStateSettled || got.Version != 2 {
		t.Fatalf("expected settled v2, got %s v%d", got.State, got.Version)
	}
	if got.CounterpartyID != "bob" || got.WinnerID != "bob" || got.WinningSide != models.SideTails {
		t.Errorf("unexpected settlement %+v", got)
	}
	if got.ClientSeed != "client-bob" || got.Outcome != 0.75 {
		t.Errorf("fairness fields not persisted: %q %v", got.ClientSeed, got.Outcome)
	}
	if got.SettledAt == nil || !got.SettledAt.Equal(base.Add(time.Minute)) {
		t.Errorf("unexpected settled at %v", got.SettledAt)
	}
	if got.TaxValue != 1040 || len(got.TaxedItems) != 1 || got.TaxedItems[0].ID != "b1" {
		t.Errorf("tax not persisted: %d %v", got.TaxValue, got.TaxedItems)
	}
	if err := got.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func testSwapRejectsStaleVersion(t *testing.T, s store.Store) {
	w := openWager("alice", []models.Item{{ID: "a1", Value: 1000}}, base)
	insert(t, s, w)

	stale := *w
	stale.Version = 0
	next := *w
	next.Version = 1

	err := s.Transact(context.Background(), w.ID, func(ctx context.Context, tx store.Tx) error {
		return tx.Swap(ctx, &stale, &next)
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func testSwapRejectsTerminal(t *testing.T, s store.Store) {
	w := openWager("alice", []models.Item{{ID: "a1", Value: 1000}}, base)
	insert(t, s, w)
	settle(t, s, w.ID, "bob", []models.Item{{ID: "b1", Value: 1000}})

	// The caller still holds the open version it read before the settle.
	next, err := w.Settle(settlement("carol", []models.Item{{ID: "c1", Value: 1000}}))
	if err != nil {
		t.Fatalf("settle copy: %v", err)
	}
	err = s.Transact(context.Background(), w.ID, func(ctx context.Context, tx store.Tx) error {
		return tx.Swap(ctx, w, next)
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.GetWager(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CounterpartyID != "bob" {
		t.Fatalf("settled wager was overwritten: %+v", got)
	}
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := []models.Item{{ID: "b1", Value: 500}, {ID: "b2", Value: 500}}
	if err := s.Deposit(ctx, "bob", items); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	boom := errors.New("boom")
	w := openWager("bob", items, base)
	err := s.Transact(ctx, w.ID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debit(ctx, "bob", items); err != nil {
			return err
		}
		if err := tx.Credit(ctx, "house", items[:1]); err != nil {
			return err
		}
		if err := tx.Insert(ctx, w); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if ids := holdingIDs(t, s, "bob"); !sameIDs(ids, []string{"b1", "b2"}) {
		t.Errorf("expected bob to keep [b1 b2], got %v", ids)
	}
	if ids := holdingIDs(t, s, "house"); len(ids) != 0 {
		t.Errorf("expected house to receive nothing, got %v", ids)
	}
	if _, err := s.GetWager(ctx, w.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected wager not to exist, got %v", err)
	}
}

func testDebitRequiresHolding(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Deposit(ctx, "alice", []models.Item{{ID: "a1", Value: 100}}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tests := []struct {
		name  string
		party string
		items []models.Item
	}{
		{"wrong value", "alice", []models.Item{{ID: "a1", Value: 99}}},
		{"other party", "bob", []models.Item{{ID: "a1", Value: 100}}},
		{"partially held", "alice", []models.Item{{ID: "a1", Value: 100}, {ID: "a2", Value: 5}}},
	}

	for _, tt := range tests {
		err := s.Transact(ctx, "w-"+tt.name, func(ctx context.Context, tx store.Tx) error {
			return tx.Debit(ctx, tt.party, tt.items)
		})
		if !errors.Is(err, models.ErrInsufficientItems) {
			t.Errorf("%s: expected insufficient items, got %v", tt.name, err)
		}
	}

	if ids := holdingIDs(t, s, "alice"); !sameIDs(ids, []string{"a1"}) {
		t.Errorf("expected alice to keep a1, got %v", ids)
	}
}

func testCreditRejectsHeldItem(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := []models.Item{{ID: "a1", Value: 100}}
	if err := s.Deposit(ctx, "alice", items); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.Deposit(ctx, "alice", items); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict on duplicate deposit, got %v", err)
	}

	err := s.Transact(ctx, "w-credit", func(ctx context.Context, tx store.Tx) error {
		return tx.Credit(ctx, "alice", items)
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict on duplicate credit, got %v", err)
	}
}

func testDebitThenCreditSameItem(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Deposit(ctx, "bob", []models.Item{{ID: "b1", Value: 1000}}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	pot := []models.Item{{ID: "a1", Value: 1000}, {ID: "b1", Value: 1000}}
	err := s.Transact(ctx, "w-roundtrip", func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debit(ctx, "bob", pot[1:]); err != nil {
			return err
		}
		return tx.Credit(ctx, "bob", pot)
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	if ids := holdingIDs(t, s, "bob"); !sameIDs(ids, []string{"a1", "b1"}) {
		t.Errorf("expected bob to hold [a1 b1], got %v", ids)
	}
}

func testItemsUniqueAcrossParties(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := []models.Item{{ID: "a1", Value: 100}}
	if err := s.Deposit(ctx, "alice", items); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.Deposit(ctx, "carol", items); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict depositing an item held by another party, got %v", err)
	}

	err := s.Transact(ctx, "w-unique", func(ctx context.Context, tx store.Tx) error {
		return tx.Credit(ctx, "carol", items)
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict crediting an item held by another party, got %v", err)
	}

	err = s.Transact(ctx, "w-unique", func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debit(ctx, "alice", items); err != nil {
			return err
		}
		return tx.Credit(ctx, "escrow:w-unique", items)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := s.Deposit(ctx, "alice", items); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict re-depositing a transferred item, got %v", err)
	}
	if ids := holdingIDs(t, s, "escrow:w-unique"); !sameIDs(ids, []string{"a1"}) {
		t.Errorf("expected escrow to hold [a1], got %v", ids)
	}
	if ids := holdingIDs(t, s, "alice"); len(ids) != 0 {
		t.Errorf("expected alice to hold nothing, got %v", ids)
	}
}

func testListing(t *testing.T, s store.Store) {
	ctx := context.Background()
	w1 := openWager("alice", []models.Item{{ID: "a1", Value: 100}}, base)
	w2 := openWager("bob", []models.Item{{ID: "b1", Value: 100}}, base.Add(time.Second))
	w3 := openWager("alice", []models.Item{{ID: "a2", Value: 100}}, base.Add(2*time.Second))
	for _, w := range []*models.Wager{w1, w2, w3} {
		insert(t, s, w)
	}
	settle(t, s, w2.ID, "carol", []models.Item{{ID: "c1", Value: 100}})

	open, err := s.ListOpenWagers(ctx, 10)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if ids := wagerIDs(open); !sameIDs(ids, []string{w1.ID, w3.ID}) {
		t.Errorf("open: expected [w1 w3], got %v", ids)
	}

	first, err := s.ListOpenWagers(ctx, 1)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if ids := wagerIDs(first); !sameIDs(ids, []string{w1.ID}) {
		t.Errorf("limit: expected [w1], got %v", ids)
	}

	cases := map[string][]string{
		"alice": {w3.ID, w1.ID},
		"bob":   {w2.ID},
		"carol": {w2.ID},
		"dave":  {},
	}
	for party, want := range cases {
		ws, err := s.ListPartyWagers(ctx, party, 10)
		if err != nil {
			t.Fatalf("list %s: %v", party, err)
		}
		if ids := wagerIDs(ws); !sameIDs(ids, want) {
			t.Errorf("%s: expected %v, got %v", party, want, ids)
		}
	}
}

func testConcurrentSwaps(t *testing.T, s store.Store) {
	w := openWager("alice", []models.Item{{ID: "a1", Value: 1000}}, base)
	insert(t, s, w)

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			party := fmt.Sprintf("joiner-%d", i)
			err := s.Transact(context.Background(), w.ID, func(ctx context.Context, tx store.Tx) error {
				cur, err := tx.Wager(ctx)
				if err != nil {
					return err
				}
				if cur.State != models.WagerStateOpen {
					return models.ErrNotJoinable
				}
				next, err := cur.Settle(settlement(party, []models.Item{{ID: party, Value: 1000}}))
				if err != nil {
					return err
				}
				return tx.Swap(ctx, cur, next)
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, party)
			} else {
				errs = append(errs, err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one successful swap, got %d (%v)", len(winners), winners)
	}
	for _, err := range errs {
		if !errors.Is(err, models.ErrConflict) && !errors.Is(err, models.ErrNotJoinable) {
			t.Errorf("unexpected error from losing swap: %v", err)
		}
	}

	got, err := s.GetWager(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CounterpartyID != winners[0] || got.Version != 2 {
		t.Fatalf("expected %s at v2, got %s at v%d", winners[0], got.CounterpartyID, got.Version)
	}
}
