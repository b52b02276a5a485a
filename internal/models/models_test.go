package models_test

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coinflip-backend/internal/models"
)

func openWager() *models.Wager {
	return &models.Wager{
		ID:             models.GenerateWagerID(),
		Version:        1,
		State:          models.WagerStateOpen,
		ProposerID:     "alice",
		ProposerItems:  []models.Item{{ID: "a1", Value: 600}, {ID: "a2", Value: 400}},
		ProposerSide:   models.SideHeads,
		ProposerValue:  1000,
		AcceptMin:      950,
		AcceptMax:      1050,
		ServerSeed:     "secret",
		ServerSeedHash: "hash",
		CreatedAt:      time.Now(),
	}
}

func TestAcceptRange(t *testing.T) {
	tests := []struct {
		value     int64
		tolerance string
		lo, hi    int64
	}{
		{1000, "0.05", 950, 1050},
		{999, "0.05", 950, 1048},
		{1, "0.05", 1, 1},
		{200, "0", 200, 200},
	}

	for _, tt := range tests {
		lo, hi := models.AcceptRange(tt.value, decimal.RequireFromString(tt.tolerance))
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("AcceptRange(%d, %s) = [%d, %d], want [%d, %d]", tt.value, tt.tolerance, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestValidateItems(t *testing.T) {
	tests := []struct {
		name  string
		items []models.Item
		ok    bool
	}{
		{"valid", []models.Item{{ID: "x", Value: 1}}, true},
		{"empty", nil, false},
		{"blank id", []models.Item{{Value: 1}}, false},
		{"zero value", []models.Item{{ID: "x"}}, false},
		{"negative value", []models.Item{{ID: "x", Value: -5}}, false},
		{"duplicate", []models.Item{{ID: "x", Value: 1}, {ID: "x", Value: 2}}, false},
		{"at limit", []models.Item{{ID: "x", Value: models.MaxStakeValue - 1}, {ID: "y", Value: 1}}, true},
		{"over limit", []models.Item{{ID: "x", Value: models.MaxStakeValue}, {ID: "y", Value: 1}}, false},
		{"overflowing sum", []models.Item{{ID: "x", Value: math.MaxInt64}, {ID: "y", Value: 2}}, false},
	}

	for _, tt := range tests {
		err := models.ValidateItems(tt.items)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			} else if !errors.Is(err, models.ErrValidation) {
				t.Errorf("%s: expected validation error, got %v", tt.name, err)
			}
		}
	}
}

func TestValidatePartyID(t *testing.T) {
	if err := models.ValidatePartyID("alice"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	for _, id := range []string{"", "  ", models.EscrowPartyID("w1")} {
		if err := models.ValidatePartyID(id); !errors.Is(err, models.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", id, err)
		}
	}
}

func TestSettleDerivesWinner(t *testing.T) {
	for _, side := range []models.Side{models.SideHeads, models.SideTails} {
		w := openWager()
		next, err := w.Settle(models.Settlement{
			CounterpartyID:    "bob",
			CounterpartyItems: []models.Item{{ID: "b1", Value: 1000}},
			ClientSeed:        "xyz",
			Outcome:           0.25,
			WinningSide:       side,
			At:                time.Now(),
		})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}

		want := "alice"
		if side != w.ProposerSide {
			want = "bob"
		}
		if next.WinnerID != want {
			t.Errorf("side %s: expected winner %s, got %s", side, want, next.WinnerID)
		}
		if next.Version != w.Version+1 {
			t.Errorf("expected version %d, got %d", w.Version+1, next.Version)
		}
		if w.State != models.WagerStateOpen {
			t.Error("settle must not mutate the receiver")
		}
		if err := next.CheckInvariants(); err != nil {
			t.Errorf("invariants: %v", err)
		}
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	w := openWager()
	cancelled, err := w.Cancel("alice", time.Now())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := cancelled.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	if _, err := cancelled.Cancel("alice", time.Now()); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected invalid state on second cancel, got %v", err)
	}
	_, err = cancelled.Settle(models.Settlement{
		CounterpartyID:    "bob",
		CounterpartyItems: []models.Item{{ID: "b1", Value: 1000}},
		WinningSide:       models.SideHeads,
	})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected invalid state on settle after cancel, got %v", err)
	}
}

func TestCancelRequiresProposer(t *testing.T) {
	w := openWager()
	if _, err := w.Cancel("mallory", time.Now()); !errors.Is(err, models.ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestPublicHidesServerSeedUntilSettled(t *testing.T) {
	w := openWager()
	if w.Public().ServerSeed != "" {
		t.Error("open wager must not expose the server seed")
	}
	if w.ServerSeed == "" {
		t.Error("Public must not modify the receiver")
	}

	settled, err := w.Settle(models.Settlement{
		CounterpartyID:    "bob",
		CounterpartyItems: []models.Item{{ID: "b1", Value: 1000}},
		WinningSide:       models.SideTails,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Public().ServerSeed != "secret" {
		t.Error("settled wager should reveal the server seed")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", models.WithMetadata(models.CodeOutOfRange, "too much", map[string]string{"min": "950"}))
	if !errors.Is(err, models.ErrOutOfRange) {
		t.Fatal("expected wrapped error to match ErrOutOfRange")
	}
	if errors.Is(err, models.ErrConflict) {
		t.Fatal("out of range must not match conflict")
	}
	if models.CodeOf(err) != models.CodeOutOfRange {
		t.Fatalf("expected code OUT_OF_RANGE, got %q", models.CodeOf(err))
	}
	if models.CodeOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no code")
	}
}

func TestWithout(t *testing.T) {
	items := []models.Item{{ID: "a", Value: 1}, {ID: "b", Value: 2}, {ID: "c", Value: 3}}
	got := models.Without(items, []models.Item{{ID: "b"}})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected result %v", got)
	}
}
