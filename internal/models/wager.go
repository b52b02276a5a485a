package models

import (
	"fmt"
	"time"
)

// Side is one face of the coin. Heads is side A, tails is side B.
type Side string

const (
	SideHeads Side = "heads"
	SideTails Side = "tails"
)

func (s Side) Valid() bool {
	return s == SideHeads || s == SideTails
}

func (s Side) Opposite() Side {
	if s == SideHeads {
		return SideTails
	}
	return SideHeads
}

type WagerState string

const (
	WagerStateOpen      WagerState = "open"
	WagerStateSettled   WagerState = "settled"
	WagerStateCancelled WagerState = "cancelled"
)

func (s WagerState) Terminal() bool {
	return s == WagerStateSettled || s == WagerStateCancelled
}

type Wager struct {
	ID      string     `json:"id"`
	Version int64      `json:"version"`
	State   WagerState `json:"state"`

	ProposerID    string `json:"proposer_id"`
	ProposerItems []Item `json:"proposer_items"`
	ProposerSide  Side   `json:"proposer_side"`
	ProposerValue int64  `json:"proposer_value"`
	AcceptMin     int64  `json:"accept_min"`
	AcceptMax     int64  `json:"accept_max"`

	CounterpartyID    string `json:"counterparty_id,omitempty"`
	CounterpartyItems []Item `json:"counterparty_items,omitempty"`

	// Provably fair commitment. ServerSeed stays private until settlement.
	ServerSeed     string  `json:"server_seed,omitempty"`
	ServerSeedHash string  `json:"server_seed_hash"`
	ClientSeed     string  `json:"client_seed,omitempty"`
	Outcome        float64 `json:"outcome,omitempty"`

	WinningSide Side   `json:"winning_side,omitempty"`
	WinnerID    string `json:"winner_id,omitempty"`
	TaxedItems  []Item `json:"taxed_items,omitempty"`
	TaxValue    int64  `json:"tax_value,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func (w *Wager) CounterpartySide() Side {
	return w.ProposerSide.Opposite()
}

// PotItems is every item at stake: the proposer's followed by the counterparty's.
func (w *Wager) PotItems() []Item {
	pot := make([]Item, 0, len(w.ProposerItems)+len(w.CounterpartyItems))
	pot = append(pot, w.ProposerItems...)
	return append(pot, w.CounterpartyItems...)
}

func (w *Wager) Accepts(value int64) bool {
	return value >= w.AcceptMin && value <= w.AcceptMax
}

// Public returns a copy safe to hand to clients: the server seed is only
// revealed once the wager has settled.
func (w *Wager) Public() *Wager {
	cp := w.clone()
	if cp.State != WagerStateSettled {
		cp.ServerSeed = ""
	}
	return cp
}

func (w *Wager) clone() *Wager {
	cp := *w
	cp.ProposerItems = append([]Item(nil), w.ProposerItems...)
	cp.CounterpartyItems = append([]Item(nil), w.CounterpartyItems...)
	cp.TaxedItems = append([]Item(nil), w.TaxedItems...)
	return &cp
}

// Settlement carries everything needed to move an open wager to settled.
type Settlement struct {
	CounterpartyID    string
	CounterpartyItems []Item
	ClientSeed        string
	Outcome           float64
	WinningSide       Side
	Tax               TaxOutcome
	At                time.Time
}

// Settle returns the settled successor of w. The winner is derived from the
// winning side and never set directly.
func (w *Wager) Settle(s Settlement) (*Wager, error) {
	if w.State != WagerStateOpen {
		return nil, Errorf(CodeInvalidState, "cannot settle wager %s in state %s", w.ID, w.State)
	}
	if s.CounterpartyID == "" || len(s.CounterpartyItems) == 0 {
		return nil, NewError(CodeValidation, "settlement requires a counterparty and items")
	}
	if !s.WinningSide.Valid() {
		return nil, Errorf(CodeValidation, "invalid winning side %q", s.WinningSide)
	}

	next := w.clone()
	next.Version++
	next.State = WagerStateSettled
	next.CounterpartyID = s.CounterpartyID
	next.CounterpartyItems = append([]Item(nil), s.CounterpartyItems...)
	next.ClientSeed = s.ClientSeed
	next.Outcome = s.Outcome
	next.WinningSide = s.WinningSide
	next.WinnerID = w.ProposerID
	if s.WinningSide != w.ProposerSide {
		next.WinnerID = s.CounterpartyID
	}
	next.TaxedItems = append([]Item(nil), s.Tax.Items...)
	next.TaxValue = s.Tax.Total
	at := s.At
	next.SettledAt = &at
	return next, nil
}

// Cancel returns the cancelled successor of w. Only the proposer may cancel.
func (w *Wager) Cancel(by string, at time.Time) (*Wager, error) {
	if w.State != WagerStateOpen {
		return nil, Errorf(CodeInvalidState, "cannot cancel wager %s in state %s", w.ID, w.State)
	}
	if by != w.ProposerID {
		return nil, NewError(CodeRejected, "only the proposer can cancel a wager")
	}

	next := w.clone()
	next.Version++
	next.State = WagerStateCancelled
	next.CancelledAt = &at
	return next, nil
}

// CheckInvariants verifies the record-level invariants that must hold in
// every persisted state.
func (w *Wager) CheckInvariants() error {
	switch w.State {
	case WagerStateOpen:
		if w.CounterpartyID != "" {
			return fmt.Errorf("open wager %s has counterparty %s", w.ID, w.CounterpartyID)
		}
		if w.WinnerID != "" {
			return fmt.Errorf("open wager %s has winner %s", w.ID, w.WinnerID)
		}
	case WagerStateSettled:
		if w.CounterpartyID == "" {
			return fmt.Errorf("settled wager %s has no counterparty", w.ID)
		}
		want := w.ProposerID
		if w.WinningSide != w.ProposerSide {
			want = w.CounterpartyID
		}
		if w.WinnerID == "" || w.WinnerID != want {
			return fmt.Errorf("settled wager %s has winner %q, want %q", w.ID, w.WinnerID, want)
		}
	case WagerStateCancelled:
		if w.CounterpartyID != "" || w.WinnerID != "" {
			return fmt.Errorf("cancelled wager %s was joined", w.ID)
		}
	default:
		return fmt.Errorf("wager %s has unknown state %q", w.ID, w.State)
	}
	return nil
}

// TaxOutcome is the set of items redirected to the platform from a pot.
type TaxOutcome struct {
	Items []Item `json:"items"`
	Total int64  `json:"total"`
}

// SettlementResult is returned from a successful join and broadcast to
// notification sinks.
type SettlementResult struct {
	WagerID       string    `json:"wager_id"`
	WinnerID      string    `json:"winner_id"`
	WinningSide   Side      `json:"winning_side"`
	Outcome       float64   `json:"outcome"`
	PotValue      int64     `json:"pot_value"`
	PayoutItems   []Item    `json:"payout_items"`
	PayoutValue   int64     `json:"payout_value"`
	TaxedItems    []Item    `json:"taxed_items"`
	TotalTaxValue int64     `json:"total_tax_value"`
	SettledAt     time.Time `json:"settled_at"`
}

// AuditRecord exposes the revealed commitment of a settled wager so anyone
// can recompute the outcome.
type AuditRecord struct {
	WagerID        string  `json:"wager_id"`
	ServerSeed     string  `json:"server_seed"`
	ServerSeedHash string  `json:"server_seed_hash"`
	ClientSeed     string  `json:"client_seed"`
	Outcome        float64 `json:"outcome"`
	WinningSide    Side    `json:"winning_side"`
	Verified       bool    `json:"verified"`
}
