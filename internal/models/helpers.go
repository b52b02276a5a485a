package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateWagerID() string {
	return uuid.New().String()
}

// AcceptRange returns the inclusive bounds a counterparty's stake must fall
// within: value*(1-tolerance) rounded up and value*(1+tolerance) rounded down.
func AcceptRange(value int64, tolerance decimal.Decimal) (int64, int64) {
	v := decimal.NewFromInt(value)
	one := decimal.NewFromInt(1)
	lo := v.Mul(one.Sub(tolerance)).Ceil().IntPart()
	hi := v.Mul(one.Add(tolerance)).Floor().IntPart()
	return lo, hi
}

const escrowPrefix = "escrow:"

// EscrowPartyID names the ledger account holding a wager's staked items
// while it is open.
func EscrowPartyID(wagerID string) string {
	return escrowPrefix + wagerID
}

// ValidatePartyID rejects blank ids and ids in the reserved escrow namespace.
func ValidatePartyID(partyID string) error {
	if strings.TrimSpace(partyID) == "" {
		return NewError(CodeValidation, "party is required")
	}
	if strings.HasPrefix(partyID, escrowPrefix) {
		return Errorf(CodeValidation, "party id %q is reserved", partyID)
	}
	return nil
}
