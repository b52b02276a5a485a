package services

import (
	"errors"
	"testing"

	"coinflip-backend/internal/models"
)

type countingSink struct {
	calls int
	err   error
}

func (c *countingSink) BroadcastWagerCreated(*models.Wager) error {
	c.calls++
	return c.err
}

func (c *countingSink) BroadcastWagerCancelled(*models.Wager) error {
	c.calls++
	return c.err
}

func (c *countingSink) BroadcastSettlement(*models.SettlementResult) error {
	c.calls++
	return c.err
}

func TestMultiBroadcasterDeliversToAll(t *testing.T) {
	boom := errors.New("down")
	failing := &countingSink{err: boom}
	healthy := &countingSink{}
	multi := MultiBroadcaster{failing, healthy, LogBroadcaster{}}

	w := &models.Wager{ID: "w1"}
	if err := multi.BroadcastWagerCreated(w); !errors.Is(err, boom) {
		t.Errorf("Expected joined error, got %v", err)
	}
	_ = multi.BroadcastWagerCancelled(w)
	_ = multi.BroadcastSettlement(&models.SettlementResult{WagerID: "w1"})

	if failing.calls != 3 || healthy.calls != 3 {
		t.Errorf("Expected every sink to see 3 events, got %d and %d", failing.calls, healthy.calls)
	}

	if err := (MultiBroadcaster{healthy}).BroadcastSettlement(&models.SettlementResult{}); err != nil {
		t.Errorf("Expected nil from healthy sinks, got %v", err)
	}
}
