package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"coinflip-backend/internal/models"
)

type sent struct {
	channel string
	content string
}

func fakeDiscord(fail error) (*DiscordBroadcaster, *[]sent) {
	var out []sent
	return &DiscordBroadcaster{
		channelID: "chan-1",
		send: func(channelID, content string) error {
			out = append(out, sent{channelID, content})
			return fail
		},
	}, &out
}

func TestDiscordAnnouncesCreationAndSettlement(t *testing.T) {
	d, out := fakeDiscord(nil)

	w := &models.Wager{ID: "w1", ProposerID: "alice", ProposerValue: 1000, ProposerSide: models.SideHeads,
		AcceptMin: 950, AcceptMax: 1050, ServerSeedHash: "abc123"}
	if err := d.BroadcastWagerCreated(w); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := d.BroadcastWagerCancelled(w); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	err := d.BroadcastSettlement(&models.SettlementResult{WagerID: "w1", WinnerID: "bob", WinningSide: models.SideTails,
		Outcome: 0.75, PotValue: 1000, PayoutValue: 980, TotalTaxValue: 20, SettledAt: time.Now()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(*out) != 2 {
		t.Fatalf("Expected two messages, got %d", len(*out))
	}
	created, settled := (*out)[0], (*out)[1]
	if created.channel != "chan-1" || !strings.Contains(created.content, "abc123") {
		t.Errorf("Creation message should carry the commitment: %+v", created)
	}
	if !strings.Contains(settled.content, "bob wins 980") || !strings.Contains(settled.content, "20 taxed") {
		t.Errorf("Unexpected settlement message %q", settled.content)
	}
}

func TestDiscordWrapsSendErrors(t *testing.T) {
	boom := errors.New("rate limited")
	d, _ := fakeDiscord(boom)

	err := d.BroadcastSettlement(&models.SettlementResult{WagerID: "w1"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped send error, got %v", err)
	}
}
