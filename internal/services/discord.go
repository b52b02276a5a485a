package services

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"coinflip-backend/internal/models"
)

// DiscordBroadcaster posts plain-text wager announcements to one channel
// through the REST API. No gateway connection is opened.
type DiscordBroadcaster struct {
	channelID string
	send      func(channelID, content string) error
}

func NewDiscordBroadcaster(token, channelID string) (*DiscordBroadcaster, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordBroadcaster{
		channelID: channelID,
		send: func(channelID, content string) error {
			_, err := session.ChannelMessageSend(channelID, content)
			return err
		},
	}, nil
}

func (d *DiscordBroadcaster) BroadcastWagerCreated(w *models.Wager) error {
	return d.post(fmt.Sprintf("New wager `%s`: %s stakes %d on %s (joins between %d and %d). Commitment `%s`",
		w.ID, w.ProposerID, w.ProposerValue, w.ProposerSide, w.AcceptMin, w.AcceptMax, w.ServerSeedHash))
}

// Cancellations are not announced.
func (d *DiscordBroadcaster) BroadcastWagerCancelled(*models.Wager) error {
	return nil
}

func (d *DiscordBroadcaster) BroadcastSettlement(r *models.SettlementResult) error {
	msg := fmt.Sprintf("Wager `%s` landed %s (%.6f): %s wins %d of a %d pot",
		r.WagerID, r.WinningSide, r.Outcome, r.WinnerID, r.PayoutValue, r.PotValue)
	if r.TotalTaxValue > 0 {
		msg += fmt.Sprintf(", %d taxed", r.TotalTaxValue)
	}
	return d.post(msg)
}

func (d *DiscordBroadcaster) post(content string) error {
	if err := d.send(d.channelID, content); err != nil {
		return fmt.Errorf("discord send to %s: %w", d.channelID, err)
	}
	return nil
}
