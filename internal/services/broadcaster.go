package services

import (
	"errors"
	"log"

	"coinflip-backend/internal/models"
)

// Broadcaster receives wager events after they are committed. Delivery is
// best effort: the engine logs returned errors and carries on.
type Broadcaster interface {
	BroadcastWagerCreated(w *models.Wager) error
	BroadcastWagerCancelled(w *models.Wager) error
	BroadcastSettlement(result *models.SettlementResult) error
}

// MultiBroadcaster fans each event out to every sink. One failing sink does
// not stop delivery to the rest.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) BroadcastWagerCreated(w *models.Wager) error {
	var errs []error
	for _, b := range m {
		errs = append(errs, b.BroadcastWagerCreated(w))
	}
	return errors.Join(errs...)
}

func (m MultiBroadcaster) BroadcastWagerCancelled(w *models.Wager) error {
	var errs []error
	for _, b := range m {
		errs = append(errs, b.BroadcastWagerCancelled(w))
	}
	return errors.Join(errs...)
}

func (m MultiBroadcaster) BroadcastSettlement(result *models.SettlementResult) error {
	var errs []error
	for _, b := range m {
		errs = append(errs, b.BroadcastSettlement(result))
	}
	return errors.Join(errs...)
}

// LogBroadcaster writes events to the standard logger.
type LogBroadcaster struct{}

func (LogBroadcaster) BroadcastWagerCreated(w *models.Wager) error {
	log.Printf("wager %s opened by %s: %d on %s", w.ID, w.ProposerID, w.ProposerValue, w.ProposerSide)
	return nil
}

func (LogBroadcaster) BroadcastWagerCancelled(w *models.Wager) error {
	log.Printf("wager %s cancelled", w.ID)
	return nil
}

func (LogBroadcaster) BroadcastSettlement(r *models.SettlementResult) error {
	log.Printf("wager %s settled: %s won %d of %d (%s, tax %d)",
		r.WagerID, r.WinnerID, r.PayoutValue, r.PotValue, r.WinningSide, r.TotalTaxValue)
	return nil
}
