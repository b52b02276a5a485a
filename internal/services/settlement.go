package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"coinflip-backend/internal/config"
	"coinflip-backend/internal/fairness"
	"coinflip-backend/internal/models"
	"coinflip-backend/internal/store"
	"coinflip-backend/internal/tax"
)

type EngineConfig struct {
	AcceptTolerance decimal.Decimal
	Tax             tax.Policy
	TaxPartyID      string
	TxTimeout       time.Duration
}

func EngineConfigFrom(cfg *config.Config) EngineConfig {
	return EngineConfig{
		AcceptTolerance: cfg.AcceptTolerance,
		Tax:             tax.Policy{Target: cfg.TaxTargetRate, Max: cfg.TaxMaxRate},
		TaxPartyID:      cfg.TaxPartyID,
		TxTimeout:       cfg.TxTimeout,
	}
}

// SettlementEngine owns every wager state transition. Each one runs as a
// single store transaction; the store's compare-and-swap is the only thing
// ordering concurrent callers.
type SettlementEngine struct {
	store       store.Store
	cfg         EngineConfig
	broadcaster Broadcaster
	now         func() time.Time
}

func NewSettlementEngine(st store.Store, cfg EngineConfig, broadcaster Broadcaster) *SettlementEngine {
	if broadcaster == nil {
		broadcaster = LogBroadcaster{}
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	return &SettlementEngine{
		store:       st,
		cfg:         cfg,
		broadcaster: broadcaster,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}
}

// CreateWager moves the proposer's items into the wager's escrow account and
// opens a wager on side. The items keep their ledger ids until the wager
// settles or is cancelled.
func (se *SettlementEngine) CreateWager(ctx context.Context, proposerID string, items []models.Item, side models.Side) (*models.Wager, error) {
	if err := models.ValidatePartyID(proposerID); err != nil {
		return nil, err
	}
	if err := models.ValidateItems(items); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, models.Errorf(models.CodeValidation, "side must be %s or %s", models.SideHeads, models.SideTails)
	}

	serverSeed, serverSeedHash, err := fairness.Commit()
	if err != nil {
		return nil, err
	}

	value := models.TotalValue(items)
	lo, hi := models.AcceptRange(value, se.cfg.AcceptTolerance)

	w := &models.Wager{
		ID:             models.GenerateWagerID(),
		Version:        1,
		State:          models.WagerStateOpen,
		ProposerID:     proposerID,
		ProposerItems:  append([]models.Item(nil), items...),
		ProposerSide:   side,
		ProposerValue:  value,
		AcceptMin:      lo,
		AcceptMax:      hi,
		ServerSeed:     serverSeed,
		ServerSeedHash: serverSeedHash,
		CreatedAt:      se.now(),
	}

	err = se.transact(ctx, w.ID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Debit(ctx, proposerID, w.ProposerItems); err != nil {
			return err
		}
		if err := tx.Credit(ctx, models.EscrowPartyID(w.ID), w.ProposerItems); err != nil {
			return err
		}
		return tx.Insert(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	public := w.Public()
	if err := se.broadcaster.BroadcastWagerCreated(public); err != nil {
		log.Printf("failed to broadcast creation of wager %s: %v", w.ID, err)
	}
	return public, nil
}

// JoinWager stakes the counterparty's items against an open wager and
// settles it in the same transaction. When clientSeed is empty one is
// generated.
func (se *SettlementEngine) JoinWager(ctx context.Context, wagerID, counterpartyID string, items []models.Item, clientSeed string) (*models.SettlementResult, error) {
	if err := models.ValidatePartyID(counterpartyID); err != nil {
		return nil, err
	}
	if err := models.ValidateItems(items); err != nil {
		return nil, err
	}
	if clientSeed == "" {
		seed, err := fairness.NewClientSeed()
		if err != nil {
			return nil, err
		}
		clientSeed = seed
	}

	var result *models.SettlementResult
	err := se.transact(ctx, wagerID, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wager(ctx)
		if err != nil {
			return err
		}
		if w.State != models.WagerStateOpen {
			return models.Errorf(models.CodeNotJoinable, "wager %s is %s", w.ID, w.State)
		}
		if counterpartyID == w.ProposerID {
			return models.NewError(models.CodeValidation, "cannot join your own wager")
		}

		value := models.TotalValue(items)
		if !w.Accepts(value) {
			return models.WithMetadata(models.CodeOutOfRange,
				fmt.Sprintf("wagered value %d outside accepted range [%d, %d]", value, w.AcceptMin, w.AcceptMax),
				map[string]string{
					"min":   strconv.FormatInt(w.AcceptMin, 10),
					"max":   strconv.FormatInt(w.AcceptMax, 10),
					"value": strconv.FormatInt(value, 10),
				})
		}

		outcome := fairness.Resolve(w.ServerSeed, clientSeed)
		side := fairness.SideFromOutcome(outcome)

		pot := append(append([]models.Item(nil), w.ProposerItems...), items...)
		potValue := w.ProposerValue + value
		taxed := se.cfg.Tax.Allocate(potValue, pot)

		next, err := w.Settle(models.Settlement{
			CounterpartyID:    counterpartyID,
			CounterpartyItems: items,
			ClientSeed:        clientSeed,
			Outcome:           outcome,
			WinningSide:       side,
			Tax:               taxed,
			At:                se.now(),
		})
		if err != nil {
			return err
		}
		if err := tx.Swap(ctx, w, next); err != nil {
			return err
		}

		if err := tx.Debit(ctx, models.EscrowPartyID(w.ID), w.ProposerItems); err != nil {
			return err
		}
		if err := tx.Debit(ctx, counterpartyID, items); err != nil {
			return err
		}
		payout := models.Without(pot, taxed.Items)
		if err := tx.Credit(ctx, next.WinnerID, payout); err != nil {
			return err
		}
		if len(taxed.Items) > 0 {
			if err := tx.Credit(ctx, se.cfg.TaxPartyID, taxed.Items); err != nil {
				return err
			}
		}

		result = &models.SettlementResult{
			WagerID:       w.ID,
			WinnerID:      next.WinnerID,
			WinningSide:   side,
			Outcome:       outcome,
			PotValue:      potValue,
			PayoutItems:   payout,
			PayoutValue:   potValue - taxed.Total,
			TaxedItems:    taxed.Items,
			TotalTaxValue: taxed.Total,
			SettledAt:     *next.SettledAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := se.broadcaster.BroadcastSettlement(result); err != nil {
		log.Printf("failed to broadcast settlement of wager %s: %v", wagerID, err)
	}
	return result, nil
}

// CancelWager withdraws an open wager and returns the escrowed items to the
// proposer. It races joins through the same swap, so exactly one wins.
func (se *SettlementEngine) CancelWager(ctx context.Context, wagerID, partyID string) (*models.Wager, error) {
	cancelled, err := se.cancel(ctx, wagerID, partyID)
	if err != nil {
		return nil, err
	}

	public := cancelled.Public()
	if err := se.broadcaster.BroadcastWagerCancelled(public); err != nil {
		log.Printf("failed to broadcast cancellation of wager %s: %v", wagerID, err)
	}
	return public, nil
}

func (se *SettlementEngine) cancel(ctx context.Context, wagerID, partyID string) (*models.Wager, error) {
	var cancelled *models.Wager
	err := se.transact(ctx, wagerID, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wager(ctx)
		if err != nil {
			return err
		}
		if w.ProposerID != partyID {
			return models.NewError(models.CodeRejected, "only the proposer can cancel a wager")
		}
		if w.State != models.WagerStateOpen {
			return models.Errorf(models.CodeRejected, "wager %s is already %s", w.ID, w.State)
		}

		next, err := w.Cancel(partyID, se.now())
		if err != nil {
			return err
		}
		if err := tx.Swap(ctx, w, next); err != nil {
			return err
		}
		if err := tx.Debit(ctx, models.EscrowPartyID(w.ID), w.ProposerItems); err != nil {
			return err
		}
		if err := tx.Credit(ctx, w.ProposerID, w.ProposerItems); err != nil {
			return err
		}
		cancelled = next
		return nil
	})
	return cancelled, err
}

// ExpireStaleWagers cancels open wagers created more than maxAge ago and
// returns how many it cancelled. Wagers joined or cancelled while the sweep
// runs are skipped.
func (se *SettlementEngine) ExpireStaleWagers(ctx context.Context, maxAge time.Duration) (int, error) {
	open, err := se.store.ListOpenWagers(ctx, store.MaxListLimit)
	if err != nil {
		return 0, err
	}

	cutoff := se.now().Add(-maxAge)
	expired := 0
	for _, w := range open {
		if !w.CreatedAt.Before(cutoff) {
			break
		}

		cancelled, err := se.cancel(ctx, w.ID, w.ProposerID)
		if errors.Is(err, models.ErrRejected) || errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire wager %s: %w", w.ID, err)
		}

		expired++
		if err := se.broadcaster.BroadcastWagerCancelled(cancelled.Public()); err != nil {
			log.Printf("failed to broadcast expiry of wager %s: %v", w.ID, err)
		}
	}
	return expired, nil
}

// AuditWager reveals the commitment of a settled wager and recomputes it.
func (se *SettlementEngine) AuditWager(ctx context.Context, wagerID string) (*models.AuditRecord, error) {
	w, err := se.store.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}
	if w.State != models.WagerStateSettled {
		return nil, models.Errorf(models.CodeRejected, "wager %s has not settled", w.ID)
	}

	proof := VerifyProof(models.VerifyRequest{
		ServerSeed:     w.ServerSeed,
		ServerSeedHash: w.ServerSeedHash,
		ClientSeed:     w.ClientSeed,
	})

	return &models.AuditRecord{
		WagerID:        w.ID,
		ServerSeed:     w.ServerSeed,
		ServerSeedHash: w.ServerSeedHash,
		ClientSeed:     w.ClientSeed,
		Outcome:        w.Outcome,
		WinningSide:    w.WinningSide,
		Verified:       proof.Valid && proof.Outcome == w.Outcome && proof.WinningSide == w.WinningSide,
	}, nil
}

// VerifyProof checks a revealed seed against its commitment and recomputes
// the outcome. It needs no stored state.
func VerifyProof(req models.VerifyRequest) models.VerifyResponse {
	outcome := fairness.Resolve(req.ServerSeed, req.ClientSeed)
	return models.VerifyResponse{
		Valid:       fairness.Verify(req.ServerSeedHash, req.ServerSeed),
		Outcome:     outcome,
		WinningSide: fairness.SideFromOutcome(outcome),
	}
}

func (se *SettlementEngine) GetWager(ctx context.Context, wagerID string) (*models.Wager, error) {
	w, err := se.store.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}
	return w.Public(), nil
}

func (se *SettlementEngine) ListOpenWagers(ctx context.Context, limit int) ([]*models.Wager, error) {
	ws, err := se.store.ListOpenWagers(ctx, limit)
	if err != nil {
		return nil, err
	}
	return publicAll(ws), nil
}

func (se *SettlementEngine) ListPartyWagers(ctx context.Context, partyID string, limit int) ([]*models.Wager, error) {
	ws, err := se.store.ListPartyWagers(ctx, partyID, limit)
	if err != nil {
		return nil, err
	}
	return publicAll(ws), nil
}

// Deposit feeds items into a party's ledger from outside any wager.
func (se *SettlementEngine) Deposit(ctx context.Context, partyID string, items []models.Item) error {
	if err := models.ValidatePartyID(partyID); err != nil {
		return err
	}
	if err := models.ValidateItems(items); err != nil {
		return err
	}
	return se.store.Deposit(ctx, partyID, items)
}

func (se *SettlementEngine) Holdings(ctx context.Context, partyID string) ([]models.Item, error) {
	return se.store.Holdings(ctx, partyID)
}

// transact bounds fn by the configured timeout. A transaction that runs
// out of time is rolled back by the store and reported as a timeout.
func (se *SettlementEngine) transact(ctx context.Context, wagerID string, fn func(context.Context, store.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, se.cfg.TxTimeout)
	defer cancel()

	err := se.store.Transact(txCtx, wagerID, fn)
	if err == nil {
		return nil
	}
	if models.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded)) {
		return models.WrapError(models.CodeTransactionTimeout, "transaction timed out", err)
	}
	return err
}

func publicAll(ws []*models.Wager) []*models.Wager {
	out := make([]*models.Wager, len(ws))
	for i, w := range ws {
		out[i] = w.Public()
	}
	return out
}
