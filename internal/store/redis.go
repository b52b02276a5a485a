package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"coinflip-backend/internal/config"
	"coinflip-backend/internal/models"
)

// RedisStore keeps each wager as a JSON blob and each party ledger as a hash
// of item id to item JSON. Transactions are optimistic: the wager key and
// every ledger touched are WATCHed, writes are queued and applied in one
// MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Transact(ctx context.Context, wagerID string, fn func(context.Context, Tx) error) error {
	key := fmt.Sprintf(KeyWager, wagerID)

	for attempt := 0; attempt < RedisTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rt := &redisTx{
				tx:      tx,
				wagerID: wagerID,
				ledgers: make(map[string]map[string]*models.Item),
				owners:  make(map[string]string),
			}
			if err := fn(ctx, rt); err != nil {
				return err
			}
			return rt.exec(ctx)
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return staleSwap(wagerID)
}

func (s *RedisStore) GetWager(ctx context.Context, id string) (*models.Wager, error) {
	return loadWager(ctx, s.client, id)
}

func (s *RedisStore) ListOpenWagers(ctx context.Context, limit int) ([]*models.Wager, error) {
	ids, err := s.client.ZRange(ctx, KeyOpenWagers, 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get open wager ids: %w", err)
	}
	return s.bulkGetWagers(ctx, ids)
}

func (s *RedisStore) ListPartyWagers(ctx context.Context, partyID string, limit int) ([]*models.Wager, error) {
	key := fmt.Sprintf(KeyPartyWagers, partyID)
	ids, err := s.client.ZRevRange(ctx, key, 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get wager ids of %s: %w", partyID, err)
	}
	return s.bulkGetWagers(ctx, ids)
}

func (s *RedisStore) bulkGetWagers(ctx context.Context, ids []string) ([]*models.Wager, error) {
	wagers := []*models.Wager{}
	if len(ids) == 0 {
		return wagers, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyWager, id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get wager: %w", err)
		}

		var w models.Wager
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal wager: %w", err)
		}
		wagers = append(wagers, &w)
	}
	return wagers, nil
}

// depositScript refuses the whole batch when any item is already held by
// anyone. KEYS[1] is the ledger, KEYS[2..] the item owner keys; ARGV[1] is
// the party followed by id, json pairs.
var depositScript = redis.NewScript(`
	local ledger = KEYS[1]
	local party = ARGV[1]

	for k = 2, #KEYS do
		if redis.call("EXISTS", KEYS[k]) == 1 then
			return redis.error_reply("item already held: " .. ARGV[2 * k - 2])
		end
	end

	for k = 2, #KEYS do
		redis.call("HSET", ledger, ARGV[2 * k - 2], ARGV[2 * k - 1])
		redis.call("SET", KEYS[k], party)
	end

	return "OK"
`)

func (s *RedisStore) Deposit(ctx context.Context, partyID string, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, 0, 1+len(items))
	keys = append(keys, fmt.Sprintf(KeyLedger, partyID))
	args := make([]any, 0, 1+2*len(items))
	args = append(args, partyID)
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item %s: %w", it.ID, err)
		}
		keys = append(keys, fmt.Sprintf(KeyItemOwner, it.ID))
		args = append(args, it.ID, string(data))
	}

	err := depositScript.Run(ctx, s.client, keys, args...).Err()
	if err != nil && strings.Contains(err.Error(), "item already held") {
		return models.WrapError(models.CodeConflict, "deposit rejected", err)
	}
	if err != nil {
		return fmt.Errorf("deposit to %s: %w", partyID, err)
	}
	return nil
}

func (s *RedisStore) Holdings(ctx context.Context, partyID string) ([]models.Item, error) {
	raw, err := s.client.HGetAll(ctx, fmt.Sprintf(KeyLedger, partyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings of %s: %w", partyID, err)
	}

	items := make([]models.Item, 0, len(raw))
	for id, data := range raw {
		var it models.Item
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item %s: %w", id, err)
		}
		items = append(items, it)
	}
	models.SortItemsByID(items)
	return items, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadWager(ctx context.Context, c stringGetter, id string) (*models.Wager, error) {
	data, err := c.Get(ctx, fmt.Sprintf(KeyWager, id)).Result()
	if err == redis.Nil {
		return nil, models.Errorf(models.CodeNotFound, "wager %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wager %s: %w", id, err)
	}

	var w models.Wager
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wager %s: %w", id, err)
	}
	return &w, nil
}

type redisTx struct {
	tx      *redis.Tx
	wagerID string
	queued  []func(pipe redis.Pipeliner)

	// ledgers overlays the writes queued so far on each watched ledger hash.
	// A nil item was removed earlier in this transaction.
	ledgers map[string]map[string]*models.Item
	// owners holds each item owner seen or written by this transaction;
	// "" means unowned.
	owners map[string]string
}

func (t *redisTx) exec(ctx context.Context) error {
	if len(t.queued) == 0 {
		return nil
	}
	_, err := t.tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, q := range t.queued {
			q(pipe)
		}
		return nil
	})
	return err
}

func (t *redisTx) Wager(ctx context.Context) (*models.Wager, error) {
	return loadWager(ctx, t.tx, t.wagerID)
}

func (t *redisTx) Insert(ctx context.Context, w *models.Wager) error {
	if w.ID != t.wagerID {
		return fmt.Errorf("insert wager %s in transaction bound to %s", w.ID, t.wagerID)
	}

	key := fmt.Sprintf(KeyWager, w.ID)
	n, err := t.tx.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check wager %s: %w", w.ID, err)
	}
	if n > 0 {
		return models.Errorf(models.CodeConflict, "wager %s already exists", w.ID)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal wager: %w", err)
	}

	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, data, 0)
		if w.State == models.WagerStateOpen {
			pipe.ZAdd(ctx, KeyOpenWagers, redis.Z{Score: createdScore(w), Member: w.ID})
		}
		addToHistory(ctx, pipe, w.ProposerID, w)
	})
	return nil
}

func (t *redisTx) Swap(ctx context.Context, prev, next *models.Wager) error {
	if prev.ID != t.wagerID || next.ID != t.wagerID {
		return fmt.Errorf("swap wager %s in transaction bound to %s", next.ID, t.wagerID)
	}

	cur, err := t.Wager(ctx)
	if err != nil {
		return err
	}
	if cur.Version != prev.Version || cur.State != models.WagerStateOpen || cur.CounterpartyID != "" {
		return staleSwap(t.wagerID)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal wager: %w", err)
	}

	key := fmt.Sprintf(KeyWager, next.ID)
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, data, 0)
		if next.State != models.WagerStateOpen {
			pipe.ZRem(ctx, KeyOpenWagers, next.ID)
		}
		if next.CounterpartyID != "" {
			addToHistory(ctx, pipe, next.CounterpartyID, next)
		}
	})
	return nil
}

func (t *redisTx) Debit(ctx context.Context, partyID string, items []models.Item) error {
	key, view, err := t.ledgerView(ctx, partyID, items)
	if err != nil {
		return err
	}
	for _, it := range items {
		held := view[it.ID]
		if held == nil || held.Value != it.Value {
			return insufficient(partyID, it)
		}
	}

	overlay := t.ledgers[key]
	ownerKeys := make([]string, len(items))
	for i, it := range items {
		overlay[it.ID] = nil
		t.owners[it.ID] = ""
		ownerKeys[i] = fmt.Sprintf(KeyItemOwner, it.ID)
	}
	ids := models.ItemIDs(items)
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.HDel(ctx, key, ids...)
		pipe.Del(ctx, ownerKeys...)
	})
	return nil
}

func (t *redisTx) Credit(ctx context.Context, partyID string, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	key, view, err := t.ledgerView(ctx, partyID, items)
	if err != nil {
		return err
	}
	owners, err := t.itemOwners(ctx, items)
	if err != nil {
		return err
	}
	for _, it := range items {
		if view[it.ID] != nil || owners[it.ID] != "" {
			return alreadyHeld(it)
		}
	}

	overlay := t.ledgers[key]
	fields := make([]any, 0, 2*len(items))
	ownerKeys := make([]string, len(items))
	for i, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item %s: %w", it.ID, err)
		}
		held := it
		overlay[it.ID] = &held
		t.owners[it.ID] = partyID
		fields = append(fields, it.ID, string(data))
		ownerKeys[i] = fmt.Sprintf(KeyItemOwner, it.ID)
	}
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, fields...)
		for _, k := range ownerKeys {
			pipe.Set(ctx, k, partyID, 0)
		}
	})
	return nil
}

// ledgerView watches the party's ledger and returns the current holding for
// each requested item as seen by this transaction.
func (t *redisTx) ledgerView(ctx context.Context, partyID string, items []models.Item) (string, map[string]*models.Item, error) {
	key := fmt.Sprintf(KeyLedger, partyID)

	overlay, watched := t.ledgers[key]
	if !watched {
		if err := t.tx.Watch(ctx, key).Err(); err != nil {
			return "", nil, fmt.Errorf("failed to watch %s: %w", key, err)
		}
		overlay = make(map[string]*models.Item)
		t.ledgers[key] = overlay
	}

	view := make(map[string]*models.Item, len(items))
	var missing []string
	for _, it := range items {
		if held, ok := overlay[it.ID]; ok {
			view[it.ID] = held
			continue
		}
		missing = append(missing, it.ID)
	}
	if len(missing) == 0 {
		return key, view, nil
	}

	vals, err := t.tx.HMGet(ctx, key, missing...).Result()
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var it models.Item
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return "", nil, fmt.Errorf("failed to unmarshal item %s: %w", missing[i], err)
		}
		view[missing[i]] = &it
	}
	return key, view, nil
}

// itemOwners watches each item's owner key and returns the owner as seen by
// this transaction.
func (t *redisTx) itemOwners(ctx context.Context, items []models.Item) (map[string]string, error) {
	owners := make(map[string]string, len(items))
	var missing, keys []string
	for _, it := range items {
		if owner, ok := t.owners[it.ID]; ok {
			owners[it.ID] = owner
			continue
		}
		missing = append(missing, it.ID)
		keys = append(keys, fmt.Sprintf(KeyItemOwner, it.ID))
	}
	if len(keys) == 0 {
		return owners, nil
	}

	if err := t.tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("failed to watch item owners: %w", err)
	}
	vals, err := t.tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item owners: %w", err)
	}
	for i, v := range vals {
		owner, _ := v.(string)
		t.owners[missing[i]] = owner
		owners[missing[i]] = owner
	}
	return owners, nil
}

func createdScore(w *models.Wager) float64 {
	return float64(w.CreatedAt.UnixMilli())
}

func addToHistory(ctx context.Context, pipe redis.Pipeliner, partyID string, w *models.Wager) {
	key := fmt.Sprintf(KeyPartyWagers, partyID)
	pipe.ZAdd(ctx, key, redis.Z{Score: createdScore(w), Member: w.ID})
	pipe.ZRemRangeByRank(ctx, key, 0, -(PartyHistorySize + 1))
}

var _ Store = (*RedisStore)(nil)
