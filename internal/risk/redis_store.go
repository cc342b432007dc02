package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore persists assessments in Redis. The active index is a plain
// key per investment; swaps run under WATCH so a concurrent writer aborts
// the transaction, which surfaces as ErrConflict.
//
// Layout under prefix p:
//
//	p:assessment:<id>        JSON body
//	p:active:<investmentID>  active assessment ID
//	p:active_set             ZSET of active IDs by computedAt
//	p:due                    ZSET of active IDs by nextAssessmentAt
//	p:borrower:<borrowerID>  ZSET of all IDs by computedAt
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed assessment store. An empty prefix
// defaults to "risk".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "risk"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) assessmentKey(id string) string { return r.prefix + ":assessment:" + id }
func (r *RedisStore) activeKey(investmentID string) string {
	return r.prefix + ":active:" + investmentID
}
func (r *RedisStore) activeSetKey() string { return r.prefix + ":active_set" }
func (r *RedisStore) dueKey() string       { return r.prefix + ":due" }
func (r *RedisStore) borrowerKey(borrowerID string) string {
	return r.prefix + ":borrower:" + borrowerID
}

func zscore(t time.Time) float64 { return float64(t.UnixMilli()) }

func (r *RedisStore) Get(ctx context.Context, id string) (*Assessment, error) {
	return r.load(ctx, r.client, id)
}

func (r *RedisStore) GetActive(ctx context.Context, investmentID string) (*Assessment, error) {
	id, err := r.client.Get(ctx, r.activeKey(investmentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active index: %w", err)
	}
	return r.load(ctx, r.client, id)
}

// stringGetter is satisfied by both the client and a WATCH transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c stringGetter, id string) (*Assessment, error) {
	raw, err := c.Get(ctx, r.assessmentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	var a Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &a, nil
}

func (r *RedisStore) Activate(ctx context.Context, next *Assessment, expectedActiveID string) error {
	stored := next.Clone()
	stored.IsActive = true
	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	activeKey := r.activeKey(next.InvestmentID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		currentID, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get active index: %w", err)
		}
		if currentID != expectedActiveID {
			return ErrConflict
		}

		var prevBody []byte
		if currentID != "" {
			// An override racing with this swap must abort one of the two.
			if err := tx.Watch(ctx, r.assessmentKey(currentID)).Err(); err != nil {
				return fmt.Errorf("watch previous assessment: %w", err)
			}
			prev, err := r.load(ctx, tx, currentID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if prev != nil {
				prev.IsActive = false
				if prevBody, err = json.Marshal(prev); err != nil {
					return fmt.Errorf("marshal previous assessment: %w", err)
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if currentID != "" {
				if prevBody != nil {
					pipe.Set(ctx, r.assessmentKey(currentID), prevBody, 0)
				}
				pipe.ZRem(ctx, r.activeSetKey(), currentID)
				pipe.ZRem(ctx, r.dueKey(), currentID)
			}
			pipe.Set(ctx, r.assessmentKey(stored.ID), body, 0)
			pipe.Set(ctx, activeKey, stored.ID, 0)
			pipe.ZAdd(ctx, r.activeSetKey(), redis.Z{Score: zscore(stored.ComputedAt), Member: stored.ID})
			pipe.ZAdd(ctx, r.dueKey(), redis.Z{Score: zscore(stored.NextAssessmentAt), Member: stored.ID})
			pipe.ZAdd(ctx, r.borrowerKey(stored.BorrowerID), redis.Z{Score: zscore(stored.ComputedAt), Member: stored.ID})
			return nil
		})
		return err
	}, activeKey)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisStore) Update(ctx context.Context, a *Assessment, expectedVersion int) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	key := r.assessmentKey(a.ID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if !cur.IsActive || cur.Version != expectedVersion {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.ZAdd(ctx, r.dueKey(), redis.Z{Score: zscore(a.NextAssessmentAt), Member: a.ID})
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisStore) ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*Assessment, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, r.borrowerKey(borrowerID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list borrower assessments: %w", err)
	}
	return r.loadMany(ctx, ids)
}

func (r *RedisStore) ListActive(ctx context.Context, since time.Time, limit int) ([]*Assessment, error) {
	ids, err := r.client.ZRevRangeByScore(ctx, r.activeSetKey(), &redis.ZRangeBy{
		Min:   strconv.FormatFloat(zscore(since), 'f', -1, 64),
		Max:   "+inf",
		Count: int64(max(limit, 0)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list active assessments: %w", err)
	}
	return r.loadMany(ctx, ids)
}

func (r *RedisStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Assessment, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(zscore(before), 'f', -1, 64),
		Count: int64(max(limit, 0)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due assessments: %w", err)
	}
	return r.loadMany(ctx, ids)
}

func (r *RedisStore) loadMany(ctx context.Context, ids []string) ([]*Assessment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.assessmentKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load assessments: %w", err)
	}
	out := make([]*Assessment, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // evicted or deleted between index read and load
		}
		var a Assessment
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

// Ping checks connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
