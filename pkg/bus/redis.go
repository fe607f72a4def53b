package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on top of a single *redis.Client.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan []byte
}

func (s *redisSubscription) Channel() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan []byte, 64)}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			select {
			case sub.out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func (b *RedisBus) AppendStream(ctx context.Context, stream string, fields map[string]string, maxLen int64) (StreamID, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: fieldsToValues(fields),
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := b.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return StreamID(id), nil
}

func (b *RedisBus) ReadBlocking(ctx context.Context, stream string, after StreamID, count int64, block time.Duration) ([]StreamEntry, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, string(after)},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread %s: %w", stream, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

func (b *RedisBus) Range(ctx context.Context, stream string, lo, hi StreamID) ([]StreamEntry, error) {
	start := string(lo)
	if start == "" {
		start = string(Zero)
	}
	end := string(hi)
	if end == "" {
		end = string(PositiveInfinity)
	}
	msgs, err := b.rdb.XRange(ctx, stream, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	entries := toEntries(msgs)
	// XRANGE is inclusive of `lo`; callers pass the last-seen id and expect
	// entries strictly after it, matching the spec's "after since" contract.
	if lo != Zero && len(entries) > 0 && entries[0].ID == lo {
		entries = entries[1:]
	}
	return entries, nil
}

func (b *RedisBus) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

func (b *RedisBus) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0
	}
	return b.rdb.Set(ctx, key, val, ttl).Err()
}

func (b *RedisBus) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

func (b *RedisBus) AddToSet(ctx context.Context, key, member string) error {
	return b.rdb.SAdd(ctx, key, member).Err()
}

func (b *RedisBus) RemoveFromSet(ctx context.Context, key, member string) error {
	return b.rdb.SRem(ctx, key, member).Err()
}

func (b *RedisBus) Members(ctx context.Context, key string) ([]string, error) {
	return b.rdb.SMembers(ctx, key).Result()
}

func (b *RedisBus) LLen(ctx context.Context, key string) (int64, error) {
	return b.rdb.LLen(ctx, key).Result()
}

func (b *RedisBus) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := b.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (b *RedisBus) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return b.rdb.Eval(ctx, script, keys, args...).Result()
}

func fieldsToValues(fields map[string]string) map[string]any {
	vals := make(map[string]any, len(fields))
	for k, v := range fields {
		vals[k] = v
	}
	return vals
}

func toEntries(msgs []redis.XMessage) []StreamEntry {
	entries := make([]StreamEntry, len(msgs))
	for i, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			} else {
				fields[k] = fmt.Sprintf("%v", v)
			}
		}
		entries[i] = StreamEntry{ID: StreamID(m.ID), Fields: fields}
	}
	return entries
}
