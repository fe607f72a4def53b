// Package bustest provides an in-memory bus.Bus fake for unit tests, so
// domain packages can be tested without a live Redis instance.
package bustest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/djinnbot/core/pkg/bus"
)

// Fake is a mutex-guarded, map-based implementation of bus.Bus. It
// reproduces the two CAS scripts pkg/bus/lua.go defines by prompt rather than
// by evaluating Lua, since the fake never runs a real Redis/Lua engine.
type Fake struct {
	mu sync.Mutex

	kv       map[string]kvEntry
	sets     map[string]map[string]struct{}
	lists    map[string][]string
	streams  map[string][]bus.StreamEntry
	seq      int64
	channels map[string][]chan []byte
}

type kvEntry struct {
	val     []byte
	expires time.Time
	hasTTL  bool
}

// New builds an empty Fake.
func New() *Fake {
	return &Fake{
		kv:       make(map[string]kvEntry),
		sets:     make(map[string]map[string]struct{}),
		lists:    make(map[string][]string),
		streams:  make(map[string][]bus.StreamEntry),
		channels: make(map[string][]chan []byte),
	}
}

var _ bus.Bus = (*Fake)(nil)

func (f *Fake) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

type fakeSub struct {
	out chan []byte
}

func (s *fakeSub) Channel() <-chan []byte { return s.out }
func (s *fakeSub) Close() error           { return nil }

func (f *Fake) Subscribe(_ context.Context, channel string) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 64)
	f.channels[channel] = append(f.channels[channel], ch)
	return &fakeSub{out: ch}, nil
}

func (f *Fake) AppendStream(_ context.Context, stream string, fields map[string]string, maxLen int64) (bus.StreamID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := bus.StreamID(fmt.Sprintf("%d-0", f.seq))
	f.streams[stream] = append(f.streams[stream], bus.StreamEntry{ID: id, Fields: fields})
	if maxLen > 0 && int64(len(f.streams[stream])) > maxLen {
		overflow := int64(len(f.streams[stream])) - maxLen
		f.streams[stream] = f.streams[stream][overflow:]
	}
	return id, nil
}

func (f *Fake) ReadBlocking(ctx context.Context, stream string, after bus.StreamID, count int64, block time.Duration) ([]bus.StreamEntry, error) {
	deadline := time.Now().Add(block)
	for {
		f.mu.Lock()
		entries := filterAfter(f.streams[stream], after)
		f.mu.Unlock()
		if len(entries) > 0 {
			if count > 0 && int64(len(entries)) > count {
				entries = entries[:count]
			}
			return entries, nil
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *Fake) Range(_ context.Context, stream string, lo, hi bus.StreamID) ([]bus.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := filterAfter(f.streams[stream], lo)
	if hi != "" && hi != bus.PositiveInfinity {
		var out []bus.StreamEntry
		for _, e := range entries {
			if e.ID.Compare(hi) <= 0 {
				out = append(out, e)
			}
		}
		entries = out
	}
	return entries, nil
}

func filterAfter(entries []bus.StreamEntry, after bus.StreamID) []bus.StreamEntry {
	if after == "" || after == bus.Zero {
		return append([]bus.StreamEntry(nil), entries...)
	}
	var out []bus.StreamEntry
	for _, e := range entries {
		if e.ID.After(after) {
			out = append(out, e)
		}
	}
	return out
}

func (f *Fake) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok {
		return nil, false, nil
	}
	if e.hasTTL && time.Now().After(e.expires) {
		delete(f.kv, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (f *Fake) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := kvEntry{val: val}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	f.kv[key] = e
	return nil
}

func (f *Fake) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.sets, k)
		delete(f.lists, k)
	}
	return nil
}

func (f *Fake) AddToSet(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	f.sets[key][member] = struct{}{}
	return nil
}

func (f *Fake) RemoveFromSet(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[key], member)
	return nil
}

func (f *Fake) Members(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (f *Fake) LLen(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *Fake) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.kv[key]
	n, _ := strconv.ParseInt(string(e.val), 10, 64)
	n++
	e.val = []byte(strconv.FormatInt(n, 10))
	if ttl > 0 && !e.hasTTL {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	f.kv[key] = e
	return n, nil
}

// Eval recognises the two named scripts in pkg/bus/lua.go by content and
// reproduces their atomic semantics directly in Go, guarded by f.mu so it is
// as atomic with respect to concurrent Fake callers as the real Lua script
// is with respect to concurrent Redis clients.
func (f *Fake) Eval(_ context.Context, script string, keys []string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(script, "acquire-work-lock") || strings.Contains(script, "SADD"):
		return f.evalAcquireWorkLock(keys, args)
	case strings.Contains(script, "try-wake") || strings.Contains(script, "cooldown"):
		return f.evalTryWake(keys, args)
	default:
		return nil, fmt.Errorf("bustest: unrecognised script")
	}
}

func (f *Fake) evalAcquireWorkLock(keys []string, args []any) (any, error) {
	lockKey, ledgerKey := keys[0], keys[1]
	val := fmt.Sprint(args[0])
	ttlSeconds, _ := strconv.ParseInt(fmt.Sprint(args[1]), 10, 64)
	member := fmt.Sprint(args[2])

	if _, exists := f.kv[lockKey]; exists {
		if !f.kv[lockKey].hasTTL || time.Now().Before(f.kv[lockKey].expires) {
			return int64(0), nil
		}
	}
	f.kv[lockKey] = kvEntry{val: []byte(val), hasTTL: true, expires: time.Now().Add(time.Duration(ttlSeconds) * time.Second)}
	if f.sets[ledgerKey] == nil {
		f.sets[ledgerKey] = make(map[string]struct{})
	}
	f.sets[ledgerKey][member] = struct{}{}
	return int64(1), nil
}

func (f *Fake) evalTryWake(keys []string, args []any) (any, error) {
	lastWakeKey, wakesTodayKey, minutesKey, pairKey, concurrentKey := keys[0], keys[1], keys[2], keys[3], keys[4]
	now, _ := strconv.ParseInt(fmt.Sprint(args[0]), 10, 64)
	cooldown, _ := strconv.ParseInt(fmt.Sprint(args[1]), 10, 64)
	maxWakes, _ := strconv.ParseInt(fmt.Sprint(args[2]), 10, 64)
	maxMinutes, _ := strconv.ParseInt(fmt.Sprint(args[3]), 10, 64)
	maxPair, _ := strconv.ParseInt(fmt.Sprint(args[4]), 10, 64)
	maxConcurrent, _ := strconv.ParseInt(fmt.Sprint(args[5]), 10, 64)
	minutesReserve, _ := strconv.ParseInt(fmt.Sprint(args[6]), 10, 64)

	lastWake, _ := strconv.ParseInt(string(f.kv[lastWakeKey].val), 10, 64)
	if lastWake > 0 && (now-lastWake) < cooldown {
		return []any{int64(0), "cooldown"}, nil
	}
	wakesToday, _ := strconv.ParseInt(string(f.kv[wakesTodayKey].val), 10, 64)
	if wakesToday >= maxWakes {
		return []any{int64(0), "daily_cap"}, nil
	}
	minutesToday, _ := strconv.ParseInt(string(f.kv[minutesKey].val), 10, 64)
	if minutesToday >= maxMinutes {
		return []any{int64(0), "session_budget"}, nil
	}
	pairCount, _ := strconv.ParseInt(string(f.kv[pairKey].val), 10, 64)
	if pairCount >= maxPair {
		return []any{int64(0), "pair_cap"}, nil
	}
	concurrent := int64(len(f.sets[concurrentKey]))
	if concurrent >= maxConcurrent {
		return []any{int64(0), "concurrency"}, nil
	}

	f.kv[lastWakeKey] = kvEntry{val: []byte(strconv.FormatInt(now, 10))}
	f.kv[wakesTodayKey] = kvEntry{val: []byte(strconv.FormatInt(wakesToday+1, 10))}
	f.kv[minutesKey] = kvEntry{val: []byte(strconv.FormatInt(minutesToday+minutesReserve, 10))}
	f.kv[pairKey] = kvEntry{val: []byte(strconv.FormatInt(pairCount+1, 10))}

	return []any{int64(1), ""}, nil
}
