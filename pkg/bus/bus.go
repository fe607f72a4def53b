// Package bus provides the event bus abstraction every other component
// rendezvous on: append-only streams (replay + blocking read), pub/sub
// channels (live fan-out), and key/value with TTL and atomic set membership.
//
// The only implementation is Redis (github.com/redis/go-redis/v9), but
// callers depend on the Bus interface so a fake can stand in for tests
// (see pkg/bus/bustest).
package bus

import (
	"context"
	"time"
)

// StreamID is a stream entry identifier. Within one stream, comparison order
// matches arrival order; across streams no ordering is implied.
type StreamID string

// Zero is the identifier used to mean "from the beginning of the stream".
const Zero StreamID = "0"

// StreamEntry is one (id, fields) record read from a stream.
type StreamEntry struct {
	ID     StreamID
	Fields map[string]string
}

// Subscription is a live pub/sub subscription.
type Subscription interface {
	// Channel delivers raw published payloads until the subscription is closed.
	Channel() <-chan []byte
	Close() error
}

// Bus is the event bus contract used by every domain package. Implementations
// must make Eval atomic with respect to concurrent callers across processes.
type Bus interface {
	// Publish broadcasts payload to channel. Subscribers that joined before
	// the call receive it; there is no replay for pub/sub.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a live subscription to channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// AppendStream appends one entry to stream and returns its assigned id.
	// maxLen, when > 0, approximately caps the stream length (trim-at-append).
	AppendStream(ctx context.Context, stream string, fields map[string]string, maxLen int64) (StreamID, error)

	// ReadBlocking reads entries with id > after, blocking up to block for at
	// least one entry to become available. A zero-length, nil-error result
	// means the block elapsed with nothing new (the caller should treat this
	// as a heartbeat tick, not an error).
	ReadBlocking(ctx context.Context, stream string, after StreamID, count int64, block time.Duration) ([]StreamEntry, error)

	// Range reads entries with lo < id <= hi. Use Zero for lo and "+" for hi
	// to mean "open-ended".
	Range(ctx context.Context, stream string, lo, hi StreamID) ([]StreamEntry, error)

	// Get/Set/Delete are the key/value primitives. ttl <= 0 means no expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Set membership (used for the work ledger).
	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)

	// LLen reports the length of a list-shaped key (used for queue depth).
	LLen(ctx context.Context, key string) (int64, error)

	// Incr atomically increments a counter key, setting ttl on first creation.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Eval runs a Lua script atomically against the given keys/args and
	// returns its result. This is the CAS primitive acquire-work-lock and
	// try-wake/record-wake are built on.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// PositiveInfinity is the upper bound sentinel accepted by Range
// implementations to mean "up to the newest entry".
const PositiveInfinity StreamID = "+"
