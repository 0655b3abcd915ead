// Package keylock serialises mutations per entity id.
//
// A Locker hands out exclusive access to one id at a time using a fixed set of
// sharded mutexes. The context passed to the guarded function records which
// shard and id are held, so a nested call that arrives through that context
// (for example a payment callback that calls back into the engine) is either
// rejected, when it targets the same id, or runs under the shard already held,
// when it targets another id hashed to the same shard. Nested calls therefore
// never deadlock.
package keylock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	dErrors "receiv3/pkg/domain-errors"
)

// ErrReentrant is returned when a guarded function re-enters its own key.
var ErrReentrant = errors.New("reentrant call")

const (
	defaultShards  = 128
	defaultTimeout = 5 * time.Second
)

// Locker is safe for concurrent use. The zero value is not usable; call New.
type Locker struct {
	scope   string
	shards  []sync.Mutex
	timeout time.Duration
}

type Option func(*Locker)

// WithShards overrides the shard count.
func WithShards(n int) Option {
	return func(l *Locker) {
		if n > 0 {
			l.shards = make([]sync.Mutex, n)
		}
	}
}

// WithTimeout bounds how long a guarded function may run when the caller's
// context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(l *Locker) {
		l.timeout = d
	}
}

// New builds a Locker. Scope distinguishes lockers so that holding invoice 1
// does not look like holding pool 1.
func New(scope string, opts ...Option) *Locker {
	l := &Locker{scope: scope, shards: make([]sync.Mutex, defaultShards), timeout: defaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type held struct {
	locker *Locker
	shard  int
	key    uint64
	parent *held
}

type heldKey struct{}

// Held reports whether ctx is running inside a guarded function for key.
func (l *Locker) Held(ctx context.Context, key uint64) bool {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.locker == l && h.key == key {
			return true
		}
	}
	return false
}

// Run executes fn while holding key.
func (l *Locker) Run(ctx context.Context, key uint64, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	if l.Held(ctx, key) {
		return dErrors.Wrap(ErrReentrant, dErrors.CodeInvalidState, l.scope+" "+strconv.FormatUint(key, 10)+" is already being mutated")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	shard := int(key % uint64(len(l.shards)))
	if !l.shardHeld(ctx, shard) {
		l.shards[shard].Lock()
		defer l.shards[shard].Unlock()
	}

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}

	ctx = context.WithValue(ctx, heldKey{}, &held{locker: l, shard: shard, key: key, parent: heldFrom(ctx)})
	return fn(ctx)
}

func (l *Locker) shardHeld(ctx context.Context, shard int) bool {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.locker == l && h.shard == shard {
			return true
		}
	}
	return false
}

func heldFrom(ctx context.Context) *held {
	h, _ := ctx.Value(heldKey{}).(*held)
	return h
}
