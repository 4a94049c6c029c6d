// Package actorhost provides the single-writer mailbox substrate backing
// components D (ChallengeStore), E (SessionStore), F (RefreshRotator), and
// G (RevocationIndex): one goroutine per shard serializes every mutation
// against that shard's state, so no locks are needed inside an actor
// (spec.md §5).
//
// There is no single-writer-actor abstraction in the teacher (dex mutates
// storage directly via CAS-style Update* calls); shard goroutines here are
// created lazily and run for the process lifetime, so they are supervised
// directly by Host rather than by oklog/run.Group (that library's
// run-until-one-exits model fits cmd/authrimctl's fixed set of top-level
// services better — see cmd/authrimctl, grounded on cmd/dex/serve.go).
package actorhost

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// Op is a unit of work submitted to a shard's mailbox. Its fn runs on the
// shard's single goroutine; it must not block on anything other than the
// ctx it receives.
type Op struct {
	ctx    context.Context
	fn     func(ctx context.Context) (interface{}, error)
	result chan opResult
}

type opResult struct {
	val interface{}
	err error
}

// shard is one single-writer goroutine with a buffered mailbox.
type shard struct {
	name   string
	mail   chan Op
	done   chan struct{}
}

func newShard(name string, mailboxSize int) *shard {
	return &shard{
		name: name,
		mail: make(chan Op, mailboxSize),
		done: make(chan struct{}),
	}
}

func (s *shard) run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case op, ok := <-s.mail:
			if !ok {
				return nil
			}
			if op.ctx.Err() != nil {
				// The submitter gave up before pickup and RPC has already
				// returned; the op is dropped without being applied.
				continue
			}
			val, err := op.fn(op.ctx)
			select {
			case op.result <- opResult{val: val, err: err}:
			case <-op.ctx.Done():
			}
		}
	}
}

// Host names and supervises single-writer shard goroutines, one per actor
// name, each started on first use. Callers obtain a named actor with ActorByName and invoke
// work on it with RPC; Host guarantees all work for a given name is
// strictly ordered.
type Host struct {
	mailboxSize int

	mu     sync.Mutex
	shards map[string]*shard
	cancel context.CancelFunc
	ctx    context.Context
}

// NewHost creates a Host. Shards are created lazily on first use of a
// given actor name (ShardRouter-computed instance names are unbounded in
// principle, so we do not pre-allocate).
func NewHost(mailboxSize int) *Host {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		mailboxSize: mailboxSize,
		shards:      make(map[string]*shard),
		cancel:      cancel,
		ctx:         ctx,
	}
	return h
}

// Actor is the handle returned by ActorByName, matching the ActorHost
// contract's actorByName(name) -> {fetch(req), rpc(method,args)} shape
// from spec.md §6. RPC is this system's fetch/rpc combined into one
// synchronous call: the function closure plays the role of the
// method+args pair.
type Actor interface {
	// RPC submits fn to run, in order, on the actor's single goroutine and
	// blocks until it completes or ctx is done. The mutation is either
	// fully applied before RPC returns, or (on ctx cancellation before the
	// shard picks it up) not applied at all — never partially.
	RPC(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

type actorHandle struct {
	h *Host
	s *shard
}

func (a actorHandle) RPC(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	resultCh := make(chan opResult, 1)
	op := Op{ctx: ctx, fn: fn, result: resultCh}

	select {
	case a.s.mail <- op:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.h.ctx.Done():
		return nil, fmt.Errorf("actorhost: host shutting down")
	}

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActorByName resolves (creating if necessary) the shard goroutine for
// name, which callers compute via shard.Router.RouteByID/NewInstanceName
// so that the same identifier always lands on the same actor as long as
// its generation is current or retained (spec.md §8 invariant).
func (h *Host) ActorByName(name string) Actor {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.shards[name]
	if !ok {
		s = newShard(name, h.mailboxSize)
		h.shards[name] = s
		go func(s *shard) {
			_ = s.run(h.ctx)
		}(s)
	}
	return actorHandle{h: h, s: s}
}

// ShardCount is a debugging/health aid, not part of the ActorHost contract.
func (h *Host) ShardCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shards)
}

// Close cancels the host context and returns at once: each shard goroutine
// exits after the operation it is running, if any, and operations still
// queued in a mailbox are not run. Close does not wait for either.
func (h *Host) Close() {
	h.cancel()
}

// StableHash is exposed for components that need a fallback, in-process
// sharding key unrelated to ShardRouter's generation-aware identifiers
// (e.g. spreading ChallengeStore types across a small fixed pool).
func StableHash(key string, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(modulus))
}
