package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bacoco/DevFlow-sub010/internal/protocol"
)

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
)

func (k opKind) String() string {
	if k == opUnsubscribe {
		return protocol.TypeUnsubscribe
	}
	return protocol.TypeSubscribe
}

// pendingOp is an outstanding subscribe or unsubscribe awaiting the
// server's confirmation. done is buffered so settling never blocks.
type pendingOp struct {
	kind opKind
	key  string
	done chan error
}

// Registry tracks confirmed subscriptions and routes confirmations and
// server errors to the calls waiting on them.
//
// The protocol has no request ids: a confirmation resolves the oldest
// pending call of the same kind whose subscription is structurally equal,
// and an error frame rejects the oldest pending call of any kind. At most
// one call per kind and key may be pending.
type Registry struct {
	send      func(protocol.Envelope) error
	connected func() bool
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	tracked []protocol.Subscription
	keys    map[string]int // key -> index in tracked
	pending []*pendingOp
}

// NewRegistry creates a registry. send writes an envelope to the live
// socket; connected reports whether one is open.
func NewRegistry(send func(protocol.Envelope) error, connected func() bool, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		send:      send,
		connected: connected,
		timeout:   timeout,
		logger:    logger,
		keys:      make(map[string]int),
	}
}

// Subscribe sends a subscribe frame and waits for the matching
// confirmation. The subscription is tracked only once confirmed.
func (r *Registry) Subscribe(ctx context.Context, sub protocol.Subscription) error {
	return r.do(ctx, opSubscribe, sub)
}

// Unsubscribe sends an unsubscribe frame and waits for the matching
// confirmation, then stops tracking the subscription.
func (r *Registry) Unsubscribe(ctx context.Context, sub protocol.Subscription) error {
	return r.do(ctx, opUnsubscribe, sub)
}

func (r *Registry) do(ctx context.Context, kind opKind, sub protocol.Subscription) error {
	if !r.connected() {
		return ErrNotConnected
	}

	op := &pendingOp{kind: kind, key: sub.Key(), done: make(chan error, 1)}

	r.mu.Lock()
	for _, p := range r.pending {
		if p.kind == op.kind && p.key == op.key {
			r.mu.Unlock()
			return fmt.Errorf("%s %s: %w", kind, sub.Topic, ErrOperationPending)
		}
	}
	r.pending = append(r.pending, op)
	r.mu.Unlock()

	env, err := protocol.NewEnvelope(kind.String(), sub)
	if err == nil {
		err = r.send(env)
	}
	if err != nil {
		r.remove(op)
		return fmt.Errorf("%s %s: %w", kind, sub.Topic, err)
	}

	waitCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	select {
	case err := <-op.done:
		if err != nil {
			return err
		}
		r.logger.Debug(kind.String()+" confirmed", "topic", sub.Topic)
		return nil
	case <-waitCtx.Done():
		if !r.remove(op) {
			// Settled concurrently with the deadline.
			return <-op.done
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", kind, sub.Topic, ErrTimeout)
		}
		return waitCtx.Err()
	}
}

// Confirm handles a subscription_confirmed or unsubscription_confirmed
// payload. Confirmations with no waiting call, such as those answering a
// replay, still update the tracked set. It reports whether a call was
// resolved.
func (r *Registry) Confirm(kind opKind, sub protocol.Subscription) bool {
	key := sub.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case opSubscribe:
		if _, ok := r.keys[key]; !ok {
			r.keys[key] = len(r.tracked)
			r.tracked = append(r.tracked, sub.Clone())
		}
	case opUnsubscribe:
		r.untrackLocked(key)
	}

	for i, p := range r.pending {
		if p.kind == kind && p.key == key {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			p.done <- nil
			return true
		}
	}
	return false
}

// Reject fails the oldest pending call with the server's message. It
// reports whether a call was waiting.
func (r *Registry) Reject(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return false
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	p.done <- &ProtocolError{Message: message}
	return true
}

// FailPending rejects every outstanding call with err.
func (r *Registry) FailPending(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pending {
		p.done <- err
	}
	r.pending = nil
}

// ReplayAll resends a subscribe frame for every tracked subscription
// without waiting for confirmations. It returns the number of frames sent.
func (r *Registry) ReplayAll() int {
	subs := r.Subscriptions()

	sent := 0
	for _, sub := range subs {
		env, err := protocol.NewEnvelope(protocol.TypeSubscribe, sub)
		if err == nil {
			err = r.send(env)
		}
		if err != nil {
			r.logger.Warn("replay subscribe failed", "topic", sub.Topic, "error", err)
			continue
		}
		sent++
	}

	if len(subs) > 0 {
		r.logger.Info("replayed subscriptions", "sent", sent, "tracked", len(subs))
	}
	return sent
}

// Clear forgets every tracked subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = nil
	r.keys = make(map[string]int)
}

// Subscriptions returns a copy of the tracked set in subscription order.
func (r *Registry) Subscriptions() []protocol.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Subscription, len(r.tracked))
	for i, s := range r.tracked {
		out[i] = s.Clone()
	}
	return out
}

// Len returns the number of tracked subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// PendingCount returns the number of calls awaiting confirmation.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) remove(op *pendingOp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.pending {
		if p == op {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) untrackLocked(key string) {
	idx, ok := r.keys[key]
	if !ok {
		return
	}
	r.tracked = append(r.tracked[:idx], r.tracked[idx+1:]...)
	delete(r.keys, key)
	for k, i := range r.keys {
		if i > idx {
			r.keys[k] = i - 1
		}
	}
}
