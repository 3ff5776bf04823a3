package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/events"
	"github.com/bacoco/DevFlow-sub010/internal/protocol"
)

type subscriber interface {
	Subscribe(ctx context.Context, sub protocol.Subscription) error
}

// startupSubscriptions subscribes to the configured topics whenever the
// connection comes up. A topic stays pending until the server confirms it;
// confirmed topics are replayed by the manager after reconnects.
type startupSubscriptions struct {
	ctx    context.Context
	conn   subscriber
	logger *slog.Logger

	mu      sync.Mutex
	pending []protocol.Subscription
	running bool
	again   bool // a connect arrived while running
	wg      sync.WaitGroup
}

func newStartupSubscriptions(ctx context.Context, conn subscriber, topics []protocol.Subscription, logger *slog.Logger) *startupSubscriptions {
	pending := make([]protocol.Subscription, len(topics))
	for i, t := range topics {
		pending[i] = t.Clone()
	}
	return &startupSubscriptions{ctx: ctx, conn: conn, logger: logger, pending: pending}
}

// attach listens for transitions into CONNECTED.
func (s *startupSubscriptions) attach(bus *events.Bus) uuid.UUID {
	return events.Listen(bus, func(ev connection.StateChange) {
		if ev.To == connection.StateConnected {
			s.trigger()
		}
	})
}

// Pending returns the topics not yet confirmed.
func (s *startupSubscriptions) Pending() []protocol.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Subscription, len(s.pending))
	for i, p := range s.pending {
		out[i] = p.Clone()
	}
	return out
}

// wait blocks until the current subscribe run, if any, has finished.
func (s *startupSubscriptions) wait() {
	s.wg.Wait()
}

func (s *startupSubscriptions) trigger() {
	s.mu.Lock()
	if s.running {
		s.again = true
		s.mu.Unlock()
		return
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	todo := append([]protocol.Subscription(nil), s.pending...)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(todo)
}

func (s *startupSubscriptions) run(todo []protocol.Subscription) {
	defer s.wg.Done()

	for {
		failed := s.subscribeAll(todo)

		s.mu.Lock()
		s.pending = failed
		if !s.again || len(failed) == 0 {
			s.again = false
			s.running = false
			s.mu.Unlock()
			return
		}
		s.again = false
		todo = append([]protocol.Subscription(nil), failed...)
		s.mu.Unlock()
	}
}

func (s *startupSubscriptions) subscribeAll(todo []protocol.Subscription) []protocol.Subscription {
	var failed []protocol.Subscription
	for _, sub := range todo {
		if err := s.conn.Subscribe(s.ctx, sub); err != nil {
			s.logger.Warn("subscribe failed, retrying on next connect", "topic", sub.Topic, "error", err)
			failed = append(failed, sub)
			continue
		}
		s.logger.Info("subscribed", "topic", sub.Topic)
	}
	return failed
}
