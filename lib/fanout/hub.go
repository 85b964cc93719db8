// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanout multicasts one ordered feed to any number of
// independent subscribers without loss.
//
// Every [Subscriber] owns an unbounded FIFO. [Hub.Publish] appends to
// each queue and never blocks, so a slow reader neither stalls the
// publisher nor causes other subscribers to miss values. A subscriber
// sees exactly the values published after it subscribed, in publish
// order.
package fanout

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Subscriber.Next] once the subscriber was
// closed, or the hub was closed and the queue is drained.
var ErrClosed = errors.New("fanout: closed")

// Hub is safe for concurrent use. The zero value is not usable; call
// [New].
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[*Subscriber[T]]struct{}
	closed      bool
}

// New returns an open Hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{subscribers: make(map[*Subscriber[T]]struct{})}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub
// returns a subscriber whose Next reports ErrClosed.
func (h *Hub[T]) Subscribe() *Subscriber[T] {
	subscriber := &Subscriber[T]{hub: h, signal: make(chan struct{}, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		subscriber.hubClosed = true
		return subscriber
	}
	h.subscribers[subscriber] = struct{}{}
	return subscriber
}

// Publish appends value to every current subscriber's queue.
// Publishing to a closed hub is a no-op.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for subscriber := range h.subscribers {
		subscriber.push(value)
	}
}

// Close ends the feed. Subscribers still receive what was queued before
// Close, then ErrClosed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for subscriber := range h.subscribers {
		subscriber.endOfFeed()
	}
	clear(h.subscribers)
}

// Len returns the number of registered subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub[T]) remove(subscriber *Subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, subscriber)
}

// Subscriber is one reader of a Hub. Next must not be called from more
// than one goroutine at a time; Close may be called from any goroutine.
type Subscriber[T any] struct {
	hub *Hub[T]

	mu        sync.Mutex
	queue     []T
	hubClosed bool
	closed    bool
	// signal holds at most one token meaning "queue or flags changed".
	signal chan struct{}
}

func (s *Subscriber[T]) push(value T) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, value)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber[T]) endOfFeed() {
	s.mu.Lock()
	s.hubClosed = true
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber[T]) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, the subscriber or hub is
// closed, or ctx is done.
func (s *Subscriber[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return zero, ErrClosed
		case len(s.queue) > 0:
			value := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return value, nil
		case s.hubClosed:
			s.mu.Unlock()
			return zero, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drain removes and returns every value currently queued without
// blocking. Nil when the queue is empty or the subscriber is closed.
func (s *Subscriber[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil
	}
	values := s.queue
	s.queue = nil
	return values
}

// Close unregisters the subscriber and discards its queue. Idempotent.
func (s *Subscriber[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.hub.remove(s)
	s.notify()
}
