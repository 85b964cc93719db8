// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventbridge

import (
	"context"
	"sync"
)

// Stream delivers values on Events until it ends. It ends when its
// context is done, Close is called, the underlying feed shuts down, or
// the replay read fails; Err then reports why.
type Stream[T any] struct {
	events chan T
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func newStream[T any](ctx context.Context) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream[T]{
		events: make(chan T),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Events returns the delivery channel. It is closed when the stream
// ends.
func (s *Stream[T]) Events() <-chan T { return s.events }

// Close ends the stream and waits for its goroutine to exit.
// Idempotent.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

// Err returns why the stream ended: nil while it runs or after Close,
// otherwise the context, feed, or replay error.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// send blocks until the consumer takes value or the stream ends.
func (s *Stream[T]) send(value T) bool {
	select {
	case s.events <- value:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// end records err unless the consumer closed the stream, then closes the
// delivery channel. A nil err records the context's error. Called
// exactly once, by the stream goroutine.
func (s *Stream[T]) end(err error) {
	s.mu.Lock()
	if !s.closed {
		if err == nil {
			err = s.ctx.Err()
		}
		s.err = err
	}
	s.mu.Unlock()
	close(s.events)
	s.cancel()
	close(s.done)
}
