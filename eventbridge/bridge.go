// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/boardhost/lib/clock"
	"github.com/bureau-foundation/boardhost/lib/fanout"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
	"github.com/bureau-foundation/boardhost/widgetapi"
)

// DefaultEchoTimeout bounds the wait for a write's echo.
const DefaultEchoTimeout = 60 * time.Second

var (
	// ErrEchoTimeout is returned when a write succeeded but its event
	// did not arrive on the feed within the echo timeout.
	ErrEchoTimeout = errors.New("eventbridge: write was not echoed in time")

	// ErrFeedClosed ends streams whose underlying feed shut down.
	ErrFeedClosed = errors.New("eventbridge: feed closed")
)

// API is the adapter surface the bridge consumes. *widgetapi.Adapter
// implements it.
type API interface {
	Events() *fanout.Subscriber[messaging.Event]
	ToDeviceEvents() *fanout.Subscriber[messaging.ToDeviceEvent]
	ReadStateEvents(ctx context.Context, eventType ref.EventType, stateKey *string, scope widgetapi.RoomScope) ([]messaging.Event, error)
	ReadRoomEvents(ctx context.Context, eventType ref.EventType, msgtype *string, scope widgetapi.RoomScope, limit int) ([]messaging.Event, error)
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)
	SendRoomEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)
}

var _ API = (*widgetapi.Adapter)(nil)

// Config holds the settings for New.
type Config struct {
	// EchoTimeout bounds how long a send waits for its echo. Zero
	// selects DefaultEchoTimeout; a negative value waits for as long
	// as the caller's context allows.
	EchoTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bridge is safe for concurrent use.
type Bridge struct {
	api         API
	echoTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// New returns a Bridge over api.
func New(api API, config Config) *Bridge {
	if config.EchoTimeout == 0 {
		config.EchoTimeout = DefaultEchoTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Bridge{
		api:         api,
		echoTimeout: config.EchoTimeout,
		clock:       config.Clock,
		logger:      config.Logger,
	}
}

// StateFilter narrows ObserveStateEvents. Scope selects the rooms; use
// widgetapi.AnyRoom for every loaded room.
type StateFilter struct {
	// StateKey, when set, must equal the event's state key.
	StateKey *string
	Scope    widgetapi.RoomScope
}

func (f StateFilter) matches(eventType ref.EventType, event messaging.Event) bool {
	if event.Type != eventType || !event.IsState() || !f.Scope.Includes(event.RoomID) {
		return false
	}
	return f.StateKey == nil || *event.StateKey == *f.StateKey
}

// RoomFilter narrows ObserveRoomEvents.
type RoomFilter struct {
	// MessageType, when set, must equal content.msgtype.
	MessageType *string
	Scope       widgetapi.RoomScope
}

func (f RoomFilter) matches(eventType ref.EventType, event messaging.Event) bool {
	if event.Type != eventType || event.IsState() || !f.Scope.Includes(event.RoomID) {
		return false
	}
	return f.MessageType == nil || event.MessageType() == *f.MessageType
}

// ObserveStateEvents streams the current state events of eventType
// matching filter, then every matching state event pushed afterwards.
func (b *Bridge) ObserveStateEvents(ctx context.Context, eventType ref.EventType, filter StateFilter) *Stream[messaging.Event] {
	replay := func(ctx context.Context) ([]messaging.Event, error) {
		return b.api.ReadStateEvents(ctx, eventType, filter.StateKey, filter.Scope)
	}
	return b.observe(ctx, replay, func(event messaging.Event) bool {
		return filter.matches(eventType, event)
	})
}

// ObserveRoomEvents streams the loaded timeline events of eventType
// matching filter, oldest first, then every matching event pushed
// afterwards.
func (b *Bridge) ObserveRoomEvents(ctx context.Context, eventType ref.EventType, filter RoomFilter) *Stream[messaging.Event] {
	replay := func(ctx context.Context) ([]messaging.Event, error) {
		return b.api.ReadRoomEvents(ctx, eventType, filter.MessageType, filter.Scope, 0)
	}
	return b.observe(ctx, replay, func(event messaging.Event) bool {
		return filter.matches(eventType, event)
	})
}

func (b *Bridge) observe(ctx context.Context, replay func(context.Context) ([]messaging.Event, error), match func(messaging.Event) bool) *Stream[messaging.Event] {
	// Subscribe before reading history so nothing pushed during the
	// read is missed.
	subscriber := b.api.Events()
	stream := newStream[messaging.Event](ctx)
	go func() {
		err := b.replayThenLive(stream, subscriber, replay, match)
		subscriber.Close()
		stream.end(err)
	}()
	return stream
}

// replayThenLive returns nil when the stream's context ends.
func (b *Bridge) replayThenLive(stream *Stream[messaging.Event], subscriber *fanout.Subscriber[messaging.Event], replay func(context.Context) ([]messaging.Event, error), match func(messaging.Event) bool) error {
	history, err := replay(stream.ctx)
	if err != nil {
		b.logger.Warn("event replay failed", "error", err)
		return fmt.Errorf("eventbridge: reading history: %w", err)
	}
	replayed := make(map[ref.EventID]struct{}, len(history))
	for _, event := range history {
		replayed[event.EventID] = struct{}{}
		if !stream.send(event) {
			return nil
		}
	}
	// Events queued while the history was read are already reflected
	// in it up to the last one the history contains. Anything queued
	// before that point is older than what was replayed.
	queued := subscriber.Drain()
	cut := 0
	for i, event := range queued {
		if _, seen := replayed[event.EventID]; seen {
			cut = i + 1
		}
	}
	for _, event := range queued[:cut] {
		delete(replayed, event.EventID)
	}
	for _, event := range queued[cut:] {
		if !match(event) {
			continue
		}
		if !stream.send(event) {
			return nil
		}
	}
	for {
		event, err := subscriber.Next(stream.ctx)
		if err != nil {
			return feedError(err)
		}
		if !match(event) {
			continue
		}
		if _, seen := replayed[event.EventID]; seen {
			delete(replayed, event.EventID)
			continue
		}
		if !stream.send(event) {
			return nil
		}
	}
}

// ObserveToDeviceMessages streams to-device messages of eventType
// received from now on.
func (b *Bridge) ObserveToDeviceMessages(ctx context.Context, eventType ref.EventType) *Stream[messaging.ToDeviceEvent] {
	subscriber := b.api.ToDeviceEvents()
	stream := newStream[messaging.ToDeviceEvent](ctx)
	go func() {
		var err error
		for {
			var event messaging.ToDeviceEvent
			event, err = subscriber.Next(stream.ctx)
			if err != nil {
				err = feedError(err)
				break
			}
			if event.Type == eventType && !stream.send(event) {
				err = nil
				break
			}
		}
		subscriber.Close()
		stream.end(err)
	}()
	return stream
}

func feedError(err error) error {
	if errors.Is(err, fanout.ErrClosed) {
		return ErrFeedClosed
	}
	return err
}

// SendStateEvent sets a state event and returns it as echoed by the
// server.
func (b *Bridge) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (messaging.Event, error) {
	return b.sendAndAwaitEcho(ctx, roomID, func(ctx context.Context) (ref.EventID, error) {
		return b.api.SendStateEvent(ctx, roomID, eventType, stateKey, content)
	})
}

// SendRoomEvent sends a timeline event and returns it as echoed by the
// server.
func (b *Bridge) SendRoomEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (messaging.Event, error) {
	return b.sendAndAwaitEcho(ctx, roomID, func(ctx context.Context) (ref.EventID, error) {
		return b.api.SendRoomEvent(ctx, roomID, eventType, content)
	})
}

func (b *Bridge) sendAndAwaitEcho(ctx context.Context, roomID ref.RoomID, send func(context.Context) (ref.EventID, error)) (messaging.Event, error) {
	// The subscription buffers everything from before the write, so
	// an echo that beats the write's response is still seen.
	subscriber := b.api.Events()
	defer subscriber.Close()

	eventID, err := send(ctx)
	if err != nil {
		return messaging.Event{}, err
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if b.echoTimeout > 0 {
		timer := b.clock.NewTimer(b.echoTimeout)
		defer timer.Stop()
		go func() {
			select {
			case <-timer.C:
				cancel(ErrEchoTimeout)
			case <-waitCtx.Done():
			}
		}()
	}

	for {
		event, err := subscriber.Next(waitCtx)
		if err != nil {
			if cause := context.Cause(waitCtx); errors.Is(cause, ErrEchoTimeout) {
				err = cause
			}
			return messaging.Event{}, fmt.Errorf("eventbridge: waiting for echo of %s in %s: %w", eventID, roomID, feedError(err))
		}
		if event.EventID == eventID && event.RoomID == roomID {
			return event, nil
		}
	}
}
