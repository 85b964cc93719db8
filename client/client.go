// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/boardhost/lib/clock"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("client: already started")

	// ErrStopped is returned by Start after Stop, and by
	// WaitForFirstSync when the client stops before its first sync.
	ErrStopped = errors.New("client: stopped")
)

// Config holds the settings for New.
type Config struct {
	// Session is the authenticated session. The client takes
	// ownership and closes it on Stop.
	Session *messaging.DirectSession

	// SyncTimeout is the incremental /sync long-poll duration.
	// Default: 30 seconds.
	SyncTimeout time.Duration

	// SyncFilter is an optional inline JSON filter.
	SyncFilter string

	// MaxBackoff caps the retry delay after a failed /sync. Default:
	// 30 seconds.
	MaxBackoff time.Duration

	// TURNRefreshFloor is the shortest interval between TURN
	// credential checks. Default: 5 minutes.
	TURNRefreshFloor time.Duration

	// TimelineLimit bounds the timeline kept per room. Default:
	// DefaultTimelineLimit.
	TimelineLimit int

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a running Matrix participant. The embedded session provides
// the request methods (send, join, kick, and so on); Client adds the
// sync loop, room store, push feeds, and TURN polling.
type Client struct {
	*messaging.DirectSession

	syncTimeout time.Duration
	syncFilter  string
	maxBackoff  time.Duration
	turnFloor   time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	// feedMu orders room reads against apply-then-emit, so a read never
	// observes a room event that listeners have not been handed yet.
	feedMu   sync.RWMutex
	rooms    *roomStore
	events   listeners[messaging.Event]
	toDevice listeners[messaging.ToDeviceEvent]
	turn     turnState

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	running     sync.WaitGroup

	firstSync     chan struct{}
	firstSyncOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	doneErr  error
}

// New builds a stopped client around config.Session.
func New(config Config) (*Client, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("client: Session is required")
	}
	client := &Client{
		DirectSession: config.Session,
		syncTimeout:   config.SyncTimeout,
		syncFilter:    config.SyncFilter,
		maxBackoff:    config.MaxBackoff,
		turnFloor:     config.TURNRefreshFloor,
		clock:         config.Clock,
		logger:        config.Logger,
		firstSync:     make(chan struct{}),
		done:          make(chan struct{}),
	}
	if client.syncTimeout <= 0 {
		client.syncTimeout = 30 * time.Second
	}
	if client.maxBackoff <= 0 {
		client.maxBackoff = 30 * time.Second
	}
	if client.turnFloor <= 0 {
		client.turnFloor = 5 * time.Minute
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	limit := config.TimelineLimit
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	client.rooms = newRoomStore(limit)
	return client, nil
}

// Start checks TURN support and launches the sync loop and, when the
// homeserver supports it, the TURN poller. It returns without waiting
// for the first sync; see WaitForFirstSync. ctx bounds only the TURN
// check; the loops run until Stop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	nextTURNCheck := c.checkTURN(ctx)

	loopContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.running.Add(1)
	go func() {
		defer c.running.Done()
		defer c.finish(ErrStopped)
		c.syncLoop(loopContext)
	}()

	if nextTURNCheck > 0 {
		c.running.Add(1)
		go func() {
			defer c.running.Done()
			c.turnLoop(loopContext, nextTURNCheck)
		}()
	}

	c.logger.Info("matrix client started", "user_id", c.UserID(), "device_id", c.DeviceID())
	return nil
}

// WaitForFirstSync blocks until the initial sync has been applied to the
// room store. It fails if the client stops first or the sync loop gives
// up because the session is no longer valid.
func (c *Client) WaitForFirstSync(ctx context.Context) error {
	select {
	case <-c.firstSync:
		return nil
	default:
	}
	select {
	case <-c.firstSync:
		return nil
	case <-c.done:
		select {
		case <-c.firstSync:
			return nil
		default:
		}
		return c.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the loops, waits for them to return, and closes the
// session. In-flight requests are cancelled; nothing is abandoned
// mid-write to the room store. Idempotent.
func (c *Client) Stop() {
	c.lifecycleMu.Lock()
	if c.stopped {
		c.lifecycleMu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.running.Wait()
	c.finish(ErrStopped)
	if err := c.DirectSession.Close(); err != nil {
		c.logger.Warn("releasing session tokens failed", "error", err)
	}
	c.logger.Info("matrix client stopped", "user_id", c.UserID())
}

// Close is Stop. It shadows the session's Close so the loops never
// outlive the tokens they use.
func (c *Client) Close() error {
	c.Stop()
	return nil
}

// Done is closed once the sync loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the sync loop exited: ErrStopped after Stop, or the
// request error that ended it. Nil while running.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		c.doneErr = err
		close(c.done)
	})
}

// AddEventListener registers callback for every room event of every
// incremental sync. The returned function unregisters it. Callbacks
// run on the sync goroutine and must not call the room reads below.
func (c *Client) AddEventListener(callback func(messaging.Event)) (remove func()) {
	return c.events.add(callback)
}

// AddToDeviceListener registers callback for every to-device message.
func (c *Client) AddToDeviceListener(callback func(messaging.ToDeviceEvent)) (remove func()) {
	return c.toDevice.add(callback)
}

// JoinedRooms returns the IDs of the rooms currently in the room store.
func (c *Client) JoinedRooms() []ref.RoomID {
	c.feedMu.RLock()
	defer c.feedMu.RUnlock()
	return c.rooms.joined()
}

// RoomStateEvents returns the current state events of eventType in a
// loaded room, ordered by state key. Nil when the room is not loaded.
func (c *Client) RoomStateEvents(roomID ref.RoomID, eventType ref.EventType) []messaging.Event {
	c.feedMu.RLock()
	defer c.feedMu.RUnlock()
	return c.rooms.stateEvents(roomID, eventType)
}

// RoomTimeline returns a copy of a loaded room's timeline, oldest first.
func (c *Client) RoomTimeline(roomID ref.RoomID) []messaging.Event {
	c.feedMu.RLock()
	defer c.feedMu.RUnlock()
	return c.rooms.timeline(roomID)
}
