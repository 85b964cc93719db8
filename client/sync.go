// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/boardhost/messaging"
)

// syncLoop performs the initial /sync and then long-polls until ctx is
// cancelled. Transient failures back off exponentially from one second
// to maxBackoff. An invalid session ends the loop.
func (c *Client) syncLoop(ctx context.Context) {
	since := ""
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		options := messaging.SyncOptions{Since: since, Filter: c.syncFilter}
		if since != "" {
			options.Timeout = int(c.syncTimeout.Milliseconds())
			options.SetTimeout = true
		}

		response, err := c.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) || errors.Is(err, messaging.ErrSessionClosed) {
				c.logger.Error("sync stopped, session is no longer valid", "user_id", c.UserID(), "error", err)
				c.finish(err)
				return
			}
			c.logger.Warn("sync failed, retrying", "error", err, "backoff", backoff)
			timer := c.clock.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		backoff = time.Second
		initial := since == ""
		since = response.NextBatch
		c.process(response, initial)

		if initial {
			c.logger.Info("initial sync complete",
				"next_batch", response.NextBatch,
				"joined_rooms", len(response.Rooms.Join),
			)
			c.firstSyncOnce.Do(func() { close(c.firstSync) })
		}
	}
}

// process applies a sync response to the room store and pushes its
// contents to listeners. Room events of the initial sync are history and
// are not pushed; to-device messages are always pushed because the
// server delivers each one only once.
func (c *Client) process(response *messaging.SyncResponse, initial bool) {
	c.feedMu.Lock()
	events := c.rooms.apply(response)
	if !initial {
		for _, event := range events {
			c.events.emit(event)
		}
	}
	c.feedMu.Unlock()
	for _, event := range response.ToDevice.Events {
		c.toDevice.emit(event)
	}
}
