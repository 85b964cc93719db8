// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/boardhost/messaging"
)

// TURNServer is one set of TURN credentials issued by the homeserver.
type TURNServer struct {
	URIs     []string
	Username string
	Password string
	TTL      time.Duration
}

type turnState struct {
	mu        sync.Mutex
	polling   bool
	servers   []TURNServer
	listeners listeners[turnUpdate]
}

type turnUpdate struct {
	servers []TURNServer
	err     error
	fatal   bool
}

// PollingTURNServers reports whether the client is polling the
// homeserver for TURN credentials. False before Start, when the
// homeserver has no TURN endpoint, and after a fatal TURN error.
func (c *Client) PollingTURNServers() bool {
	c.turn.mu.Lock()
	defer c.turn.mu.Unlock()
	return c.turn.polling
}

// TURNServers returns the most recently issued TURN servers. Empty when
// none are configured or none have been fetched yet.
func (c *Client) TURNServers() []TURNServer {
	c.turn.mu.Lock()
	defer c.turn.mu.Unlock()
	return slices.Clone(c.turn.servers)
}

// AddTURNListener registers callbacks for TURN updates. onServers
// receives each newly issued server list. onError receives failed
// checks; fatal means polling has stopped for good.
func (c *Client) AddTURNListener(onServers func([]TURNServer), onError func(err error, fatal bool)) (remove func()) {
	return c.turn.listeners.add(func(update turnUpdate) {
		if update.err != nil {
			if onError != nil {
				onError(update.err, update.fatal)
			}
			return
		}
		if onServers != nil {
			onServers(update.servers)
		}
	})
}

// checkTURN fetches TURN credentials once and returns the delay until
// the next check, or zero when polling should stop.
//
// The next check is due halfway through the credential lifetime, but
// never sooner than turnFloor. A homeserver without the endpoint stops
// polling silently; M_FORBIDDEN (guest accounts) stops it with a fatal
// error; anything else is reported and retried after turnFloor.
func (c *Client) checkTURN(ctx context.Context) time.Duration {
	response, err := c.TURNCredentials(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		switch {
		case messaging.IsNotSupported(err):
			c.logger.Debug("homeserver does not issue TURN credentials")
			c.setTURNPolling(false)
			return 0
		case messaging.IsMatrixError(err, messaging.ErrCodeForbidden):
			c.logger.Warn("TURN credentials refused, polling stopped", "error", err)
			c.setTURNPolling(false)
			c.turn.listeners.emit(turnUpdate{err: err, fatal: true})
			return 0
		default:
			c.logger.Warn("TURN credential check failed", "error", err, "retry_in", c.turnFloor)
			c.setTURNPolling(true)
			c.turn.listeners.emit(turnUpdate{err: err})
			return c.turnFloor
		}
	}

	ttl := time.Duration(response.TTL) * time.Second
	var servers []TURNServer
	if len(response.URIs) > 0 {
		servers = []TURNServer{{
			URIs:     response.URIs,
			Username: response.Username,
			Password: response.Password,
			TTL:      ttl,
		}}
	}

	c.turn.mu.Lock()
	c.turn.polling = true
	c.turn.servers = servers
	c.turn.mu.Unlock()

	if len(servers) > 0 {
		c.logger.Debug("TURN credentials updated", "uris", len(response.URIs), "ttl", ttl)
		c.turn.listeners.emit(turnUpdate{servers: slices.Clone(servers)})
	}
	return max(ttl/2, c.turnFloor)
}

func (c *Client) setTURNPolling(polling bool) {
	c.turn.mu.Lock()
	defer c.turn.mu.Unlock()
	c.turn.polling = polling
	if !polling {
		c.turn.servers = nil
	}
}

// turnLoop re-checks TURN credentials until ctx is cancelled or a check
// stops polling.
func (c *Client) turnLoop(ctx context.Context, delay time.Duration) {
	for delay > 0 {
		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = c.checkTURN(ctx)
	}
}
