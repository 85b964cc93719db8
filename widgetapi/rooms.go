// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

// TombstoneEventType marks a room as closed.
const TombstoneEventType ref.EventType = "m.room.tombstone"

// CloseRoomReason is the reason attached to the tombstone and every
// kick issued by CloseRoom.
const CloseRoomReason = "Room closed"

// maxConcurrentKicks bounds in-flight kick requests per CloseRoom.
const maxConcurrentKicks = 8

// TombstoneContent is the content of an m.room.tombstone event. An
// empty ReplacementRoom means the room was closed, not upgraded.
type TombstoneContent struct {
	Body            string `json:"body"`
	ReplacementRoom string `json:"replacement_room"`
}

// CloseRoom tombstones roomID, then kicks every member whose membership
// is join, knock, or invite. Members who left or were banned are not
// touched. Kicks are independent: a failed kick does not prevent the
// others, and every failure is reported in the joined error. The
// client's own user is kicked last so it keeps the power to kick the
// rest.
func (a *Adapter) CloseRoom(ctx context.Context, roomID ref.RoomID) error {
	tombstone := TombstoneContent{Body: CloseRoomReason}
	if _, err := a.client.SendStateEvent(ctx, roomID, TombstoneEventType, "", tombstone); err != nil {
		return fmt.Errorf("widgetapi: tombstoning %s: %w", roomID, err)
	}

	members, err := a.client.GetRoomMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("widgetapi: listing members of %s: %w", roomID, err)
	}

	self := a.client.UserID()
	var targets []ref.UserID
	kickSelf := false
	for _, member := range members {
		switch member.Membership {
		case messaging.MembershipJoin, messaging.MembershipKnock, messaging.MembershipInvite:
		default:
			continue
		}
		if member.UserID == self {
			kickSelf = true
			continue
		}
		targets = append(targets, member.UserID)
	}

	errs := make([]error, len(targets))
	var group errgroup.Group
	group.SetLimit(maxConcurrentKicks)
	for index, userID := range targets {
		group.Go(func() error {
			if err := a.client.KickUser(ctx, roomID, userID, CloseRoomReason); err != nil {
				errs[index] = fmt.Errorf("kicking %s: %w", userID, err)
			}
			return nil
		})
	}
	group.Wait()

	if kickSelf {
		if err := a.client.KickUser(ctx, roomID, self, CloseRoomReason); err != nil {
			errs = append(errs, fmt.Errorf("kicking %s: %w", self, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing room left members behind", "room_id", roomID, "error", err)
		return fmt.Errorf("widgetapi: closing %s: %w", roomID, err)
	}
	a.logger.Info("room closed", "room_id", roomID, "kicked", len(targets))
	return nil
}

// ReadStateEvents returns the current state events of eventType in the
// loaded rooms within scope. A nil stateKey matches any state key.
func (a *Adapter) ReadStateEvents(ctx context.Context, eventType ref.EventType, stateKey *string, scope RoomScope) ([]messaging.Event, error) {
	var events []messaging.Event
	for _, roomID := range scope.resolve(a.client.JoinedRooms()) {
		for _, event := range a.client.RoomStateEvents(roomID, eventType) {
			if stateKey != nil && (event.StateKey == nil || *event.StateKey != *stateKey) {
				continue
			}
			events = append(events, event)
		}
	}
	return events, ctx.Err()
}

// ReadRoomEvents returns the newest non-state events of eventType from
// each loaded room within scope, at most limit per room, oldest first.
// A non-nil msgtype also filters on content.msgtype. A limit of zero or
// less is unlimited.
func (a *Adapter) ReadRoomEvents(ctx context.Context, eventType ref.EventType, msgtype *string, scope RoomScope, limit int) ([]messaging.Event, error) {
	var events []messaging.Event
	for _, roomID := range scope.resolve(a.client.JoinedRooms()) {
		timeline := a.client.RoomTimeline(roomID)
		var matched []messaging.Event
		for index := len(timeline) - 1; index >= 0; index-- {
			if limit > 0 && len(matched) >= limit {
				break
			}
			event := timeline[index]
			if event.IsState() || event.Type != eventType {
				continue
			}
			if msgtype != nil && event.MessageType() != *msgtype {
				continue
			}
			matched = append(matched, event)
		}
		slices.Reverse(matched)
		events = append(events, matched...)
	}
	return events, ctx.Err()
}
