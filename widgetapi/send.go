// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

// SendStateEvent sets a state event and returns its event ID.
func (a *Adapter) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	return a.client.SendStateEvent(ctx, roomID, eventType, stateKey, content)
}

// SendRoomEvent sends a timeline event and returns its event ID.
func (a *Adapter) SendRoomEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	return a.client.SendEvent(ctx, roomID, eventType, content)
}

// SendDelayedStateEvent schedules a state event delay from now.
func (a *Adapter) SendDelayedStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, delay time.Duration, content any) (DelayID, error) {
	delayID, err := a.client.SendDelayedStateEvent(ctx, roomID, eventType, stateKey, delay, content)
	return DelayID(delayID), err
}

// SendDelayedRoomEvent schedules a timeline event delay from now.
func (a *Adapter) SendDelayedRoomEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, delay time.Duration, content any) (DelayID, error) {
	delayID, err := a.client.SendDelayedEvent(ctx, roomID, eventType, delay, content)
	return DelayID(delayID), err
}

// UpdateDelayedEvent sends, cancels, or restarts a scheduled event.
func (a *Adapter) UpdateDelayedEvent(ctx context.Context, delayID DelayID, action DelayedAction) error {
	return a.client.UpdateDelayedEvent(ctx, string(delayID), string(action))
}

// SendToDevice delivers content to each addressed device, keyed by user
// then device ID ("*" addresses every device of the user). The nested
// map is sent as one batch. Encrypted to-device messages are not
// supported.
func (a *Adapter) SendToDevice(ctx context.Context, eventType ref.EventType, encrypted bool, contentMap map[ref.UserID]map[string]any) error {
	if encrypted {
		return fmt.Errorf("widgetapi: encrypted to-device messages: %w", ErrNotImplemented)
	}
	users := slices.SortedFunc(maps.Keys(contentMap), func(a, b ref.UserID) int {
		return cmp.Compare(a.String(), b.String())
	})
	var messages []messaging.ToDeviceMessage
	for _, userID := range users {
		devices := contentMap[userID]
		for _, deviceID := range slices.Sorted(maps.Keys(devices)) {
			messages = append(messages, messaging.ToDeviceMessage{
				UserID:   userID,
				DeviceID: deviceID,
				Content:  devices[deviceID],
			})
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return a.client.SendToDevice(ctx, eventType, messages)
}
