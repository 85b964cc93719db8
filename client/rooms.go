// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

// DefaultTimelineLimit bounds the number of timeline events kept per
// room.
const DefaultTimelineLimit = 500

// roomStore holds the rooms the user has joined, as seen by /sync.
type roomStore struct {
	mu    sync.RWMutex
	limit int
	rooms map[ref.RoomID]*loadedRoom
}

type loadedRoom struct {
	state    map[stateKey]messaging.Event
	timeline []messaging.Event
}

type stateKey struct {
	eventType ref.EventType
	stateKey  string
}

func newRoomStore(limit int) *roomStore {
	return &roomStore{limit: limit, rooms: make(map[ref.RoomID]*loadedRoom)}
}

func compareRoomIDs(a, b ref.RoomID) int { return cmp.Compare(a.String(), b.String()) }

// apply folds one sync response into the store and returns the room
// events it carried, in delivery order: rooms sorted by ID, and within a
// room its state section before its timeline. Every returned event has
// RoomID set.
func (s *roomStore) apply(response *messaging.SyncResponse) []messaging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delivered []messaging.Event
	for _, roomID := range slices.SortedFunc(maps.Keys(response.Rooms.Join), compareRoomIDs) {
		joined := response.Rooms.Join[roomID]
		room := s.rooms[roomID]
		if room == nil {
			room = &loadedRoom{state: make(map[stateKey]messaging.Event)}
			s.rooms[roomID] = room
		}
		if joined.Timeline.Limited {
			room.timeline = nil
		}
		for _, event := range joined.State.Events {
			if !event.IsState() {
				continue
			}
			event.RoomID = roomID
			room.setState(event)
			delivered = append(delivered, event)
		}
		for _, event := range joined.Timeline.Events {
			event.RoomID = roomID
			if event.IsState() {
				room.setState(event)
			}
			room.timeline = append(room.timeline, event)
			delivered = append(delivered, event)
		}
		if excess := len(room.timeline) - s.limit; excess > 0 {
			room.timeline = slices.Clone(room.timeline[excess:])
		}
	}

	for _, roomID := range slices.SortedFunc(maps.Keys(response.Rooms.Leave), compareRoomIDs) {
		for _, event := range response.Rooms.Leave[roomID].Timeline.Events {
			event.RoomID = roomID
			delivered = append(delivered, event)
		}
		delete(s.rooms, roomID)
	}
	return delivered
}

func (r *loadedRoom) setState(event messaging.Event) {
	r.state[stateKey{eventType: event.Type, stateKey: *event.StateKey}] = event
}

func (s *roomStore) joined() []ref.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.SortedFunc(maps.Keys(s.rooms), compareRoomIDs)
}

func (s *roomStore) stateEvents(roomID ref.RoomID, eventType ref.EventType) []messaging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil
	}
	var events []messaging.Event
	for key, event := range room.state {
		if key.eventType == eventType {
			events = append(events, event)
		}
	}
	slices.SortFunc(events, func(a, b messaging.Event) int {
		return cmp.Compare(*a.StateKey, *b.StateKey)
	})
	return events
}

func (s *roomStore) timeline(roomID ref.RoomID) []messaging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil
	}
	return slices.Clone(room.timeline)
}
