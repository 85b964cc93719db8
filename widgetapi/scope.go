// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"slices"

	"github.com/bureau-foundation/boardhost/lib/ref"
)

// RoomScope selects the rooms a read or observation covers: either an
// explicit list or every loaded room. The zero value covers no rooms.
type RoomScope struct {
	rooms []ref.RoomID
	any   bool
}

// AnyRoom covers every loaded room.
func AnyRoom() RoomScope { return RoomScope{any: true} }

// Rooms covers exactly the given rooms.
func Rooms(roomIDs ...ref.RoomID) RoomScope {
	return RoomScope{rooms: slices.Clone(roomIDs)}
}

// Includes reports whether roomID is in scope.
func (s RoomScope) Includes(roomID ref.RoomID) bool {
	return s.any || slices.Contains(s.rooms, roomID)
}

// resolve returns the loaded rooms in scope, in the order given, or in
// the client's order for the wildcard.
func (s RoomScope) resolve(loaded []ref.RoomID) []ref.RoomID {
	if s.any {
		return loaded
	}
	var resolved []ref.RoomID
	for _, roomID := range s.rooms {
		if slices.Contains(loaded, roomID) && !slices.Contains(resolved, roomID) {
			resolved = append(resolved, roomID)
		}
	}
	return resolved
}
