// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import "sync"

// listeners is an ordered set of callbacks. Callbacks are invoked in
// registration order, outside the lock, so a callback may remove itself.
type listeners[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id       uint64
	callback func(T)
}

// add registers callback and returns a function that unregisters it.
// The returned function is idempotent.
func (l *listeners[T]) add(callback func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, callback: callback})
	return func() { l.remove(id) }
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for index, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:index:index], l.entries[index+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(value T) {
	l.mu.Lock()
	snapshot := make([]func(T), len(l.entries))
	for index, entry := range l.entries {
		snapshot[index] = entry.callback
	}
	l.mu.Unlock()
	for _, callback := range snapshot {
		callback(value)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
