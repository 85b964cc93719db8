// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds one secret value. The zero value is not usable; use
// [New] or [FromString]. A Buffer must not be copied.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	size   int
	locked bool
	closed bool
}

// New copies source into a fresh protected region and zeroes source.
func New(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: empty value")
	}
	region, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise: %w", err)
	}
	// Unprivileged processes often have a tiny RLIMIT_MEMLOCK; an
	// unlocked region is still excluded from dumps and zeroed on Close.
	locked := unix.Mlock(region) == nil

	copy(region, source)
	Zero(source)
	return &Buffer{region: region, size: len(source), locked: locked}, nil
}

// FromString is New for values that arrive as strings (JSON fields,
// flags). The string itself cannot be scrubbed.
func FromString(value string) (*Buffer, error) {
	return New([]byte(value))
}

// String returns a heap copy for APIs that need one, such as an
// Authorization header.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read after Close")
	}
	return string(b.region[:b.size])
}

// Bytes returns a view into the protected region, valid until Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read after Close")
	}
	return b.region[:b.size]
}

// Len returns the length of the secret.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close zeroes and releases the region. Safe to call more than once and
// on a nil Buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.region)

	var errs []error
	if b.locked {
		if err := unix.Munlock(b.region); err != nil {
			errs = append(errs, fmt.Errorf("secret: munlock: %w", err))
		}
	}
	if err := unix.Munmap(b.region); err != nil {
		errs = append(errs, fmt.Errorf("secret: munmap: %w", err))
	}
	b.region = nil
	return errors.Join(errs...)
}

// Zero overwrites data with zero bytes.
func Zero(data []byte) {
	clear(data)
}
