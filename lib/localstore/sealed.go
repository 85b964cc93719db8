// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/boardhost/lib/sealed"
)

// Sealed encrypts values to an age identity before handing them to the
// wrapped backend. Keys are stored in the clear.
type Sealed struct {
	inner    Storage
	identity *sealed.Identity
}

// NewSealed wraps inner. The identity is borrowed; the caller closes it.
func NewSealed(inner Storage, identity *sealed.Identity) *Sealed {
	return &Sealed{inner: inner, identity: identity}
}

// Get opens the inner store's ciphertext for key.
func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	ciphertext, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.identity.Open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("localstore: %q: %w", key, err)
	}
	return plaintext, nil
}

// Put seals value before writing it to the inner store.
func (s *Sealed) Put(ctx context.Context, key string, value []byte) error {
	ciphertext, err := s.identity.Seal(value)
	if err != nil {
		return fmt.Errorf("localstore: %q: %w", key, err)
	}
	return s.inner.Put(ctx, key, ciphertext)
}

// Delete passes through to the inner store.
func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
