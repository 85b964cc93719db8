// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key that has no value.
var ErrNotFound = errors.New("localstore: key not found")

// Storage is implemented by every backend. Implementations are safe for
// concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
