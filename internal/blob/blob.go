// Package blob defines the key-value byte store the expense list is
// persisted into, together with its backends.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store is a key-value store of opaque byte blobs. Set overwrites any
// previous value under the same key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}
