// Package store provides the key-value persistence capability the engine
// uses for attempt drafts and countdown snapshots.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal key-value capability the engine persists through.
// Implementations return ErrNotFound for absent keys. Callers must treat
// any error as "value absent": a broken store degrades resume fidelity
// but never blocks an attempt.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
