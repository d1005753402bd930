// Package cache stores finalized session snapshots so a client can read the
// outcome of an interview after its controller is gone.
package cache

import (
	"context"
	"time"
)

// Cache is a JSON key value store. Implementations add their own namespace
// prefix to every key.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SnapshotKey is where the final snapshot of a thread is kept.
func SnapshotKey(threadID string) string { return "interview:" + threadID + ":snapshot" }
