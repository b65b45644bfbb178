// Package sessions is the short-lived cache of user snapshots keyed by email.
// It is best effort: callers fall back to the user store on a miss or error.
package sessions

import (
	"context"
	"time"
)

// Store caches opaque values with a time-to-live. A missing or expired key is
// reported as found=false, never as an error.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}
