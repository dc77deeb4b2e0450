// Package lock serializes workflow mutations on a single key, either within
// one process or across processes through Redis.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker blocks until key is held or ctx is done. The returned func
// releases the lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
