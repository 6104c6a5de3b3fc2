// Package lock provides the cross-process single-writer lock taken around an
// index build. FileLock guards a workspace on one machine; RedisLock guards a
// workspace shared between machines.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block other builders
const DefaultTTL = 10 * time.Minute

// ErrNotHeld is returned by Extend when the lock belongs to another owner
// or has already been released
var ErrNotHeld = errors.New("lock not held by this owner")

// Locker is a named, expiring, owner-checked lock
type Locker interface {
	// Acquire returns false without error when another owner holds name
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release is a no-op when the lock is not held by this owner
	Release(ctx context.Context, name string) error
	// Extend resets the ttl of a lock held by this owner, else ErrNotHeld
	Extend(ctx context.Context, name string, ttl time.Duration) error
}

// generateOwnerID returns hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}
