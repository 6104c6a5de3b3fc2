package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileLock implements Locker with exclusively created files in a directory.
// The file holds the owner id and expiry, so a lock left by a crashed
// process is taken over once it expires.
type FileLock struct {
	dir     string
	ownerID string
}

// NewFileLock creates a file lock rooted at dir
func NewFileLock(dir string) *FileLock {
	return &FileLock{dir: dir, ownerID: generateOwnerID()}
}

// OwnerID returns the identifier written into lock files
func (l *FileLock) OwnerID() string {
	return l.ownerID
}

func (l *FileLock) path(name string) string {
	return filepath.Join(l.dir, name+".lock")
}

// Acquire creates the lock file, replacing it if its holder's ttl has passed
func (l *FileLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.create(name, ttl)
		if err != nil || ok {
			return ok, err
		}

		_, expires, err := l.read(name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if time.Now().Before(expires) {
			return false, nil
		}
		if err := os.Remove(l.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
	}
	return false, nil
}

func (l *FileLock) create(name string, ttl time.Duration) (bool, error) {
	f, err := os.OpenFile(l.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer f.Close()

	expires := time.Now().Add(ttl).UnixNano()
	if _, err := fmt.Fprintf(f, "%s\n%d\n", l.ownerID, expires); err != nil {
		_ = os.Remove(l.path(name))
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return true, nil
}

// Extend rewrites the expiry of a lock file this owner holds. The new
// content is renamed over the old file so readers never see a partial write.
func (l *FileLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owner, _, err := l.read(name)
	if errors.Is(err, os.ErrNotExist) || (err == nil && owner != l.ownerID) {
		return fmt.Errorf("extend lock %s: %w", name, ErrNotHeld)
	}
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(l.dir, name+".lock.*")
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	expires := time.Now().Add(ttl).UnixNano()
	_, werr := fmt.Fprintf(tmp, "%s\n%d\n", l.ownerID, expires)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), l.path(name))
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("extend lock %s: %w", name, werr)
	}
	return nil
}

// read parses a lock file. An unparsable file counts as expired.
func (l *FileLock) read(name string) (string, time.Time, error) {
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		return "", time.Time{}, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return "", time.Time{}, nil
	}
	nanos, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return lines[0], time.Time{}, nil
	}
	return lines[0], time.Unix(0, nanos), nil
}

// Release removes the lock file if this owner wrote it
func (l *FileLock) Release(_ context.Context, name string) error {
	owner, _, err := l.read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if owner != l.ownerID {
		return nil
	}
	if err := os.Remove(l.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
