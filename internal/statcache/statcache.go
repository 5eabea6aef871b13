// Package statcache memoizes filesystem existence checks keyed by absolute
// path: a tri-state result (unknown/found/not found) backed by a
// capacity-bounded table.Table so repeated requests for the same main-chunk
// file skip the stat(2) call.
package statcache

import (
	"os"

	"github.com/anaef/lws-go/internal/table"
)

// Status is the tri-state result of a file existence check.
type Status int

const (
	Unknown Status = iota
	Found
	NotFound
)

// Cache wraps a table.Table whose values are Status, keyed by filename.
type Cache struct {
	t *table.Table
}

// New creates a Cache with the given entry capacity (0 means unbounded).
// On overflow the oldest entry is evicted.
func New(cap int) *Cache {
	return &Cache{t: table.New(table.Policy{Cap: cap})}
}

// Stat returns whether filename names a regular file, consulting the cache
// first and calling os.Stat only on a cache miss. The result of a miss is
// cached as Found or NotFound for future lookups.
func (c *Cache) Stat(filename string) (bool, error) {
	if v, ok := c.t.Get(filename); ok {
		return v.(Status) == Found, nil
	}

	info, err := os.Stat(filename)
	switch {
	case err == nil && info.Mode().IsRegular():
		c.t.Set(filename, Found)
		return true, nil
	case os.IsNotExist(err):
		c.t.Set(filename, NotFound)
		return false, nil
	case err == nil:
		// Exists but isn't a regular file (directory, device, ...).
		c.t.Set(filename, NotFound)
		return false, nil
	default:
		// Some other stat error (permission, I/O): don't cache, it may be
		// transient.
		return false, err
	}
}
