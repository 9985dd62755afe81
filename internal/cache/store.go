// Package cache is the client's local, synchronous key-value store. It
// mirrors whatever document the client currently displays so that a
// restart, or a store that cannot be reached, still finds the last plan.
package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted.
var ErrNotFound = errors.New("cache: key not found")

// Store is a small durable key-value store. Implementations are safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds the store named by driver. dir is the data directory for the
// file and sqlite drivers and is ignored by the memory driver.
func Open(driver, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return NewFileStore(dir)
	case DriverSQLite:
		return NewSQLiteStore(SQLitePath(dir))
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", driver)
	}
}
