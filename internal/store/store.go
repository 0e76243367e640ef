package store

import (
	"errors"
	"sync"

	"licensed/internal/license"
)

var (
	ErrNotFound = errors.New("license not found")
	ErrExists   = errors.New("license already exists")
)

// Store owns license records. Implementations are safe for concurrent use.
type Store interface {
	Close() error

	// Get returns a snapshot of the record stored under key.
	Get(key string) (license.License, error)
	// List returns every record in insertion order.
	List() ([]license.License, error)
	// WithLicense gives fn exclusive access to a private copy of the record
	// and commits the copy only when fn returns nil. Calls for the same key
	// are serialized; calls for different keys are not.
	WithLicense(key string, fn func(*license.License) error) (license.License, error)
	// Insert adds a new record. It never replaces an existing one.
	Insert(lic license.License) error
}

// keyLocks hands out one mutex per license key. An entry lives only while
// some caller holds or waits for it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
