package kvstore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("key not found")

// Store defines a synchronous string key/value backend.
// Implementations may fail on quota or availability problems.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Kind names a backend implementation
type Kind string

const (
	KindSQLite  Kind = "sqlite"
	KindKeyring Kind = "keyring"
	KindMemory  Kind = "memory"
)

// Options configures Open
type Options struct {
	// Path is the database file for the sqlite backend
	Path string
	// Service is the keychain service name for the keyring backend
	Service string
}

// Open builds the backend named by kind
func Open(kind Kind, opts Options) (Store, error) {
	switch kind {
	case KindSQLite:
		return OpenSQLite(opts.Path)
	case KindKeyring:
		return NewKeyring(opts.Service), nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// Memory is a process-local store. It is the short-lived backend of last
// resort and the default in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
