package session

import (
	"context"
	"sync"
	"time"
)

// Storage is the durable key-value backing of the Session Actor. Values are
// JSON documents addressed by (userID, field). Implementations must be
// linearizable per key; the actor supplies single-writer discipline per user.
type Storage interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, userID, field string) ([]byte, bool, error)
	// Put replaces the stored value.
	Put(ctx context.Context, userID, field string, value []byte) error
}

// Locker grants an exclusive, expiring lease on one user's namespace. It is
// what keeps actors in different processes sharing one store from
// interleaving their read-modify-write sequences.
type Locker interface {
	// TryLock takes the lease for token unless another live lease holds it.
	TryLock(ctx context.Context, userID, token string, ttl time.Duration) (bool, error)
	// Unlock releases the lease if token still holds it.
	Unlock(ctx context.Context, userID, token string) error
}

type lease struct {
	token   string
	expires time.Time
}

// MemoryStorage keeps session fields in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	fields map[string]map[string][]byte
	leases map[string]lease
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		fields: make(map[string]map[string][]byte),
		leases: make(map[string]lease),
	}
}

func (m *MemoryStorage) Get(_ context.Context, userID, field string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.fields[userID][field]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryStorage) Put(_ context.Context, userID, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.fields[userID]
	if !ok {
		ns = make(map[string][]byte)
		m.fields[userID] = ns
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[field] = v
	return nil
}

func (m *MemoryStorage) TryLock(_ context.Context, userID, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if l, ok := m.leases[userID]; ok && l.token != token && now.Before(l.expires) {
		return false, nil
	}
	m.leases[userID] = lease{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStorage) Unlock(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[userID]; ok && l.token == token {
		delete(m.leases, userID)
	}
	return nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Locker  = (*MemoryStorage)(nil)
)
