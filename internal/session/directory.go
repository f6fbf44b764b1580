package session

import (
	"sync"
	"time"
)

// Resolver maps a user ID to that user's Session Actor.
type Resolver interface {
	Get(userID string) Handle
}

type DirectoryOption func(*Directory)

// WithClock overrides the time source used for error record timestamps.
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		d.now = now
	}
}

// WithLease overrides how long a user lease lives and how long an operation
// waits for it. Non-positive values keep the defaults.
func WithLease(ttl, wait time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.leaseTTL = ttl
		}
		if wait > 0 {
			d.leaseWait = wait
		}
	}
}

// Directory lazily creates one Actor per user ID and hands back the same
// instance on every later lookup.
type Directory struct {
	storage   Storage
	now       func() time.Time
	leaseTTL  time.Duration
	leaseWait time.Duration

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewDirectory(storage Storage, opts ...DirectoryOption) *Directory {
	d := &Directory{
		storage:   storage,
		now:       time.Now,
		leaseTTL:  DefaultLeaseTTL,
		leaseWait: DefaultLeaseWait,
		actors:    make(map[string]*Actor),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) Get(userID string) Handle {
	return d.Actor(userID)
}

// Actor is Get with the concrete type.
func (d *Directory) Actor(userID string) *Actor {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.actors[userID]
	if !ok {
		a = NewActor(userID, d.storage, d.now)
		a.leaseTTL, a.leaseWait = d.leaseTTL, d.leaseWait
		d.actors[userID] = a
	}
	return a
}

// Len reports how many actors have been materialized.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actors)
}

var _ Resolver = (*Directory)(nil)
