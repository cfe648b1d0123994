// Package ratelimit provides per-identity message rate limiting for the
// relay, using fixed 60-second counting windows bounded by an identity
// capacity so the table stays small under identity churn.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

const (
	// Window is the fixed counting window length.
	Window = 60 * time.Second

	// DefaultCeiling is the per-window message ceiling.
	DefaultCeiling = 100

	// DefaultCapacity bounds the number of distinct identities tracked.
	DefaultCapacity = 1000

	sweepInterval = 60 * time.Second
)

type window struct {
	key       string
	count     int
	expiresAt time.Time
}

// Limiter admits or rejects messages per identity hash. Windows are kept in
// insertion order; allocating a window at capacity evicts the oldest-inserted
// entry, and a periodic sweep drops expired windows regardless of access.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*list.Element // identity hash -> *window element
	order    *list.List               // insertion order, front = oldest
	ceiling  int
	capacity int

	done chan struct{}
	once sync.Once

	now func() time.Time // test hook
}

// New creates a Limiter and starts its background sweep. Non-positive
// arguments fall back to the defaults.
func New(ceiling, capacity int) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Limiter{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ceiling:  ceiling,
		capacity: capacity,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether a message from the given identity is admitted.
// The count is incremented even when the answer is no, so a client that
// keeps spamming keeps being rejected without extra bookkeeping.
func (l *Limiter) Allow(identityHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	elem, ok := l.entries[identityHash]
	if ok {
		w := elem.Value.(*window)
		if now.Before(w.expiresAt) {
			w.count++
			return w.count <= l.ceiling
		}
		// Expired: replace with a fresh window, re-inserted at the back.
		l.order.Remove(elem)
		delete(l.entries, identityHash)
	}

	if l.order.Len() >= l.capacity {
		oldest := l.order.Front()
		if oldest != nil {
			evicted := oldest.Value.(*window)
			l.order.Remove(oldest)
			delete(l.entries, evicted.key)
			log.Debugf("rate limiter at capacity, evicted identity %s", evicted.key)
		}
	}

	w := &window{key: identityHash, count: 1, expiresAt: now.Add(Window)}
	l.entries[identityHash] = l.order.PushBack(w)
	return w.count <= l.ceiling
}

// Len returns the number of identities currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes all windows whose expiry has passed, independent of access.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for e := l.order.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*window)
		if !now.Before(w.expiresAt) {
			l.order.Remove(e)
			delete(l.entries, w.key)
			removed++
		}
		e = next
	}
	if removed > 0 {
		log.Debugf("rate limiter sweep removed %d expired windows", removed)
	}
}
