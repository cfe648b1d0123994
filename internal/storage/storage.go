// Package storage handles disk space sampling, upload admission control,
// and stored filename generation.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Admission error classes, mapped by the HTTP layer to 411 and 507.
var (
	ErrLengthRequired      = errors.New("upload length required")
	ErrInsufficientStorage = errors.New("insufficient storage space")
)

// FreeBytes samples the available bytes on the filesystem holding path.
// Free space changes under external pressure, so it is never cached.
func FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to check storage space: %w", err)
	}
	return usage.Free, nil
}

// Ledger tracks the sum of declared content lengths of uploads currently
// being received. It is process-wide: concurrent uploads race only on this
// counter and the free-space sample, and bounded over-admission against one
// sample is accepted with the reserve floor as slack.
type Ledger struct {
	mu      sync.Mutex
	pending int64
}

// Pending returns the bytes currently in flight.
func (l *Ledger) Pending() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

func (l *Ledger) add(n int64) {
	l.mu.Lock()
	l.pending += n
	l.mu.Unlock()
}

func (l *Ledger) release(n int64) {
	l.mu.Lock()
	l.pending -= n
	if l.pending < 0 {
		// Must not happen while releases stay one-shot.
		log.Errorf("upload ledger went negative (%d), resetting to 0", l.pending)
		l.pending = 0
	}
	l.mu.Unlock()
}

// Admission decides whether a new upload may proceed given live free space,
// the configured reserve floor, and the bytes currently in flight.
type Admission struct {
	StoragePath  string
	ReserveFloor int64
	ledger       Ledger

	freeBytes func(string) (uint64, error) // test hook
}

// NewAdmission creates an Admission for the given storage path.
func NewAdmission(storagePath string, reserveFloor int64) *Admission {
	return &Admission{StoragePath: storagePath, ReserveFloor: reserveFloor, freeBytes: FreeBytes}
}

// Pending returns the bytes currently admitted and in flight.
func (a *Admission) Pending() int64 { return a.ledger.Pending() }

// Admit checks declaredLength against projected disk headroom. On success
// the length is added to the in-flight ledger and a release func is
// returned; the caller must invoke it when the request finishes AND wire it
// to the disconnect path. The release is idempotent, so both signals firing
// on the same request decrements exactly once.
//
// The declared length is a client-supplied upper bound, not a verified
// value; admission is necessarily optimistic. The per-file size ceiling is
// a separate, unconditional cap enforced at write time.
func (a *Admission) Admit(declaredLength int64) (release func(), err error) {
	if declaredLength <= 0 {
		return nil, ErrLengthRequired
	}

	free, err := a.freeBytes(a.StoragePath)
	if err != nil {
		return nil, err
	}

	inFlight := a.ledger.Pending()
	headroom := int64(free) - a.ReserveFloor - inFlight
	if declaredLength > headroom {
		log.Warnf("upload rejected: declared %d > headroom %d (free=%d reserve=%d in-flight=%d)",
			declaredLength, headroom, free, a.ReserveFloor, inFlight)
		return nil, ErrInsufficientStorage
	}

	a.ledger.add(declaredLength)

	var once sync.Once
	return func() {
		once.Do(func() { a.ledger.release(declaredLength) })
	}, nil
}
