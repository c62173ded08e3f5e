package indexer

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// ErrIndexInProgress is returned when another embedding run holds the lock
var ErrIndexInProgress = eris.New("catalog embedding already in progress")

// IndexLock is a non-blocking lock. A run that cannot take it fails fast
// instead of queueing behind the current one.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire takes the lock without blocking and reports whether it did
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}
