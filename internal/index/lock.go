package index

import "sync/atomic"

// BuildLock provides non-blocking lock semantics for cache builds.
// A second build of the same index fails fast instead of queueing.
type BuildLock struct {
	state atomic.Int32 // 0 = idle, 1 = building
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was acquired.
func (l *BuildLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that acquired it.
func (l *BuildLock) Release() {
	l.state.Store(0)
}

// Busy reports whether a build currently holds the lock
func (l *BuildLock) Busy() bool {
	return l.state.Load() == 1
}
