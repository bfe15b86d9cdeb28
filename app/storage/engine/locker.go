package engine

import "sync"

// RWLocker is a read-write locker interface, satisfied by sync.RWMutex
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker is a locker for engines handling concurrent writes on their own
type NoopLocker struct{}

// Lock does nothing
func (NoopLocker) Lock() {}

// Unlock does nothing
func (NoopLocker) Unlock() {}

// RLock does nothing
func (NoopLocker) RLock() {}

// RUnlock does nothing
func (NoopLocker) RUnlock() {}
