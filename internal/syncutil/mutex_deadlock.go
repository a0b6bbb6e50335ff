//go:build deadlock

// Package syncutil provides the mutexes guarding radio ownership and shared
// session state. Building with -tags=deadlock reports lock-order problems
// through github.com/sasha-s/go-deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting read/write mutex.
type RWMutex struct {
	deadlock.RWMutex
}
