// Package gate provides the non-blocking mutual exclusion primitive that guards device operations.
package gate

import (
	"errors"
	"sync/atomic"

	"github.com/jdginn/larpa/logging"
)

var (
	// ErrBusy is returned by Do when another operation holds the gate. It is an expected outcome, not a failure.
	ErrBusy = errors.New("gate: busy")

	// ErrNotHeld is the panic value for Release on a free gate in larpa_debug builds.
	ErrNotHeld = errors.New("gate: release of free gate")
)

// Gate is a try-only lock. The zero value is free.
type Gate struct {
	held atomic.Bool
}

func New() *Gate {
	return &Gate{}
}

// TryAcquire moves the gate from free to held and reports whether it did.
func (g *Gate) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release moves the gate from held to free.
func (g *Gate) Release() {
	if g.held.CompareAndSwap(true, false) {
		return
	}
	if strict {
		panic(ErrNotHeld)
	}
	logging.Get(logging.GATE).Warn("Release called on free gate")
}

func (g *Gate) Held() bool {
	return g.held.Load()
}

// Do runs fn while holding the gate and releases it on every exit path, panics included.
// If the gate is already held, fn is not called and ErrBusy is returned.
func (g *Gate) Do(fn func() error) error {
	if !g.TryAcquire() {
		return ErrBusy
	}
	defer g.Release()
	return fn()
}
