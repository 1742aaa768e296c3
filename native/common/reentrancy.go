package common

import "sync/atomic"

var ErrReentrant = NewError(ClassPhase, "reentrant call")

// ReentrancyGuard rejects nested entry into a guarded engine. Collaborators
// invoked while the guard is held cannot call back into any guarded entry
// point of the same engine.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guard as held, failing with ErrReentrant if it already is.
func (g *ReentrancyGuard) Enter() error {
	if !g.entered.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	g.entered.Store(false)
}

// Held reports whether an entry point is currently executing.
func (g *ReentrancyGuard) Held() bool {
	return g.entered.Load()
}
