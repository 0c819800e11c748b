package common

import (
	"context"
	"sync"
)

type inflightKey struct{ ledger string }

// ReentrancyGuard rejects nested entry into a ledger while one of its
// operations is talking to an external transfer port. The in-flight marker
// travels in the context handed to the port; entities touched by the
// operation are additionally held in a busy set.
type ReentrancyGuard struct {
	ledger string
	mu     sync.Mutex
	busy   map[string]struct{}
}

// NewReentrancyGuard returns a guard scoped to a single ledger.
func NewReentrancyGuard(ledger string) *ReentrancyGuard {
	return &ReentrancyGuard{ledger: ledger, busy: make(map[string]struct{})}
}

// Enter claims the entities for the duration of an operation. The returned
// context must be passed to every port call; release must be called once the
// operation has finished.
func (g *ReentrancyGuard) Enter(ctx context.Context, entities ...string) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil {
		return ctx, func() {}, nil
	}
	if InFlight(ctx, g.ledger) {
		return ctx, func() {}, ErrReentrantCall
	}
	g.mu.Lock()
	for _, entity := range entities {
		if _, ok := g.busy[entity]; ok {
			g.mu.Unlock()
			return ctx, func() {}, ErrReentrantCall
		}
	}
	for _, entity := range entities {
		g.busy[entity] = struct{}{}
	}
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			for _, entity := range entities {
				delete(g.busy, entity)
			}
			g.mu.Unlock()
		})
	}
	return context.WithValue(ctx, inflightKey{ledger: g.ledger}, true), release, nil
}

// InFlight reports whether ctx was derived from an operation on ledger that
// has not yet returned.
func InFlight(ctx context.Context, ledger string) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(inflightKey{ledger: ledger}).(bool)
	return marked
}
