package common

import (
	"sync"

	"xficredit/core/events"
	"xficredit/crypto"
)

// Authority is the single-owner administrative capability shared by the
// ledgers. Restricted operations call Require before touching state.
type Authority struct {
	mu      sync.RWMutex
	owner   crypto.Address
	emitter events.Emitter
}

// NewAuthority creates a capability held by owner.
func NewAuthority(owner crypto.Address) *Authority {
	return &Authority{owner: owner, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the emitter used for ownership notifications.
func (a *Authority) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// Owner returns the current holder of the capability.
func (a *Authority) Owner() crypto.Address {
	if a == nil {
		return crypto.Address{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// Require returns ErrUnauthorized unless caller holds the capability. A nil
// authority or a zero owner rejects everyone.
func (a *Authority) Require(caller crypto.Address) error {
	if a == nil {
		return ErrUnauthorized
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.owner.IsZero() || caller != a.owner {
		return ErrUnauthorized
	}
	return nil
}

// TransferOwnership hands the capability to next.
func (a *Authority) TransferOwnership(caller, next crypto.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return ErrInvalidAddress
	}
	a.mu.Lock()
	previous := a.owner
	a.owner = next
	emitter := a.emitter
	a.mu.Unlock()
	emitter.Emit(events.OwnershipTransferred{Previous: previous, Next: next})
	return nil
}
