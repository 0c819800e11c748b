package common

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseRegistry tracks pause toggles per module. Toggling requires the
// administrative capability.
type PauseRegistry struct {
	mu        sync.RWMutex
	authority *Authority
	paused    map[string]bool
	emitter   events.Emitter
	store     state.Store
}

type storedPause struct {
	Module string
}

// NewPauseRegistry returns a registry with every module running.
func NewPauseRegistry(authority *Authority) *PauseRegistry {
	return &PauseRegistry{authority: authority, paused: make(map[string]bool), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for pause notifications.
func (r *PauseRegistry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetStore wires durable storage for pause toggles.
func (r *PauseRegistry) SetStore(store state.Store) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Restore reloads the paused modules from storage.
func (r *PauseRegistry) Restore() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	paused := make(map[string]bool)
	err := r.store.KVIterate(state.PausePrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedPause
		if err := decode(&rec); err != nil {
			return err
		}
		paused[rec.Module] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("pause registry: restore: %w", err)
	}
	r.paused = paused
	return nil
}

// IsPaused implements PauseView.
func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[strings.TrimSpace(module)]
}

// Pause stops a module from accepting mutations.
func (r *PauseRegistry) Pause(caller crypto.Address, module string) error {
	return r.set(caller, module, true)
}

// Unpause resumes a module.
func (r *PauseRegistry) Unpause(caller crypto.Address, module string) error {
	return r.set(caller, module, false)
}

// Paused lists the paused modules in sorted order.
func (r *PauseRegistry) Paused() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.paused))
	for module, paused := range r.paused {
		if paused {
			out = append(out, module)
		}
	}
	sort.Strings(out)
	return out
}

func (r *PauseRegistry) set(caller crypto.Address, module string, paused bool) error {
	if r == nil {
		return ErrUnauthorized
	}
	if err := r.authority.Require(caller); err != nil {
		return err
	}
	module = strings.TrimSpace(module)
	if module == "" {
		return errors.New("pause registry: module required")
	}
	r.mu.Lock()
	was := r.paused[module]
	changed := was != paused
	if paused {
		r.paused[module] = true
	} else {
		delete(r.paused, module)
	}
	var journal Journal
	journal.Record(func() {
		if was {
			r.paused[module] = true
		} else {
			delete(r.paused, module)
		}
	})
	err := Settle(context.Background(), &journal, nil, r.store, func(batch *state.Batch) {
		if paused {
			batch.Put(state.PauseKey(module), storedPause{Module: module})
		} else {
			batch.Delete(state.PauseKey(module))
		}
	})
	emitter := r.emitter
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		emitter.Emit(events.ModulePauseChanged{Module: module, Paused: paused, By: caller})
	}
	return nil
}
