package tokens

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/common"
)

var (
	ErrTokenNotAllowed = common.ErrTokenNotAllowed
	ErrUnauthorized    = common.ErrUnauthorized
	errEmptyToken      = errors.New("token registry: token identifier required")
)

type allowedRecord struct {
	Allowed bool
}

// Registry is the allow-list of assets the ledgers accept.
type Registry struct {
	mu        sync.RWMutex
	authority *common.Authority
	allowed   map[string]struct{}
	store     state.Store
	emitter   events.Emitter
}

// NewRegistry returns an empty allow-list administered by authority.
func NewRegistry(authority *common.Authority) *Registry {
	return &Registry{
		authority: authority,
		allowed:   make(map[string]struct{}),
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used for allow-list notifications.
func (r *Registry) SetEmitter(emitter events.Emitter) {
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

// SetStore wires durable storage. Call Restore afterwards to load state.
func (r *Registry) SetStore(store state.Store) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Restore reloads the allow-list from storage.
func (r *Registry) Restore() error {
	if r == nil || r.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := make(map[string]struct{})
	err := r.store.KVIterate(state.TokenAllowedPrefix, func(key []byte, decode func(interface{}) error) error {
		var rec allowedRecord
		if err := decode(&rec); err != nil {
			return err
		}
		if rec.Allowed {
			loaded[string(state.Suffix(key, state.TokenAllowedPrefix))] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("token registry: restore: %w", err)
	}
	r.allowed = loaded
	return nil
}

// Allow adds token to the allow-list.
func (r *Registry) Allow(caller crypto.Address, token string) error {
	return r.SetAllowed(caller, token, true)
}

// Disallow removes token from the allow-list. Existing positions and loans in
// that token are unaffected; only new inflows are refused.
func (r *Registry) Disallow(caller crypto.Address, token string) error {
	return r.SetAllowed(caller, token, false)
}

// SetAllowed toggles a token. Repeating the current state is a no-op that
// emits nothing.
func (r *Registry) SetAllowed(caller crypto.Address, token string, allowed bool) error {
	if r == nil {
		return ErrUnauthorized
	}
	if err := r.authority.Require(caller); err != nil {
		return err
	}
	token = common.NormalizeAsset(token)
	if token == "" {
		return errEmptyToken
	}
	r.mu.Lock()
	_, current := r.allowed[token]
	if current == allowed {
		r.mu.Unlock()
		return nil
	}
	if r.store != nil {
		batch := r.store.NewBatch()
		batch.Put(state.TokenAllowedKey(token), allowedRecord{Allowed: allowed})
		if err := batch.Commit(); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("token registry: persist: %w", err)
		}
	}
	if allowed {
		r.allowed[token] = struct{}{}
	} else {
		delete(r.allowed, token)
	}
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.TokenAllowedChanged{Token: token, Allowed: allowed})
	return nil
}

// IsAllowed reports whether token is on the allow-list.
func (r *Registry) IsAllowed(token string) bool {
	if r == nil {
		return false
	}
	token = common.NormalizeAsset(token)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.allowed[token]
	return ok
}

// Require returns ErrTokenNotAllowed unless token is allow-listed.
func (r *Registry) Require(token string) error {
	if !r.IsAllowed(token) {
		return fmt.Errorf("%w: %s", ErrTokenNotAllowed, common.NormalizeAsset(token))
	}
	return nil
}

// List returns the allow-listed tokens in sorted order.
func (r *Registry) List() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.allowed))
	for token := range r.allowed {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
