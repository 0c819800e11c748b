package credit

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/common"
)

var (
	ErrUnauthorized    = common.ErrUnauthorized
	ErrScoreOutOfRange = errors.New("credit engine: score out of range")
	errNoActiveLoans   = errors.New("credit engine: user has no active loans")
	errNilUpdate       = errors.New("credit engine: nil update")
)

// Reasons attached to score notifications.
const (
	ReasonAdmin       = "admin"
	ReasonBorrow      = "borrow"
	ReasonOnTime      = "repaid_on_time"
	ReasonLate        = "repaid_late"
	ReasonLiquidation = "liquidated"
)

// Engine is the sole writer of credit profiles.
type Engine struct {
	mu        sync.RWMutex
	authority *common.Authority
	policy    Policy
	profiles  map[crypto.Address]*Profile
	store     state.Store
	emitter   events.Emitter
	nowFunc   func() int64
}

// NewEngine builds an engine with the given policy. The policy must validate.
func NewEngine(authority *common.Authority, policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		authority: authority,
		policy:    policy.Normalize(),
		profiles:  make(map[crypto.Address]*Profile),
		emitter:   events.NoopEmitter{},
		nowFunc:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetEmitter configures the event emitter used for score notifications.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used to stamp profile updates.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowFunc = now
}

// SetStore wires durable storage.
func (e *Engine) SetStore(store state.Store) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// Restore reloads every profile from storage.
func (e *Engine) Restore() error {
	if e == nil || e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := make(map[crypto.Address]*Profile)
	err := e.store.KVIterate(state.CreditProfilePrefix, func(key []byte, decode func(interface{}) error) error {
		var stored storedProfile
		if err := decode(&stored); err != nil {
			return err
		}
		loaded[stored.User] = stored.profile()
		return nil
	})
	if err != nil {
		return fmt.Errorf("credit engine: restore: %w", err)
	}
	e.profiles = loaded
	return nil
}

// Policy returns the active scoring policy.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.policy
	p.Tiers = append([]Tier(nil), e.policy.Tiers...)
	return p
}

// Score returns the user's score, or the default score for unknown users.
func (e *Engine) Score(user crypto.Address) uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.profiles[user]; ok {
		return p.Score
	}
	return e.policy.DefaultScore
}

// Profile returns a copy of the user's profile. Unknown users get a fresh
// profile carrying the default score.
func (e *Engine) Profile(user crypto.Address) *Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.profiles[user]; ok {
		return p.Clone()
	}
	return e.freshProfile(user)
}

// Profiles returns every stored profile ordered by address.
func (e *Engine) Profiles() []*Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].User[:]) < string(out[j].User[:])
	})
	return out
}

// RateFor resolves the interest tier for a user.
func (e *Engine) RateFor(user crypto.Address) Tier {
	score := e.Score(user)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.TierFor(score)
}

// SetScore overwrites a user's score. Restricted to the administrative
// capability; used to seed deterministic scenarios.
func (e *Engine) SetScore(caller, user crypto.Address, score uint32) error {
	if e == nil {
		return ErrUnauthorized
	}
	if err := e.authority.Require(caller); err != nil {
		return err
	}
	e.mu.RLock()
	maxScore := e.policy.MaxScore
	e.mu.RUnlock()
	if score > maxScore {
		return fmt.Errorf("%w: %d > %d", ErrScoreOutOfRange, score, maxScore)
	}
	update := e.mutate(user, ReasonAdmin, func(p *Profile) error {
		p.Score = score
		return nil
	})
	if update.err != nil {
		return update.err
	}
	return e.Apply(update)
}

// RecordBorrow stages a newly opened loan.
func (e *Engine) RecordBorrow(user crypto.Address, amount *big.Int) (*Update, error) {
	update := e.mutate(user, ReasonBorrow, func(p *Profile) error {
		if amount != nil {
			p.TotalBorrowed.Add(p.TotalBorrowed, amount)
		}
		p.ActiveLoans++
		return nil
	})
	return update, update.err
}

// RecordRepayment stages a closed loan. On-time repayment raises the score,
// late repayment lowers it.
func (e *Engine) RecordRepayment(user crypto.Address, amount *big.Int, onTime bool) (*Update, error) {
	reason := ReasonLate
	if onTime {
		reason = ReasonOnTime
	}
	update := e.mutate(user, reason, func(p *Profile) error {
		if p.ActiveLoans == 0 {
			return errNoActiveLoans
		}
		p.ActiveLoans--
		if amount != nil {
			p.TotalRepaid.Add(p.TotalRepaid, amount)
		}
		if onTime {
			p.OnTimeRepayments++
			p.Score = e.policy.clamp(int64(p.Score) + int64(e.policy.OnTimeBonus))
		} else {
			p.LateRepayments++
			p.Score = e.policy.clamp(int64(p.Score) - int64(e.policy.LatePenalty))
		}
		return nil
	})
	return update, update.err
}

// RecordLiquidation stages a seized loan. Liquidation is penalised harder
// than late repayment.
func (e *Engine) RecordLiquidation(user crypto.Address) (*Update, error) {
	update := e.mutate(user, ReasonLiquidation, func(p *Profile) error {
		if p.ActiveLoans == 0 {
			return errNoActiveLoans
		}
		p.ActiveLoans--
		p.Liquidations++
		p.Score = e.policy.clamp(int64(p.Score) - int64(e.policy.LiquidationPenalty))
		return nil
	})
	return update, update.err
}

// Apply persists a staged update on its own and publishes it. Callers that
// batch the update with other records use Write and Publish instead.
func (e *Engine) Apply(u *Update) error {
	if u == nil {
		return errNilUpdate
	}
	e.mu.RLock()
	store := e.store
	e.mu.RUnlock()
	if store != nil {
		batch := store.NewBatch()
		u.Write(batch)
		if err := batch.Commit(); err != nil {
			u.Revert()
			return fmt.Errorf("credit engine: persist: %w", err)
		}
	}
	u.Publish()
	return nil
}

func (e *Engine) freshProfile(user crypto.Address) *Profile {
	return &Profile{
		User:          user,
		TotalBorrowed: new(big.Int),
		TotalRepaid:   new(big.Int),
		Score:         e.policy.DefaultScore,
	}
}

// mutate applies fn to a copy of the profile and swaps it in. The returned
// update can restore the previous profile.
func (e *Engine) mutate(user crypto.Address, reason string, fn func(*Profile) error) *Update {
	if e == nil {
		return &Update{err: errNilUpdate}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	previous, existed := e.profiles[user]
	var next *Profile
	if existed {
		next = previous.Clone()
	} else {
		next = e.freshProfile(user)
	}
	before := next.Score
	if err := fn(next); err != nil {
		return &Update{err: err}
	}
	next.LastUpdated = e.nowFunc()
	e.profiles[user] = next
	return &Update{
		engine:   e,
		user:     user,
		previous: previous,
		existed:  existed,
		next:     next.Clone(),
		reason:   reason,
		before:   before,
	}
}

// Update is a profile change that has been applied in memory but not yet
// persisted or announced.
type Update struct {
	engine   *Engine
	user     crypto.Address
	previous *Profile
	existed  bool
	next     *Profile
	reason   string
	before   uint32
	err      error
}

// Profile returns the profile after the change.
func (u *Update) Profile() *Profile {
	if u == nil {
		return nil
	}
	return u.next.Clone()
}

// Revert restores the profile that was in place before the change.
func (u *Update) Revert() {
	if u == nil || u.engine == nil {
		return
	}
	e := u.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.existed {
		e.profiles[u.user] = u.previous
	} else {
		delete(e.profiles, u.user)
	}
}

// Write stages the new profile into batch.
func (u *Update) Write(batch *state.Batch) {
	if u == nil || u.next == nil || batch == nil {
		return
	}
	batch.Put(state.CreditProfileKey(u.user), toStored(u.next))
}

// Publish emits the score notification when the score moved.
func (u *Update) Publish() {
	if u == nil || u.engine == nil || u.next == nil {
		return
	}
	if u.before == u.next.Score && u.reason != ReasonAdmin {
		return
	}
	u.engine.mu.RLock()
	emitter := u.engine.emitter
	u.engine.mu.RUnlock()
	emitter.Emit(events.CreditScoreUpdated{
		User:     u.user,
		Previous: u.before,
		Score:    u.next.Score,
		Reason:   u.reason,
	})
}
