package yield

import (
	"math"
	"math/big"
	"time"

	"xficredit/crypto"
	"xficredit/native/common"
)

// Position is a single time-locked deposit. Positions are never deleted;
// Withdrawn flips once when the position is closed.
type Position struct {
	ID           uint64         `json:"id"`
	Owner        crypto.Address `json:"owner"`
	Token        string         `json:"token"`
	Amount       *big.Int       `json:"amount"`
	StartTime    int64          `json:"startTime"`
	LockDuration uint64         `json:"lockDuration"`
	Withdrawn    bool           `json:"withdrawn"`
	ClosedAt     int64          `json:"closedAt,omitempty"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = common.Copy(p.Amount)
	return &clone
}

// MaturesAt is the first instant at which the position may be withdrawn with
// yield.
func (p *Position) MaturesAt() int64 {
	return p.StartTime + int64(p.LockDuration)
}

// Params are the tunable yield settings.
type Params struct {
	// RateBps is the annual yield rate in basis points.
	RateBps     uint64 `toml:"rate_bps"`
	MinDuration uint64 `toml:"min_duration"`
	MaxDuration uint64 `toml:"max_duration"`
	// PenaltyBps is the share of principal retained on early exit.
	PenaltyBps     uint64        `toml:"penalty_bps"`
	EmergencyDelay time.Duration `toml:"emergency_delay"`
	// RestrictReserveFunding limits AddYieldReserves to the owner.
	RestrictReserveFunding bool `toml:"restrict_reserve_funding"`
}

// DefaultParams mirrors the protocol launch settings.
func DefaultParams() Params {
	return Params{
		RateBps:        1000,
		MinDuration:    uint64((24 * time.Hour).Seconds()),
		MaxDuration:    uint64((365 * 24 * time.Hour).Seconds()),
		PenaltyBps:     1000,
		EmergencyDelay: 48 * time.Hour,
	}
}

// Validate checks the bounds enforced by UpdateYieldParameters plus the
// penalty and delay settings.
func (p Params) Validate() error {
	if p.MaxDuration == 0 || p.MinDuration > p.MaxDuration || p.MaxDuration > math.MaxInt64 {
		return ErrInvalidParameters
	}
	if p.PenaltyBps > common.BasisPoints {
		return ErrInvalidParameters
	}
	if p.EmergencyDelay < 0 {
		return ErrInvalidParameters
	}
	return nil
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	TotalStakers  int                 `json:"totalStakers"`
	ActiveStakers int                 `json:"activeStakers"`
	ValueLocked   map[string]*big.Int `json:"valueLocked"`
	Reserves      map[string]*big.Int `json:"reserves"`
	Params        Params              `json:"params"`
	EmergencyAt   int64               `json:"emergencyInitiatedAt,omitempty"`
}

type pendingKey struct {
	owner crypto.Address
	token string
}

type storedPosition struct {
	ID           uint64
	Owner        crypto.Address
	Token        string
	Amount       *big.Int
	StartTime    uint64
	LockDuration uint64
	Withdrawn    bool
	ClosedAt     uint64
}

type storedPending struct {
	Owner  crypto.Address
	Token  string
	Amount *big.Int
}

type storedReserve struct {
	Token  string
	Amount *big.Int
}

// storedMeta holds admin state. The rate and lock bounds are only meaningful
// when ParamsSet is true.
type storedMeta struct {
	ParamsSet   bool
	RateBps     uint64
	MinDuration uint64
	MaxDuration uint64
	EmergencyAt uint64
}

func toStoredPosition(p *Position) storedPosition {
	return storedPosition{
		ID:           p.ID,
		Owner:        p.Owner,
		Token:        p.Token,
		Amount:       common.Copy(p.Amount),
		StartTime:    unixToStored(p.StartTime),
		LockDuration: p.LockDuration,
		Withdrawn:    p.Withdrawn,
		ClosedAt:     unixToStored(p.ClosedAt),
	}
}

func (s storedPosition) position() *Position {
	return &Position{
		ID:           s.ID,
		Owner:        s.Owner,
		Token:        s.Token,
		Amount:       common.Copy(s.Amount),
		StartTime:    int64(s.StartTime),
		LockDuration: s.LockDuration,
		Withdrawn:    s.Withdrawn,
		ClosedAt:     int64(s.ClosedAt),
	}
}

func unixToStored(v int64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v)
}
