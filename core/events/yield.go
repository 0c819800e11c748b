package events

import (
	"math/big"

	"xficredit/core/types"
	"xficredit/crypto"
)

const (
	// TypeYieldDeposited is emitted when a time-locked position is opened.
	TypeYieldDeposited = "yield.deposited"
	// TypeYieldWithdrawn is emitted when a position is closed by withdraw or unstake.
	TypeYieldWithdrawn = "yield.withdrawn"
	// TypeYieldClaimed is emitted when pending value leaves the ledger.
	TypeYieldClaimed = "yield.claimed"
	// TypeYieldReserveAdded is emitted when the yield reserve for a token is topped up.
	TypeYieldReserveAdded = "yield.reserveAdded"
	// TypeYieldPenaltyCollected captures the early-exit penalty retained by the pool.
	TypeYieldPenaltyCollected = "yield.penaltyCollected"
	// TypeYieldParametersUpdated is emitted when rate or duration bounds change.
	TypeYieldParametersUpdated = "yield.parametersUpdated"
	// TypeYieldEmergencyInitiated marks the start of the emergency timelock.
	TypeYieldEmergencyInitiated = "yield.emergencyInitiated"
	// TypeYieldEmergencyExecuted marks the release of a reserve after the timelock.
	TypeYieldEmergencyExecuted = "yield.emergencyExecuted"
)

// YieldDeposited captures a new position.
type YieldDeposited struct {
	PositionID uint64
	Owner      crypto.Address
	Token      string
	Amount     *big.Int
	Duration   uint64
}

// EventType satisfies the Event interface.
func (YieldDeposited) EventType() string { return TypeYieldDeposited }

// Event converts the structured payload into a broadcastable event.
func (e YieldDeposited) Event() *types.Event {
	return &types.Event{Type: TypeYieldDeposited, Attributes: map[string]string{
		"positionId": formatUint(e.PositionID),
		"owner":      formatAddress(e.Owner),
		"token":      normalizeAsset(e.Token),
		"amount":     formatAmount(e.Amount),
		"duration":   formatUint(e.Duration),
	}}
}

// YieldWithdrawn captures a closed position. Yield is zero for early exits.
type YieldWithdrawn struct {
	PositionID uint64
	Owner      crypto.Address
	Token      string
	Amount     *big.Int
	Yield      *big.Int
	Early      bool
}

// EventType satisfies the Event interface.
func (YieldWithdrawn) EventType() string { return TypeYieldWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e YieldWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"positionId": formatUint(e.PositionID),
		"owner":      formatAddress(e.Owner),
		"token":      normalizeAsset(e.Token),
		"amount":     formatAmount(e.Amount),
		"yield":      formatAmount(e.Yield),
	}
	if e.Early {
		attrs["early"] = "true"
	}
	return &types.Event{Type: TypeYieldWithdrawn, Attributes: attrs}
}

// YieldClaimed captures value released from the pending queue.
type YieldClaimed struct {
	Owner  crypto.Address
	Token  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (YieldClaimed) EventType() string { return TypeYieldClaimed }

// Event converts the structured payload into a broadcastable event.
func (e YieldClaimed) Event() *types.Event {
	return &types.Event{Type: TypeYieldClaimed, Attributes: map[string]string{
		"owner":  formatAddress(e.Owner),
		"token":  normalizeAsset(e.Token),
		"amount": formatAmount(e.Amount),
	}}
}

// YieldReserveAdded captures a reserve top-up.
type YieldReserveAdded struct {
	Funder crypto.Address
	Token  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (YieldReserveAdded) EventType() string { return TypeYieldReserveAdded }

// Event converts the structured payload into a broadcastable event.
func (e YieldReserveAdded) Event() *types.Event {
	return &types.Event{Type: TypeYieldReserveAdded, Attributes: map[string]string{
		"funder": formatAddress(e.Funder),
		"token":  normalizeAsset(e.Token),
		"amount": formatAmount(e.Amount),
	}}
}

// YieldPenaltyCollected captures the principal retained on early exit.
type YieldPenaltyCollected struct {
	PositionID uint64
	Owner      crypto.Address
	Token      string
	Penalty    *big.Int
}

// EventType satisfies the Event interface.
func (YieldPenaltyCollected) EventType() string { return TypeYieldPenaltyCollected }

// Event converts the structured payload into a broadcastable event.
func (e YieldPenaltyCollected) Event() *types.Event {
	return &types.Event{Type: TypeYieldPenaltyCollected, Attributes: map[string]string{
		"positionId": formatUint(e.PositionID),
		"owner":      formatAddress(e.Owner),
		"token":      normalizeAsset(e.Token),
		"penalty":    formatAmount(e.Penalty),
	}}
}

// YieldParametersUpdated captures new yield parameters.
type YieldParametersUpdated struct {
	RateBps     uint64
	MinDuration uint64
	MaxDuration uint64
}

// EventType satisfies the Event interface.
func (YieldParametersUpdated) EventType() string { return TypeYieldParametersUpdated }

// Event converts the structured payload into a broadcastable event.
func (e YieldParametersUpdated) Event() *types.Event {
	return &types.Event{Type: TypeYieldParametersUpdated, Attributes: map[string]string{
		"rateBps":     formatUint(e.RateBps),
		"minDuration": formatUint(e.MinDuration),
		"maxDuration": formatUint(e.MaxDuration),
	}}
}

// YieldEmergencyInitiated records when the emergency timelock started and
// when it expires.
type YieldEmergencyInitiated struct {
	InitiatedAt  int64
	ExecutableAt int64
}

// EventType satisfies the Event interface.
func (YieldEmergencyInitiated) EventType() string { return TypeYieldEmergencyInitiated }

// Event converts the structured payload into a broadcastable event.
func (e YieldEmergencyInitiated) Event() *types.Event {
	return &types.Event{Type: TypeYieldEmergencyInitiated, Attributes: map[string]string{
		"initiatedAt":  formatInt(e.InitiatedAt),
		"executableAt": formatInt(e.ExecutableAt),
	}}
}

// YieldEmergencyExecuted captures a reserve drained after the timelock.
type YieldEmergencyExecuted struct {
	Token     string
	Amount    *big.Int
	Recipient crypto.Address
}

// EventType satisfies the Event interface.
func (YieldEmergencyExecuted) EventType() string { return TypeYieldEmergencyExecuted }

// Event converts the structured payload into a broadcastable event.
func (e YieldEmergencyExecuted) Event() *types.Event {
	return &types.Event{Type: TypeYieldEmergencyExecuted, Attributes: map[string]string{
		"token":     normalizeAsset(e.Token),
		"amount":    formatAmount(e.Amount),
		"recipient": formatAddress(e.Recipient),
	}}
}
