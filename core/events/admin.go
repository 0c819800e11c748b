package events

import (
	"math/big"
	"strconv"

	"xficredit/core/types"
	"xficredit/crypto"
)

const (
	// TypeTokenAllowedChanged is emitted when a token joins or leaves the allow-list.
	TypeTokenAllowedChanged = "token.allowedChanged"
	// TypeOwnershipTransferred is emitted when the administrative capability moves.
	TypeOwnershipTransferred = "ownership.transferred"
	// TypeModulePaused is emitted when a module stops accepting mutations.
	TypeModulePaused = "module.paused"
	// TypeModuleUnpaused is emitted when a module resumes.
	TypeModuleUnpaused = "module.unpaused"
	// TypeCreditScoreUpdated is emitted whenever a user's score changes.
	TypeCreditScoreUpdated = "credit.scoreUpdated"
	// TypeTreasuryUpdated is emitted when the fee destination changes.
	TypeTreasuryUpdated = "fees.treasuryUpdated"
	// TypeTreasuryWithdrawn is emitted when accrued fees leave the treasury.
	TypeTreasuryWithdrawn = "fees.withdrawn"
)

// TokenAllowedChanged captures an allow-list mutation.
type TokenAllowedChanged struct {
	Token   string
	Allowed bool
}

// EventType satisfies the Event interface.
func (TokenAllowedChanged) EventType() string { return TypeTokenAllowedChanged }

// Event converts the structured payload into a broadcastable event.
func (e TokenAllowedChanged) Event() *types.Event {
	return &types.Event{Type: TypeTokenAllowedChanged, Attributes: map[string]string{
		"token":   normalizeAsset(e.Token),
		"allowed": strconv.FormatBool(e.Allowed),
	}}
}

// OwnershipTransferred captures a change of administrative owner.
type OwnershipTransferred struct {
	Previous crypto.Address
	Next     crypto.Address
}

// EventType satisfies the Event interface.
func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

// Event converts the structured payload into a broadcastable event.
func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: map[string]string{
		"previousOwner": formatAddress(e.Previous),
		"newOwner":      formatAddress(e.Next),
	}}
}

// ModulePauseChanged captures a pause toggle.
type ModulePauseChanged struct {
	Module string
	Paused bool
	By     crypto.Address
}

// EventType satisfies the Event interface.
func (e ModulePauseChanged) EventType() string {
	if e.Paused {
		return TypeModulePaused
	}
	return TypeModuleUnpaused
}

// Event converts the structured payload into a broadcastable event.
func (e ModulePauseChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"module": e.Module,
		"by":     formatAddress(e.By),
	}}
}

// CreditScoreUpdated records a score transition and its cause.
type CreditScoreUpdated struct {
	User     crypto.Address
	Previous uint32
	Score    uint32
	Reason   string
}

// EventType satisfies the Event interface.
func (CreditScoreUpdated) EventType() string { return TypeCreditScoreUpdated }

// Event converts the structured payload into a broadcastable event.
func (e CreditScoreUpdated) Event() *types.Event {
	return &types.Event{Type: TypeCreditScoreUpdated, Attributes: map[string]string{
		"user":     formatAddress(e.User),
		"previous": strconv.FormatUint(uint64(e.Previous), 10),
		"score":    strconv.FormatUint(uint64(e.Score), 10),
		"reason":   e.Reason,
	}}
}

// TreasuryUpdated captures a new fee destination.
type TreasuryUpdated struct {
	Previous crypto.Address
	Next     crypto.Address
}

// EventType satisfies the Event interface.
func (TreasuryUpdated) EventType() string { return TypeTreasuryUpdated }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryUpdated) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryUpdated, Attributes: map[string]string{
		"previous": formatAddress(e.Previous),
		"treasury": formatAddress(e.Next),
	}}
}

// TreasuryWithdrawn captures fees released from the treasury.
type TreasuryWithdrawn struct {
	Token     string
	Amount    *big.Int
	Recipient crypto.Address
}

// EventType satisfies the Event interface.
func (TreasuryWithdrawn) EventType() string { return TypeTreasuryWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryWithdrawn, Attributes: map[string]string{
		"token":     normalizeAsset(e.Token),
		"amount":    formatAmount(e.Amount),
		"recipient": formatAddress(e.Recipient),
	}}
}
