package common

import "errors"

// Errors shared by every ledger. Packages re-export the ones they surface so
// callers can match either name with errors.Is.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrZeroAmount      = errors.New("zero amount")
	ErrAmountOverflow  = errors.New("amount exceeds 256 bits")
	ErrNegativeAmount  = errors.New("negative amount")
	ErrTokenNotAllowed = errors.New("token not allowed")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrReentrantCall   = errors.New("reentrant call")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrPersist         = errors.New("persist failed")
)
