package bank

import (
	"context"
	"errors"
	"math/big"

	"xficredit/crypto"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot cover the movement.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrTransferRejected is returned when the counterparty refuses the movement.
	ErrTransferRejected = errors.New("bank: transfer rejected")
	// ErrPortUnavailable is returned when the transfer service cannot be reached.
	ErrPortUnavailable = errors.New("bank: transfer port unavailable")
	errInvalidAmount   = errors.New("bank: amount must be positive")
)

// Port moves value between user accounts and the custody account of the
// ledger the port was issued for. Every failure is reported as an error; a
// nil error means the movement happened exactly once.
type Port interface {
	// Pull moves amount of token from the user into custody.
	Pull(ctx context.Context, token string, from crypto.Address, amount *big.Int) error
	// Push moves amount of token from custody to the user.
	Push(ctx context.Context, token string, to crypto.Address, amount *big.Int) error
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return nil
}
