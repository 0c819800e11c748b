package server

import (
	"context"
	"errors"
	"net/http"

	"xficredit/native/bank"
	"xficredit/native/common"
	"xficredit/native/credit"
	"xficredit/native/fees"
	"xficredit/native/lending"
	"xficredit/native/yield"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable maps ledger sentinels to HTTP statuses. Order matters only where
// one sentinel wraps another.
var errorTable = []errorMapping{
	{common.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
	{common.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{common.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{common.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{common.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{common.ErrNegativeAmount, http.StatusBadRequest, "negative_amount"},
	{common.ErrAmountOverflow, http.StatusBadRequest, "amount_overflow"},
	{common.ErrTokenNotAllowed, http.StatusBadRequest, "token_not_allowed"},
	{common.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{common.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},

	{yield.ErrPositionNotFound, http.StatusNotFound, "position_not_found"},
	{yield.ErrStillLocked, http.StatusConflict, "still_locked"},
	{yield.ErrInsufficientReserve, http.StatusConflict, "insufficient_reserve"},
	{yield.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
	{yield.ErrInvalidParameters, http.StatusBadRequest, "invalid_parameters"},
	{yield.ErrEmergencyNotInitiated, http.StatusConflict, "emergency_not_initiated"},
	{yield.ErrEmergencyTimelock, http.StatusConflict, "emergency_timelock"},

	{lending.ErrLoanNotFound, http.StatusNotFound, "loan_not_found"},
	{lending.ErrLoanInactive, http.StatusConflict, "loan_inactive"},
	{lending.ErrLoanExpired, http.StatusConflict, "loan_expired"},
	{lending.ErrNotLiquidatable, http.StatusConflict, "not_liquidatable"},
	{lending.ErrBorrowTokenRestricted, http.StatusBadRequest, "borrow_token_restricted"},
	{lending.ErrCollateralTooLow, http.StatusBadRequest, "collateral_too_low"},
	{lending.ErrHealthFactorTooLow, http.StatusUnprocessableEntity, "health_factor_too_low"},
	{lending.ErrInsufficientPoolLiquidity, http.StatusConflict, "insufficient_pool_liquidity"},
	{lending.ErrThresholdOutOfRange, http.StatusBadRequest, "threshold_out_of_range"},
	{lending.ErrRoutingOutOfRange, http.StatusBadRequest, "routing_out_of_range"},
	{lending.ErrBatchLengthMismatch, http.StatusBadRequest, "batch_length_mismatch"},
	{lending.ErrPriceUnavailable, http.StatusServiceUnavailable, "price_unavailable"},

	{credit.ErrScoreOutOfRange, http.StatusBadRequest, "score_out_of_range"},
	{fees.ErrFeeOutOfRange, http.StatusBadRequest, "fee_out_of_range"},
	{fees.ErrInsufficientBalance, http.StatusConflict, "insufficient_treasury_balance"},

	{bank.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{bank.ErrTransferRejected, http.StatusBadGateway, "transfer_rejected"},
	{bank.ErrPortUnavailable, http.StatusServiceUnavailable, "transfer_unavailable"},
	{common.ErrPersist, http.StatusInternalServerError, "persist_failed"},
}

// statusFor classifies err. Unknown errors are internal.
func statusFor(err error) (int, string) {
	if errors.Is(err, context.Canceled) {
		return 499, "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
