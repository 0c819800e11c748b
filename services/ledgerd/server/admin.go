package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"xficredit/crypto"
	"xficredit/native/lending"
)

// paramTreasury moves the fee treasury; it is not a ledger parameter.
const paramTreasury = "treasury"

func itoa(i int) string { return strconv.Itoa(i) }

func (s *Server) setTokenAllowed(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req allowedRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "set_token_allowed", err)
		return
	}
	if err := s.ledgers.Lending.SetTokenAllowed(caller, chi.URLParam(r, "token"), req.Allowed); err != nil {
		s.fail(w, r, "set_token_allowed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": s.ledgers.Registry.List()})
}

func (s *Server) setScore(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, r, "set_score", err)
		return
	}
	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "set_score", err)
		return
	}
	if err := s.ledgers.Credit.SetScore(caller, user, req.Score); err != nil {
		s.fail(w, r, "set_score", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(s.ledgers.Credit.Profile(user), s.ledgers.Credit.RateFor(user)))
}

// setLendingParam dispatches one named parameter change. Token scoped
// parameters require Token.
func (s *Server) setLendingParam(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req lendingParamRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "set_lending_param", err)
		return
	}
	if err := s.applyLendingParam(req, caller); err != nil {
		s.fail(w, r, "set_lending_param", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledgers.Lending.Params())
}

func (s *Server) applyLendingParam(req lendingParamRequest, caller crypto.Address) error {
	l := s.ledgers.Lending
	value := strings.TrimSpace(req.Value)
	tokenRequired := func() error {
		if strings.TrimSpace(req.Token) == "" {
			return badRequest("token required for %s", req.Param)
		}
		return nil
	}
	switch req.Param {
	case lending.ParamMinCollateral:
		if err := tokenRequired(); err != nil {
			return err
		}
		amount, err := parseAmount("value", value)
		if err != nil {
			return err
		}
		return l.SetMinCollateralAmount(caller, req.Token, amount)
	case lending.ParamThreshold:
		if err := tokenRequired(); err != nil {
			return err
		}
		pct, err := parseUint("value", value)
		if err != nil {
			return err
		}
		return l.SetLiquidationThreshold(caller, req.Token, pct)
	case lending.ParamBorrowRestricted:
		if err := tokenRequired(); err != nil {
			return err
		}
		restricted, err := strconv.ParseBool(value)
		if err != nil {
			return badRequest("value must be a boolean")
		}
		return l.SetBorrowRestricted(caller, req.Token, restricted)
	case lending.ParamMinimumDuration:
		seconds, err := parseUint("value", value)
		if err != nil {
			return err
		}
		return l.SetMinimumDuration(caller, seconds)
	case lending.ParamMinHealthFactor:
		hf, err := parseUint("value", value)
		if err != nil {
			return err
		}
		return l.SetMinHealthFactor(caller, hf)
	case lending.ParamProtocolFee:
		bps, err := parseUint("value", value)
		if err != nil {
			return err
		}
		return l.SetProtocolFee(caller, bps)
	case lending.ParamAllowLateRepayment:
		allowed, err := strconv.ParseBool(value)
		if err != nil {
			return badRequest("value must be a boolean")
		}
		return l.SetAllowLateRepayment(caller, allowed)
	case lending.ParamCollateralRouting:
		liquidator, treasury, found := strings.Cut(value, "/")
		if !found {
			return badRequest("routing must be liquidatorBps/treasuryBps")
		}
		lbps, err := parseUint("liquidatorBps", liquidator)
		if err != nil {
			return err
		}
		tbps, err := parseUint("treasuryBps", treasury)
		if err != nil {
			return err
		}
		return l.SetCollateralRouting(caller, lending.CollateralRouting{LiquidatorBps: lbps, TreasuryBps: tbps})
	case paramTreasury:
		next, err := parseAddress("value", value)
		if err != nil {
			return err
		}
		return l.SetTreasury(caller, next)
	default:
		return badRequest("unknown parameter %q", req.Param)
	}
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, true)
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, false)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	var err error
	if paused {
		err = s.ledgers.Pauses.Pause(caller, module)
	} else {
		err = s.ledgers.Pauses.Unpause(caller, module)
	}
	if err != nil {
		s.fail(w, r, "toggle_pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": s.ledgers.Pauses.Paused()})
}
