package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xficredit/app"
	"xficredit/config"
	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/services/ledgerd/journal"
	"xficredit/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	t       *testing.T
	ledgers *app.Ledgers
	bank    *bank.Bank
	journal *journal.Journal
	hub     *Hub
	handler http.Handler
	owner   crypto.Address
	user    crypto.Address
	lender  crypto.Address
}

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	addr, err := crypto.GenerateAddress()
	require.NoError(t, err)
	return addr
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, bank: bank.NewBank(), owner: newAddress(t), user: newAddress(t), lender: newAddress(t)}

	protocol := config.Default()
	protocol.Owner = h.owner
	protocol.Treasury = h.owner
	protocol.AllowedTokens = []string{"XFI", "USDC"}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	h.journal, err = journal.New(db)
	require.NoError(t, err)
	h.hub = NewHub(nil)

	h.ledgers, err = app.New(protocol, app.Options{
		Store:       state.NewManager(storage.NewMemDB()),
		YieldPort:   h.bank.Port(app.CustodyAddress(app.YieldCustody)),
		LendingPort: h.bank.Port(app.CustodyAddress(app.LendingCustody)),
		Emitter:     events.Fanout{h.journal, h.hub},
	})
	require.NoError(t, err)

	cfg := Config{
		Ledgers:   h.ledgers,
		Journal:   h.journal,
		Hub:       h.hub,
		Auth:      AuthConfig{HMACSecret: testSecret},
		RateLimit: RateLimit{RequestsPerMinute: 60000, Burst: 1000},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func (h *harness) mint(token string, to crypto.Address, amount int64) {
	require.NoError(h.t, h.bank.Mint(token, to, big.NewInt(amount)))
}

func (h *harness) token(sub crypto.Address) string {
	tok, err := IssueToken(testSecret, sub, "", "", time.Hour, time.Now())
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path string, as *crypto.Address, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(*as))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = h.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/v1/tokens", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/v1/tokens", &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tokens []string `json:"tokens"`
	}
	decode(t, rec, &body)
	require.ElementsMatch(t, []string{"XFI", "USDC"}, body.Tokens)
}

func TestAnonymousReads(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Auth.AnonymousReads = true })
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/yield/stats", nil, nil).Code)
	rec := h.do(http.MethodPost, "/v1/yield/deposits", nil, depositRequest{Token: "XFI", Amount: "1", LockDuration: 86400})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestYieldDepositAndQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.mint("XFI", h.user, 5000)

	rec := h.do(http.MethodPost, "/v1/yield/deposits", &h.user, depositRequest{Token: "xfi", Amount: "1000", LockDuration: 7 * 86400})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		PositionID uint64 `json:"positionId"`
	}
	decode(t, rec, &created)
	require.Equal(t, uint64(1), created.PositionID)

	rec = h.do(http.MethodGet, "/v1/yield/positions?owner="+h.user.String(), &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Positions []positionView `json:"positions"`
	}
	decode(t, rec, &listed)
	require.Len(t, listed.Positions, 1)
	require.Equal(t, "1000", listed.Positions[0].Amount)
	require.Equal(t, "XFI", listed.Positions[0].Token)

	// Still locked.
	rec = h.do(http.MethodPost, "/v1/yield/positions/1/withdraw", &h.user, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody errorBody
	decode(t, rec, &errBody)
	require.Equal(t, "still_locked", errBody.Error)

	// Someone else cannot unstake it.
	rec = h.do(http.MethodPost, "/v1/yield/positions/1/unstake", &h.lender, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/yield/positions/1/unstake", &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "4000", h.bank.Balance("XFI", h.user).String())

	rec = h.do(http.MethodPost, "/v1/yield/claims/XFI", &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var claimed map[string]string
	decode(t, rec, &claimed)
	require.Equal(t, "900", claimed["amount"])
	require.Equal(t, "4900", h.bank.Balance("XFI", h.user).String())

	rec = h.do(http.MethodPost, "/v1/yield/claims/XFI", &h.user, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		name string
		body interface{}
		code int
	}{
		{"bad amount", depositRequest{Token: "XFI", Amount: "ten", LockDuration: 86400}, http.StatusBadRequest},
		{"zero amount", depositRequest{Token: "XFI", Amount: "0", LockDuration: 86400}, http.StatusBadRequest},
		{"unknown token", depositRequest{Token: "DOGE", Amount: "1", LockDuration: 86400}, http.StatusBadRequest},
		{"short lock", depositRequest{Token: "XFI", Amount: "1", LockDuration: 1}, http.StatusBadRequest},
		{"unknown field", map[string]string{"tokenz": "XFI"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/v1/yield/deposits", &h.user, tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestLoanLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.mint("USDC", h.lender, 5_000_000)
	h.mint("XFI", h.user, 10_000_000)
	h.mint("USDC", h.user, 1_000_000)

	rec := h.do(http.MethodPost, "/v1/lending/pool", &h.lender, tokenAmountRequest{Token: "USDC", Amount: "5000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/lending/loans", &h.user, borrowRequest{
		CollateralToken:  "XFI",
		CollateralAmount: "1000000",
		BorrowToken:      "USDC",
		BorrowAmount:     "500000",
		Duration:         30 * 86400,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan loanView
	decode(t, rec, &loan)
	require.Equal(t, uint64(1), loan.ID)
	require.Equal(t, "Active", loan.Status)
	require.Equal(t, uint32(2000), loan.InterestRateBps)

	rec = h.do(http.MethodGet, fmt.Sprintf("/v1/lending/loans/%s/1/due", h.user.String()), &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var due dueView
	decode(t, rec, &due)
	require.Equal(t, "500000", due.Principal)
	require.NotEmpty(t, due.HealthFactor)

	rec = h.do(http.MethodPost, "/v1/lending/loans/1/repay", &h.lender, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/lending/liquidations", &h.lender, liquidateRequest{User: h.user.String(), LoanID: 1})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/v1/lending/loans/1/repay", &h.user, repayRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/lending/loans?user="+h.user.String(), &h.user, nil)
	var listed struct {
		Loans []loanView `json:"loans"`
	}
	decode(t, rec, &listed)
	require.Len(t, listed.Loans, 1)
	require.False(t, listed.Loans[0].Active)
	require.Equal(t, "Repaid", listed.Loans[0].Status)

	rec = h.do(http.MethodGet, "/v1/credit/"+h.user.String(), &h.user, nil)
	var profile profileView
	decode(t, rec, &profile)
	require.Equal(t, uint32(1), profile.OnTimeRepayments)
	require.Equal(t, uint32(320), profile.Score)

	rec = h.do(http.MethodGet, "/v1/treasury", &h.owner, nil)
	var treasury struct {
		Address  string            `json:"address"`
		Balances map[string]string `json:"balances"`
	}
	decode(t, rec, &treasury)
	require.Equal(t, h.owner.String(), treasury.Address)
	require.Equal(t, "10000", treasury.Balances["USDC"])
}

func TestBatchLiquidationReportsSkips(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/v1/lending/liquidations/batch", &h.lender, batchLiquidateRequest{
		Users:   []string{h.user.String()},
		LoanIDs: []uint64{7},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch batchView
	decode(t, rec, &batch)
	require.Empty(t, batch.Liquidated)
	require.Len(t, batch.Skipped, 1)

	rec = h.do(http.MethodPost, "/v1/lending/liquidations/batch", &h.lender, batchLiquidateRequest{
		Users:   []string{h.user.String()},
		LoanIDs: []uint64{1, 2},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/admin/pause/lending", &h.user, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/pause/lending", &h.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/v1/lending/pool", &h.lender, tokenAmountRequest{Token: "USDC", Amount: "1"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = h.do(http.MethodPost, "/v1/admin/unpause/lending", &h.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/lending/params", &h.owner, lendingParamRequest{Param: "protocolFeeBps", Value: "300"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(300), h.ledgers.Lending.Params().ProtocolFeeBps)

	rec = h.do(http.MethodPost, "/v1/admin/lending/params", &h.owner, lendingParamRequest{Param: "collateralRouting", Value: "6000/5000"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/lending/params", &h.owner, lendingParamRequest{Param: "liquidationThreshold", Value: "75"})
	require.Equal(t, http.StatusBadRequest, rec.Code, "token scoped parameter without token")

	rec = h.do(http.MethodPost, "/v1/admin/lending/params", &h.owner, lendingParamRequest{Param: "liquidationThreshold", Token: "XFI", Value: "75"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(75), h.ledgers.Lending.TokenRisk("XFI").Threshold)

	rec = h.do(http.MethodPost, "/v1/admin/credit/"+h.user.String(), &h.owner, scoreRequest{Score: 850})
	require.Equal(t, http.StatusOK, rec.Code)
	var profile profileView
	decode(t, rec, &profile)
	require.Equal(t, uint32(500), profile.RateBps)

	rec = h.do(http.MethodPost, "/v1/admin/tokens/DOGE", &h.owner, allowedRequest{Allowed: true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, h.ledgers.Registry.IsAllowed("DOGE"))

	rec = h.do(http.MethodPost, "/v1/admin/yield/parameters", &h.owner, yieldParamsRequest{RateBps: 1500, MinDuration: 100, MaxDuration: 50})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsAreJournaled(t *testing.T) {
	h := newHarness(t, nil)
	h.mint("XFI", h.user, 1000)
	rec := h.do(http.MethodPost, "/v1/yield/deposits", &h.user, depositRequest{Token: "XFI", Amount: "1000", LockDuration: 86400})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodGet, "/v1/events?after=0&limit=50", &h.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []struct {
			Seq  uint64 `json:"seq"`
			Type string `json:"type"`
		} `json:"events"`
	}
	decode(t, rec, &body)
	var types []string
	for _, evt := range body.Events {
		types = append(types, evt.Type)
	}
	require.Contains(t, types, "yield.deposited")

	rec = h.do(http.MethodGet, "/v1/events?limit=-1", &h.user, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1} })
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/tokens", &h.user, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/v1/tokens", &h.user, nil).Code)
	// Buckets are per caller.
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/tokens", &h.lender, nil).Code)
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "ledgerd"}, nil)
	user, err := crypto.GenerateAddress()
	require.NoError(t, err)

	good, err := IssueToken(testSecret, user, "ledgerd", "", time.Hour, time.Now())
	require.NoError(t, err)
	got, err := auth.Authenticate(good)
	require.NoError(t, err)
	require.Equal(t, user, got)

	expired, err := IssueToken(testSecret, user, "ledgerd", "", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.Authenticate(expired)
	require.Error(t, err)
	require.Equal(t, "expired", failureReason(err))

	wrongIssuer, err := IssueToken(testSecret, user, "other", "", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongIssuer)
	require.Error(t, err)

	forged, err := IssueToken(strings.Repeat("x", 32), user, "ledgerd", "", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = auth.Authenticate(forged)
	require.Error(t, err)

	_, err = auth.Authenticate("")
	require.ErrorIs(t, err, errMissingToken)

	_, err = IssueToken("", user, "", "", time.Hour, time.Now())
	require.Error(t, err)
}

func TestEventsUnavailableWithoutJournal(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Journal = nil })
	rec := h.do(http.MethodGet, "/v1/events", &h.user, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewRequiresLedgers(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", id)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get("X-Request-Id"))
}
