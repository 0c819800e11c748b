package bank

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xficredit/crypto"
)

func addr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestCustodyPortMovesValue(t *testing.T) {
	b := NewBank()
	user := addr(0x01)
	custody := addr(0xCC)
	require.NoError(t, b.Mint("xfi", user, big.NewInt(100)))

	port := b.Port(custody)
	ctx := context.Background()
	require.NoError(t, port.Pull(ctx, "XFI", user, big.NewInt(60)))
	require.Equal(t, "40", b.Balance("XFI", user).String())
	require.Equal(t, "60", b.Balance("XFI", custody).String())

	err := port.Pull(ctx, "XFI", user, big.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, "40", b.Balance("XFI", user).String(), "failed pull must not move value")

	require.NoError(t, port.Push(ctx, "XFI", user, big.NewInt(10)))
	require.Equal(t, "50", b.Balance("XFI", user).String())

	require.Error(t, port.Push(ctx, "XFI", user, big.NewInt(0)))
	require.Equal(t, []string{"XFI"}, b.Tokens())
}

func TestCustodyPortHonoursCancellation(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Mint("XFI", addr(1), big.NewInt(5)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Port(addr(2)).Pull(ctx, "XFI", addr(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrPortUnavailable)
}

func TestRemotePortMapsStatuses(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req transferRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "25", req.Amount)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	port, err := NewRemotePort(RemoteConfig{BaseURL: srv.URL + "/", Custody: addr(0xCC), APIToken: "secret", MaxFailures: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, port.Pull(ctx, "XFI", addr(1), big.NewInt(25)))
	require.Equal(t, "/v1/transfers/pull", lastPath.Load())
	require.NoError(t, port.Push(ctx, "XFI", addr(1), big.NewInt(25)))
	require.Equal(t, "/v1/transfers/push", lastPath.Load())

	status.Store(http.StatusPaymentRequired)
	require.ErrorIs(t, port.Pull(ctx, "XFI", addr(1), big.NewInt(25)), ErrInsufficientFunds)
	status.Store(http.StatusForbidden)
	require.ErrorIs(t, port.Pull(ctx, "XFI", addr(1), big.NewInt(25)), ErrTransferRejected)

	// Rejections do not trip the breaker; server errors do.
	status.Store(http.StatusBadGateway)
	require.ErrorIs(t, port.Pull(ctx, "XFI", addr(1), big.NewInt(25)), ErrPortUnavailable)
	require.ErrorIs(t, port.Pull(ctx, "XFI", addr(1), big.NewInt(25)), ErrPortUnavailable)
	status.Store(http.StatusOK)
	err = port.Pull(ctx, "XFI", addr(1), big.NewInt(25))
	require.ErrorIs(t, err, ErrPortUnavailable, "open breaker should fail fast")
}

func TestNewRemotePortValidates(t *testing.T) {
	_, err := NewRemotePort(RemoteConfig{Custody: addr(1)})
	require.Error(t, err)
	_, err = NewRemotePort(RemoteConfig{BaseURL: "http://x"})
	require.Error(t, err)
	require.True(t, errors.Is(validAmount(nil), errInvalidAmount))
}
