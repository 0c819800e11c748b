package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"xficredit/crypto"
)

// RemoteConfig describes an external transfer service.
type RemoteConfig struct {
	BaseURL  string
	Custody  crypto.Address
	APIToken string
	Timeout  time.Duration
	// Breaker trips after this many consecutive failures.
	MaxFailures uint32
	// OpenFor is how long the breaker rejects calls once tripped.
	OpenFor time.Duration
}

// RemotePort forwards movements to an HTTP transfer service. Calls are guarded
// by a circuit breaker so an unhealthy service fails fast with
// ErrPortUnavailable.
type RemotePort struct {
	cfg     RemoteConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type transferRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Custody string `json:"custody"`
	Amount  string `json:"amount"`
}

// NewRemotePort validates cfg and builds the client.
func NewRemotePort(cfg RemoteConfig) (*RemotePort, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bank: remote base url required")
	}
	if cfg.Custody.IsZero() {
		return nil, fmt.Errorf("bank: remote custody address required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:    "transfer-port",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Business rejections do not indicate an unhealthy service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrTransferRejected)
		},
	}
	return &RemotePort{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Pull implements Port.
func (p *RemotePort) Pull(ctx context.Context, token string, from crypto.Address, amount *big.Int) error {
	return p.call(ctx, "pull", token, from, amount)
}

// Push implements Port.
func (p *RemotePort) Push(ctx context.Context, token string, to crypto.Address, amount *big.Int) error {
	return p.call(ctx, "push", token, to, amount)
}

func (p *RemotePort) call(ctx context.Context, direction, token string, account crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	body, err := json.Marshal(transferRequest{
		Token:   token,
		Account: account.String(),
		Custody: p.cfg.Custody.String(),
		Amount:  amount.String(),
	})
	if err != nil {
		return err
	}
	// One key per logical movement so the service can drop duplicates.
	idempotencyKey := uuid.NewString()
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.post(ctx, direction, idempotencyKey, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	return err
}

func (p *RemotePort) post(ctx context.Context, direction, idempotencyKey string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/transfers/"+direction, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if p.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(detail))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransferRejected, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrPortUnavailable, resp.StatusCode, msg)
	}
}
