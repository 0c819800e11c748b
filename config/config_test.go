package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xficredit/crypto"
	"xficredit/native/lending"
)

const testOwner = "0x00000000000000000000000000000000000000a0"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protocol.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "protocol.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Owner.IsZero())
	assert.Equal(t, cfg.Owner, cfg.Treasury)
	assert.Equal(t, uint64(1000), cfg.Yield.RateBps)
	assert.Equal(t, uint64(150), cfg.Lending.MinHealthFactor)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Owner, reloaded.Owner)
	assert.Equal(t, 48*time.Hour, reloaded.Yield.EmergencyDelay)
	assert.Equal(t, cfg.Credit.Tiers, reloaded.Credit.Tiers)
}

func TestLoadParsesOverrides(t *testing.T) {
	path := writeConfig(t, `Owner = "`+testOwner+`"
AllowedTokens = [" xfi ", "usdc"]

[yield]
rate_bps = 1200
min_duration = 3600
max_duration = 7776000
penalty_bps = 500
emergency_delay = "24h"
restrict_reserve_funding = true

[lending]
min_health_factor = 140
protocol_fee_bps = 100
allow_late_repayment = false

[lending.collateral_routing]
liquidator_bps = 8000
treasury_bps = 2000

[[token]]
Token = "XFI"
MinCollateral = "1000000000000000000000"
LiquidationThreshold = 75

[pauses]
lending = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"XFI", "USDC"}, cfg.AllowedTokens)
	assert.Equal(t, cfg.Owner, cfg.Treasury)
	assert.Equal(t, uint64(1200), cfg.Yield.RateBps)
	assert.Equal(t, 24*time.Hour, cfg.Yield.EmergencyDelay)
	assert.True(t, cfg.Yield.RestrictReserveFunding)
	assert.False(t, cfg.Lending.AllowLateRepayment)
	assert.Equal(t, lending.CollateralRouting{LiquidatorBps: 8000, TreasuryBps: 2000}, cfg.Lending.Routing)
	assert.Equal(t, uint64(80), cfg.Lending.DefaultThreshold)
	require.Len(t, cfg.Tokens, 1)
	min, err := cfg.Tokens[0].MinCollateralAmount()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", min.String())
	assert.Equal(t, []string{"lending"}, cfg.Pauses.Modules())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `Owner = "`+testOwner+`"
Validators = 3
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Validators")
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Owner[19] = 0xA0
		cfg.normalize()
		return *cfg
	}
	require.NoError(t, ValidateConfig(base()))

	cases := map[string]func(*Config){
		"missing owner":      func(c *Config) { c.Owner = crypto.Address{} },
		"fee too high":       func(c *Config) { c.Lending.ProtocolFeeBps = 10_001 },
		"threshold too high": func(c *Config) { c.Lending.DefaultThreshold = 101 },
		"routing overflow":   func(c *Config) { c.Lending.Routing.TreasuryBps = 10_000 },
		"yield bounds":       func(c *Config) { c.Yield.MinDuration = c.Yield.MaxDuration + 1 },
		"credit tiers":       func(c *Config) { c.Credit.Tiers = nil },
		"token threshold": func(c *Config) {
			c.Tokens = []TokenRisk{{Token: "XFI", LiquidationThreshold: 150}}
		},
		"token amount": func(c *Config) {
			c.Tokens = []TokenRisk{{Token: "XFI", MinCollateral: "-1"}}
		},
		"duplicate token": func(c *Config) {
			c.Tokens = []TokenRisk{{Token: "XFI"}, {Token: "xfi"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}
