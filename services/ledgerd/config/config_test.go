package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xficredit/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"XFI_LISTEN", "XFI_JWT_SECRET", "XFI_STORAGE_BACKEND", "XFI_STORAGE_PATH", "XFI_REDIS_ADDR", "XFI_REDIS_DB"} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
protocol: " protocol.toml "
auth:
  hmac_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8085", cfg.ListenAddress)
	require.Equal(t, "protocol.toml", cfg.ProtocolPath)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, BankMemory, cfg.Bank.Mode)
	require.Equal(t, "xfi.events", cfg.Redis.Channel)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, 600.0, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("XFI_LISTEN", ":9999")
	t.Setenv("XFI_STORAGE_BACKEND", "leveldb")
	t.Setenv("XFI_STORAGE_PATH", "/tmp/ledger")
	t.Setenv("XFI_REDIS_DB", "3")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, x-tenant = xfi")
	path := writeConfig(t, `
protocol: protocol.toml
auth:
  hmac_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, "/tmp/ledger", cfg.Storage.Path)
	require.Equal(t, 3, cfg.Redis.DB)
	require.Equal(t, map[string]string{"x-api-key": "abc", "x-tenant": "xfi"}, cfg.Telemetry.Headers)
}

func TestLoadParsesGenesisAndDurations(t *testing.T) {
	clearEnv(t)
	account, err := crypto.GenerateAddress()
	require.NoError(t, err)
	path := writeConfig(t, `
protocol: protocol.toml
shutdown_timeout: 30s
auth:
  hmac_secret: "`+testSecret+`"
  clock_skew: 5s
bank:
  genesis:
    - account: "`+account.String()+`"
      token: " usdc "
      amount: "1000000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Len(t, cfg.Bank.Genesis, 1)
	require.Equal(t, "USDC", cfg.Bank.Genesis[0].Token)
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"missing protocol": `
auth:
  hmac_secret: "` + testSecret + `"
`,
		"short secret": `
protocol: p.toml
auth:
  hmac_secret: short
`,
		"unknown backend": `
protocol: p.toml
storage:
  backend: rocks
auth:
  hmac_secret: "` + testSecret + `"
`,
		"leveldb without path": `
protocol: p.toml
storage:
  backend: leveldb
auth:
  hmac_secret: "` + testSecret + `"
`,
		"journal without dsn": `
protocol: p.toml
journal:
  driver: postgres
auth:
  hmac_secret: "` + testSecret + `"
`,
		"remote without url": `
protocol: p.toml
bank:
  mode: remote
auth:
  hmac_secret: "` + testSecret + `"
`,
		"bad genesis amount": `
protocol: p.toml
bank:
  genesis:
    - account: "0x0000000000000000000000000000000000000001"
      token: XFI
      amount: "-5"
auth:
  hmac_secret: "` + testSecret + `"
`,
		"unknown key": `
protocol: p.toml
listen_addr: ":1"
auth:
  hmac_secret: "` + testSecret + `"
`,
		"bad duration": `
protocol: p.toml
shutdown_timeout: soon
auth:
  hmac_secret: "` + testSecret + `"
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load(" ")
	require.Error(t, err)
}
