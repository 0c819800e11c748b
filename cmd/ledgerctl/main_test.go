package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"xficredit/crypto"
	"xficredit/services/ledgerd/server"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	t.Setenv(secretEnv, testSecret)
	sub, err := crypto.GenerateAddress()
	require.NoError(t, err)

	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--sub", sub.String(), "--ttl", "5m", "--issuer", "ledgerd"})
	require.NoError(t, cmd.Execute())

	auth := server.NewAuthenticator(server.AuthConfig{HMACSecret: testSecret, Issuer: "ledgerd"}, nil)
	got, err := auth.Authenticate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, sub, got)
}

func TestTokenCommandRejectsBadSubject(t *testing.T) {
	t.Setenv(secretEnv, testSecret)
	cmd := newTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--sub", "not-an-address"})
	require.Error(t, cmd.Execute())
}

func TestReportCommandRequiresProtocolFile(t *testing.T) {
	dir := t.TempDir()
	cmd := newReportCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(dir, "db"), "--protocol", filepath.Join(dir, "missing.toml")})
	require.Error(t, cmd.Execute())
	_, err := os.Stat(filepath.Join(dir, "missing.toml"))
	require.True(t, os.IsNotExist(err))
}

func TestReportCommandWritesFiles(t *testing.T) {
	dir := t.TempDir()
	owner, err := crypto.GenerateAddress()
	require.NoError(t, err)
	protocolPath := filepath.Join(dir, "protocol.toml")
	body := "Owner = \"" + owner.String() + "\"\nAllowedTokens = [\"XFI\", \"USDC\"]\n"
	require.NoError(t, os.WriteFile(protocolPath, []byte(body), 0o600))

	out := filepath.Join(dir, "out")
	cmd := newReportCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--db", filepath.Join(dir, "ledger.db"), "--backend", "bolt", "--protocol", protocolPath, "--out", out})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines {
		require.FileExists(t, line)
	}
}
