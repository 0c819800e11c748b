package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xficredit/cmd/internal/passphrase"
	"xficredit/crypto"
	"xficredit/services/ledgerd/server"
)

const (
	secretEnv    = "XFI_JWT_SECRET"
	minSecretLen = 32
)

func newTokenCmd() *cobra.Command {
	var (
		subject  string
		ttl      time.Duration
		issuer   string
		audience string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for ledgerd",
		Long: `Mint a bearer token whose subject is the caller address ledgerd acts for.
The signing secret is read from XFI_JWT_SECRET or prompted for without echo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := crypto.ParseAddress(subject)
			if err != nil {
				return fmt.Errorf("--sub: %w", err)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			secret, err := passphrase.NewSource(secretEnv, "JWT signing secret", minSecretLen).Get()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(secret, sub, issuer, audience, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "caller address (xfi1... or 0x...)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim, must match ledgerd auth.issuer when set")
	cmd.Flags().StringVar(&audience, "audience", "", "aud claim, must match ledgerd auth.audience when set")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
