package config

import (
	"fmt"
	"strings"
)

// ValidateConfig checks the bounds the ledgers would otherwise reject at
// runtime.
func ValidateConfig(c Config) error {
	if c.Owner.IsZero() {
		return fmt.Errorf("owner: must be set")
	}
	if err := c.Yield.Validate(); err != nil {
		return fmt.Errorf("yield: %w", err)
	}
	if err := c.Lending.Validate(); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	if err := c.Credit.Validate(); err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, token := range c.Tokens {
		name := strings.ToUpper(strings.TrimSpace(token.Token))
		if name == "" {
			return fmt.Errorf("token: Token must be set")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("token %s: duplicate entry", name)
		}
		seen[name] = struct{}{}
		if token.LiquidationThreshold > 100 {
			return fmt.Errorf("token %s: LiquidationThreshold must be <= 100", name)
		}
		if _, err := token.MinCollateralAmount(); err != nil {
			return err
		}
	}
	return nil
}
