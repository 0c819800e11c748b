package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"xficredit/crypto"
	"xficredit/native/credit"
	"xficredit/native/lending"
	"xficredit/native/yield"
)

// Config is the protocol configuration shared by every ledger.
type Config struct {
	// Owner holds the administrative capability.
	Owner crypto.Address `toml:"Owner"`
	// Treasury receives protocol fees; it defaults to Owner.
	Treasury      crypto.Address `toml:"Treasury"`
	AllowedTokens []string       `toml:"AllowedTokens"`
	Yield         yield.Params   `toml:"yield"`
	Lending       lending.Params `toml:"lending"`
	Credit        credit.Policy  `toml:"credit"`
	Tokens        []TokenRisk    `toml:"token"`
	Pauses        Pauses         `toml:"pauses"`
}

// Load reads the protocol configuration from path. A missing file is created
// with the launch defaults and a freshly generated owner.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := ValidateConfig(*cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the launch configuration without an owner.
func Default() *Config {
	return &Config{
		AllowedTokens: []string{},
		Yield:         yield.DefaultParams(),
		Lending:       lending.DefaultParams(),
		Credit:        credit.DefaultPolicy(),
		Tokens:        []TokenRisk{},
	}
}

func (c *Config) normalize() {
	if c.Treasury.IsZero() {
		c.Treasury = c.Owner
	}
	if c.AllowedTokens == nil {
		c.AllowedTokens = []string{}
	}
	for i, token := range c.AllowedTokens {
		c.AllowedTokens[i] = strings.ToUpper(strings.TrimSpace(token))
	}
	c.Lending.EnsureDefaults()
	c.Credit = c.Credit.Normalize()
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	owner, err := crypto.GenerateAddress()
	if err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Owner = owner
	cfg.normalize()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
