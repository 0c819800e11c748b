package config

// Pauses lists the modules that start paused.
type Pauses struct {
	Yield   bool `toml:"yield"`
	Lending bool `toml:"lending"`
	Fees    bool `toml:"fees"`
}

// Modules returns the names of the paused modules.
func (p Pauses) Modules() []string {
	var out []string
	if p.Yield {
		out = append(out, "yield")
	}
	if p.Lending {
		out = append(out, "lending")
	}
	if p.Fees {
		out = append(out, "fees")
	}
	return out
}

// TokenRisk seeds the per-token lending settings. MinCollateral is a decimal
// string so amounts beyond 64 bits can be expressed.
type TokenRisk struct {
	Token                string `toml:"Token"`
	MinCollateral        string `toml:"MinCollateral"`
	LiquidationThreshold uint64 `toml:"LiquidationThreshold"`
	BorrowRestricted     bool   `toml:"BorrowRestricted"`
}
