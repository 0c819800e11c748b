package credit

import (
	"errors"
	"fmt"
	"sort"
)

// Tier prices borrowers whose score is at least MinScore. A non-zero
// MinHealthFactor replaces the ledger-wide minimum for the tier.
type Tier struct {
	MinScore        uint32 `toml:"min_score" yaml:"minScore" json:"minScore"`
	RateBps         uint32 `toml:"rate_bps" yaml:"rateBps" json:"rateBps"`
	MinHealthFactor uint64 `toml:"min_health_factor" yaml:"minHealthFactor" json:"minHealthFactor,omitempty"`
}

// Policy holds the tunable scoring rules.
type Policy struct {
	DefaultScore       uint32 `toml:"default_score"`
	MaxScore           uint32 `toml:"max_score"`
	OnTimeBonus        uint32 `toml:"on_time_bonus"`
	LatePenalty        uint32 `toml:"late_penalty"`
	LiquidationPenalty uint32 `toml:"liquidation_penalty"`
	Tiers              []Tier `toml:"tiers"`
}

var (
	errNoTiers          = errors.New("credit policy: at least one tier required")
	errNoFloorTier      = errors.New("credit policy: a tier with min_score 0 is required")
	errNonMonotoneTiers = errors.New("credit policy: rates must not decrease as scores fall")
	errDuplicateTier    = errors.New("credit policy: duplicate tier min_score")
)

// DefaultPolicy returns the scoring rules used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		DefaultScore:       300,
		MaxScore:           1000,
		OnTimeBonus:        20,
		LatePenalty:        50,
		LiquidationPenalty: 100,
		// Scores from 500 up borrow against a relaxed health factor; the floor
		// tier uses the ledger-wide minimum.
		Tiers: []Tier{
			{MinScore: 800, RateBps: 500, MinHealthFactor: 120},
			{MinScore: 700, RateBps: 800, MinHealthFactor: 130},
			{MinScore: 600, RateBps: 1200, MinHealthFactor: 135},
			{MinScore: 500, RateBps: 1500, MinHealthFactor: 140},
			{MinScore: 0, RateBps: 2000},
		},
	}
}

// Normalize sorts tiers from the highest MinScore down.
func (p Policy) Normalize() Policy {
	tiers := append([]Tier(nil), p.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinScore > tiers[j].MinScore })
	p.Tiers = tiers
	return p
}

// Validate checks bounds and that the tier table is monotone.
func (p Policy) Validate() error {
	if p.MaxScore == 0 {
		return fmt.Errorf("credit policy: max_score must be positive")
	}
	if p.DefaultScore > p.MaxScore {
		return fmt.Errorf("credit policy: default_score %d exceeds max_score %d", p.DefaultScore, p.MaxScore)
	}
	if len(p.Tiers) == 0 {
		return errNoTiers
	}
	tiers := p.Normalize().Tiers
	if tiers[len(tiers)-1].MinScore != 0 {
		return errNoFloorTier
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinScore == tiers[i-1].MinScore {
			return errDuplicateTier
		}
		if tiers[i].RateBps < tiers[i-1].RateBps {
			return errNonMonotoneTiers
		}
	}
	return nil
}

// TierFor returns the tier pricing score. Policies are expected to be
// normalized and validated.
func (p Policy) TierFor(score uint32) Tier {
	for _, tier := range p.Tiers {
		if score >= tier.MinScore {
			return tier
		}
	}
	if len(p.Tiers) == 0 {
		return Tier{}
	}
	return p.Tiers[len(p.Tiers)-1]
}

func (p Policy) clamp(score int64) uint32 {
	if score < 0 {
		return 0
	}
	if score > int64(p.MaxScore) {
		return p.MaxScore
	}
	return uint32(score)
}
