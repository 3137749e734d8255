package retention

import (
	"math"
	"time"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

// Weights balance the three score components. They should sum to roughly
// one but nothing enforces it; tiering uses ages, not the raw score.
type Weights struct {
	Recency    float64
	Importance float64
	Relevance  float64
}

// Config parameterizes scoring and tiering. Zero values fall back to the
// defaults below.
type Config struct {
	Weights Weights

	// BaseStability is the decay time constant for a node that was never
	// reinforced (stability multiplier 1.0). Reinforcement grows the
	// multiplier, never shrinks it, so a well-used node decays slower.
	BaseStability time.Duration

	HotAge  time.Duration
	WarmAge time.Duration
	ColdAge time.Duration

	// A node older than WarmAge only stays Cold (instead of falling to
	// Archive) if it clears one of these floors.
	ColdMinImportance  int
	ColdMinAccessCount int
}

// DefaultConfig mirrors the documented tier boundaries: <24h hot, up to
// 7d warm, up to 30d cold, archive beyond.
func DefaultConfig() Config {
	return Config{
		Weights:            Weights{Recency: 0.5, Importance: 0.3, Relevance: 0.2},
		BaseStability:      72 * time.Hour,
		HotAge:             24 * time.Hour,
		WarmAge:            7 * 24 * time.Hour,
		ColdAge:            30 * 24 * time.Hour,
		ColdMinImportance:  3,
		ColdMinAccessCount: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.BaseStability <= 0 {
		c.BaseStability = d.BaseStability
	}
	if c.HotAge <= 0 {
		c.HotAge = d.HotAge
	}
	if c.WarmAge <= 0 {
		c.WarmAge = d.WarmAge
	}
	if c.ColdAge <= 0 {
		c.ColdAge = d.ColdAge
	}
	if c.ColdMinImportance <= 0 {
		c.ColdMinImportance = d.ColdMinImportance
	}
	if c.ColdMinAccessCount <= 0 {
		c.ColdMinAccessCount = d.ColdMinAccessCount
	}
	return c
}

// Score computes the retention score of a node at a point in time. It is a
// pure function of the stored inputs: the score itself is never persisted,
// so a formula change can never diverge from stale stored outputs.
//
// score = w_r * e^(-Δt/S) + w_i * (importance/10) + w_v * relevance
//
// Δt is the time since last access or confirmation; S grows with each
// reinforcement and never shrinks, so for a node with no new access the
// score is monotonically non-increasing in time.
func Score(input graphstore.RetentionInput, relevance float64, now time.Time, cfg Config) float64 {
	cfg = cfg.withDefaults()

	stability := input.Stability
	if stability < 1 {
		stability = 1
	}
	elapsed := now.Sub(input.LastAccess)
	if elapsed < 0 {
		elapsed = 0
	}
	s := cfg.BaseStability.Seconds() * stability
	recency := math.Exp(-elapsed.Seconds() / s)

	importance := float64(input.Importance) / 10
	if importance > 1 {
		importance = 1
	}
	if relevance < 0 {
		relevance = 0
	} else if relevance > 1 {
		relevance = 1
	}

	return cfg.Weights.Recency*recency +
		cfg.Weights.Importance*importance +
		cfg.Weights.Relevance*relevance
}

// TierOf assigns the retention tier from the node's age since last access,
// with the importance-or-access floor guarding the Cold tier. Nodes that
// age past ColdAge, or that age past WarmAge without clearing a floor,
// land in Archive and become eligible for pruning.
func TierOf(input graphstore.RetentionInput, now time.Time, cfg Config) common.Tier {
	cfg = cfg.withDefaults()

	age := now.Sub(input.LastAccess)
	if age < 0 {
		age = 0
	}

	switch {
	case age < cfg.HotAge:
		return common.TierHot
	case age < cfg.WarmAge:
		return common.TierWarm
	case age < cfg.ColdAge:
		if input.Importance >= cfg.ColdMinImportance || input.AccessCount >= cfg.ColdMinAccessCount {
			return common.TierCold
		}
		return common.TierArchive
	default:
		return common.TierArchive
	}
}
