package retention

import (
	"testing"
	"time"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

func TestScoreDecaysOverTime(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	input := graphstore.RetentionInput{
		LastAccess: now,
		Stability:  1,
		Importance: 5,
	}

	cfg := DefaultConfig()
	prev := Score(input, 0, now, cfg)
	for _, elapsed := range []time.Duration{time.Hour, 24 * time.Hour, 7 * 24 * time.Hour, 60 * 24 * time.Hour} {
		score := Score(input, 0, now.Add(elapsed), cfg)
		if score >= prev {
			t.Fatalf("score did not decay at %v: got %v, previous %v", elapsed, score, prev)
		}
		prev = score
	}
}

func TestScoreReinforcementSlowsDecay(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	later := now.Add(5 * 24 * time.Hour)

	fresh := graphstore.RetentionInput{LastAccess: now, Stability: 1}
	reinforced := graphstore.RetentionInput{LastAccess: now, Stability: 4}

	cfg := DefaultConfig()
	if Score(reinforced, 0, later, cfg) <= Score(fresh, 0, later, cfg) {
		t.Fatalf("higher stability must retain a higher score")
	}
}

func TestScoreClampsInputs(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	// future last_access and over-range importance must not push the
	// score outside the weight budget
	input := graphstore.RetentionInput{
		LastAccess: now.Add(time.Hour),
		Stability:  0,
		Importance: 99,
	}
	score := Score(input, 2.5, now, cfg)
	max := cfg.Weights.Recency + cfg.Weights.Importance + cfg.Weights.Relevance
	if score > max {
		t.Fatalf("score exceeds weight budget: got %v, max %v", score, max)
	}
	if neg := Score(graphstore.RetentionInput{LastAccess: now.Add(-365 * 24 * time.Hour)}, -1, now, cfg); neg < 0 {
		t.Fatalf("score went negative: %v", neg)
	}
}

func TestTierOfBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	tests := []struct {
		name        string
		age         time.Duration
		importance  int
		accessCount int
		want        common.Tier
	}{
		{name: "just created", age: 0, want: common.TierHot},
		{name: "under a day", age: 23 * time.Hour, want: common.TierHot},
		{name: "exactly hot boundary", age: 24 * time.Hour, want: common.TierWarm},
		{name: "under a week", age: 6 * 24 * time.Hour, want: common.TierWarm},
		{name: "aged but important", age: 10 * 24 * time.Hour, importance: 3, want: common.TierCold},
		{name: "aged but revisited", age: 10 * 24 * time.Hour, accessCount: 2, want: common.TierCold},
		{name: "aged and untouched", age: 10 * 24 * time.Hour, importance: 1, accessCount: 1, want: common.TierArchive},
		{name: "beyond cold age", age: 45 * 24 * time.Hour, importance: 10, accessCount: 50, want: common.TierArchive},
		{name: "clock skew", age: -time.Hour, want: common.TierHot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := graphstore.RetentionInput{
				LastAccess:  now.Add(-tt.age),
				Importance:  tt.importance,
				AccessCount: tt.accessCount,
			}
			got := TierOf(input, now, cfg)
			if got != tt.want {
				t.Fatalf("unexpected tier: got %q, want %q", got, tt.want)
			}
		})
	}
}
