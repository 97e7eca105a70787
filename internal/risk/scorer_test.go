package risk_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/risk"
	"github.com/doccomply/backend/internal/storage/models"
)

func violation(ruleID, severity string, confidence float64, createdAt time.Time) models.Violation {
	return models.Violation{
		Rule:      ruleID,
		Severity:  severity,
		CreatedAt: createdAt,
		Details: models.ViolationDetails{
			RuleID:     ruleID,
			Confidence: confidence,
		},
	}
}

func TestScore_RepeatAmplification(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	violations := []models.Violation{
		violation("r1", models.SeverityHigh, 0.9, now),
		violation("r1", models.SeverityHigh, 0.9, now),
	}

	assessment := risk.Score(violations, now)

	require.Len(t, assessment.Breakdown, 2)

	// 20 * 0.9 * 1.1 recency * 1.0 first occurrence.
	assert.InDelta(t, 19.8, assessment.Breakdown[0].Score, 1e-9)
	assert.InDelta(t, 1.0, assessment.Breakdown[0].RepeatMultiplier, 1e-9)

	// 20 * 0.9 * 1.1 recency * 1.1 second occurrence.
	assert.InDelta(t, 21.78, assessment.Breakdown[1].Score, 1e-9)
	assert.InDelta(t, 1.1, assessment.Breakdown[1].RepeatMultiplier, 1e-9)

	assert.InDelta(t, 41.58, assessment.Score, 1e-9)
	assert.Equal(t, risk.TierMedium, assessment.Tier)
}

func TestScore_RecencyBoostWindow(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	recent := risk.Score([]models.Violation{
		violation("r1", models.SeverityMedium, 1.0, now.Add(-6*24*time.Hour)),
	}, now)
	stale := risk.Score([]models.Violation{
		violation("r1", models.SeverityMedium, 1.0, now.Add(-8*24*time.Hour)),
	}, now)

	assert.InDelta(t, 13.2, recent.Score, 1e-9) // 12 * 1.1
	assert.InDelta(t, 12.0, stale.Score, 1e-9)
	assert.Equal(t, 1.1, recent.Breakdown[0].RecencyBoost)
	assert.Equal(t, 1.0, stale.Breakdown[0].RecencyBoost)
}

func TestScore_Defaults(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	tests := []struct {
		name      string
		violation models.Violation
		want      float64
	}{
		{
			name:      "unknown severity falls back to medium weight",
			violation: violation("r1", "bogus", 1.0, old),
			want:      12.0,
		},
		{
			name:      "missing confidence defaults to 0.7",
			violation: violation("r1", models.SeverityLow, 0, old),
			want:      3.5, // 5 * 0.7
		},
		{
			name:      "zero timestamp gets no recency boost",
			violation: violation("r1", models.SeverityLow, 1.0, time.Time{}),
			want:      5.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assessment := risk.Score([]models.Violation{tt.violation}, now)
			assert.InDelta(t, tt.want, assessment.Score, 1e-9)
		})
	}
}

func TestScore_CappedAt100(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	var violations []models.Violation
	for i := 0; i < 20; i++ {
		violations = append(violations, violation("r1", models.SeverityCritical, 1.0, now))
	}

	assessment := risk.Score(violations, now)

	assert.Equal(t, 100.0, assessment.Score)
	assert.Equal(t, risk.TierCritical, assessment.Tier)
	assert.Len(t, assessment.Breakdown, 20)
}

func TestScore_Monotonic(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	base := []models.Violation{
		violation("r1", models.SeverityLow, 0.5, old),
	}
	more := append([]models.Violation{}, base...)
	more = append(more, violation("r2", models.SeverityLow, 0.5, old))

	assert.Less(t, risk.Score(base, now).Score, risk.Score(more, now).Score)
}

func TestScore_TierBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	assert.Equal(t, risk.TierLow, risk.Score(nil, now).Tier)

	// 12 * 1.0 = 12 per distinct rule, old timestamps, distinct rule ids.
	mk := func(n int) []models.Violation {
		var out []models.Violation
		for i := 0; i < n; i++ {
			out = append(out, violation(string(rune('a'+i)), models.SeverityMedium, 1.0, old))
		}
		return out
	}

	assert.Equal(t, risk.TierLow, risk.Score(mk(2), now).Tier)      // 24
	assert.Equal(t, risk.TierMedium, risk.Score(mk(3), now).Tier)   // 36
	assert.Equal(t, risk.TierHigh, risk.Score(mk(5), now).Tier)     // 60, boundary inclusive
	assert.Equal(t, risk.TierCritical, risk.Score(mk(8), now).Tier) // 96
}

func TestScore_EmptyInput(t *testing.T) {
	assessment := risk.Score(nil, time.Now())

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, risk.TierLow, assessment.Tier)
	assert.Empty(t, assessment.Breakdown)
}
