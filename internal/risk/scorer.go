package risk

import (
	"math"
	"strings"
	"time"

	"github.com/doccomply/backend/internal/storage/models"
)

var severityWeights = map[string]float64{
	models.SeverityLow:      5,
	models.SeverityMedium:   12,
	models.SeverityHigh:     20,
	models.SeverityCritical: 30,
}

const (
	defaultConfidence = 0.7
	recencyWindow     = 7 * 24 * time.Hour
	recencyBoost      = 1.1
	repeatStep        = 0.1
	maxScore          = 100.0
)

const (
	TierLow      = "Low"
	TierMedium   = "Medium"
	TierHigh     = "High"
	TierCritical = "Critical"
)

type BreakdownEntry struct {
	Rule             string  `json:"rule"`
	Severity         string  `json:"severity"`
	BaseWeight       float64 `json:"base_weight"`
	Confidence       float64 `json:"confidence"`
	RecencyBoost     float64 `json:"recency_boost"`
	RepeatMultiplier float64 `json:"repeat_multiplier"`
	Score            float64 `json:"score"`
}

type Assessment struct {
	Score     float64          `json:"score"`
	Tier      string           `json:"tier"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}

// Score aggregates violations into a bounded risk score and a
// qualitative tier. The breakdown has one entry per input violation in
// input order, so the result is reproducible bit-for-bit given the same
// violations and reference time. Callers should pass violations in a
// stable order, typically chronological: the repeat multiplier rewards
// the Nth infraction of the same rule by input position.
func Score(violations []models.Violation, now time.Time) Assessment {
	recentCutoff := now.Add(-recencyWindow)
	ruleCounts := map[string]int{}

	breakdown := make([]BreakdownEntry, 0, len(violations))
	total := 0.0

	for _, violation := range violations {
		severity := strings.ToLower(violation.Severity)
		baseWeight, ok := severityWeights[severity]
		if !ok {
			baseWeight = severityWeights[models.SeverityMedium]
		}

		confidence := violation.Details.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence
		}

		ruleID := violation.Details.RuleID
		if ruleID == "" {
			ruleID = violation.Rule
		}
		if ruleID == "" {
			ruleID = "unknown"
		}
		ruleCounts[ruleID]++

		boost := 1.0
		if !violation.CreatedAt.IsZero() && !violation.CreatedAt.Before(recentCutoff) {
			boost = recencyBoost
		}

		repeatMultiplier := 1.0 + float64(ruleCounts[ruleID]-1)*repeatStep

		score := baseWeight * confidence * boost * repeatMultiplier
		total += score

		breakdown = append(breakdown, BreakdownEntry{
			Rule:             ruleID,
			Severity:         severity,
			BaseWeight:       baseWeight,
			Confidence:       round2(confidence),
			RecencyBoost:     boost,
			RepeatMultiplier: round2(repeatMultiplier),
			Score:            round2(score),
		})
	}

	capped := math.Min(round2(total), maxScore)

	return Assessment{
		Score:     capped,
		Tier:      tierFor(capped),
		Breakdown: breakdown,
	}
}

func tierFor(score float64) string {
	switch {
	case score >= 85:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 30:
		return TierMedium
	default:
		return TierLow
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
