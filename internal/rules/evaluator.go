package rules

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

const (
	keywordConfidence = 0.7
	regexConfidence   = 0.9

	semanticThreshold = 0.75
	// Semantic comparison cost is bounded per section.
	semanticMaxChars = 2000

	snippetWindow       = 80
	semanticEvidenceLen = 200
)

// Evaluate matches active policy rules against normalized sections and
// returns the violation candidates in deterministic order (rule-major,
// section-minor). A section may trigger multiple rules and a rule may
// trigger on multiple sections; deduplication is not this layer's job.
func Evaluate(ruleSet []models.PolicyRule, sections []models.Section) []models.ViolationCandidate {
	candidates := []models.ViolationCandidate{}

	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rule.IsActive {
			continue
		}

		needle := strings.TrimSpace(rule.Pattern)
		if needle == "" {
			needle = strings.TrimSpace(rule.Name)
		}

		var matcher func(text string) (models.ViolationCandidate, bool)

		switch rule.PatternType {
		case models.PatternRegex:
			re := compilePattern(needle)
			if re == nil {
				// Invalid patterns never match and never abort evaluation.
				continue
			}
			matcher = func(text string) (models.ViolationCandidate, bool) {
				loc := re.FindStringIndex(text)
				if loc == nil {
					return models.ViolationCandidate{}, false
				}
				return candidate(rule, snippet(text, loc[0], loc[1]), regexConfidence), true
			}
		case models.PatternSemantic:
			intent := strings.TrimSpace(rule.Description)
			if intent == "" {
				intent = needle
			}
			intent = strings.ToLower(intent)
			matcher = func(text string) (models.ViolationCandidate, bool) {
				capped := firstRunes(text, semanticMaxChars)
				score := similarityRatio(intent, strings.ToLower(capped))
				if score < semanticThreshold {
					return models.ViolationCandidate{}, false
				}
				return candidate(rule, firstRunes(text, semanticEvidenceLen), round2(score)), true
			}
		default:
			lowered := strings.ToLower(needle)
			if lowered == "" {
				continue
			}
			matcher = func(text string) (models.ViolationCandidate, bool) {
				start := strings.Index(strings.ToLower(text), lowered)
				if start < 0 {
					return models.ViolationCandidate{}, false
				}
				return candidate(rule, snippet(text, start, start+len(lowered)), keywordConfidence), true
			}
		}

		for _, section := range sections {
			if section.Text == "" {
				continue
			}

			if hit, ok := matcher(section.Text); ok {
				hit.Location = models.ViolationLocation{SectionID: section.ID, Label: section.Label}
				candidates = append(candidates, hit)
			}
		}
	}

	logger.Debug("Rules evaluated",
		zap.Int("rules", len(ruleSet)),
		zap.Int("sections", len(sections)),
		zap.Int("candidates", len(candidates)),
	)

	return candidates
}

func candidate(rule *models.PolicyRule, evidence string, confidence float64) models.ViolationCandidate {
	return models.ViolationCandidate{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		Severity:       rule.Severity,
		Evidence:       evidence,
		Confidence:     confidence,
		RecommendedFix: rule.Remediation,
	}
}

func compilePattern(pattern string) *regexp.Regexp {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Debug("Invalid rule pattern, treated as non-matching", zap.String("pattern", pattern))
		return nil
	}
	return re
}

// snippet widens a byte-indexed match by the window on each side,
// nudging the cut points onto rune boundaries so multibyte text never
// yields invalid UTF-8 evidence.
func snippet(text string, start, end int) string {
	left := start - snippetWindow
	if left < 0 {
		left = 0
	}
	for left > 0 && !utf8.RuneStart(text[left]) {
		left--
	}
	right := end + snippetWindow
	if right > len(text) {
		right = len(text)
	}
	for right < len(text) && !utf8.RuneStart(text[right]) {
		right++
	}
	return strings.TrimSpace(text[left:right])
}

// firstRunes truncates to at most n runes, never mid-rune.
func firstRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
