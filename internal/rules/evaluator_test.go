package rules

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/storage/models"
)

func testSections() []models.Section {
	return []models.Section{
		{ID: "sec-1", Index: 0, Label: "text.line.0", Text: "The customer provided their SSN during onboarding."},
		{ID: "sec-2", Index: 1, Label: "text.line.1", Text: "Contact support at help@example.com for assistance."},
		{ID: "sec-3", Index: 2, Label: "text.line.2", Text: "Nothing sensitive in this line."},
	}
}

func TestEvaluate_KeywordAndRegex(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{
			ID:          "rule-ssn",
			Name:        "SSN mention",
			Severity:    models.SeverityHigh,
			PatternType: models.PatternKeyword,
			Pattern:     "ssn",
			Remediation: "Redact social security numbers",
			IsActive:    true,
		},
		{
			ID:          "rule-email",
			Name:        "Email address",
			Severity:    models.SeverityMedium,
			PatternType: models.PatternRegex,
			Pattern:     `[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
			IsActive:    true,
		},
	}

	candidates := Evaluate(ruleSet, testSections())

	require.Len(t, candidates, 2)

	// Rule-major order: the SSN rule comes first.
	ssn := candidates[0]
	assert.Equal(t, "rule-ssn", ssn.RuleID)
	assert.Equal(t, models.SeverityHigh, ssn.Severity)
	assert.Equal(t, 0.7, ssn.Confidence)
	assert.Equal(t, "sec-1", ssn.Location.SectionID)
	assert.Contains(t, ssn.Evidence, "SSN")
	assert.Equal(t, "Redact social security numbers", ssn.RecommendedFix)

	email := candidates[1]
	assert.Equal(t, "rule-email", email.RuleID)
	assert.Equal(t, 0.9, email.Confidence)
	assert.Equal(t, "sec-2", email.Location.SectionID)
	assert.Contains(t, email.Evidence, "help@example.com")
}

func TestEvaluate_Idempotent(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{ID: "rule-ssn", Name: "SSN mention", Severity: models.SeverityHigh, PatternType: models.PatternKeyword, Pattern: "ssn", IsActive: true},
		{ID: "rule-email", Name: "Email address", Severity: models.SeverityMedium, PatternType: models.PatternRegex, Pattern: `[a-z]+@[a-z]+\.[a-z]{2,}`, IsActive: true},
	}

	first := Evaluate(ruleSet, testSections())
	second := Evaluate(ruleSet, testSections())

	assert.Equal(t, first, second)
}

func TestEvaluate_InactiveRuleSkipped(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{ID: "rule-ssn", Name: "SSN mention", Severity: models.SeverityHigh, PatternType: models.PatternKeyword, Pattern: "ssn", IsActive: false},
	}

	candidates := Evaluate(ruleSet, testSections())
	assert.Empty(t, candidates)
}

func TestEvaluate_InvalidRegexNeverMatches(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{ID: "rule-bad", Name: "Broken", Severity: models.SeverityHigh, PatternType: models.PatternRegex, Pattern: "([unclosed", IsActive: true},
		{ID: "rule-ssn", Name: "SSN mention", Severity: models.SeverityHigh, PatternType: models.PatternKeyword, Pattern: "ssn", IsActive: true},
	}

	candidates := Evaluate(ruleSet, testSections())

	// The invalid pattern neither matches nor aborts the other rules.
	require.Len(t, candidates, 1)
	assert.Equal(t, "rule-ssn", candidates[0].RuleID)
}

func TestEvaluate_RegexCaseInsensitive(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{ID: "rule-cc", Name: "Card marker", Severity: models.SeverityCritical, PatternType: models.PatternRegex, Pattern: "CREDIT CARD", IsActive: true},
	}

	sections := []models.Section{
		{ID: "sec-1", Index: 0, Label: "text.line.0", Text: "payment via credit card on file"},
	}

	candidates := Evaluate(ruleSet, sections)
	require.Len(t, candidates, 1)
	assert.Equal(t, 0.9, candidates[0].Confidence)
}

func TestEvaluate_SemanticMatch(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{
			ID:          "rule-sem",
			Name:        "Pricing confidentiality",
			Description: "pricing information is confidential",
			Severity:    models.SeverityLow,
			PatternType: models.PatternSemantic,
			IsActive:    true,
		},
	}

	sections := []models.Section{
		{ID: "sec-1", Index: 0, Label: "text.line.0", Text: "Pricing information is confidential"},
		{ID: "sec-2", Index: 1, Label: "text.line.1", Text: "Totally unrelated operational notes about deployments"},
	}

	candidates := Evaluate(ruleSet, sections)

	require.Len(t, candidates, 1)
	assert.Equal(t, "sec-1", candidates[0].Location.SectionID)
	assert.Equal(t, 1.0, candidates[0].Confidence)
	assert.Equal(t, "Pricing information is confidential", candidates[0].Evidence)
}

func TestEvaluate_MultipleSectionsPerRule(t *testing.T) {
	ruleSet := []models.PolicyRule{
		{ID: "rule-ssn", Name: "SSN mention", Severity: models.SeverityHigh, PatternType: models.PatternKeyword, Pattern: "ssn", IsActive: true},
	}

	sections := []models.Section{
		{ID: "sec-1", Index: 0, Label: "text.line.0", Text: "first SSN here"},
		{ID: "sec-2", Index: 1, Label: "text.line.1", Text: "second ssn here"},
	}

	candidates := Evaluate(ruleSet, sections)

	require.Len(t, candidates, 2)
	assert.Equal(t, "sec-1", candidates[0].Location.SectionID)
	assert.Equal(t, "sec-2", candidates[1].Location.SectionID)
}

func TestEvaluate_MultibyteEvidenceStaysValidUTF8(t *testing.T) {
	padding := strings.Repeat("€", 100)

	ruleSet := []models.PolicyRule{
		{ID: "rule-ssn", Name: "SSN mention", Severity: models.SeverityHigh, PatternType: models.PatternKeyword, Pattern: "ssn", IsActive: true},
		{ID: "rule-sem", Name: "Padding", Description: strings.Repeat("€", 300), Severity: models.SeverityLow, PatternType: models.PatternSemantic, IsActive: true},
	}

	sections := []models.Section{
		// The snippet window lands mid-rune on both sides of the match.
		{ID: "sec-1", Index: 0, Label: "text.line.0", Text: padding + "ssn" + padding},
		// Longer than the semantic evidence cap, entirely multibyte.
		{ID: "sec-2", Index: 1, Label: "text.line.1", Text: strings.Repeat("€", 300)},
	}

	candidates := Evaluate(ruleSet, sections)

	require.NotEmpty(t, candidates)
	for _, candidate := range candidates {
		assert.True(t, utf8.ValidString(candidate.Evidence), "evidence for %s is not valid UTF-8", candidate.RuleID)
	}

	for _, candidate := range candidates {
		if candidate.RuleID == "rule-sem" && candidate.Location.SectionID == "sec-2" {
			assert.Equal(t, 200, utf8.RuneCountInString(candidate.Evidence))
		}
	}
}
