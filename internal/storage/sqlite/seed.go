package sqlite

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

var seedRules = []models.PolicyRule{
	{
		Name:        "Mask Social Security Numbers",
		Description: "SSNs must be masked unless stored in approved PII fields.",
		Severity:    models.SeverityHigh,
		Category:    "PII",
		PatternType: models.PatternRegex,
		Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
		ScopeTags:   []string{"body", "attachments"},
		Remediation: "Replace SSNs with masked format (***-**-1234).",
	},
	{
		Name:        "No credit card numbers in notes",
		Description: "Payment card data must not appear in free-form notes.",
		Severity:    models.SeverityCritical,
		Category:    "PCI",
		PatternType: models.PatternRegex,
		Pattern:     `\b(?:\d[ -]*?){13,16}\b`,
		ScopeTags:   []string{"notes"},
		Remediation: "Remove card numbers and store tokenized reference instead.",
	},
	{
		Name:        "HIPAA terms require consent",
		Description: "Clinical data references must include consent statement.",
		Severity:    models.SeverityMedium,
		Category:    "Healthcare",
		PatternType: models.PatternKeyword,
		Pattern:     "HIPAA",
		ScopeTags:   []string{"body"},
		Remediation: "Append consent clause or redact clinical references.",
	},
	{
		Name:        "Export-controlled terms",
		Description: "Export-controlled terms require legal review.",
		Severity:    models.SeverityHigh,
		Category:    "Export",
		PatternType: models.PatternKeyword,
		Pattern:     "export-controlled",
		ScopeTags:   []string{"body", "attachments"},
		Remediation: "Escalate to legal and mark as export-controlled.",
	},
	{
		Name:        "Confidential pricing language",
		Description: "Pricing clauses must include confidentiality tag.",
		Severity:    models.SeverityLow,
		Category:    "Commercial",
		PatternType: models.PatternSemantic,
		Pattern:     "pricing confidentiality clause",
		ScopeTags:   []string{"sections"},
		Remediation: "Add confidentiality designation to pricing section.",
	},
}

// SeedDefaultRules installs the starter rule set for a tenant whose rule
// table is still empty. Existing rules are never touched.
func (c *Client) SeedDefaultRules(scope models.TenantScope) error {
	existing, err := c.ListRules(scope, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, seed := range seedRules {
		rule := seed
		rule.ID = uuid.New().String()
		rule.Scope = scope
		rule.IsActive = true
		rule.CreatedAt = time.Now().UTC()

		if err := c.CreateRule(&rule, "seed"); err != nil {
			return err
		}
	}

	logger.Info("Seeded default policy rules",
		zap.String("org_id", scope.OrgID),
		zap.String("workspace_id", scope.WorkspaceID),
		zap.Int("count", len(seedRules)),
	)
	return nil
}
