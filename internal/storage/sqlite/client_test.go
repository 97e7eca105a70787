package sqlite_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
)

var testScope = models.TenantScope{OrgID: "org-1", WorkspaceID: "ws-1"}

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func insertRawDocument(t *testing.T, client *sqlite.Client, id string) {
	t.Helper()

	doc := &models.RawDocument{
		ID:    id,
		Scope: testScope,
		Content: models.RawContent{
			RawText:  "The customer SSN was shared by mistake.",
			FileType: models.FileTypeText,
			Source:   "upload",
		},
		FileName:  "notes.txt",
		FileType:  models.FileTypeText,
		Source:    "upload",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, client.InsertRawDocument(doc))
}

func TestRawDocumentRoundtrip(t *testing.T) {
	client := newTestClient(t)
	insertRawDocument(t, client, "raw-1")

	doc, err := client.GetRawDocument(testScope, "raw-1")
	require.NoError(t, err)
	assert.Equal(t, "raw-1", doc.ID)
	assert.Equal(t, models.FileTypeText, doc.Content.FileType)
	assert.Contains(t, doc.Content.RawText, "SSN")

	_, err = client.GetRawDocument(testScope, "missing")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestTenancyIsolation(t *testing.T) {
	client := newTestClient(t)
	insertRawDocument(t, client, "raw-1")

	otherScope := models.TenantScope{OrgID: "org-2", WorkspaceID: "ws-1"}

	_, err := client.GetRawDocument(otherScope, "raw-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	rule := &models.PolicyRule{
		ID:          "rule-1",
		Scope:       testScope,
		Name:        "SSN mention",
		Severity:    models.SeverityHigh,
		Category:    "pii",
		PatternType: models.PatternKeyword,
		Pattern:     "ssn",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, client.CreateRule(rule, "tester"))

	_, err = client.GetRule(otherScope, "rule-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	rules, err := client.ListRules(otherScope, false)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleVersioningAndAudit(t *testing.T) {
	client := newTestClient(t)

	rule := &models.PolicyRule{
		ID:          "rule-1",
		Scope:       testScope,
		Name:        "SSN mention",
		Severity:    models.SeverityHigh,
		Category:    "pii",
		PatternType: models.PatternKeyword,
		Pattern:     "ssn",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, client.CreateRule(rule, "tester"))
	assert.Equal(t, 1, rule.Version)

	newSeverity := models.SeverityCritical
	updated, err := client.UpdateRule(testScope, "rule-1", sqlite.RuleUpdate{Severity: &newSeverity}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, models.SeverityCritical, updated.Severity)

	// No-change update does not bump the version.
	same, err := client.UpdateRule(testScope, "rule-1", sqlite.RuleUpdate{Severity: &newSeverity}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, same.Version)

	deactivated, err := client.DeactivateRule(testScope, "rule-1", "tester")
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.Equal(t, 3, deactivated.Version)

	versions, err := client.ListRuleVersions(testScope, "rule-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, models.SeverityHigh, versions[0].Snapshot.Severity)
	assert.Equal(t, models.SeverityCritical, versions[1].Snapshot.Severity)
	assert.False(t, versions[2].Snapshot.IsActive)

	audit, err := client.ListRuleAudit(testScope, "rule-1")
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "created", audit[0].Action)
	assert.Equal(t, "updated", audit[1].Action)
	assert.Equal(t, "tester", audit[1].Actor)
	require.Contains(t, audit[1].Changes, "severity")

	// Deactivated rules disappear from the active listing but stay listed.
	active, err := client.ListRules(testScope, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := client.ListRules(testScope, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateRunIfIdle_Conflict(t *testing.T) {
	client := newTestClient(t)
	insertRawDocument(t, client, "raw-1")

	first := &models.Run{
		ID:       "run-1",
		Scope:    testScope,
		RawID:    "raw-1",
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: time.Now().UTC(),
	}
	conflict, err := client.CreateRunIfIdle(first)
	require.NoError(t, err)
	assert.Empty(t, conflict)

	// A second run for the same document is refused while the first is
	// queued or processing.
	second := &models.Run{
		ID:       "run-2",
		Scope:    testScope,
		RawID:    "raw-1",
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: time.Now().UTC(),
	}
	conflict, err = client.CreateRunIfIdle(second)
	require.NoError(t, err)
	assert.Equal(t, "run-1", conflict)

	require.NoError(t, client.MarkRunProcessing("run-1"))
	conflict, err = client.CreateRunIfIdle(second)
	require.NoError(t, err)
	assert.Equal(t, "run-1", conflict)

	// A terminal run frees the document.
	require.NoError(t, client.FailRun("run-1", "boom", "DATA_ENGINEERING_FAILED"))
	conflict, err = client.CreateRunIfIdle(second)
	require.NoError(t, err)
	assert.Empty(t, conflict)

	// Another document is unaffected throughout.
	insertRawDocument(t, client, "raw-2")
	other := &models.Run{
		ID:       "run-3",
		Scope:    testScope,
		RawID:    "raw-2",
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: time.Now().UTC(),
	}
	conflict, err = client.CreateRunIfIdle(other)
	require.NoError(t, err)
	assert.Empty(t, conflict)
}

func TestCreateRunIfIdle_ConcurrentWriters(t *testing.T) {
	client := newTestClient(t)

	// Two writers racing on the same document must always split into one
	// admission and one conflict pointing at the winner.
	for i := 0; i < 20; i++ {
		rawID := fmt.Sprintf("raw-%d", i)
		insertRawDocument(t, client, rawID)

		results := make([]string, 2)
		errs := make([]error, 2)

		var wg sync.WaitGroup
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				run := &models.Run{
					ID:       fmt.Sprintf("run-%d-%d", i, w),
					Scope:    testScope,
					RawID:    rawID,
					Status:   models.RunStatusQueued,
					Source:   models.RunSourcePipeline,
					QueuedAt: time.Now().UTC(),
				}
				results[w], errs[w] = client.CreateRunIfIdle(run)
			}(w)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		winners := 0
		for w := 0; w < 2; w++ {
			if results[w] == "" {
				winners++
			} else {
				assert.Contains(t, results[w], fmt.Sprintf("run-%d-", i))
			}
		}
		assert.Equal(t, 1, winners)
	}
}

func TestRunLifecycle(t *testing.T) {
	client := newTestClient(t)
	insertRawDocument(t, client, "raw-1")

	run := &models.Run{
		ID:       "run-1",
		Scope:    testScope,
		RawID:    "raw-1",
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: time.Now().UTC(),
	}
	_, err := client.CreateRunIfIdle(run)
	require.NoError(t, err)

	require.NoError(t, client.MarkRunProcessing("run-1"))

	loaded, err := client.GetRun(testScope, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusProcessing, loaded.Status)
	assert.NotNil(t, loaded.ProcessingAt)
	assert.True(t, loaded.Active())

	// The report reference lands mid-run, before completion.
	require.NoError(t, client.SetRunReportID("run-1", "report-1"))
	loaded, err = client.GetRun(testScope, "run-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.ReportID)
	assert.Equal(t, "report-1", *loaded.ReportID)

	require.NoError(t, client.CompleteRun("run-1", "proc-1", "report-1", models.RunSourcePipeline))

	loaded, err = client.GetRun(testScope, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.ProcessedID)
	assert.Equal(t, "proc-1", *loaded.ProcessedID)
	require.NotNil(t, loaded.ReportID)
	assert.Equal(t, "report-1", *loaded.ReportID)
	assert.NotNil(t, loaded.CompletedAt)
	assert.False(t, loaded.Active())

	latest, err := client.GetLatestRunByRawID(testScope, "raw-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.ID)
}

func TestRunSteps(t *testing.T) {
	client := newTestClient(t)
	insertRawDocument(t, client, "raw-1")

	run := &models.Run{
		ID:       "run-1",
		Scope:    testScope,
		RawID:    "raw-1",
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: time.Now().UTC(),
	}
	_, err := client.CreateRunIfIdle(run)
	require.NoError(t, err)

	stepID, err := client.AddRunStep("run-1", models.StepDataEngineering, models.StepStatusStarted, nil)
	require.NoError(t, err)

	require.NoError(t, client.FinishRunStep(stepID, models.StepStatusSuccess, map[string]any{"section_count": 3}, ""))

	failedID, err := client.AddRunStep("run-1", models.StepComplianceChecking, models.StepStatusStarted, nil)
	require.NoError(t, err)
	require.NoError(t, client.FinishRunStep(failedID, models.StepStatusFailed, nil, "rule load failed"))

	steps, err := client.ListRunSteps(testScope, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, models.StepDataEngineering, steps[0].Step)
	assert.Equal(t, models.StepStatusSuccess, steps[0].Status)
	assert.Equal(t, float64(3), steps[0].Data["section_count"])
	assert.NotNil(t, steps[0].FinishedAt)

	assert.Equal(t, models.StepStatusFailed, steps[1].Status)
	require.NotNil(t, steps[1].Error)
	assert.Equal(t, "rule load failed", *steps[1].Error)

	// Steps are invisible outside the run's tenant.
	_, err = client.ListRunSteps(models.TenantScope{OrgID: "org-2", WorkspaceID: "ws-1"}, "run-1")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestViolationsAndReports(t *testing.T) {
	client := newTestClient(t)

	now := time.Now().UTC().Truncate(time.Second)
	violations := []models.Violation{
		{
			ID:       "v-1",
			Scope:    testScope,
			Rule:     "SSN mention",
			Severity: models.SeverityHigh,
			Details: models.ViolationDetails{
				RuleID:      "rule-1",
				Evidence:    "customer SSN was shared",
				Confidence:  0.7,
				ProcessedID: "proc-1",
			},
			CreatedAt: now,
		},
		{
			ID:       "v-2",
			Scope:    testScope,
			Rule:     "Email address",
			Severity: models.SeverityMedium,
			Details: models.ViolationDetails{
				RuleID:      "rule-2",
				Evidence:    "help@example.com",
				Confidence:  0.9,
				ProcessedID: "proc-1",
			},
			CreatedAt: now,
		},
	}
	require.NoError(t, client.InsertViolations(violations))

	listed, err := client.ListViolationsByProcessedID(testScope, "proc-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "v-1", listed[0].ID)
	assert.Equal(t, "rule-1", listed[0].Details.RuleID)
	assert.Equal(t, 0.7, listed[0].Details.Confidence)

	report := &models.Report{
		ID:      "report-1",
		Scope:   testScope,
		Summary: "2 violations found",
		Score:   41.58,
		Content:   map[string]any{"processed_id": "proc-1"},
		CreatedAt: now,
	}
	require.NoError(t, client.InsertReport(report))

	loaded, err := client.GetReport(testScope, "report-1")
	require.NoError(t, err)
	assert.Equal(t, 41.58, loaded.Score)
	assert.Equal(t, "proc-1", loaded.Content["processed_id"])

	_, err = client.GetReport(testScope, "missing")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestSeedDefaultRules(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.SeedDefaultRules(testScope))

	seeded, err := client.ListRules(testScope, true)
	require.NoError(t, err)
	assert.Len(t, seeded, 5)

	// Seeding is idempotent: a non-empty rule table is left alone.
	require.NoError(t, client.SeedDefaultRules(testScope))
	again, err := client.ListRules(testScope, true)
	require.NoError(t, err)
	assert.Len(t, again, 5)

	// Each seeded rule carries a v1 snapshot and a creation audit row.
	versions, err := client.ListRuleVersions(testScope, seeded[0].ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)

	audit, err := client.ListRuleAudit(testScope, seeded[0].ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "seed", audit[0].Actor)
}
