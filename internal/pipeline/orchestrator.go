package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/agent"
	"github.com/doccomply/backend/internal/metrics"
	"github.com/doccomply/backend/internal/normalize"
	"github.com/doccomply/backend/internal/risk"
	"github.com/doccomply/backend/internal/rules"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/updates"
	"github.com/doccomply/backend/pkg/logger"
)

// Store is the repository surface the orchestrator needs. The sqlite
// client implements it.
type Store interface {
	GetRawDocument(scope models.TenantScope, id string) (*models.RawDocument, error)
	InsertNormalizedDocument(doc *models.NormalizedDocument) error
	GetNormalizedDocument(scope models.TenantScope, id string) (*models.NormalizedDocument, error)
	ListRules(scope models.TenantScope, activeOnly bool) ([]models.PolicyRule, error)
	InsertViolations(violations []models.Violation) error
	InsertReport(report *models.Report) error
	UpdateReport(scope models.TenantScope, id, summary string, content map[string]any) error
	CreateRunIfIdle(run *models.Run) (string, error)
	GetRun(scope models.TenantScope, id string) (*models.Run, error)
	GetLatestRunByRawID(scope models.TenantScope, rawID string) (*models.Run, error)
	MarkRunProcessing(id string) error
	SetRunProcessedID(id, processedID string) error
	SetRunReportID(id, reportID string) error
	CompleteRun(id, processedID, reportID, source string) error
	FailRun(id, errMsg, errCode string) error
	AddRunStep(runID, step, status string, data map[string]any) (int64, error)
	FinishRunStep(stepID int64, status string, data map[string]any, errMsg string) error
}

// AgentRunner is the optional LLM execution path tried before the
// deterministic stages.
type AgentRunner interface {
	RunCompliance(ctx context.Context, rawID, runID string) (*agent.Result, error)
}

// RuleCache caches the per-tenant active rule snapshot. Nil-safe at the
// orchestrator: a missing cache means every run reads storage.
type RuleCache interface {
	GetActiveRules(ctx context.Context, scope models.TenantScope) ([]models.PolicyRule, bool, error)
	SetActiveRules(ctx context.Context, scope models.TenantScope, ruleSet []models.PolicyRule, ttl time.Duration) error
}

// ReportCache drops cached report projections after report-writing
// rewrites the content blob. Nil-safe at the orchestrator.
type ReportCache interface {
	InvalidateReport(ctx context.Context, scope models.TenantScope, reportID string) error
}

type Orchestrator struct {
	store        Store
	broadcaster  *updates.Broadcaster
	agent        AgentRunner
	ruleCache    RuleCache
	ruleCacheTTL time.Duration
	reportCache  ReportCache

	// now is injectable so risk scoring is reproducible under test.
	now func() time.Time
}

func New(store Store, broadcaster *updates.Broadcaster) *Orchestrator {
	return &Orchestrator{
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// WithAgent enables the agent-first execution path.
func (o *Orchestrator) WithAgent(runner AgentRunner) *Orchestrator {
	o.agent = runner
	return o
}

// WithRuleCache enables the active-rule snapshot cache.
func (o *Orchestrator) WithRuleCache(cache RuleCache, ttl time.Duration) *Orchestrator {
	o.ruleCache = cache
	o.ruleCacheTTL = ttl
	return o
}

// WithReportCache enables report-projection invalidation.
func (o *Orchestrator) WithReportCache(cache ReportCache) *Orchestrator {
	o.reportCache = cache
	return o
}

// StartResult reports run admission. A conflicting active run is a
// result, not an error.
type StartResult struct {
	Run            *models.Run
	AlreadyRunning bool
	ConflictRunID  string
}

// StartRun admits a new run for a raw document, enforcing the
// one-active-run invariant. It does not execute the run; the caller
// launches Execute, usually in a goroutine.
func (o *Orchestrator) StartRun(ctx context.Context, scope models.TenantScope, rawID string) (*StartResult, error) {
	if _, err := o.store.GetRawDocument(scope, rawID); err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:       uuid.New().String(),
		Scope:    scope,
		RawID:    rawID,
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: o.now().UTC(),
	}

	conflictID, err := o.store.CreateRunIfIdle(run)
	if err != nil {
		return nil, err
	}
	if conflictID != "" {
		logger.Info("Run rejected, document already has an active run",
			zap.String("raw_id", rawID),
			zap.String("active_run_id", conflictID),
		)
		return &StartResult{AlreadyRunning: true, ConflictRunID: conflictID}, nil
	}

	o.publishRun(run.ID, models.RunStatusQueued, map[string]any{"run_id": run.ID, "raw_id": rawID})

	return &StartResult{Run: run}, nil
}

// RetryResult reports retry admission. Gating refusals are results, not
// errors.
type RetryResult struct {
	Run        *models.Run
	NotAllowed bool
	Reason     string

	// reuseProcessedID carries the prior normalized document into
	// Execute when data engineering can be skipped.
	reuseProcessedID string
}

// ReuseProcessedID exposes the processed document the retry will reuse,
// empty when data engineering reruns.
func (r *RetryResult) ReuseProcessedID() string {
	return r.reuseProcessedID
}

// Retry admits a fresh run for a raw document whose latest run failed
// with a retryable code. When that run got past data engineering, its
// normalized document is reused instead of rebuilt.
func (o *Orchestrator) Retry(ctx context.Context, scope models.TenantScope, rawID string) (*RetryResult, error) {
	last, err := o.store.GetLatestRunByRawID(scope, rawID)
	if err != nil {
		return nil, err
	}

	if last.Active() {
		return &RetryResult{NotAllowed: true, Reason: "run is still active"}, nil
	}
	if last.Status != models.RunStatusFailed {
		return &RetryResult{NotAllowed: true, Reason: fmt.Sprintf("latest run is %s, only failed runs can be retried", last.Status)}, nil
	}
	code := ""
	if last.ErrorCode != nil {
		code = *last.ErrorCode
	}
	if !Retryable(code) {
		return &RetryResult{NotAllowed: true, Reason: fmt.Sprintf("error code %q is not retryable", code)}, nil
	}

	reuse := ""
	if code != CodeDataEngineeringFailed && last.ProcessedID != nil {
		reuse = *last.ProcessedID
	}

	run := &models.Run{
		ID:       uuid.New().String(),
		Scope:    scope,
		RawID:    rawID,
		Status:   models.RunStatusQueued,
		Source:   models.RunSourcePipeline,
		QueuedAt: o.now().UTC(),
	}

	conflictID, err := o.store.CreateRunIfIdle(run)
	if err != nil {
		return nil, err
	}
	if conflictID != "" {
		return &RetryResult{NotAllowed: true, Reason: fmt.Sprintf("run %s is already active", conflictID)}, nil
	}

	logger.Info("Retry admitted",
		zap.String("raw_id", rawID),
		zap.String("run_id", run.ID),
		zap.String("failed_run_id", last.ID),
		zap.String("reuse_processed_id", reuse),
	)

	o.publishRun(run.ID, models.RunStatusQueued, map[string]any{"run_id": run.ID, "raw_id": rawID, "retry_of": last.ID})

	return &RetryResult{Run: run, reuseProcessedID: reuse}, nil
}

// Execute drives one admitted run through the pipeline stages. Each
// stage persists a RunStep before and after it does work; the first
// failure marks the run failed with the stage's error code and stops.
// Already committed effects are never rolled back.
func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, reuseProcessedID string) {
	if err := o.store.MarkRunProcessing(run.ID); err != nil {
		logger.Error("Failed to mark run processing", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	o.publishRun(run.ID, models.RunStatusProcessing, map[string]any{"run_id": run.ID, "raw_id": run.RawID})

	if o.agent != nil && reuseProcessedID == "" {
		done, failed := o.tryAgent(ctx, run)
		if done || failed {
			return
		}
	}

	doc, err := o.runDataEngineering(ctx, run, reuseProcessedID)
	if err != nil {
		o.failRun(run, err)
		return
	}

	violations, err := o.runComplianceChecking(ctx, run, doc)
	if err != nil {
		o.failRun(run, err)
		return
	}

	assessment, report, err := o.runRiskAssessment(run, doc, violations)
	if err != nil {
		o.failRun(run, err)
		return
	}

	if err := o.runReportWriting(ctx, run, doc, violations, report); err != nil {
		o.failRun(run, err)
		return
	}

	if err := o.store.CompleteRun(run.ID, doc.ID, report.ID, models.RunSourcePipeline); err != nil {
		logger.Error("Failed to complete run", zap.String("run_id", run.ID), zap.Error(err))
		return
	}

	metrics.RunsTotal.WithLabelValues(models.RunStatusCompleted, models.RunSourcePipeline).Inc()
	metrics.RiskScore.Observe(assessment.Score)
	metrics.ViolationsFound.Add(float64(len(violations)))

	o.publishRun(run.ID, models.RunStatusCompleted, map[string]any{
		"run_id":       run.ID,
		"raw_id":       run.RawID,
		"processed_id": doc.ID,
		"report_id":    report.ID,
		"risk_score":   assessment.Score,
		"risk_tier":    assessment.Tier,
		"violations":   len(violations),
	})

	logger.Info("Run completed",
		zap.String("run_id", run.ID),
		zap.String("report_id", report.ID),
		zap.Float64("risk_score", assessment.Score),
		zap.Int("violations", len(violations)),
	)
}

// tryAgent attempts the agent path. Returns (completed, failed); when
// both are false the caller falls back to the deterministic stages.
func (o *Orchestrator) tryAgent(ctx context.Context, run *models.Run) (bool, bool) {
	result, err := o.agent.RunCompliance(ctx, run.RawID, run.ID)
	if err != nil {
		if errors.Is(err, agent.ErrRateLimited) {
			metrics.AgentFallbacks.WithLabelValues("rate_limited").Inc()
			logger.Warn("Agent rate limited, falling back to deterministic stages",
				zap.String("run_id", run.ID), zap.Error(err))
			return false, false
		}

		o.failRun(run, stageErr("agent", CodeAgentFailed, err))
		return false, true
	}

	if err := o.store.CompleteRun(run.ID, result.ProcessedID, result.ReportID, models.RunSourceAgent); err != nil {
		logger.Error("Failed to complete agent run", zap.String("run_id", run.ID), zap.Error(err))
		return false, true
	}

	metrics.RunsTotal.WithLabelValues(models.RunStatusCompleted, models.RunSourceAgent).Inc()
	metrics.RiskScore.Observe(result.RiskScore)
	metrics.ViolationsFound.Add(float64(result.ViolationCount))

	o.publishRun(run.ID, models.RunStatusCompleted, map[string]any{
		"run_id":       run.ID,
		"raw_id":       run.RawID,
		"processed_id": result.ProcessedID,
		"report_id":    result.ReportID,
		"risk_score":   result.RiskScore,
		"violations":   result.ViolationCount,
	})

	return true, false
}

func (o *Orchestrator) runDataEngineering(ctx context.Context, run *models.Run, reuseProcessedID string) (*models.NormalizedDocument, error) {
	if reuseProcessedID != "" {
		doc, err := o.store.GetNormalizedDocument(run.Scope, reuseProcessedID)
		if err != nil {
			return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed,
				fmt.Errorf("reused processed document %s: %w", reuseProcessedID, err))
		}

		if _, err := o.store.AddRunStep(run.ID, models.StepDataEngineering, models.StepStatusSkipped, map[string]any{
			"reason":       "retry_reuse",
			"processed_id": doc.ID,
		}); err != nil {
			return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
		}

		if err := o.store.SetRunProcessedID(run.ID, doc.ID); err != nil {
			return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
		}

		o.publishStep(run.ID, models.StepDataEngineering, models.StepStatusSkipped, map[string]any{"reason": "retry_reuse"})
		return doc, nil
	}

	stepID, err := o.store.AddRunStep(run.ID, models.StepDataEngineering, models.StepStatusStarted, nil)
	if err != nil {
		return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
	}
	o.publishStep(run.ID, models.StepDataEngineering, models.StepStatusStarted, nil)
	started := o.now()

	raw, err := o.store.GetRawDocument(run.Scope, run.RawID)
	if err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
	}

	processedID := uuid.New().String()
	doc := normalize.Normalize(raw.Content, processedID)
	doc.Scope = run.Scope
	doc.RawID = run.RawID
	doc.NormalizedAt = o.now().UTC()
	doc.Entities = normalize.ExtractEntities(doc.Sections)

	if err := o.store.InsertNormalizedDocument(&doc); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
	}

	if err := o.store.SetRunProcessedID(run.ID, doc.ID); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, stageErr(models.StepDataEngineering, CodeDataEngineeringFailed, err)
	}

	data := map[string]any{
		"processed_id":  doc.ID,
		"section_count": doc.SectionCount,
		"char_count":    doc.CharCount,
	}
	o.finishStep(stepID, models.StepStatusSuccess, data, nil)
	o.publishStep(run.ID, models.StepDataEngineering, models.StepStatusSuccess, data)

	metrics.StageDuration.WithLabelValues(models.StepDataEngineering).Observe(o.now().Sub(started).Seconds())
	metrics.SectionsPerDocument.Observe(float64(doc.SectionCount))

	return &doc, nil
}

func (o *Orchestrator) runComplianceChecking(ctx context.Context, run *models.Run, doc *models.NormalizedDocument) ([]models.Violation, error) {
	stepID, err := o.store.AddRunStep(run.ID, models.StepComplianceChecking, models.StepStatusStarted, nil)
	if err != nil {
		return nil, stageErr(models.StepComplianceChecking, CodeComplianceCheckFailed, err)
	}
	o.publishStep(run.ID, models.StepComplianceChecking, models.StepStatusStarted, nil)
	started := o.now()

	ruleSet, err := o.activeRules(ctx, run.Scope)
	if err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, stageErr(models.StepComplianceChecking, CodeComplianceCheckFailed, err)
	}

	candidates := rules.Evaluate(ruleSet, doc.Sections)

	now := o.now().UTC()
	violations := make([]models.Violation, 0, len(candidates))
	for _, candidate := range candidates {
		violations = append(violations, models.Violation{
			ID:       uuid.New().String(),
			Scope:    run.Scope,
			Rule:     candidate.RuleName,
			Severity: candidate.Severity,
			Details: models.ViolationDetails{
				RuleID:         candidate.RuleID,
				Evidence:       candidate.Evidence,
				Location:       candidate.Location,
				Confidence:     candidate.Confidence,
				RecommendedFix: candidate.RecommendedFix,
				ProcessedID:    doc.ID,
			},
			CreatedAt: now,
		})
	}

	if err := o.store.InsertViolations(violations); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, stageErr(models.StepComplianceChecking, CodeComplianceCheckFailed, err)
	}

	data := map[string]any{
		"rule_count":      len(ruleSet),
		"violation_count": len(violations),
	}
	o.finishStep(stepID, models.StepStatusSuccess, data, nil)
	o.publishStep(run.ID, models.StepComplianceChecking, models.StepStatusSuccess, data)

	metrics.StageDuration.WithLabelValues(models.StepComplianceChecking).Observe(o.now().Sub(started).Seconds())

	return violations, nil
}

// runRiskAssessment scores the violations and commits the Report in the
// same stage, so a later report-writing failure never loses the score.
func (o *Orchestrator) runRiskAssessment(run *models.Run, doc *models.NormalizedDocument, violations []models.Violation) (*risk.Assessment, *models.Report, error) {
	stepID, err := o.store.AddRunStep(run.ID, models.StepRiskAssessment, models.StepStatusStarted, nil)
	if err != nil {
		return nil, nil, stageErr(models.StepRiskAssessment, CodeRiskAssessmentFailed, err)
	}
	o.publishStep(run.ID, models.StepRiskAssessment, models.StepStatusStarted, nil)
	started := o.now()

	assessment := risk.Score(violations, o.now().UTC())

	violationRows := make([]map[string]any, 0, len(violations))
	for _, violation := range violations {
		violationRows = append(violationRows, map[string]any{
			"id":         violation.ID,
			"rule":       violation.Rule,
			"severity":   violation.Severity,
			"evidence":   violation.Details.Evidence,
			"section_id": violation.Details.Location.SectionID,
			"confidence": violation.Details.Confidence,
		})
	}

	report := &models.Report{
		ID:    uuid.New().String(),
		Scope: run.Scope,
		Summary: fmt.Sprintf("Compliance review of document %s: %d violation(s), risk score %.2f (%s)",
			run.RawID, len(violations), assessment.Score, assessment.Tier),
		Score: assessment.Score,
		Content: map[string]any{
			"run_id":       run.ID,
			"raw_id":       run.RawID,
			"processed_id": doc.ID,
			"risk":         assessment,
			"violations":   violationRows,
		},
		CreatedAt: o.now().UTC(),
	}

	if err := o.store.InsertReport(report); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, nil, stageErr(models.StepRiskAssessment, CodeRiskAssessmentFailed, err)
	}

	if err := o.store.SetRunReportID(run.ID, report.ID); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return nil, nil, stageErr(models.StepRiskAssessment, CodeRiskAssessmentFailed, err)
	}

	data := map[string]any{
		"score":     assessment.Score,
		"tier":      assessment.Tier,
		"report_id": report.ID,
	}
	o.finishStep(stepID, models.StepStatusSuccess, data, nil)
	o.publishStep(run.ID, models.StepRiskAssessment, models.StepStatusSuccess, data)

	metrics.StageDuration.WithLabelValues(models.StepRiskAssessment).Observe(o.now().Sub(started).Seconds())

	return &assessment, report, nil
}

const topRiskLimit = 5

var severityRank = map[string]int{
	models.SeverityCritical: 3,
	models.SeverityHigh:     2,
	models.SeverityMedium:   1,
	models.SeverityLow:      0,
}

// runReportWriting attaches presentation-ready views (top risks,
// remediation plan, audit excerpts, entities) to the report committed by
// risk assessment. The violation set itself is never touched.
func (o *Orchestrator) runReportWriting(ctx context.Context, run *models.Run, doc *models.NormalizedDocument, violations []models.Violation, report *models.Report) error {
	stepID, err := o.store.AddRunStep(run.ID, models.StepReportWriting, models.StepStatusStarted, nil)
	if err != nil {
		return stageErr(models.StepReportWriting, CodeReportWritingFailed, err)
	}
	o.publishStep(run.ID, models.StepReportWriting, models.StepStatusStarted, nil)
	started := o.now()

	ranked := make([]models.Violation, len(violations))
	copy(ranked, violations)
	sort.SliceStable(ranked, func(i, j int) bool {
		if severityRank[ranked[i].Severity] != severityRank[ranked[j].Severity] {
			return severityRank[ranked[i].Severity] > severityRank[ranked[j].Severity]
		}
		return ranked[i].Details.Confidence > ranked[j].Details.Confidence
	})

	topRisks := make([]map[string]any, 0, topRiskLimit)
	for i, violation := range ranked {
		if i == topRiskLimit {
			break
		}
		topRisks = append(topRisks, map[string]any{
			"rule":       violation.Rule,
			"severity":   violation.Severity,
			"confidence": violation.Details.Confidence,
			"section_id": violation.Details.Location.SectionID,
		})
	}

	remediationPlan := make([]map[string]any, 0, len(violations))
	for _, violation := range ranked {
		if violation.Details.RecommendedFix == "" {
			continue
		}
		remediationPlan = append(remediationPlan, map[string]any{
			"rule":            violation.Rule,
			"severity":        violation.Severity,
			"recommended_fix": violation.Details.RecommendedFix,
		})
	}

	auditExcerpts := make([]map[string]any, 0, len(violations))
	for _, violation := range violations {
		auditExcerpts = append(auditExcerpts, map[string]any{
			"rule":       violation.Rule,
			"section_id": violation.Details.Location.SectionID,
			"label":      violation.Details.Location.Label,
			"evidence":   violation.Details.Evidence,
		})
	}

	report.Content["top_risks"] = topRisks
	report.Content["remediation_plan"] = remediationPlan
	report.Content["audit_excerpts"] = auditExcerpts
	report.Content["entities"] = doc.Entities
	report.Content["section_count"] = doc.SectionCount
	report.Content["generated_at"] = o.now().UTC().Format(time.RFC3339)

	if err := o.store.UpdateReport(run.Scope, report.ID, report.Summary, report.Content); err != nil {
		o.finishStep(stepID, models.StepStatusFailed, nil, err)
		return stageErr(models.StepReportWriting, CodeReportWritingFailed, err)
	}

	if o.reportCache != nil {
		if err := o.reportCache.InvalidateReport(ctx, run.Scope, report.ID); err != nil {
			logger.Warn("Report cache invalidation failed", zap.String("report_id", report.ID), zap.Error(err))
		}
	}

	data := map[string]any{"report_id": report.ID}
	o.finishStep(stepID, models.StepStatusSuccess, data, nil)
	o.publishStep(run.ID, models.StepReportWriting, models.StepStatusSuccess, data)

	metrics.StageDuration.WithLabelValues(models.StepReportWriting).Observe(o.now().Sub(started).Seconds())

	return nil
}

func (o *Orchestrator) activeRules(ctx context.Context, scope models.TenantScope) ([]models.PolicyRule, error) {
	if o.ruleCache != nil {
		ruleSet, hit, err := o.ruleCache.GetActiveRules(ctx, scope)
		if err != nil {
			logger.Warn("Rule cache read failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("rules").Inc()
			return ruleSet, nil
		} else {
			metrics.CacheMisses.WithLabelValues("rules").Inc()
		}
	}

	ruleSet, err := o.store.ListRules(scope, true)
	if err != nil {
		return nil, err
	}

	if o.ruleCache != nil {
		if err := o.ruleCache.SetActiveRules(ctx, scope, ruleSet, o.ruleCacheTTL); err != nil {
			logger.Warn("Rule cache write failed", zap.Error(err))
		}
	}

	return ruleSet, nil
}

func (o *Orchestrator) failRun(run *models.Run, err error) {
	code := CodeDataEngineeringFailed
	stage := ""
	var se *StageError
	if errors.As(err, &se) {
		code = se.Code
		stage = se.Stage
	}

	if ferr := o.store.FailRun(run.ID, err.Error(), code); ferr != nil {
		logger.Error("Failed to persist run failure", zap.String("run_id", run.ID), zap.Error(ferr))
	}

	metrics.RunsTotal.WithLabelValues(models.RunStatusFailed, run.Source).Inc()
	if stage != "" {
		metrics.StageFailures.WithLabelValues(stage, code).Inc()
	}

	o.publishRun(run.ID, models.RunStatusFailed, map[string]any{
		"run_id":     run.ID,
		"raw_id":     run.RawID,
		"error":      err.Error(),
		"error_code": code,
	})

	logger.Error("Run failed",
		zap.String("run_id", run.ID),
		zap.String("stage", stage),
		zap.String("error_code", code),
		zap.Error(err),
	)
}

func (o *Orchestrator) finishStep(stepID int64, status string, data map[string]any, stepErr error) {
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	if err := o.store.FinishRunStep(stepID, status, data, msg); err != nil {
		logger.Error("Failed to finish run step", zap.Int64("step_id", stepID), zap.Error(err))
	}
}

func (o *Orchestrator) publishRun(runID, status string, payload map[string]any) {
	o.broadcaster.Publish(runID, updates.Event{Status: status, Payload: payload})
}

func (o *Orchestrator) publishStep(runID, step, status string, payload map[string]any) {
	s := step
	o.broadcaster.Publish(runID, updates.Event{Status: status, Step: &s, Payload: payload})
}
