package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

// ErrNotFound is the structured miss returned by every lookup whose
// target does not exist or is outside the caller's tenant scope.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	// Immediate transactions take the write lock at Begin, so concurrent
	// check-then-insert callers serialize instead of failing mid-commit.
	db, err := sql.Open("sqlite3", dbPath+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_documents (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		content TEXT NOT NULL,
		file_name TEXT,
		file_type TEXT,
		source TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_raw_tenant ON raw_documents(org_id, workspace_id);

	CREATE TABLE IF NOT EXISTS normalized_documents (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		raw_id TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (raw_id) REFERENCES raw_documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_normalized_raw ON normalized_documents(raw_id);
	CREATE INDEX IF NOT EXISTS idx_normalized_tenant ON normalized_documents(org_id, workspace_id);

	CREATE TABLE IF NOT EXISTS policy_rules (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		severity TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		pattern_type TEXT NOT NULL DEFAULT 'keyword',
		pattern TEXT,
		scope_tags TEXT,
		remediation TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_rules_tenant ON policy_rules(org_id, workspace_id);
	CREATE INDEX IF NOT EXISTS idx_rules_active ON policy_rules(is_active);

	CREATE TABLE IF NOT EXISTS policy_rule_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (rule_id) REFERENCES policy_rules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rule_versions_rule ON policy_rule_versions(rule_id);

	CREATE TABLE IF NOT EXISTS policy_rule_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT,
		changes TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (rule_id) REFERENCES policy_rules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rule_audit_rule ON policy_rule_audit(rule_id);

	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		rule TEXT NOT NULL,
		severity TEXT NOT NULL,
		processed_id TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_violations_processed ON violations(processed_id);
	CREATE INDEX IF NOT EXISTS idx_violations_tenant ON violations(org_id, workspace_id);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		summary TEXT,
		score REAL,
		content TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_reports_tenant ON reports(org_id, workspace_id);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		raw_id TEXT NOT NULL,
		processed_id TEXT,
		report_id TEXT,
		status TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'pipeline',
		error TEXT,
		error_code TEXT,
		queued_at INTEGER NOT NULL,
		processing_at INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_raw ON runs(raw_id);
	CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(org_id, workspace_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_active
		ON runs(raw_id) WHERE status IN ('queued', 'processing');

	CREATE TABLE IF NOT EXISTS run_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		finished_at INTEGER,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRawDocument(doc *models.RawDocument) error {
	contentJSON, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal raw content: %w", err)
	}

	query := `
		INSERT INTO raw_documents (id, org_id, workspace_id, content, file_name, file_type, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		doc.ID,
		doc.Scope.OrgID,
		doc.Scope.WorkspaceID,
		string(contentJSON),
		doc.FileName,
		doc.FileType,
		doc.Source,
		doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw document: %w", err)
	}

	logger.Debug("Raw document inserted", zap.String("raw_id", doc.ID), zap.String("file_type", doc.FileType))
	return nil
}

func (c *Client) GetRawDocument(scope models.TenantScope, id string) (*models.RawDocument, error) {
	query := `
		SELECT id, org_id, workspace_id, content, file_name, file_type, source, created_at
		FROM raw_documents
		WHERE id = ? AND org_id = ? AND workspace_id = ?
	`

	var doc models.RawDocument
	var contentJSON string
	var createdAt int64

	err := c.db.QueryRow(query, id, scope.OrgID, scope.WorkspaceID).Scan(
		&doc.ID,
		&doc.Scope.OrgID,
		&doc.Scope.WorkspaceID,
		&contentJSON,
		&doc.FileName,
		&doc.FileType,
		&doc.Source,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw document: %w", err)
	}

	if err := json.Unmarshal([]byte(contentJSON), &doc.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw content: %w", err)
	}
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &doc, nil
}

func (c *Client) InsertNormalizedDocument(doc *models.NormalizedDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal normalized document: %w", err)
	}

	query := `
		INSERT INTO normalized_documents (id, org_id, workspace_id, raw_id, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		doc.ID,
		doc.Scope.OrgID,
		doc.Scope.WorkspaceID,
		doc.RawID,
		string(docJSON),
		doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert normalized document: %w", err)
	}

	logger.Debug("Normalized document inserted",
		zap.String("processed_id", doc.ID),
		zap.Int("sections", doc.SectionCount),
	)
	return nil
}

func (c *Client) GetNormalizedDocument(scope models.TenantScope, id string) (*models.NormalizedDocument, error) {
	query := `
		SELECT document, created_at
		FROM normalized_documents
		WHERE id = ? AND org_id = ? AND workspace_id = ?
	`

	var docJSON string
	var createdAt int64

	err := c.db.QueryRow(query, id, scope.OrgID, scope.WorkspaceID).Scan(&docJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get normalized document: %w", err)
	}

	var doc models.NormalizedDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal normalized document: %w", err)
	}
	doc.Scope = scope
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &doc, nil
}

func (c *Client) CreateRule(rule *models.PolicyRule, actor string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rule.Version = 1
	scopeTags, _ := json.Marshal(rule.ScopeTags)

	query := `
		INSERT INTO policy_rules (id, org_id, workspace_id, name, description, severity, category,
			pattern_type, pattern, scope_tags, remediation, version, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(
		query,
		rule.ID,
		rule.Scope.OrgID,
		rule.Scope.WorkspaceID,
		rule.Name,
		rule.Description,
		rule.Severity,
		rule.Category,
		rule.PatternType,
		rule.Pattern,
		string(scopeTags),
		rule.Remediation,
		rule.Version,
		boolToInt(rule.IsActive),
		rule.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	if err := c.snapshotRule(tx, rule); err != nil {
		return err
	}
	if err := c.auditRule(tx, rule.ID, "created", actor, map[string]any{"name": rule.Name}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule creation: %w", err)
	}

	logger.Info("Policy rule created", zap.String("rule_id", rule.ID), zap.String("name", rule.Name))
	return nil
}

// RuleUpdate carries the mutable rule fields; nil means unchanged.
type RuleUpdate struct {
	Name        *string
	Description *string
	Severity    *string
	Category    *string
	PatternType *string
	Pattern     *string
	ScopeTags   []string
	Remediation *string
	IsActive    *bool
}

func (c *Client) UpdateRule(scope models.TenantScope, id string, update RuleUpdate, actor string) (*models.PolicyRule, error) {
	rule, err := c.GetRule(scope, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	applyString := func(field string, target *string, value *string) {
		if value != nil && *value != *target {
			changes[field] = map[string]any{"before": *target, "after": *value}
			*target = *value
		}
	}

	applyString("name", &rule.Name, update.Name)
	applyString("description", &rule.Description, update.Description)
	applyString("severity", &rule.Severity, update.Severity)
	applyString("category", &rule.Category, update.Category)
	applyString("pattern_type", &rule.PatternType, update.PatternType)
	applyString("pattern", &rule.Pattern, update.Pattern)
	applyString("remediation", &rule.Remediation, update.Remediation)

	if update.ScopeTags != nil {
		changes["scope_tags"] = map[string]any{"before": rule.ScopeTags, "after": update.ScopeTags}
		rule.ScopeTags = update.ScopeTags
	}
	if update.IsActive != nil && *update.IsActive != rule.IsActive {
		changes["is_active"] = map[string]any{"before": rule.IsActive, "after": *update.IsActive}
		rule.IsActive = *update.IsActive
	}

	if len(changes) == 0 {
		return rule, nil
	}

	now := time.Now().UTC()
	rule.Version++
	rule.UpdatedAt = &now

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scopeTags, _ := json.Marshal(rule.ScopeTags)
	query := `
		UPDATE policy_rules
		SET name = ?, description = ?, severity = ?, category = ?, pattern_type = ?,
			pattern = ?, scope_tags = ?, remediation = ?, version = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND org_id = ? AND workspace_id = ?
	`

	_, err = tx.Exec(
		query,
		rule.Name,
		rule.Description,
		rule.Severity,
		rule.Category,
		rule.PatternType,
		rule.Pattern,
		string(scopeTags),
		rule.Remediation,
		rule.Version,
		boolToInt(rule.IsActive),
		now.Unix(),
		id,
		scope.OrgID,
		scope.WorkspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	if err := c.snapshotRule(tx, rule); err != nil {
		return nil, err
	}
	if err := c.auditRule(tx, rule.ID, "updated", actor, changes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rule update: %w", err)
	}

	logger.Info("Policy rule updated",
		zap.String("rule_id", rule.ID),
		zap.Int("version", rule.Version),
	)
	return rule, nil
}

// DeactivateRule soft-deletes a rule. Rules are never hard-deleted so the
// version and audit history stays intact.
func (c *Client) DeactivateRule(scope models.TenantScope, id, actor string) (*models.PolicyRule, error) {
	inactive := false
	rule, err := c.UpdateRule(scope, id, RuleUpdate{IsActive: &inactive}, actor)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (c *Client) snapshotRule(tx *sql.Tx, rule *models.PolicyRule) error {
	snapshot, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule snapshot: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO policy_rule_versions (rule_id, version, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		rule.ID, rule.Version, string(snapshot), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule version: %w", err)
	}
	return nil
}

func (c *Client) auditRule(tx *sql.Tx, ruleID, action, actor string, changes map[string]any) error {
	changesJSON, _ := json.Marshal(changes)

	_, err := tx.Exec(
		`INSERT INTO policy_rule_audit (rule_id, action, actor, changes, created_at) VALUES (?, ?, ?, ?, ?)`,
		ruleID, action, actor, string(changesJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule audit: %w", err)
	}
	return nil
}

func (c *Client) GetRule(scope models.TenantScope, id string) (*models.PolicyRule, error) {
	query := ruleSelect + ` WHERE id = ? AND org_id = ? AND workspace_id = ?`

	row := c.db.QueryRow(query, id, scope.OrgID, scope.WorkspaceID)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (c *Client) ListRules(scope models.TenantScope, activeOnly bool) ([]models.PolicyRule, error) {
	query := ruleSelect + ` WHERE org_id = ? AND workspace_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := c.db.Query(query, scope.OrgID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.PolicyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	return rules, nil
}

const ruleSelect = `
	SELECT id, org_id, workspace_id, name, description, severity, category, pattern_type,
		pattern, scope_tags, remediation, version, is_active, created_at, updated_at
	FROM policy_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.PolicyRule, error) {
	var rule models.PolicyRule
	var scopeTags sql.NullString
	var pattern, description, remediation sql.NullString
	var isActive int
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(
		&rule.ID,
		&rule.Scope.OrgID,
		&rule.Scope.WorkspaceID,
		&rule.Name,
		&description,
		&rule.Severity,
		&rule.Category,
		&rule.PatternType,
		&pattern,
		&scopeTags,
		&remediation,
		&rule.Version,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Pattern = pattern.String
	rule.Remediation = remediation.String
	rule.IsActive = isActive == 1
	rule.CreatedAt = time.Unix(createdAt, 0).UTC()
	if scopeTags.Valid && scopeTags.String != "" {
		json.Unmarshal([]byte(scopeTags.String), &rule.ScopeTags)
	}
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0).UTC()
		rule.UpdatedAt = &t
	}

	return &rule, nil
}

func (c *Client) ListRuleVersions(scope models.TenantScope, ruleID string) ([]models.PolicyRuleVersion, error) {
	if _, err := c.GetRule(scope, ruleID); err != nil {
		return nil, err
	}

	query := `SELECT id, rule_id, version, snapshot, created_at FROM policy_rule_versions WHERE rule_id = ? ORDER BY version`

	rows, err := c.db.Query(query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule versions: %w", err)
	}
	defer rows.Close()

	var versions []models.PolicyRuleVersion
	for rows.Next() {
		var v models.PolicyRuleVersion
		var snapshot string
		var createdAt int64

		if err := rows.Scan(&v.ID, &v.RuleID, &v.Version, &snapshot, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule version: %w", err)
		}

		json.Unmarshal([]byte(snapshot), &v.Snapshot)
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		versions = append(versions, v)
	}

	return versions, nil
}

func (c *Client) ListRuleAudit(scope models.TenantScope, ruleID string) ([]models.PolicyRuleAudit, error) {
	if _, err := c.GetRule(scope, ruleID); err != nil {
		return nil, err
	}

	query := `SELECT id, rule_id, action, actor, changes, created_at FROM policy_rule_audit WHERE rule_id = ? ORDER BY id`

	rows, err := c.db.Query(query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule audit: %w", err)
	}
	defer rows.Close()

	var entries []models.PolicyRuleAudit
	for rows.Next() {
		var entry models.PolicyRuleAudit
		var actor, changes sql.NullString
		var createdAt int64

		if err := rows.Scan(&entry.ID, &entry.RuleID, &entry.Action, &actor, &changes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Actor = actor.String
		if changes.Valid && changes.String != "" {
			json.Unmarshal([]byte(changes.String), &entry.Changes)
		}
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, entry)
	}

	return entries, nil
}

func (c *Client) InsertViolations(violations []models.Violation) error {
	if len(violations) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO violations (id, org_id, workspace_id, rule, severity, processed_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare violation insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range violations {
		details, err := json.Marshal(v.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal violation details: %w", err)
		}

		_, err = stmt.Exec(
			v.ID,
			v.Scope.OrgID,
			v.Scope.WorkspaceID,
			v.Rule,
			v.Severity,
			v.Details.ProcessedID,
			string(details),
			v.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit violations: %w", err)
	}

	logger.Debug("Violations inserted", zap.Int("count", len(violations)))
	return nil
}

func (c *Client) ListViolationsByProcessedID(scope models.TenantScope, processedID string) ([]models.Violation, error) {
	query := `
		SELECT id, org_id, workspace_id, rule, severity, details, created_at
		FROM violations
		WHERE processed_id = ? AND org_id = ? AND workspace_id = ?
		ORDER BY created_at, id
	`

	rows, err := c.db.Query(query, processedID, scope.OrgID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []models.Violation
	for rows.Next() {
		var v models.Violation
		var details string
		var createdAt int64

		err := rows.Scan(&v.ID, &v.Scope.OrgID, &v.Scope.WorkspaceID, &v.Rule, &v.Severity, &details, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}

		if err := json.Unmarshal([]byte(details), &v.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal violation details: %w", err)
		}
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		violations = append(violations, v)
	}

	return violations, nil
}

func (c *Client) InsertReport(report *models.Report) error {
	content, err := json.Marshal(report.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal report content: %w", err)
	}

	query := `
		INSERT INTO reports (id, org_id, workspace_id, summary, score, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		report.ID,
		report.Scope.OrgID,
		report.Scope.WorkspaceID,
		report.Summary,
		report.Score,
		string(content),
		report.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	logger.Debug("Report inserted", zap.String("report_id", report.ID), zap.Float64("score", report.Score))
	return nil
}

func (c *Client) GetReport(scope models.TenantScope, id string) (*models.Report, error) {
	query := `
		SELECT id, org_id, workspace_id, summary, score, content, created_at, updated_at
		FROM reports
		WHERE id = ? AND org_id = ? AND workspace_id = ?
	`

	var report models.Report
	var summary, content sql.NullString
	var score sql.NullFloat64
	var createdAt int64
	var updatedAt sql.NullInt64

	err := c.db.QueryRow(query, id, scope.OrgID, scope.WorkspaceID).Scan(
		&report.ID,
		&report.Scope.OrgID,
		&report.Scope.WorkspaceID,
		&summary,
		&score,
		&content,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	report.Summary = summary.String
	report.Score = score.Float64
	if content.Valid && content.String != "" {
		json.Unmarshal([]byte(content.String), &report.Content)
	}
	report.CreatedAt = time.Unix(createdAt, 0).UTC()
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0).UTC()
		report.UpdatedAt = &t
	}

	return &report, nil
}

func (c *Client) UpdateReport(scope models.TenantScope, id, summary string, content map[string]any) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal report content: %w", err)
	}

	query := `
		UPDATE reports
		SET summary = ?, content = ?, updated_at = ?
		WHERE id = ? AND org_id = ? AND workspace_id = ?
	`

	result, err := c.db.Exec(query, summary, string(contentJSON), time.Now().Unix(), id, scope.OrgID, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateRunIfIdle atomically creates a queued run for a raw document
// unless an active run already exists. The check and insert share one
// immediate transaction; a partial unique index on active runs backstops
// the invariant against writers outside this method.
func (c *Client) CreateRunIfIdle(run *models.Run) (conflictRunID string, err error) {
	tx, err := c.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRow(
		`SELECT id FROM runs WHERE raw_id = ? AND org_id = ? AND workspace_id = ? AND status IN ('queued', 'processing') LIMIT 1`,
		run.RawID, run.Scope.OrgID, run.Scope.WorkspaceID,
	).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to check active runs: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO runs (id, org_id, workspace_id, raw_id, status, source, queued_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scope.OrgID, run.Scope.WorkspaceID, run.RawID, models.RunStatusQueued, run.Source, run.QueuedAt.Unix(),
	)
	if err != nil {
		// A racing writer that slipped past the check trips the partial
		// unique index on active runs; report it as the conflict it is.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			tx.Rollback()
			if lookupErr := c.db.QueryRow(
				`SELECT id FROM runs WHERE raw_id = ? AND org_id = ? AND workspace_id = ? AND status IN ('queued', 'processing') LIMIT 1`,
				run.RawID, run.Scope.OrgID, run.Scope.WorkspaceID,
			).Scan(&existingID); lookupErr == nil {
				return existingID, nil
			}
		}
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run creation: %w", err)
	}

	run.Status = models.RunStatusQueued
	logger.Info("Run created", zap.String("run_id", run.ID), zap.String("raw_id", run.RawID))
	return "", nil
}

const runSelect = `
	SELECT id, org_id, workspace_id, raw_id, processed_id, report_id, status, source,
		error, error_code, queued_at, processing_at, completed_at
	FROM runs`

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var processedID, reportID, errMsg, errCode sql.NullString
	var queuedAt int64
	var processingAt, completedAt sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.Scope.OrgID,
		&run.Scope.WorkspaceID,
		&run.RawID,
		&processedID,
		&reportID,
		&run.Status,
		&run.Source,
		&errMsg,
		&errCode,
		&queuedAt,
		&processingAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if processedID.Valid {
		run.ProcessedID = &processedID.String
	}
	if reportID.Valid {
		run.ReportID = &reportID.String
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if errCode.Valid {
		run.ErrorCode = &errCode.String
	}
	run.QueuedAt = time.Unix(queuedAt, 0).UTC()
	if processingAt.Valid {
		t := time.Unix(processingAt.Int64, 0).UTC()
		run.ProcessingAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		run.CompletedAt = &t
	}

	return &run, nil
}

func (c *Client) GetRun(scope models.TenantScope, id string) (*models.Run, error) {
	row := c.db.QueryRow(runSelect+` WHERE id = ? AND org_id = ? AND workspace_id = ?`, id, scope.OrgID, scope.WorkspaceID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (c *Client) ListRuns(scope models.TenantScope, limit int) ([]models.Run, error) {
	query := runSelect + ` WHERE org_id = ? AND workspace_id = ? ORDER BY queued_at DESC, id DESC LIMIT ?`
	return c.queryRuns(query, scope.OrgID, scope.WorkspaceID, limit)
}

func (c *Client) ListRunsByRawID(scope models.TenantScope, rawID string) ([]models.Run, error) {
	query := runSelect + ` WHERE raw_id = ? AND org_id = ? AND workspace_id = ? ORDER BY queued_at DESC, id DESC`
	return c.queryRuns(query, rawID, scope.OrgID, scope.WorkspaceID)
}

func (c *Client) GetLatestRunByRawID(scope models.TenantScope, rawID string) (*models.Run, error) {
	query := runSelect + ` WHERE raw_id = ? AND org_id = ? AND workspace_id = ? ORDER BY queued_at DESC, id DESC LIMIT 1`

	row := c.db.QueryRow(query, rawID, scope.OrgID, scope.WorkspaceID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

func (c *Client) queryRuns(query string, args ...any) ([]models.Run, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, nil
}

func (c *Client) MarkRunProcessing(id string) error {
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, processing_at = ? WHERE id = ?`,
		models.RunStatusProcessing, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run processing: %w", err)
	}
	return nil
}

func (c *Client) SetRunProcessedID(id, processedID string) error {
	_, err := c.db.Exec(`UPDATE runs SET processed_id = ? WHERE id = ?`, processedID, id)
	if err != nil {
		return fmt.Errorf("failed to set run processed id: %w", err)
	}
	return nil
}

func (c *Client) SetRunReportID(id, reportID string) error {
	_, err := c.db.Exec(`UPDATE runs SET report_id = ? WHERE id = ?`, reportID, id)
	if err != nil {
		return fmt.Errorf("failed to set run report id: %w", err)
	}
	return nil
}

func (c *Client) CompleteRun(id, processedID, reportID, source string) error {
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, processed_id = ?, report_id = ?, source = ?, completed_at = ? WHERE id = ?`,
		models.RunStatusCompleted, processedID, reportID, source, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	logger.Info("Run completed", zap.String("run_id", id), zap.String("report_id", reportID))
	return nil
}

func (c *Client) FailRun(id, errMsg, errCode string) error {
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, error = ?, error_code = ?, completed_at = ? WHERE id = ?`,
		models.RunStatusFailed, errMsg, errCode, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}

	logger.Warn("Run failed",
		zap.String("run_id", id),
		zap.String("error_code", errCode),
		zap.String("error", errMsg),
	)
	return nil
}

func (c *Client) AddRunStep(runID, step, status string, data map[string]any) (int64, error) {
	var dataJSON any
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal step data: %w", err)
		}
		dataJSON = string(raw)
	}

	result, err := c.db.Exec(
		`INSERT INTO run_steps (run_id, step, status, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, step, status, dataJSON, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run step: %w", err)
	}

	return result.LastInsertId()
}

func (c *Client) FinishRunStep(stepID int64, status string, data map[string]any, errMsg string) error {
	var dataJSON any
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal step data: %w", err)
		}
		dataJSON = string(raw)
	}

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}

	_, err := c.db.Exec(
		`UPDATE run_steps SET status = ?, data = COALESCE(?, data), error = ?, finished_at = ? WHERE id = ?`,
		status, dataJSON, errVal, time.Now().Unix(), stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run step: %w", err)
	}
	return nil
}

func (c *Client) ListRunSteps(scope models.TenantScope, runID string) ([]models.RunStep, error) {
	if _, err := c.GetRun(scope, runID); err != nil {
		return nil, err
	}

	query := `SELECT id, run_id, step, status, data, error, created_at, finished_at FROM run_steps WHERE run_id = ? ORDER BY id`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []models.RunStep
	for rows.Next() {
		var step models.RunStep
		var data, errMsg sql.NullString
		var createdAt int64
		var finishedAt sql.NullInt64

		err := rows.Scan(&step.ID, &step.RunID, &step.Step, &step.Status, &data, &errMsg, &createdAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}

		if data.Valid && data.String != "" {
			json.Unmarshal([]byte(data.String), &step.Data)
		}
		if errMsg.Valid {
			step.Error = &errMsg.String
		}
		step.CreatedAt = time.Unix(createdAt, 0).UTC()
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			step.FinishedAt = &t
		}
		steps = append(steps, step)
	}

	return steps, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
