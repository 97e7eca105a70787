package models

import "time"

// TenantScope identifies the organization and workspace that own an
// entity. Every read and write at the storage boundary is filtered by it.
type TenantScope struct {
	OrgID       string `json:"org_id"`
	WorkspaceID string `json:"workspace_id"`
}

const (
	FileTypeText = "text"
	FileTypeJSON = "json"
	FileTypeCSV  = "csv"
	FileTypeHTML = "html"
)

// RawContent is the parsed upload payload stored on a RawDocument.
// Content-type sniffing happens at the upload boundary, before the
// pipeline runs.
type RawContent struct {
	RawText    string     `json:"raw_text"`
	FileName   string     `json:"file_name,omitempty"`
	FileType   string     `json:"file_type"`
	Source     string     `json:"source"`
	JSON       any        `json:"parsed_json,omitempty"`
	CSVHeaders []string   `json:"csv_headers,omitempty"`
	CSVRows    [][]string `json:"csv_rows,omitempty"`
}

type RawDocument struct {
	ID        string
	Scope     TenantScope
	Content   RawContent
	FileName  string
	FileType  string
	Source    string
	CreatedAt time.Time
}

// Section is an addressable slice of normalized document text. Its id is
// derived from (document id, index, label, text) and is reproducible.
type Section struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

type DocumentEntities struct {
	People    []string `json:"people"`
	Orgs      []string `json:"orgs"`
	Locations []string `json:"locations"`
}

type NormalizedDocument struct {
	ID           string           `json:"id"`
	Scope        TenantScope      `json:"-"`
	RawID        string           `json:"raw_id"`
	Source       string           `json:"source"`
	FileType     string           `json:"file_type"`
	Sections     []Section        `json:"sections"`
	Entities     DocumentEntities `json:"entities"`
	SectionCount int              `json:"section_count"`
	CharCount    int              `json:"char_count"`
	NormalizedAt time.Time        `json:"normalized_at"`
	CreatedAt    time.Time        `json:"-"`
}

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	PatternKeyword  = "keyword"
	PatternRegex    = "regex"
	PatternSemantic = "semantic"
)

type PolicyRule struct {
	ID          string
	Scope       TenantScope
	Name        string
	Description string
	Severity    string
	Category    string
	PatternType string
	Pattern     string
	ScopeTags   []string
	Remediation string
	Version     int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// PolicyRuleVersion is an immutable snapshot written on every rule
// create, update, or deactivate.
type PolicyRuleVersion struct {
	ID        int64
	RuleID    string
	Version   int
	Snapshot  PolicyRule
	CreatedAt time.Time
}

type PolicyRuleAudit struct {
	ID        int64
	RuleID    string
	Action    string
	Actor     string
	Changes   map[string]any
	CreatedAt time.Time
}

// ViolationLocation points at the section a rule matched.
type ViolationLocation struct {
	SectionID string `json:"section_id"`
	Label     string `json:"label"`
}

type ViolationDetails struct {
	RuleID         string            `json:"rule_id"`
	Evidence       string            `json:"evidence"`
	Location       ViolationLocation `json:"location"`
	Confidence     float64           `json:"confidence"`
	RecommendedFix string            `json:"recommended_fix,omitempty"`
	ProcessedID    string            `json:"processed_id"`
}

// ViolationCandidate is what rule evaluation produces before
// persistence. It has no identity or timestamp of its own.
type ViolationCandidate struct {
	RuleID         string            `json:"rule_id"`
	RuleName       string            `json:"rule"`
	Severity       string            `json:"severity"`
	Evidence       string            `json:"evidence"`
	Location       ViolationLocation `json:"location"`
	Confidence     float64           `json:"confidence"`
	RecommendedFix string            `json:"recommended_fix,omitempty"`
}

type Violation struct {
	ID        string
	Scope     TenantScope
	Rule      string
	Severity  string
	Details   ViolationDetails
	CreatedAt time.Time
}

type Report struct {
	ID        string
	Scope     TenantScope
	Summary   string
	Score     float64
	Content   map[string]any
	CreatedAt time.Time
	UpdatedAt *time.Time
}

const (
	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

const (
	RunSourcePipeline = "pipeline"
	RunSourceAgent    = "agent"
)

// Run is one durable execution of the pipeline for one raw document.
// At most one run per raw document may be active (queued or processing).
type Run struct {
	ID           string
	Scope        TenantScope
	RawID        string
	ProcessedID  *string
	ReportID     *string
	Status       string
	Source       string
	Error        *string
	ErrorCode    *string
	QueuedAt     time.Time
	ProcessingAt *time.Time
	CompletedAt  *time.Time
}

func (r *Run) Active() bool {
	return r.Status == RunStatusQueued || r.Status == RunStatusProcessing
}

const (
	StepDataEngineering    = "data_engineering"
	StepComplianceChecking = "compliance_checking"
	StepRiskAssessment     = "risk_assessment"
	StepReportWriting      = "report_writing"
)

const (
	StepStatusStarted = "started"
	StepStatusSuccess = "success"
	StepStatusFailed  = "failed"
	StepStatusSkipped = "skipped"
)

type RunStep struct {
	ID         int64
	RunID      string
	Step       string
	Status     string
	Data       map[string]any
	Error      *string
	CreatedAt  time.Time
	FinishedAt *time.Time
}
