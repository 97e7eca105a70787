package pipeline

import "fmt"

const (
	CodeDataEngineeringFailed = "DATA_ENGINEERING_FAILED"
	CodeComplianceCheckFailed = "COMPLIANCE_CHECK_FAILED"
	CodeRiskAssessmentFailed  = "RISK_ASSESSMENT_FAILED"
	CodeReportWritingFailed   = "REPORT_WRITING_FAILED"
	CodeAgentRateLimited      = "AGENT_RATE_LIMITED"
	CodeAgentFailed           = "AGENT_FAILED"
)

// retryableCodes are the failure codes a new run may be started from.
// Risk assessment and report writing are pure functions of already
// persisted state, so their failures indicate a bug rather than a
// transient condition and are not retryable.
var retryableCodes = map[string]struct{}{
	CodeDataEngineeringFailed: {},
	CodeComplianceCheckFailed: {},
	CodeAgentRateLimited:      {},
	CodeAgentFailed:           {},
}

func Retryable(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}

// StageError attributes a pipeline failure to the stage it happened in.
type StageError struct {
	Stage string
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage, code string, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Err: err}
}
