// Package alert implements the remediation alert lifecycle: creation with
// agent-produced analysis, single-use approval or dismissal, and execution of
// the approved remediation plan.
//
// An Alert is created when an external monitor reports a service problem. The
// manager invokes the agent for analysis, persists the full analysis to blob
// storage, stores the alert record with an inline summary, and fans out
// notifications. Approval and dismissal are compare-and-swap transitions that
// fire exactly once; execution requires a prior approval and reuses the agent
// session captured at analysis time so the remediation run shares context with
// the analysis.
package alert

import (
	"time"
)

type (
	// Alert is the durable record of one detected service problem and its
	// remediation workflow state.
	Alert struct {
		// AlertID is the unique identifier allocated at creation.
		AlertID string `json:"alert_id"`
		// ServiceName identifies the affected service or resource.
		ServiceName string `json:"service_name"`
		// ServiceType classifies the service (CloudFront, Route53, ...).
		ServiceType string `json:"service_type"`
		// IssueType classifies the detected problem.
		IssueType string `json:"issue_type"`
		// ErrorDetails is the monitor-reported error description.
		ErrorDetails string `json:"error_details"`
		// Severity is the monitor-assigned severity.
		Severity Severity `json:"severity"`
		// Timestamp records when the problem was detected.
		Timestamp time.Time `json:"timestamp"`
		// AgentSessionID is the conversation session used for the analysis.
		// Execution must reuse it so the remediation agent call shares
		// context with the analysis. Empty when analysis was unavailable.
		AgentSessionID string `json:"agent_session_id,omitempty"`
		// Summary is a short extracted summary of the analysis, inlined for
		// quick display. The full text lives in blob storage.
		Summary string `json:"agent_analysis"`
		// AnalysisKey and AnalysisURL locate the full analysis document.
		AnalysisKey string `json:"s3_analysis_key,omitempty"`
		AnalysisURL string `json:"s3_analysis_url,omitempty"`
		// ApprovalStatus is the single-use approval decision state.
		ApprovalStatus ApprovalStatus `json:"approval_status"`
		// ApprovedBy records who resolved the alert (approve or dismiss).
		ApprovedBy string `json:"approved_by,omitempty"`
		// ApprovedAt records when the alert was resolved.
		ApprovedAt *time.Time `json:"approved_at,omitempty"`
		// ExecutionStatus tracks the remediation run.
		ExecutionStatus ExecutionStatus `json:"execution_status"`
		// Execution holds the parsed outcome of the remediation run.
		Execution *ExecutionResult `json:"execution_details,omitempty"`
		// ExecutedAt records when the remediation run finished.
		ExecutedAt *time.Time `json:"executed_at,omitempty"`
		// ExpiresAt is the advisory retention deadline used by the store's
		// own expiry mechanism.
		ExpiresAt time.Time `json:"ttl"`
	}

	// Signal is a monitor-provided description of a detected problem. Only
	// ServiceName is required; the remaining fields default per
	// (Signal).withDefaults.
	Signal struct {
		ServiceName  string   `json:"service_name"`
		ServiceType  string   `json:"service_type,omitempty"`
		ErrorDetails string   `json:"error_details,omitempty"`
		IssueType    string   `json:"issue_type,omitempty"`
		Severity     Severity `json:"severity,omitempty"`
		// Status is the monitor's view of the service (DOWN, DEGRADED, ...).
		Status string `json:"status,omitempty"`
		// AWSServices lists related infrastructure included in the analysis
		// prompt as context.
		AWSServices []string `json:"aws_services,omitempty"`
		// AdditionalInfo carries free-form context for the analysis prompt.
		AdditionalInfo string `json:"additional_info,omitempty"`
	}

	// Severity grades a detected problem.
	Severity string

	// ApprovalStatus is the single-use approval decision state.
	ApprovalStatus string

	// ExecutionStatus is the lifecycle state of the remediation run.
	ExecutionStatus string
)

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	// ApprovalPending means the alert awaits a decision.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved means remediation was authorized.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalDismissed means the alert was closed without action.
	ApprovalDismissed ApprovalStatus = "dismissed"
)

const (
	// ExecutionNotStarted means no remediation run has begun.
	ExecutionNotStarted ExecutionStatus = "not_started"
	// ExecutionInProgress means a remediation run is underway.
	ExecutionInProgress ExecutionStatus = "in_progress"
	// ExecutionCompleted means the remediation run finished successfully.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed means the remediation run failed.
	ExecutionFailed ExecutionStatus = "failed"
)

// Retention is how long alert records stay meaningful; ExpiresAt is set this
// far past creation and honored by the store's expiry, not enforced here.
const Retention = 7 * 24 * time.Hour

// withDefaults fills the optional Signal fields the way monitors that send
// only a service name expect.
func (s Signal) withDefaults() Signal {
	if s.ServiceType == "" {
		s.ServiceType = "AWS Service"
	}
	if s.ErrorDetails == "" {
		s.ErrorDetails = "Unknown error"
	}
	if s.IssueType == "" {
		s.IssueType = "service_issue"
	}
	if s.Severity == "" {
		s.Severity = SeverityHigh
	}
	if s.Status == "" {
		s.Status = "ISSUE DETECTED"
	}
	return s
}

// Resolved reports whether the approval decision has been made.
func (a Alert) Resolved() bool {
	return a.ApprovalStatus != ApprovalPending
}
