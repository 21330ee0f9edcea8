package alert

import (
	"context"
	"errors"
	"time"
)

// Store persists alert records.
//
// Implementations must tolerate concurrent readers and writers; the approval
// transition is the one operation requiring an atomic guard so duplicate
// webhook deliveries cannot double-approve an alert.
type Store interface {
	// Put writes the full record, replacing any previous version.
	Put(ctx context.Context, a Alert) error

	// Get loads a record. Returns ErrNotFound when the alert does not exist.
	Get(ctx context.Context, alertID string) (Alert, error)

	// TransitionApproval moves a pending alert to the given decision and
	// records the actor, atomically guarded on the current status being
	// pending. Returns the updated record on success. Returns ErrNotPending
	// when the alert was already resolved; implementations return the
	// current record alongside the error when they can, so callers can
	// report the existing decision. Returns ErrNotFound when the alert does
	// not exist.
	TransitionApproval(ctx context.Context, alertID string, to ApprovalStatus, actor string) (Alert, error)

	// SetExecution updates the remediation run state. A nil result marks a
	// run in progress; completed and failed runs carry the parsed outcome.
	SetExecution(ctx context.Context, alertID string, status ExecutionStatus, result *ExecutionResult, at time.Time) error

	// OpenAlertExists reports whether a pending alert already exists for the
	// service and issue type. Monitors use it to suppress duplicate alerts
	// across sweeps.
	OpenAlertExists(ctx context.Context, serviceName, issueType string) (bool, error)
}

var (
	// ErrNotFound indicates the alert does not exist in the store.
	ErrNotFound = errors.New("alert not found")

	// ErrNotPending indicates an approval transition was attempted on an
	// alert that is no longer pending. The decision is single-use.
	ErrNotPending = errors.New("alert already resolved")

	// ErrNotApproved indicates execution was requested for an alert that has
	// not been approved.
	ErrNotApproved = errors.New("alert not approved")
)
