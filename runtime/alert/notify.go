package alert

import "context"

type (
	// Event describes a lifecycle change for notification channels to render.
	Event struct {
		// Kind selects the rendering.
		Kind EventKind
		// Alert is the record as persisted at the time of the event.
		Alert Alert
		// Analysis carries the full analysis text on created events. The
		// record itself only holds the inline summary.
		Analysis string
		// Status is the monitor-reported service status on created events
		// (DOWN, DEGRADED, ...). Not persisted with the record.
		Status string
		// Result is the parsed remediation outcome on execution events.
		Result *ExecutionResult
		// ReportURL locates the blob artifact backing this event, empty when
		// the upload was unavailable.
		ReportURL string
	}

	// EventKind names a lifecycle change.
	EventKind string

	// Notifier delivers one lifecycle event to one channel. Delivery is
	// best-effort: the manager isolates each channel's failure so a broken
	// webhook never blocks the others.
	Notifier interface {
		// Name identifies the channel in logs and metrics.
		Name() string
		// Notify renders and delivers the event.
		Notify(ctx context.Context, ev Event) error
	}
)

const (
	// EventAlertCreated announces a new pending alert with its analysis.
	EventAlertCreated EventKind = "alert_created"
	// EventExecutionCompleted announces a finished remediation run.
	EventExecutionCompleted EventKind = "execution_completed"
)
