package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/blob"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

type (
	// ManagerOptions configures a Manager.
	ManagerOptions struct {
		// Store persists alert records. Required.
		Store Store
		// Blobs persists full analysis and execution reports. Required.
		Blobs blob.Store
		// Invoker runs the analysis and remediation agent calls. Required.
		Invoker agent.Invoker
		// Notifiers receive lifecycle events, each independently.
		Notifiers []Notifier
		// AnalysisTimeout bounds the analysis invocation. Defaults to
		// DefaultAnalysisTimeout.
		AnalysisTimeout time.Duration
		// ExecutionTimeout bounds the remediation invocation. Defaults to
		// DefaultExecutionTimeout.
		ExecutionTimeout time.Duration
		// Logger, Metrics and Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Manager drives the alert lifecycle: creation with analysis, single-use
	// approval or dismissal, and execution of the approved remediation.
	Manager struct {
		store            Store
		blobs            blob.Store
		invoker          agent.Invoker
		notifiers        []Notifier
		analysisTimeout  time.Duration
		executionTimeout time.Duration
		logger           telemetry.Logger
		metrics          telemetry.Metrics
		tracer           telemetry.Tracer
	}

	// ExecutionReport is the outcome of one Execute call.
	ExecutionReport struct {
		Alert     Alert
		Result    ExecutionResult
		ReportKey string
		ReportURL string
	}

	// ExecutionJob describes one queued remediation run.
	ExecutionJob struct {
		AlertID     string `json:"alert_id"`
		SessionID   string `json:"session_id,omitempty"`
		ServiceName string `json:"service_name,omitempty"`
		AnalysisKey string `json:"s3_key,omitempty"`
	}

	// Dispatcher hands execution jobs to a background worker so short-lived
	// callers are acknowledged without waiting out the remediation run.
	Dispatcher interface {
		Dispatch(ctx context.Context, job ExecutionJob) error
	}
)

const (
	// DefaultAnalysisTimeout bounds the analysis agent invocation.
	DefaultAnalysisTimeout = 90 * time.Second
	// DefaultExecutionTimeout bounds the remediation agent invocation,
	// sized for the heavier nature of mutating actions.
	DefaultExecutionTimeout = 120 * time.Second
)

// inlineSummaryBound caps the summary stored inline with the record.
const inlineSummaryBound = 1000

// NewManager validates opts and returns a Manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Manager{
		store:            opts.Store,
		blobs:            opts.Blobs,
		invoker:          opts.Invoker,
		notifiers:        opts.Notifiers,
		analysisTimeout:  opts.AnalysisTimeout,
		executionTimeout: opts.ExecutionTimeout,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
	}, nil
}

// Create runs the full creation flow for one monitor signal: agent analysis,
// report upload, record persistence and notification fan-out. Analysis and
// upload failures degrade the record rather than failing the call; only a
// missing service name or a persistence failure is returned as an error.
func (m *Manager) Create(ctx context.Context, sig Signal) (Alert, error) {
	if sig.ServiceName == "" {
		return Alert{}, errors.New("service_name is required")
	}
	sig = sig.withDefaults()
	now := time.Now().UTC()
	alertID := uuid.NewString()
	sessionID := uuid.NewString()

	m.metrics.IncCounter("alerts_created", 1, "severity", string(sig.Severity))
	m.logger.Info(ctx, "alert analysis starting",
		"alert_id", alertID, "service_name", sig.ServiceName, "service_type", sig.ServiceType)

	analysis, err := m.collectText(ctx, m.analysisTimeout, agent.Request{
		Prompt:    analysisPrompt(sig, now),
		SessionID: sessionID,
	})
	if err != nil || analysis == "" {
		m.logger.Warn(ctx, "alert analysis unavailable", "alert_id", alertID, "err", err)
		m.metrics.IncCounter("alert_analysis_failures", 1)
		analysis = "Agent analysis unavailable. Error: " + sig.ErrorDetails
		sessionID = ""
	}

	a := Alert{
		AlertID:         alertID,
		ServiceName:     sig.ServiceName,
		ServiceType:     sig.ServiceType,
		IssueType:       sig.IssueType,
		ErrorDetails:    sig.ErrorDetails,
		Severity:        sig.Severity,
		Timestamp:       now,
		AgentSessionID:  sessionID,
		Summary:         headRunes(SummarizeAnalysis(analysis), inlineSummaryBound),
		ApprovalStatus:  ApprovalPending,
		ExecutionStatus: ExecutionNotStarted,
		ExpiresAt:       now.Add(Retention),
	}

	key := AnalysisKey(sig.ServiceType, sig.ServiceName, alertID, now)
	url, err := m.blobs.Put(ctx, key, "text/markdown", renderAnalysisReport(a, analysis), analysisMetadata(a))
	if err != nil {
		m.logger.Warn(ctx, "analysis upload failed", "alert_id", alertID, "key", key, "err", err)
	} else {
		a.AnalysisKey = key
		a.AnalysisURL = url
	}

	if err := m.store.Put(ctx, a); err != nil {
		return Alert{}, fmt.Errorf("persist alert: %w", err)
	}
	m.logger.Info(ctx, "alert created",
		"alert_id", alertID, "service_name", sig.ServiceName, "severity", string(sig.Severity))

	m.notify(ctx, Event{
		Kind:      EventAlertCreated,
		Alert:     a,
		Analysis:  analysis,
		Status:    sig.Status,
		ReportURL: a.AnalysisURL,
	})
	return a, nil
}

// Get loads one alert record.
func (m *Manager) Get(ctx context.Context, alertID string) (Alert, error) {
	return m.store.Get(ctx, alertID)
}

// Analysis returns the full analysis text for a. It falls back to the inline
// summary when no blob was stored or the blob store is unreachable.
func (m *Manager) Analysis(ctx context.Context, a Alert) string {
	if a.AnalysisKey == "" {
		return a.Summary
	}
	body, err := m.blobs.Get(ctx, a.AnalysisKey)
	if err != nil {
		m.logger.Warn(ctx, "full analysis unavailable, using inline summary",
			"alert_id", a.AlertID, "key", a.AnalysisKey, "err", err)
		return a.Summary
	}
	return string(body)
}

// Approve marks a pending alert approved by actor. Returns ErrNotPending
// alongside the current record when the decision was already made, and
// ErrNotFound when the alert does not exist.
func (m *Manager) Approve(ctx context.Context, alertID, actor string) (Alert, error) {
	return m.resolve(ctx, alertID, ApprovalApproved, actor)
}

// Dismiss closes a pending alert without remediation. Same contract as
// Approve.
func (m *Manager) Dismiss(ctx context.Context, alertID, actor string) (Alert, error) {
	return m.resolve(ctx, alertID, ApprovalDismissed, actor)
}

func (m *Manager) resolve(ctx context.Context, alertID string, to ApprovalStatus, actor string) (Alert, error) {
	a, err := m.store.TransitionApproval(ctx, alertID, to, actor)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			m.logger.Info(ctx, "alert already resolved",
				"alert_id", alertID, "status", string(a.ApprovalStatus))
		}
		return a, err
	}
	m.metrics.IncCounter("alert_decisions", 1, "decision", string(to))
	m.logger.Info(ctx, "alert resolved", "alert_id", alertID, "decision", string(to), "actor", actor)
	return a, nil
}

// Execute runs the approved remediation for an alert: it reinvokes the agent
// in the session captured at analysis time with a prompt embedding the stored
// analysis, parses the transcript into an ExecutionResult, persists the
// outcome and its report, and notifies every channel. Returns ErrNotApproved
// alongside the current record when the alert has not been approved. An agent
// failure is reported in the result, not as an error.
func (m *Manager) Execute(ctx context.Context, alertID string) (ExecutionReport, error) {
	ctx, span := m.tracer.Start(ctx, "alert.execute",
		trace.WithAttributes(attribute.String("alert_id", alertID)))
	defer span.End()

	a, err := m.store.Get(ctx, alertID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "alert lookup failed")
		return ExecutionReport{}, err
	}
	if a.ApprovalStatus != ApprovalApproved {
		return ExecutionReport{Alert: a}, ErrNotApproved
	}

	analysis := m.Analysis(ctx, a)

	if err := m.store.SetExecution(ctx, alertID, ExecutionInProgress, nil, time.Now().UTC()); err != nil {
		m.logger.Warn(ctx, "execution status update failed",
			"alert_id", alertID, "status", string(ExecutionInProgress), "err", err)
	}
	m.logger.Info(ctx, "execution starting", "alert_id", alertID, "session_id", a.AgentSessionID)

	started := time.Now()
	transcript, invokeErr := m.collectText(ctx, m.executionTimeout, agent.Request{
		Prompt:    executionPrompt(a.ServiceName, analysis),
		SessionID: a.AgentSessionID,
	})
	m.metrics.RecordTimer("alert_execution_duration", time.Since(started))

	finished := time.Now().UTC()
	var res ExecutionResult
	if invokeErr != nil {
		m.logger.Error(ctx, "execution invocation failed", "alert_id", alertID, "err", invokeErr)
		span.RecordError(invokeErr)
		span.SetStatus(codes.Error, "execution invocation failed")
		res = ExecutionResult{Success: false, ExecutionLog: "Execution failed: " + invokeErr.Error()}
	} else {
		actions, sum := ParseExecutionLog(transcript, finished)
		res = ExecutionResult{Success: true, ExecutionLog: transcript, Actions: actions, Summary: sum}
	}

	status := ExecutionCompleted
	if !res.Success {
		status = ExecutionFailed
	}
	if err := m.store.SetExecution(ctx, alertID, status, &res, finished); err != nil {
		m.logger.Warn(ctx, "execution status update failed",
			"alert_id", alertID, "status", string(status), "err", err)
	}
	a.ExecutionStatus = status
	a.Execution = &res
	a.ExecutedAt = &finished

	report := ExecutionReport{Alert: a, Result: res}
	key := ExecutionKey(a.ServiceName, alertID, finished)
	url, err := m.blobs.Put(ctx, key, "text/markdown", renderExecutionReport(a, res, finished), nil)
	if err != nil {
		m.logger.Warn(ctx, "execution report upload failed", "alert_id", alertID, "key", key, "err", err)
	} else {
		report.ReportKey = key
		report.ReportURL = url
	}

	m.metrics.IncCounter("alert_executions", 1, "status", string(status))
	m.logger.Info(ctx, "execution finished",
		"alert_id", alertID, "status", string(status), "actions", res.Summary.TotalActions)

	m.notify(ctx, Event{
		Kind:      EventExecutionCompleted,
		Alert:     a,
		Result:    &res,
		ReportURL: report.ReportURL,
	})
	return report, nil
}

// collectText invokes the agent and accumulates the text deltas of the
// response stream, bounded by timeout.
func (m *Manager) collectText(ctx context.Context, timeout time.Duration, req agent.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := m.invoker.Invoke(ctx, req)
	if err != nil {
		return "", fmt.Errorf("invoke agent: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("receive event: %w", err)
		}
		if delta, ok := ev.(agent.TextDelta); ok {
			text.WriteString(delta.Text)
		}
	}
}

// notify fans an event out to every channel, isolating failures so one broken
// channel cannot block the others.
func (m *Manager) notify(ctx context.Context, ev Event) {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.metrics.IncCounter("alert_notify_failures", 1, "channel", n.Name())
			m.logger.Warn(ctx, "notification failed",
				"channel", n.Name(), "alert_id", ev.Alert.AlertID, "kind", string(ev.Kind), "err", err)
		}
	}
}
