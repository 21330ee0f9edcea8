package alert_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	agentmem "github.com/Lynrbe/aws-cloudops-agent/runtime/agent/inmem"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
	alertmem "github.com/Lynrbe/aws-cloudops-agent/runtime/alert/inmem"
	blobmem "github.com/Lynrbe/aws-cloudops-agent/runtime/blob/inmem"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

type stubNotifier struct {
	name   string
	err    error
	events []alert.Event
}

func (n *stubNotifier) Name() string { return n.name }

func (n *stubNotifier) Notify(_ context.Context, ev alert.Event) error {
	n.events = append(n.events, ev)
	return n.err
}

func newTestManager(t *testing.T, inv agent.Invoker, notifiers ...alert.Notifier) (*alert.Manager, *alertmem.Store, *blobmem.Store) {
	t.Helper()
	store := alertmem.New()
	blobs := blobmem.New()
	mgr, err := alert.NewManager(alert.ManagerOptions{
		Store:     store,
		Blobs:     blobs,
		Invoker:   inv,
		Notifiers: notifiers,
	})
	require.NoError(t, err)
	return mgr, store, blobs
}

func TestNewManagerValidatesOptions(t *testing.T) {
	inv := agentmem.NewInvoker()

	_, err := alert.NewManager(alert.ManagerOptions{Blobs: blobmem.New(), Invoker: inv})
	require.EqualError(t, err, "store is required")

	_, err = alert.NewManager(alert.ManagerOptions{Store: alertmem.New(), Invoker: inv})
	require.EqualError(t, err, "blob store is required")

	_, err = alert.NewManager(alert.ManagerOptions{Store: alertmem.New(), Blobs: blobmem.New()})
	require.EqualError(t, err, "invoker is required")
}

func TestManagerCreatePersistsAnalyzedAlert(t *testing.T) {
	ctx := context.Background()
	inv := agentmem.NewInvoker(agentmem.Script{Events: []agent.Event{
		agent.TextDelta{Text: "## EXECUTIVE SUMMARY\n"},
		agent.TextDelta{Text: "The hosted zone lost its records."},
	}})
	notifier := &stubNotifier{name: "slack"}
	mgr, store, blobs := newTestManager(t, inv, notifier)

	a, err := mgr.Create(ctx, alert.Signal{
		ServiceName:  "payments-api",
		ServiceType:  "CloudFront",
		ErrorDetails: "origin timeout",
		Severity:     alert.SeverityCritical,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, a.AlertID)
	assert.Equal(t, alert.ApprovalPending, a.ApprovalStatus)
	assert.Equal(t, alert.ExecutionNotStarted, a.ExecutionStatus)
	assert.NotEmpty(t, a.AgentSessionID)
	assert.Contains(t, a.Summary, "EXECUTIVE SUMMARY")
	assert.WithinDuration(t, time.Now().Add(alert.Retention), a.ExpiresAt, time.Minute)

	stored, err := store.Get(ctx, a.AlertID)
	require.NoError(t, err)
	assert.Equal(t, a, stored)

	assert.True(t, strings.HasPrefix(a.AnalysisKey, "alerts/"))
	assert.Contains(t, a.AnalysisKey, "/CloudFront/payments-api/")
	assert.Equal(t, "memory://"+a.AnalysisKey, a.AnalysisURL)
	body, err := blobs.Get(ctx, a.AnalysisKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# AWS Service Analysis Report")
	assert.Contains(t, string(body), "The hosted zone lost its records.")
	assert.Equal(t, "text/markdown", blobs.ContentType(a.AnalysisKey))
	meta := blobs.Metadata(a.AnalysisKey)
	assert.Equal(t, a.AlertID, meta["alert-id"])
	assert.Equal(t, "payments-api", meta["service-name"])
	assert.Equal(t, "CloudFront", meta["service-type"])

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "payments-api")
	assert.Contains(t, calls[0].Prompt, "origin timeout")
	assert.Equal(t, a.AgentSessionID, calls[0].SessionID)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, alert.EventAlertCreated, ev.Kind)
	assert.Equal(t, a.AlertID, ev.Alert.AlertID)
	assert.Equal(t, "ISSUE DETECTED", ev.Status)
	assert.Contains(t, ev.Analysis, "The hosted zone lost its records.")
	assert.Equal(t, a.AnalysisURL, ev.ReportURL)
}

func TestManagerCreateRequiresServiceName(t *testing.T) {
	mgr, _, _ := newTestManager(t, agentmem.NewInvoker())

	_, err := mgr.Create(context.Background(), alert.Signal{})
	require.EqualError(t, err, "service_name is required")
}

func TestManagerCreateDegradesWhenAnalysisUnavailable(t *testing.T) {
	ctx := context.Background()
	inv := agentmem.NewInvoker(agentmem.Script{InvokeErr: errors.New("runtime down")})
	notifier := &stubNotifier{name: "teams"}
	mgr, _, blobs := newTestManager(t, inv, notifier)

	a, err := mgr.Create(ctx, alert.Signal{ServiceName: "checkout-queue", ErrorDetails: "DNS resolution failed"})
	require.NoError(t, err)

	assert.Empty(t, a.AgentSessionID)
	assert.Contains(t, a.Summary, "Agent analysis unavailable. Error: DNS resolution failed")
	assert.Equal(t, "AWS Service", a.ServiceType)
	assert.Equal(t, "service_issue", a.IssueType)
	assert.Equal(t, alert.SeverityHigh, a.Severity)

	assert.Contains(t, a.AnalysisKey, "/AWS-Service/checkout-queue/")
	body, err := blobs.Get(ctx, a.AnalysisKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Agent analysis unavailable.")

	require.Len(t, notifier.events, 1)
}

func TestManagerCreateIsolatesNotifierFailures(t *testing.T) {
	broken := &stubNotifier{name: "slack", err: errors.New("webhook 500")}
	healthy := &stubNotifier{name: "sns"}
	mgr, _, _ := newTestManager(t, agentmem.NewInvoker(agentmem.Script{
		Events: []agent.Event{agent.TextDelta{Text: "analysis text"}},
	}), broken, healthy)

	_, err := mgr.Create(context.Background(), alert.Signal{ServiceName: "svc"})
	require.NoError(t, err)

	assert.Len(t, broken.events, 1)
	assert.Len(t, healthy.events, 1)
}

func TestManagerApproveIsSingleUse(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t, agentmem.NewInvoker())
	require.NoError(t, store.Put(ctx, alert.Alert{
		AlertID:         "a-1",
		ServiceName:     "svc",
		ApprovalStatus:  alert.ApprovalPending,
		ExecutionStatus: alert.ExecutionNotStarted,
	}))

	first, err := mgr.Approve(ctx, "a-1", "kaitlyn")
	require.NoError(t, err)
	assert.Equal(t, alert.ApprovalApproved, first.ApprovalStatus)
	assert.Equal(t, "kaitlyn", first.ApprovedBy)
	require.NotNil(t, first.ApprovedAt)

	second, err := mgr.Approve(ctx, "a-1", "marcus")
	require.ErrorIs(t, err, alert.ErrNotPending)
	assert.Equal(t, alert.ApprovalApproved, second.ApprovalStatus)
	assert.Equal(t, "kaitlyn", second.ApprovedBy)

	_, err = mgr.Dismiss(ctx, "a-1", "marcus")
	require.ErrorIs(t, err, alert.ErrNotPending)

	stored, err := store.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, alert.ApprovalApproved, stored.ApprovalStatus)
}

func TestManagerApproveUnknownAlert(t *testing.T) {
	mgr, _, _ := newTestManager(t, agentmem.NewInvoker())

	_, err := mgr.Approve(context.Background(), "missing", "kaitlyn")
	require.ErrorIs(t, err, alert.ErrNotFound)
}

func TestManagerDismissIsTerminal(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t, agentmem.NewInvoker())
	require.NoError(t, store.Put(ctx, alert.Alert{AlertID: "a-2", ApprovalStatus: alert.ApprovalPending}))

	dismissed, err := mgr.Dismiss(ctx, "a-2", "kaitlyn")
	require.NoError(t, err)
	assert.Equal(t, alert.ApprovalDismissed, dismissed.ApprovalStatus)

	_, err = mgr.Execute(ctx, "a-2")
	require.ErrorIs(t, err, alert.ErrNotApproved)
}

func TestManagerExecuteRequiresApproval(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t, agentmem.NewInvoker())
	require.NoError(t, store.Put(ctx, alert.Alert{AlertID: "a-3", ApprovalStatus: alert.ApprovalPending}))

	rep, err := mgr.Execute(ctx, "a-3")
	require.ErrorIs(t, err, alert.ErrNotApproved)
	assert.Equal(t, alert.ApprovalPending, rep.Alert.ApprovalStatus)

	stored, err := store.Get(ctx, "a-3")
	require.NoError(t, err)
	assert.Equal(t, alert.ExecutionNotStarted, stored.ExecutionStatus)
}

func TestManagerExecuteRunsApprovedRemediation(t *testing.T) {
	ctx := context.Background()
	transcript := "Action: restore A record\nSuccess\nAction: invalidate cache\nFailed"
	inv := agentmem.NewInvoker(agentmem.Script{Events: []agent.Event{agent.TextDelta{Text: transcript}}})
	notifier := &stubNotifier{name: "slack"}
	mgr, store, blobs := newTestManager(t, inv, notifier)

	key := "alerts/2026-08-25/CloudFront/payments-api/10-00-00-a-4.md"
	_, err := blobs.Put(ctx, key, "text/markdown", []byte("## EXECUTIVE SUMMARY\nRestore the A record."), nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, alert.Alert{
		AlertID:         "a-4",
		ServiceName:     "payments-api",
		AgentSessionID:  "sess-42",
		AnalysisKey:     key,
		Summary:         "inline summary",
		ApprovalStatus:  alert.ApprovalApproved,
		ExecutionStatus: alert.ExecutionNotStarted,
	}))

	rep, err := mgr.Execute(ctx, "a-4")
	require.NoError(t, err)

	assert.True(t, rep.Result.Success)
	assert.Equal(t, alert.ExecutionCompleted, rep.Alert.ExecutionStatus)
	assert.Equal(t, alert.ExecutionSummary{TotalActions: 2, Successful: 1, Failed: 1}, rep.Result.Summary)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sess-42", calls[0].SessionID)
	assert.Contains(t, calls[0].Prompt, "Restore the A record.")
	assert.Contains(t, calls[0].Prompt, "payments-api")

	stored, err := store.Get(ctx, "a-4")
	require.NoError(t, err)
	assert.Equal(t, alert.ExecutionCompleted, stored.ExecutionStatus)
	require.NotNil(t, stored.Execution)
	assert.Equal(t, transcript, stored.Execution.ExecutionLog)
	require.NotNil(t, stored.ExecutedAt)

	assert.True(t, strings.HasPrefix(rep.ReportKey, "executions/"))
	assert.Contains(t, rep.ReportKey, "/payments-api/")
	body, err := blobs.Get(ctx, rep.ReportKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), "✅ SUCCESS")
	assert.Contains(t, string(body), "Action: restore A record")

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, alert.EventExecutionCompleted, ev.Kind)
	require.NotNil(t, ev.Result)
	assert.Equal(t, rep.ReportURL, ev.ReportURL)
}

func TestManagerExecuteReportsAgentFailure(t *testing.T) {
	ctx := context.Background()
	inv := agentmem.NewInvoker(agentmem.Script{InvokeErr: errors.New("runtime exploded")})
	notifier := &stubNotifier{name: "teams"}
	mgr, store, blobs := newTestManager(t, inv, notifier)
	require.NoError(t, store.Put(ctx, alert.Alert{
		AlertID:        "a-5",
		ServiceName:    "svc",
		Summary:        "inline summary",
		ApprovalStatus: alert.ApprovalApproved,
	}))

	rep, err := mgr.Execute(ctx, "a-5")
	require.NoError(t, err)

	assert.False(t, rep.Result.Success)
	assert.Equal(t, alert.ExecutionFailed, rep.Alert.ExecutionStatus)
	assert.Contains(t, rep.Result.ExecutionLog, "runtime exploded")
	assert.Empty(t, rep.Result.Actions)

	stored, err := store.Get(ctx, "a-5")
	require.NoError(t, err)
	assert.Equal(t, alert.ExecutionFailed, stored.ExecutionStatus)

	body, err := blobs.Get(ctx, rep.ReportKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), "❌ FAILED")

	require.Len(t, notifier.events, 1)
}

func TestManagerExecuteUnknownAlert(t *testing.T) {
	mgr, _, _ := newTestManager(t, agentmem.NewInvoker())

	_, err := mgr.Execute(context.Background(), "missing")
	require.ErrorIs(t, err, alert.ErrNotFound)
}

type recordTracer struct{ spans []*recordSpan }

func (t *recordTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	s := &recordSpan{name: name}
	t.spans = append(t.spans, s)
	return ctx, s
}

func (t *recordTracer) Span(context.Context) telemetry.Span { return &recordSpan{} }

type recordSpan struct {
	name   string
	ended  bool
	status codes.Code
	errs   []error
}

func (s *recordSpan) End(...trace.SpanEndOption) { s.ended = true }

func (s *recordSpan) AddEvent(string, ...any) {}

func (s *recordSpan) SetStatus(code codes.Code, _ string) { s.status = code }

func (s *recordSpan) RecordError(err error, _ ...trace.EventOption) { s.errs = append(s.errs, err) }

func TestManagerExecuteTracesRun(t *testing.T) {
	ctx := context.Background()
	tracer := &recordTracer{}
	inv := agentmem.NewInvoker(agentmem.Script{Events: []agent.Event{
		agent.TextDelta{Text: "✅ Restarted the service"},
	}})
	store := alertmem.New()
	mgr, err := alert.NewManager(alert.ManagerOptions{
		Store:   store,
		Blobs:   blobmem.New(),
		Invoker: inv,
		Tracer:  tracer,
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, alert.Alert{
		AlertID:        "a-9",
		ServiceName:    "svc",
		ApprovalStatus: alert.ApprovalApproved,
	}))

	_, err = mgr.Execute(ctx, "a-9")
	require.NoError(t, err)

	require.Len(t, tracer.spans, 1)
	span := tracer.spans[0]
	assert.Equal(t, "alert.execute", span.name)
	assert.True(t, span.ended)
	assert.Empty(t, span.errs)
}

func TestManagerExecuteTraceRecordsInvocationFailure(t *testing.T) {
	ctx := context.Background()
	tracer := &recordTracer{}
	inv := agentmem.NewInvoker(agentmem.Script{InvokeErr: errors.New("runtime exploded")})
	store := alertmem.New()
	mgr, err := alert.NewManager(alert.ManagerOptions{
		Store:   store,
		Blobs:   blobmem.New(),
		Invoker: inv,
		Tracer:  tracer,
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, alert.Alert{
		AlertID:        "a-10",
		ServiceName:    "svc",
		ApprovalStatus: alert.ApprovalApproved,
	}))

	_, err = mgr.Execute(ctx, "a-10")
	require.NoError(t, err)

	require.Len(t, tracer.spans, 1)
	span := tracer.spans[0]
	assert.True(t, span.ended)
	assert.Equal(t, codes.Error, span.status)
	require.Len(t, span.errs, 1)
	assert.Contains(t, span.errs[0].Error(), "runtime exploded")
}
