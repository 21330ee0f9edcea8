// Package pulse provides the durable remediation job queue. Short-lived
// execute requests are acknowledged immediately and the job is published to a
// Pulse stream; an in-process worker consumes the stream and performs the
// actual remediation run. Jobs stay pending in the consumer group until
// acked, so a worker crash mid-run leads to redelivery rather than a lost
// execution.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	clientspulse "github.com/Lynrbe/aws-cloudops-agent/features/queue/pulse/clients/pulse"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

const (
	// DefaultStreamName is the Pulse stream carrying execution jobs.
	DefaultStreamName = "alert-executions"
	// DefaultSinkName is the consumer group the worker reads through.
	DefaultSinkName = "alertd-worker"

	// eventExecutionRequested names the job events on the stream.
	eventExecutionRequested = "execution_requested"
)

type (
	// Executor runs one approved remediation. Implemented by alert.Manager.
	Executor interface {
		Execute(ctx context.Context, alertID string) (alert.ExecutionReport, error)
	}

	// Options configures the queue.
	Options struct {
		// Client opens Pulse streams. Required.
		Client clientspulse.Client
		// StreamName overrides DefaultStreamName.
		StreamName string
		// Logger and Metrics default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Queue dispatches execution jobs and runs the consuming worker. It
	// implements alert.Dispatcher.
	Queue struct {
		stream  clientspulse.Stream
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// NewQueue validates opts and opens the job stream.
func NewQueue(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = DefaultStreamName
	}
	stream, err := opts.Client.Stream(name)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Queue{
		stream:  stream,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Dispatch publishes one execution job to the stream.
func (q *Queue) Dispatch(ctx context.Context, job alert.ExecutionJob) error {
	if job.AlertID == "" {
		return errors.New("alert id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode execution job: %w", err)
	}
	id, err := q.stream.Add(ctx, eventExecutionRequested, payload)
	if err != nil {
		return fmt.Errorf("dispatch execution job: %w", err)
	}
	q.metrics.IncCounter("execution_jobs_dispatched", 1)
	q.logger.Info(ctx, "execution job dispatched", "alert_id", job.AlertID, "event_id", id)
	return nil
}

// Work consumes execution jobs until ctx is canceled, running each through
// exec. Jobs are acked after the run regardless of its outcome: an execution
// failure is recorded on the alert itself, and redelivering it would rerun a
// mutating remediation. A malformed job is logged and acked so it cannot
// wedge the queue.
func (q *Queue) Work(ctx context.Context, sinkName string, exec Executor) error {
	if exec == nil {
		return errors.New("executor is required")
	}
	if sinkName == "" {
		sinkName = DefaultSinkName
	}
	sink, err := q.stream.NewSink(ctx, sinkName)
	if err != nil {
		return fmt.Errorf("create job sink: %w", err)
	}
	defer sink.Close(context.WithoutCancel(ctx))

	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			var job alert.ExecutionJob
			if err := json.Unmarshal(evt.Payload, &job); err != nil {
				q.logger.Error(ctx, "malformed execution job", "event_id", evt.ID, "err", err)
			} else {
				q.run(ctx, exec, job)
			}
			if err := sink.Ack(ctx, evt); err != nil {
				return fmt.Errorf("ack execution job: %w", err)
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, exec Executor, job alert.ExecutionJob) {
	q.logger.Info(ctx, "execution job starting", "alert_id", job.AlertID)
	report, err := exec.Execute(ctx, job.AlertID)
	switch {
	case errors.Is(err, alert.ErrNotApproved), errors.Is(err, alert.ErrNotFound):
		q.metrics.IncCounter("execution_jobs_rejected", 1)
		q.logger.Warn(ctx, "execution job rejected", "alert_id", job.AlertID, "err", err)
	case err != nil:
		q.metrics.IncCounter("execution_jobs_failed", 1)
		q.logger.Error(ctx, "execution job failed", "alert_id", job.AlertID, "err", err)
	default:
		q.metrics.IncCounter("execution_jobs_completed", 1)
		q.logger.Info(ctx, "execution job finished",
			"alert_id", job.AlertID, "status", string(report.Alert.ExecutionStatus))
	}
}
