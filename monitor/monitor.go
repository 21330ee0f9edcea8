// Package monitor probes configured service targets and raises alerts for
// the ones that fail. Each sweep walks the target list, probes every HTTP
// target with a bounded retry, classifies the failure and hands a signal to
// the alert manager. A target that already has a pending alert for the same
// issue is skipped so repeated sweeps do not flood the approval channels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Lynrbe/aws-cloudops-agent/config"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

const (
	defaultAttempts   = 3
	defaultRetrySleep = 2 * time.Second
	defaultProbeTime  = 10 * time.Second
)

// Issue types assigned by failure classification.
const (
	IssueConnectionFailure = "connection_failure"
	IssueTimeout           = "timeout"
	IssueHTTPError         = "http_error"
)

type (
	// Creator raises one alert from a monitor signal. Implemented by
	// alert.Manager.
	Creator interface {
		Create(ctx context.Context, sig alert.Signal) (alert.Alert, error)
	}

	// Suppressor reports whether a pending alert already covers a service
	// and issue. Implemented by alert.Store.
	Suppressor interface {
		OpenAlertExists(ctx context.Context, serviceName, issueType string) (bool, error)
	}

	// Options configures a Monitor.
	Options struct {
		// Targets lists the services to probe.
		Targets []config.Target
		// Creator raises alerts. Required.
		Creator Creator
		// Suppressor skips targets with an open alert. Optional; nil
		// disables suppression.
		Suppressor Suppressor
		// Client performs the HTTP probes. Defaults to a client bounded by
		// ProbeTimeout.
		Client *http.Client
		// Attempts bounds how many times a failing probe is retried before
		// the target is declared down. Defaults to 3.
		Attempts int
		// RetrySleep is the fixed pause between attempts. Defaults to 2s.
		RetrySleep time.Duration
		// ProbeTimeout bounds each individual probe. Defaults to 10s.
		ProbeTimeout time.Duration
		// Logger and Metrics default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Monitor sweeps the configured targets.
	Monitor struct {
		targets    []config.Target
		creator    Creator
		suppressor Suppressor
		client     *http.Client
		attempts   int
		sleep      time.Duration
		logger     telemetry.Logger
		metrics    telemetry.Metrics
	}

	// SweepResult summarizes one sweep.
	SweepResult struct {
		// Checked counts the probed targets; synthetic targets are not
		// probed.
		Checked int `json:"checked"`
		// Raised lists the alerts created during the sweep.
		Raised []alert.Alert `json:"raised"`
		// Suppressed counts failures skipped because of an open alert.
		Suppressed int `json:"suppressed"`
	}
)

// New validates opts and returns a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Creator == nil {
		return nil, errors.New("alert creator is required")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.RetrySleep <= 0 {
		opts.RetrySleep = defaultRetrySleep
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTime
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.ProbeTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Monitor{
		targets:    opts.Targets,
		creator:    opts.Creator,
		suppressor: opts.Suppressor,
		client:     opts.Client,
		attempts:   opts.Attempts,
		sleep:      opts.RetrySleep,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}, nil
}

// Sweep probes every HTTP target once and raises alerts for the failures.
// Individual target errors never abort the sweep.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	for _, t := range m.targets {
		if t.URL == "" {
			continue
		}
		res.Checked++
		probeErr := m.probe(ctx, t.URL)
		if probeErr == nil {
			m.logger.Debug(ctx, "target healthy", "service_name", t.Name)
			continue
		}
		m.metrics.IncCounter("monitor_failures", 1, "service_name", t.Name)

		sig := classify(t, probeErr)
		raised, suppressed := m.raise(ctx, sig)
		if suppressed {
			res.Suppressed++
			continue
		}
		if raised != nil {
			res.Raised = append(res.Raised, *raised)
		}
		if err := ctx.Err(); err != nil {
			return res
		}
	}
	m.metrics.RecordGauge("monitor_open_alerts", float64(len(res.Raised)+res.Suppressed))
	return res
}

// Raise creates one alert for an externally reported signal, honoring the
// same open-alert suppression as sweeps. Used by the manual check endpoint.
func (m *Monitor) Raise(ctx context.Context, sig alert.Signal) (*alert.Alert, bool, error) {
	raised, suppressed := m.raise(ctx, sig)
	if suppressed {
		return nil, true, nil
	}
	if raised == nil {
		return nil, false, errors.New("alert creation failed")
	}
	return raised, false, nil
}

func (m *Monitor) raise(ctx context.Context, sig alert.Signal) (*alert.Alert, bool) {
	if m.suppressor != nil {
		open, err := m.suppressor.OpenAlertExists(ctx, sig.ServiceName, sig.IssueType)
		if err != nil {
			m.logger.Warn(ctx, "open-alert lookup failed, raising anyway",
				"service_name", sig.ServiceName, "err", err)
		} else if open {
			m.metrics.IncCounter("monitor_suppressed", 1)
			m.logger.Info(ctx, "alert suppressed, pending alert exists",
				"service_name", sig.ServiceName, "issue_type", sig.IssueType)
			return nil, true
		}
	}
	a, err := m.creator.Create(ctx, sig)
	if err != nil {
		m.logger.Error(ctx, "alert creation failed", "service_name", sig.ServiceName, "err", err)
		return nil, false
	}
	return &a, false
}

// probe fetches url up to the configured attempt count with a fixed sleep
// between attempts, returning the last failure.
func (m *Monitor) probe(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.sleep):
			}
		}
		lastErr = m.fetch(ctx, url)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (m *Monitor) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// statusError marks a probe that connected but got a server error.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d", e.code)
}

// classify maps a probe failure to an alert signal. Connection-level
// failures are graded critical (the service is unreachable), timeouts and
// server errors high (the service responds but is unhealthy).
func classify(t config.Target, probeErr error) alert.Signal {
	sig := alert.Signal{
		ServiceName:  t.Name,
		ServiceType:  t.Type,
		ErrorDetails: probeErr.Error(),
		Status:       "DOWN",
	}
	var (
		statusErr *statusError
		netErr    net.Error
	)
	switch {
	case errors.As(probeErr, &statusErr):
		sig.IssueType = IssueHTTPError
		sig.Severity = alert.SeverityHigh
	case errors.Is(probeErr, context.DeadlineExceeded),
		errors.As(probeErr, &netErr) && netErr.Timeout():
		sig.IssueType = IssueTimeout
		sig.Severity = alert.SeverityHigh
	default:
		sig.IssueType = IssueConnectionFailure
		sig.Severity = alert.SeverityCritical
	}
	return sig
}
