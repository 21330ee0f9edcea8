package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynrbe/aws-cloudops-agent/config"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

type fakeCreator struct {
	created []alert.Signal
	err     error
}

func (c *fakeCreator) Create(_ context.Context, sig alert.Signal) (alert.Alert, error) {
	c.created = append(c.created, sig)
	if c.err != nil {
		return alert.Alert{}, c.err
	}
	return alert.Alert{AlertID: "a-1", ServiceName: sig.ServiceName}, nil
}

type fakeSuppressor struct {
	open bool
}

func (s *fakeSuppressor) OpenAlertExists(context.Context, string, string) (bool, error) {
	return s.open, nil
}

func newTestMonitor(t *testing.T, targets []config.Target, creator Creator, sup Suppressor) *Monitor {
	t.Helper()
	m, err := New(Options{
		Targets:    targets,
		Creator:    creator,
		Suppressor: sup,
		Attempts:   2,
		RetrySleep: time.Millisecond,
	})
	require.NoError(t, err)
	return m
}

type fakeMetrics struct {
	gauges map[string]float64
}

func (m *fakeMetrics) IncCounter(string, float64, ...string) {}

func (m *fakeMetrics) RecordTimer(string, time.Duration, ...string) {}

func (m *fakeMetrics) RecordGauge(name string, v float64, _ ...string) {
	if m.gauges == nil {
		m.gauges = map[string]float64{}
	}
	m.gauges[name] = v
}

func TestSweepHealthyTargetRaisesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "svc", URL: srv.URL}}, creator, nil)

	res := m.Sweep(context.Background())
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Raised)
	assert.Empty(t, creator.created)
}

func TestSweepServerErrorRaisesHTTPErrorAlert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "svc", Type: "CloudFront", URL: srv.URL}}, creator, nil)

	res := m.Sweep(context.Background())
	require.Len(t, res.Raised, 1)
	require.Len(t, creator.created, 1)
	sig := creator.created[0]
	assert.Equal(t, IssueHTTPError, sig.IssueType)
	assert.Equal(t, alert.SeverityHigh, sig.Severity)
	assert.Equal(t, "CloudFront", sig.ServiceType)
	assert.Contains(t, sig.ErrorDetails, "502")
}

func TestSweepConnectionFailureIsCritical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "svc", URL: url}}, creator, nil)

	m.Sweep(context.Background())
	require.Len(t, creator.created, 1)
	assert.Equal(t, IssueConnectionFailure, creator.created[0].IssueType)
	assert.Equal(t, alert.SeverityCritical, creator.created[0].Severity)
}

func TestSweepRetriesBeforeRaising(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "svc", URL: srv.URL}}, creator, nil)

	res := m.Sweep(context.Background())
	assert.Equal(t, 2, hits)
	assert.Empty(t, res.Raised)
}

func TestSweepSuppressesOpenAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "svc", URL: srv.URL}}, creator, &fakeSuppressor{open: true})

	res := m.Sweep(context.Background())
	assert.Equal(t, 1, res.Suppressed)
	assert.Empty(t, creator.created)
}

func TestSweepRecordsOpenAlertGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	metrics := &fakeMetrics{}
	m, err := New(Options{
		Targets:    []config.Target{{Name: "svc", URL: srv.URL}},
		Creator:    &fakeCreator{},
		Attempts:   1,
		RetrySleep: time.Millisecond,
		Metrics:    metrics,
	})
	require.NoError(t, err)

	m.Sweep(context.Background())
	assert.Equal(t, 1.0, metrics.gauges["monitor_open_alerts"])
}

func TestSweepSkipsSyntheticTargets(t *testing.T) {
	creator := &fakeCreator{}
	m := newTestMonitor(t, []config.Target{{Name: "synthetic"}}, creator, nil)

	res := m.Sweep(context.Background())
	assert.Zero(t, res.Checked)
	assert.Empty(t, creator.created)
}

func TestRaiseHonorsSuppression(t *testing.T) {
	creator := &fakeCreator{}
	m := newTestMonitor(t, nil, creator, &fakeSuppressor{open: true})

	_, suppressed, err := m.Raise(context.Background(), alert.Signal{ServiceName: "svc", IssueType: "x"})
	require.NoError(t, err)
	assert.True(t, suppressed)
	assert.Empty(t, creator.created)
}
