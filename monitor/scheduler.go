package monitor

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

// Scheduler runs monitor sweeps on a cron expression.
type Scheduler struct {
	monitor *Monitor
	cron    *cron.Cron
	logger  telemetry.Logger
}

// cronParser accepts standard 5-field cron expressions, an optional seconds
// field and descriptors such as @every.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewScheduler registers one sweep job on the given cron expression. The
// sweep runs under ctx so shutting the process down cancels in-flight
// probes.
func NewScheduler(ctx context.Context, m *Monitor, schedule string, logger telemetry.Logger) (*Scheduler, error) {
	if m == nil {
		return nil, errors.New("monitor is required")
	}
	if schedule == "" {
		return nil, errors.New("schedule is required")
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(schedule, func() {
		logger.Info(ctx, "monitor sweep starting", "schedule", schedule)
		res := m.Sweep(ctx)
		logger.Info(ctx, "monitor sweep finished",
			"checked", res.Checked, "raised", len(res.Raised), "suppressed", res.Suppressed)
	}); err != nil {
		return nil, err
	}
	return &Scheduler{monitor: m, cron: c, logger: logger}, nil
}

// Start begins the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the ticker and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
