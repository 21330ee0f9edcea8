package inmem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, alert.ErrNotFound)

	a := alert.Alert{AlertID: "a-1", ServiceName: "svc", ApprovalStatus: alert.ApprovalPending}
	require.NoError(t, s.Put(ctx, a))

	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestTransitionApprovalSingleWinnerUnderRace(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, alert.Alert{AlertID: "race-1", ApprovalStatus: alert.ApprovalPending}))

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.TransitionApproval(ctx, "race-1", alert.ApprovalApproved, fmt.Sprintf("actor-%d", i))
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, alert.ErrNotPending)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.Get(ctx, "race-1")
	require.NoError(t, err)
	assert.Equal(t, alert.ApprovalApproved, got.ApprovalStatus)
	require.NotNil(t, got.ApprovedAt)
}

func TestTransitionApprovalMissingAlert(t *testing.T) {
	s := New()

	_, err := s.TransitionApproval(context.Background(), "missing", alert.ApprovalApproved, "actor")
	require.ErrorIs(t, err, alert.ErrNotFound)
}

func TestSetExecution(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, alert.Alert{AlertID: "a-1", ApprovalStatus: alert.ApprovalApproved}))

	now := time.Now().UTC()
	require.NoError(t, s.SetExecution(ctx, "a-1", alert.ExecutionInProgress, nil, now))
	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, alert.ExecutionInProgress, got.ExecutionStatus)
	assert.Nil(t, got.Execution)
	assert.Nil(t, got.ExecutedAt)

	res := &alert.ExecutionResult{Success: true, ExecutionLog: "done"}
	require.NoError(t, s.SetExecution(ctx, "a-1", alert.ExecutionCompleted, res, now))
	got, err = s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, alert.ExecutionCompleted, got.ExecutionStatus)
	assert.Equal(t, res, got.Execution)
	require.NotNil(t, got.ExecutedAt)
	assert.True(t, got.ExecutedAt.Equal(now))

	err = s.SetExecution(ctx, "missing", alert.ExecutionInProgress, nil, now)
	require.ErrorIs(t, err, alert.ErrNotFound)
}

func TestOpenAlertExists(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, alert.Alert{
		AlertID:        "a-1",
		ServiceName:    "payments-api",
		IssueType:      "dns_failure",
		ApprovalStatus: alert.ApprovalPending,
	}))

	open, err := s.OpenAlertExists(ctx, "payments-api", "dns_failure")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = s.OpenAlertExists(ctx, "payments-api", "latency")
	require.NoError(t, err)
	assert.False(t, open)

	_, err = s.TransitionApproval(ctx, "a-1", alert.ApprovalDismissed, "actor")
	require.NoError(t, err)
	open, err = s.OpenAlertExists(ctx, "payments-api", "dns_failure")
	require.NoError(t, err)
	assert.False(t, open)
}
