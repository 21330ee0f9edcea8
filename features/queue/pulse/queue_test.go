package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	clientspulse "github.com/Lynrbe/aws-cloudops-agent/features/queue/pulse/clients/pulse"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

type (
	fakeClient struct {
		stream *fakeStream
	}

	fakeStream struct {
		added []added
		sink  *fakeSink
	}

	added struct {
		event   string
		payload []byte
	}

	fakeSink struct {
		ch    chan *streaming.Event
		acked []*streaming.Event
	}
)

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	return c.stream, nil
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.added = append(s.added, added{event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(context.Context, string) (clientspulse.Sink, error) {
	return s.sink, nil
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.acked = append(s.acked, evt)
	return nil
}

func (s *fakeSink) Close(context.Context) {}

type fakeExecutor struct {
	executed []string
	err      error
}

func (e *fakeExecutor) Execute(_ context.Context, alertID string) (alert.ExecutionReport, error) {
	e.executed = append(e.executed, alertID)
	if e.err != nil {
		return alert.ExecutionReport{}, e.err
	}
	return alert.ExecutionReport{Alert: alert.Alert{AlertID: alertID, ExecutionStatus: alert.ExecutionCompleted}}, nil
}

func newTestQueue(t *testing.T) (*Queue, *fakeStream) {
	t.Helper()
	stream := &fakeStream{sink: &fakeSink{ch: make(chan *streaming.Event, 4)}}
	q, err := NewQueue(Options{Client: &fakeClient{stream: stream}})
	require.NoError(t, err)
	return q, stream
}

func TestNewQueueRequiresClient(t *testing.T) {
	_, err := NewQueue(Options{})
	require.Error(t, err)
}

func TestDispatchPublishesJob(t *testing.T) {
	q, stream := newTestQueue(t)

	job := alert.ExecutionJob{AlertID: "a-1", SessionID: "s-1", ServiceName: "nghuy.link"}
	require.NoError(t, q.Dispatch(context.Background(), job))

	require.Len(t, stream.added, 1)
	assert.Equal(t, eventExecutionRequested, stream.added[0].event)

	var got alert.ExecutionJob
	require.NoError(t, json.Unmarshal(stream.added[0].payload, &got))
	assert.Equal(t, job, got)
}

func TestDispatchRequiresAlertID(t *testing.T) {
	q, _ := newTestQueue(t)
	require.Error(t, q.Dispatch(context.Background(), alert.ExecutionJob{}))
}

func TestWorkExecutesAndAcks(t *testing.T) {
	q, stream := newTestQueue(t)
	exec := &fakeExecutor{}

	payload, err := json.Marshal(alert.ExecutionJob{AlertID: "a-1"})
	require.NoError(t, err)
	stream.sink.ch <- &streaming.Event{ID: "1-0", EventName: eventExecutionRequested, Payload: payload}
	close(stream.sink.ch)

	require.NoError(t, q.Work(context.Background(), "", exec))
	assert.Equal(t, []string{"a-1"}, exec.executed)
	require.Len(t, stream.sink.acked, 1)
}

func TestWorkAcksMalformedJobs(t *testing.T) {
	q, stream := newTestQueue(t)
	exec := &fakeExecutor{}

	stream.sink.ch <- &streaming.Event{ID: "1-0", EventName: eventExecutionRequested, Payload: []byte("{not json")}
	close(stream.sink.ch)

	require.NoError(t, q.Work(context.Background(), "", exec))
	assert.Empty(t, exec.executed)
	assert.Len(t, stream.sink.acked, 1)
}

func TestWorkAcksRejectedJobs(t *testing.T) {
	q, stream := newTestQueue(t)
	exec := &fakeExecutor{err: alert.ErrNotApproved}

	payload, err := json.Marshal(alert.ExecutionJob{AlertID: "a-1"})
	require.NoError(t, err)
	stream.sink.ch <- &streaming.Event{ID: "1-0", EventName: eventExecutionRequested, Payload: payload}
	close(stream.sink.ch)

	require.NoError(t, q.Work(context.Background(), "", exec))
	assert.Equal(t, []string{"a-1"}, exec.executed)
	assert.Len(t, stream.sink.acked, 1)
}

func TestWorkStopsOnContextCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- q.Work(ctx, "", &fakeExecutor{}) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
