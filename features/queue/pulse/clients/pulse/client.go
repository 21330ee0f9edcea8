// Package pulse hosts the Pulse streams client used by the remediation job
// queue. Callers build a Redis connection, pass it to New, and receive a
// typed interface exposing only the operations the queue needs: publishing
// jobs and consuming them through a consumer group.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

const defaultOpTimeout = 5 * time.Second

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the connection backing the streams. Required; callers own
		// its lifecycle.
		Redis *redis.Client
		// StreamMaxLen bounds the entries kept per stream. Zero uses Pulse
		// defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Defaults to 5s.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams on the shared Redis connection.
	Client interface {
		// Stream returns a handle to the named stream, creating it if
		// needed.
		Stream(name string) (Stream, error)
	}

	// Stream publishes jobs and creates consumer-group sinks.
	Stream interface {
		// Add publishes a job payload under the given event name and
		// returns the Redis-assigned event id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group on the stream. Events read
		// through a sink stay pending until acked, so a crashed worker's
		// jobs are redelivered.
		NewSink(ctx context.Context, name string) (Sink, error)
	}

	// Sink is a consumer group reading from a stream.
	Sink interface {
		// Subscribe returns the channel delivering events as they arrive.
		Subscribe() <-chan *streaming.Event
		// Ack marks an event processed, removing it from the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink and releases its resources.
		Close(context.Context)
	}
)

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New constructs a Pulse client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: timeout,
	}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// handle wraps a Pulse stream and applies the operation timeout to Add.
type handle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name)
	if err != nil {
		return nil, err
	}
	return sinkAdapter{Sink: sink}, nil
}

// sinkAdapter narrows streaming.Sink to the Sink interface.
type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
