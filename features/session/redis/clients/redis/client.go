// Package redis hosts the Redis client used by the conversation store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/health"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/session"
)

const (
	defaultWindow    = 10
	defaultIdleTTL   = 24 * time.Hour
	defaultOpTimeout = 5 * time.Second

	keyPrefix         = "conv:"
	sessionClientName = "session-redis"
)

// Client exposes Redis-backed operations for conversation exchanges.
type Client interface {
	health.Pinger

	// AppendExchange stores one completed exchange at the tail of the
	// conversation, trims the window and refreshes the idle TTL.
	AppendExchange(ctx context.Context, sessionID, actorID string, e session.Exchange) error
	// RecentExchanges returns the stored window, oldest first.
	RecentExchanges(ctx context.Context, sessionID, actorID string) ([]session.Exchange, error)
}

// Options configures the Redis conversation client.
type Options struct {
	// Client is the Redis connection. Required; callers own its lifecycle.
	Client *goredis.Client
	// Window bounds the exchanges kept per conversation. Defaults to 10.
	Window int
	// IdleTTL evicts conversations untouched for this long. Defaults to 24h.
	IdleTTL time.Duration
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

type client struct {
	rdb     *goredis.Client
	window  int
	idleTTL time.Duration
	timeout time.Duration
}

// New returns a Client backed by Redis.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	return &client{
		rdb:     opts.Client,
		window:  opts.Window,
		idleTTL: opts.IdleTTL,
		timeout: opts.Timeout,
	}, nil
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *client) AppendExchange(ctx context.Context, sessionID, actorID string, e session.Exchange) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := conversationKey(sessionID, actorID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, body)
	pipe.LTrim(ctx, key, int64(-c.window), -1)
	pipe.Expire(ctx, key, c.idleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

func (c *client) RecentExchanges(ctx context.Context, sessionID, actorID string) ([]session.Exchange, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.rdb.LRange(ctx, conversationKey(sessionID, actorID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load exchanges: %w", err)
	}
	exchanges := make([]session.Exchange, 0, len(rows))
	for _, row := range rows {
		var e session.Exchange
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			return nil, fmt.Errorf("decode exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func conversationKey(sessionID, actorID string) string {
	return keyPrefix + sessionID + "/" + actorID
}
