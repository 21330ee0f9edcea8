// Package redis provides the Redis-backed conversation store. Availability
// is probed once at construction: an unreachable Redis at startup disables
// context handling for the process lifetime instead of charging every turn
// the connection timeout.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientsredis "github.com/Lynrbe/aws-cloudops-agent/features/session/redis/clients/redis"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/session"
)

// Store implements session.Store by delegating to the Redis client.
type Store struct {
	client    clientsredis.Client
	available bool
}

// NewStore builds a Store using the provided client and memoizes its
// availability.
func NewStore(ctx context.Context, client clientsredis.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{
		client:    client,
		available: client.Ping(ctx) == nil,
	}, nil
}

// Context renders the stored conversation window, oldest first. An empty
// window is not an error; a failed load reports the store unreachable.
func (s *Store) Context(ctx context.Context, sessionID, actorID string) (string, error) {
	exchanges, err := s.client.RecentExchanges(ctx, sessionID, actorID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return session.Render(exchanges), nil
}

// Save appends one completed exchange.
func (s *Store) Save(ctx context.Context, sessionID, userMsg, agentResp, actorID string) error {
	return s.client.AppendExchange(ctx, sessionID, actorID, session.Exchange{
		UserMessage:   userMsg,
		AgentResponse: agentResp,
		CreatedAt:     time.Now().UTC(),
	})
}

// Available reports the availability memoized at construction.
func (s *Store) Available() bool { return s.available }
