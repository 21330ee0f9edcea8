// Package dynamo provides the DynamoDB-backed alert store.
package dynamo

import (
	"context"
	"errors"
	"time"

	clientsdynamo "github.com/Lynrbe/aws-cloudops-agent/features/alert/dynamo/clients/dynamo"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

// Store implements alert.Store by delegating to the DynamoDB client.
type Store struct {
	client clientsdynamo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsdynamo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Put writes the full alert record.
func (s *Store) Put(ctx context.Context, a alert.Alert) error {
	return s.client.PutAlert(ctx, a)
}

// Get loads an alert record.
func (s *Store) Get(ctx context.Context, alertID string) (alert.Alert, error) {
	return s.client.LoadAlert(ctx, alertID)
}

// TransitionApproval applies a single-use approval decision.
func (s *Store) TransitionApproval(ctx context.Context, alertID string, to alert.ApprovalStatus, actor string) (alert.Alert, error) {
	return s.client.TransitionApproval(ctx, alertID, to, actor)
}

// SetExecution records remediation run state.
func (s *Store) SetExecution(ctx context.Context, alertID string, status alert.ExecutionStatus, result *alert.ExecutionResult, at time.Time) error {
	return s.client.SetExecution(ctx, alertID, status, result, at)
}

// OpenAlertExists reports whether a pending alert already covers the service
// and issue type.
func (s *Store) OpenAlertExists(ctx context.Context, serviceName, issueType string) (bool, error) {
	return s.client.OpenAlertExists(ctx, serviceName, issueType)
}
