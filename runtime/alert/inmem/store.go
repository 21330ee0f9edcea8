// Package inmem provides a map-backed alert store for tests and local
// development.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

// Store keeps alert records in memory. The approval transition is applied
// under the store lock so duplicate deliveries observe single-use semantics.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]alert.Alert
}

var _ alert.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{alerts: make(map[string]alert.Alert)}
}

// Put writes the full record, replacing any previous version.
func (s *Store) Put(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.AlertID] = a
	return nil
}

// Get loads a record.
func (s *Store) Get(_ context.Context, alertID string) (alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return alert.Alert{}, alert.ErrNotFound
	}
	return a, nil
}

// TransitionApproval applies the single-use decision when the alert is still
// pending. Returns the current record with ErrNotPending otherwise.
func (s *Store) TransitionApproval(_ context.Context, alertID string, to alert.ApprovalStatus, actor string) (alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return alert.Alert{}, alert.ErrNotFound
	}
	if a.ApprovalStatus != alert.ApprovalPending {
		return a, alert.ErrNotPending
	}
	now := time.Now().UTC()
	a.ApprovalStatus = to
	a.ApprovedBy = actor
	a.ApprovedAt = &now
	s.alerts[alertID] = a
	return a, nil
}

// SetExecution updates the remediation run state.
func (s *Store) SetExecution(_ context.Context, alertID string, status alert.ExecutionStatus, result *alert.ExecutionResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return alert.ErrNotFound
	}
	a.ExecutionStatus = status
	if result != nil {
		a.Execution = result
		a.ExecutedAt = &at
	}
	s.alerts[alertID] = a
	return nil
}

// OpenAlertExists reports whether a pending alert exists for the service and
// issue type.
func (s *Store) OpenAlertExists(_ context.Context, serviceName, issueType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ServiceName == serviceName && a.IssueType == issueType && a.ApprovalStatus == alert.ApprovalPending {
			return true, nil
		}
	}
	return false, nil
}
