package alert

import (
	"strings"
	"time"
)

type (
	// ExecutionResult is the parsed outcome of one remediation run. It is
	// produced once per run and never mutated afterward.
	ExecutionResult struct {
		// Success reports whether the agent invocation itself succeeded.
		Success bool `json:"success"`
		// ExecutionLog is the agent's free-text remediation transcript.
		ExecutionLog string `json:"execution_log"`
		// Actions are the steps recovered from the transcript.
		Actions []Action `json:"actions"`
		// Summary aggregates action outcomes.
		Summary ExecutionSummary `json:"summary"`
	}

	// Action is one remediation step recovered from the transcript.
	Action struct {
		Description string       `json:"description"`
		Status      ActionStatus `json:"status"`
		Timestamp   time.Time    `json:"timestamp"`
	}

	// ExecutionSummary aggregates action outcomes for quick display.
	ExecutionSummary struct {
		TotalActions int `json:"total_actions"`
		Successful   int `json:"successful"`
		Failed       int `json:"failed"`
		Skipped      int `json:"skipped"`
	}

	// ActionStatus classifies one action's outcome.
	ActionStatus string
)

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
	ActionUnknown ActionStatus = "unknown"
)

// ParseExecutionLog scans a free-text remediation transcript line by line.
// Lines containing "action:" or "executing:" (case-insensitive) start a new
// action; each following line may classify the current action by keyword or
// icon. An action with no status line stays unknown.
//
// Summary counters follow status lines, not actions, so an agent that
// confirms the same action twice counts it twice.
func ParseExecutionLog(transcript string, at time.Time) ([]Action, ExecutionSummary) {
	var (
		actions []Action
		current *Action
		sum     ExecutionSummary
	)
	for _, line := range strings.Split(transcript, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "action:") || strings.Contains(lower, "executing:"):
			if current != nil {
				actions = append(actions, *current)
			}
			current = &Action{
				Description: strings.TrimSpace(line),
				Status:      ActionUnknown,
				Timestamp:   at,
			}
		case current == nil:
			// Preamble before the first action marker.
		case strings.Contains(lower, "success") || strings.Contains(line, "✓") || strings.Contains(line, "✅"):
			current.Status = ActionSuccess
			sum.Successful++
		case strings.Contains(lower, "fail") || strings.Contains(lower, "error") || strings.Contains(line, "✗") || strings.Contains(line, "❌"):
			current.Status = ActionFailed
			sum.Failed++
		case strings.Contains(lower, "skip"):
			current.Status = ActionSkipped
			sum.Skipped++
		}
	}
	if current != nil {
		actions = append(actions, *current)
	}
	sum.TotalActions = len(actions)
	return actions, sum
}
