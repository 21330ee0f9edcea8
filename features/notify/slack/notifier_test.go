package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

// capture records the last webhook request body so tests can assert on the
// rendered message.
type capture struct {
	body   []byte
	status int
}

func newCaptureServer(c *capture) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.body = body
		status := c.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
}

func decodeMessage(t *testing.T, body []byte) message {
	t.Helper()
	var msg message
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

// element returns the i-th element of an actions or context block as the
// generic map it decodes to.
func element(t *testing.T, b block, i int) map[string]any {
	t.Helper()
	require.Greater(t, len(b.Elements), i)
	if m, ok := b.Elements[i].(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(b.Elements[i])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func testAlert() alert.Alert {
	created := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	return alert.Alert{
		AlertID:         "alrt-123",
		ServiceName:     "payments-api",
		ServiceType:     "CloudFront",
		IssueType:       "distribution_error",
		ErrorDetails:    "origin returned 502",
		Severity:        "high",
		Timestamp:       created,
		ApprovalStatus:  alert.ApprovalPending,
		ExecutionStatus: alert.ExecutionNotStarted,
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "webhook url is required")
}

func TestNotifyAlertCreated(t *testing.T) {
	var got capture
	srv := newCaptureServer(&got)
	defer srv.Close()

	n, err := New(Options{WebhookURL: srv.URL})
	require.NoError(t, err)

	a := testAlert()
	err = n.Notify(context.Background(), alert.Event{
		Kind:     alert.EventAlertCreated,
		Alert:    a,
		Analysis: "## Executive Summary\nCache hit ratio dropped after the deploy.",
		Status:   "ISSUE DETECTED",
	})
	require.NoError(t, err)

	msg := decodeMessage(t, got.body)
	require.Len(t, msg.Blocks, 8)

	require.NotNil(t, msg.Blocks[0].Text)
	assert.Equal(t, "ALERT: CloudFront - payments-api", msg.Blocks[0].Text.Text)

	fields := msg.Blocks[1].Fields
	require.Len(t, fields, 5)
	assert.Equal(t, "*Service/Resource:*\npayments-api", fields[0].Text)
	assert.Equal(t, "*Status:*\nISSUE DETECTED", fields[2].Text)
	assert.Equal(t, "*Alert ID:*\n`alrt-123`", fields[4].Text)

	assert.Equal(t, "divider", msg.Blocks[2].Type)
	require.NotNil(t, msg.Blocks[3].Text)
	assert.True(t, strings.HasPrefix(msg.Blocks[3].Text.Text, "*🤖 AI Agent Analysis:*\n## Executive Summary"))

	actions := msg.Blocks[6]
	require.Equal(t, "actions", actions.Type)
	require.Len(t, actions.Elements, 2, "short analysis must not get a view button")

	approve := element(t, actions, 0)
	assert.Equal(t, "approve_remediation_alrt-123", approve["action_id"])
	assert.Equal(t, "alrt-123", approve["value"])
	assert.Equal(t, "primary", approve["style"])

	dismiss := element(t, actions, 1)
	assert.Equal(t, "dismiss_alert_alrt-123", dismiss["action_id"])
	assert.Equal(t, "danger", dismiss["style"])

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "#FF0000", msg.Attachments[0].Color)
	assert.Equal(t, "CloudFront payments-api - ISSUE DETECTED", msg.Attachments[0].Fallback)
}

func TestNotifyAlertCreatedLongAnalysis(t *testing.T) {
	var got capture
	srv := newCaptureServer(&got)
	defer srv.Close()

	n, err := New(Options{WebhookURL: srv.URL})
	require.NoError(t, err)

	analysis := strings.Repeat("All good. ", 250)
	err = n.Notify(context.Background(), alert.Event{
		Kind:     alert.EventAlertCreated,
		Alert:    testAlert(),
		Analysis: analysis,
		Status:   "DOWN",
	})
	require.NoError(t, err)

	msg := decodeMessage(t, got.body)
	require.Len(t, msg.Blocks, 9)

	require.NotNil(t, msg.Blocks[3].Text)
	assert.True(t, strings.HasPrefix(msg.Blocks[3].Text.Text, "*🤖 AI Agent Analysis (Summary):*\n"))

	note := element(t, msg.Blocks[4], 0)
	assert.Equal(t, "📄 Full analysis: 2500 characters | Complete report in S3", note["text"])

	actions := msg.Blocks[7]
	require.Len(t, actions.Elements, 3)
	view := element(t, actions, 2)
	assert.Equal(t, "view_full_analysis_alrt-123", view["action_id"])
	assert.Equal(t, "alrt-123", view["value"])
}

func TestNotifyExecutionCompleted(t *testing.T) {
	var got capture
	srv := newCaptureServer(&got)
	defer srv.Close()

	n, err := New(Options{WebhookURL: srv.URL})
	require.NoError(t, err)

	a := testAlert()
	executed := time.Date(2026, 8, 25, 10, 15, 0, 0, time.UTC)
	a.ExecutedAt = &executed
	err = n.Notify(context.Background(), alert.Event{
		Kind:  alert.EventExecutionCompleted,
		Alert: a,
		Result: &alert.ExecutionResult{
			Success: true,
			Summary: alert.ExecutionSummary{TotalActions: 4, Successful: 3, Failed: 0, Skipped: 1},
		},
		ReportURL: "https://bucket.s3.amazonaws.com/executions/log.md",
	})
	require.NoError(t, err)

	msg := decodeMessage(t, got.body)
	require.Len(t, msg.Blocks, 4)

	require.NotNil(t, msg.Blocks[0].Text)
	assert.Equal(t, ":white_check_mark: Execution Completed: payments-api", msg.Blocks[0].Text.Text)

	fields := msg.Blocks[1].Fields
	require.Len(t, fields, 4)
	assert.Equal(t, "*Status:*\nSUCCESS", fields[2].Text)
	assert.Equal(t, "*Completed:*\n2026-08-25 10:15:00", fields[3].Text)

	require.NotNil(t, msg.Blocks[2].Text)
	assert.Equal(t, "*Execution Summary:*\n• Total: 4\n• Success: 3 ✅\n• Failed: 0 ❌\n• Skipped: 1 ⏭️", msg.Blocks[2].Text.Text)

	logButton := element(t, msg.Blocks[3], 0)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/executions/log.md", logButton["url"])
	assert.Nil(t, logButton["action_id"], "log link is a plain url button")

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "#00FF00", msg.Attachments[0].Color)
	assert.Equal(t, "Execution alrt-123 completed", msg.Attachments[0].Fallback)
}

func TestNotifyExecutionFailed(t *testing.T) {
	var got capture
	srv := newCaptureServer(&got)
	defer srv.Close()

	n, err := New(Options{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = n.Notify(context.Background(), alert.Event{
		Kind:   alert.EventExecutionCompleted,
		Alert:  testAlert(),
		Result: &alert.ExecutionResult{Success: false},
	})
	require.NoError(t, err)

	msg := decodeMessage(t, got.body)
	require.NotNil(t, msg.Blocks[0].Text)
	assert.Equal(t, ":x: Execution Failed: payments-api", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*Status:*\nFAILED", msg.Blocks[1].Fields[2].Text)
	assert.Equal(t, "#FF0000", msg.Attachments[0].Color)
	assert.Equal(t, "Execution alrt-123 failed", msg.Attachments[0].Fallback)
}

func TestNotifyRejectsUnknownKind(t *testing.T) {
	n, err := New(Options{WebhookURL: "https://hooks.slack.test/x"})
	require.NoError(t, err)

	err = n.Notify(context.Background(), alert.Event{Kind: alert.EventKind("bogus")})
	require.ErrorContains(t, err, `unsupported event kind "bogus"`)
}

func TestNotifyReportsWebhookStatus(t *testing.T) {
	got := capture{status: http.StatusInternalServerError}
	srv := newCaptureServer(&got)
	defer srv.Close()

	n, err := New(Options{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = n.Notify(context.Background(), alert.Event{Kind: alert.EventAlertCreated, Alert: testAlert()})
	require.EqualError(t, err, fmt.Sprintf("slack webhook status %d", http.StatusInternalServerError))
}

func TestName(t *testing.T) {
	n, err := New(Options{WebhookURL: "https://hooks.slack.test/x"})
	require.NoError(t, err)
	assert.Equal(t, "slack", n.Name())
}
