// Package slack delivers alert notifications to a Slack channel via an
// incoming webhook and handles the interactive approval callbacks Slack sends
// back. Messages use Block Kit; approval buttons carry the alert id so the
// interaction endpoint can resolve the alert without extra lookups.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

const (
	channelName = "slack"

	// fullAnalysisThreshold is the analysis length above which the message
	// carries only the executive summary plus a view button.
	fullAnalysisThreshold = 2000
	// summaryBound caps the inlined summary so the message stays under
	// Slack's block size limits.
	summaryBound = 1800

	colorAlert   = "#FF0000"
	colorSuccess = "#00FF00"
)

// Options configures the Slack notifier.
type Options struct {
	WebhookURL string
	Client     *http.Client
}

// Notifier posts alert and execution notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New returns a Notifier that posts to the given webhook.
func New(opts Options) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, errors.New("webhook url is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{webhookURL: opts.WebhookURL, client: client}, nil
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string {
	return channelName
}

// Notify renders the event as a Block Kit message and posts it.
func (n *Notifier) Notify(ctx context.Context, ev alert.Event) error {
	var msg message
	switch ev.Kind {
	case alert.EventAlertCreated:
		msg = alertMessage(ev)
	case alert.EventExecutionCompleted:
		msg = executionMessage(ev)
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	return n.post(ctx, n.webhookURL, msg)
}

func alertMessage(ev alert.Event) message {
	a := ev.Alert
	blocks := []block{
		headerBlock(fmt.Sprintf("ALERT: %s - %s", a.ServiceType, a.ServiceName)),
		{
			Type: "section",
			Fields: []textObject{
				mrkdwn("*Service/Resource:*\n" + a.ServiceName),
				mrkdwn("*Type:*\n" + a.ServiceType),
				mrkdwn("*Status:*\n" + ev.Status),
				mrkdwn("*Timestamp:*\n" + a.Timestamp.Format(time.RFC3339)),
				mrkdwn(fmt.Sprintf("*Alert ID:*\n`%s`", a.AlertID)),
			},
		},
	}

	if ev.Analysis != "" {
		blocks = append(blocks, block{Type: "divider"})
		if length := utf8.RuneCountInString(ev.Analysis); length > fullAnalysisThreshold {
			summary := truncateRunes(alert.ExecutiveSummary(ev.Analysis), summaryBound)
			blocks = append(blocks,
				sectionBlock("*🤖 AI Agent Analysis (Summary):*\n"+summary),
				contextBlock(fmt.Sprintf("📄 Full analysis: %d characters | Complete report in S3", length)),
			)
		} else {
			blocks = append(blocks, sectionBlock("*🤖 AI Agent Analysis:*\n"+ev.Analysis))
		}

		blocks = append(blocks,
			block{Type: "divider"},
			sectionBlock("*Review the agent's analysis and approve to execute remediation actions:*"),
			block{Type: "actions", Elements: decisionButtons(a.AlertID, ev.Analysis)},
		)
	}

	blocks = append(blocks, contextBlock("🔍 Monitored by AWS CloudOps Agent"))

	return message{
		Blocks: blocks,
		Attachments: []attachment{{
			Color:    colorAlert,
			Fallback: fmt.Sprintf("%s %s - %s", a.ServiceType, a.ServiceName, ev.Status),
		}},
	}
}

func decisionButtons(alertID, analysis string) []any {
	buttons := []any{
		button{
			Type:     "button",
			Text:     textObject{Type: "plain_text", Text: "✅ Approve & Execute", Emoji: true},
			Style:    "primary",
			Value:    alertID,
			ActionID: "approve_remediation_" + alertID,
		},
		button{
			Type:     "button",
			Text:     textObject{Type: "plain_text", Text: "❌ Dismiss", Emoji: true},
			Style:    "danger",
			Value:    alertID,
			ActionID: "dismiss_alert_" + alertID,
		},
	}
	if utf8.RuneCountInString(analysis) > fullAnalysisThreshold {
		buttons = append(buttons, button{
			Type:     "button",
			Text:     textObject{Type: "plain_text", Text: "📄 View Full Analysis", Emoji: true},
			Value:    alertID,
			ActionID: "view_full_analysis_" + alertID,
		})
	}
	return buttons
}

func executionMessage(ev alert.Event) message {
	a := ev.Alert
	var res alert.ExecutionResult
	if ev.Result != nil {
		res = *ev.Result
	}

	icon, color, status, outcome := ":x:", colorAlert, "FAILED", "failed"
	if res.Success {
		icon, color, status, outcome = ":white_check_mark:", colorSuccess, "SUCCESS", "completed"
	}
	verb := "Failed"
	if res.Success {
		verb = "Completed"
	}
	completed := time.Now().UTC()
	if a.ExecutedAt != nil {
		completed = a.ExecutedAt.UTC()
	}

	blocks := []block{
		headerBlock(fmt.Sprintf("%s Execution %s: %s", icon, verb, a.ServiceName)),
		{
			Type: "section",
			Fields: []textObject{
				mrkdwn(fmt.Sprintf("*Alert ID:*\n`%s`", a.AlertID)),
				mrkdwn("*Service:*\n" + a.ServiceName),
				mrkdwn("*Status:*\n" + status),
				mrkdwn("*Completed:*\n" + completed.Format("2006-01-02 15:04:05")),
			},
		},
		sectionBlock(fmt.Sprintf(
			"*Execution Summary:*\n• Total: %d\n• Success: %d ✅\n• Failed: %d ❌\n• Skipped: %d ⏭️",
			res.Summary.TotalActions, res.Summary.Successful, res.Summary.Failed, res.Summary.Skipped)),
	}

	if ev.ReportURL != "" {
		blocks = append(blocks, block{Type: "actions", Elements: []any{
			button{
				Type: "button",
				Text: textObject{Type: "plain_text", Text: "📄 View Execution Log"},
				URL:  ev.ReportURL,
			},
		}})
	}

	return message{
		Blocks: blocks,
		Attachments: []attachment{{
			Color:    color,
			Fallback: fmt.Sprintf("Execution %s %s", a.AlertID, outcome),
		}},
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	return nil
}

type (
	message struct {
		ReplaceOriginal bool         `json:"replace_original,omitempty"`
		Blocks          []block      `json:"blocks"`
		Attachments     []attachment `json:"attachments,omitempty"`
	}

	attachment struct {
		Color    string `json:"color"`
		Fallback string `json:"fallback"`
	}

	block struct {
		Type     string       `json:"type"`
		Text     *textObject  `json:"text,omitempty"`
		Fields   []textObject `json:"fields,omitempty"`
		Elements []any        `json:"elements,omitempty"`
	}

	textObject struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Emoji bool   `json:"emoji,omitempty"`
	}

	button struct {
		Type     string     `json:"type"`
		Text     textObject `json:"text"`
		Style    string     `json:"style,omitempty"`
		Value    string     `json:"value,omitempty"`
		ActionID string     `json:"action_id,omitempty"`
		URL      string     `json:"url,omitempty"`
	}
)

func headerBlock(text string) block {
	return block{Type: "header", Text: &textObject{Type: "plain_text", Text: text, Emoji: true}}
}

func sectionBlock(text string) block {
	t := mrkdwn(text)
	return block{Type: "section", Text: &t}
}

func contextBlock(text string) block {
	return block{Type: "context", Elements: []any{mrkdwn(text)}}
}

func mrkdwn(text string) textObject {
	return textObject{Type: "mrkdwn", Text: text}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
