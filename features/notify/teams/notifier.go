// Package teams delivers alert notifications to a Microsoft Teams channel
// via an incoming webhook. Messages are Adaptive Cards; approval decisions
// ride on Action.OpenUrl links pointing at the agent's approval endpoint,
// since Teams webhooks cannot post back interaction callbacks.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

const channelName = "teams"

// Options configures the Teams notifier.
type Options struct {
	WebhookURL string
	// ApprovalURL is the externally reachable base URL of the approval
	// endpoint. Decision links are omitted when empty.
	ApprovalURL string
	Client      *http.Client
}

// Notifier posts alert and execution cards to a Teams webhook.
type Notifier struct {
	webhookURL  string
	approvalURL string
	client      *http.Client
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
	return &Notifier{
		webhookURL:  opts.WebhookURL,
		approvalURL: opts.ApprovalURL,
		client:      client,
	}, nil
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string {
	return channelName
}

// Notify renders the event as an Adaptive Card and posts it.
func (n *Notifier) Notify(ctx context.Context, ev alert.Event) error {
	var msg card
	switch ev.Kind {
	case alert.EventAlertCreated:
		msg = n.alertCard(ev)
	case alert.EventExecutionCompleted:
		msg = executionCard(ev)
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	return n.post(ctx, msg)
}

func (n *Notifier) alertCard(ev alert.Event) card {
	a := ev.Alert
	body := []element{
		{
			Type:   "TextBlock",
			Text:   fmt.Sprintf("⚠️ %s Alert: %s", a.ServiceType, a.ServiceName),
			Size:   "Large",
			Weight: "Bolder",
			Color:  "Attention",
			Wrap:   true,
		},
		{Type: "FactSet", Facts: []fact{
			{Title: "Service/Resource:", Value: a.ServiceName},
			{Title: "Type:", Value: a.ServiceType},
			{Title: "Status:", Value: ev.Status},
			{Title: "Timestamp:", Value: a.Timestamp.Format(time.RFC3339)},
			{Title: "Alert ID:", Value: a.AlertID},
		}},
		{Type: "TextBlock", Text: "---", Separator: true},
		{Type: "TextBlock", Text: "🤖 AI Agent Analysis Summary", Size: "Medium", Weight: "Bolder", Wrap: true},
		{Type: "TextBlock", Text: alert.SummarizeAnalysis(ev.Analysis), Wrap: true, Separator: true},
	}

	var actions []cardAction
	if n.approvalURL != "" {
		actions = append(actions,
			cardAction{
				Type:  "Action.OpenUrl",
				Title: "✅ Approve & Execute",
				URL:   n.decisionURL(a.AlertID, "approve"),
				Style: "positive",
			},
			cardAction{
				Type:  "Action.OpenUrl",
				Title: "❌ Dismiss",
				URL:   n.decisionURL(a.AlertID, "dismiss"),
				Style: "destructive",
			},
		)
	}
	if ev.ReportURL != "" {
		actions = append(actions, cardAction{
			Type:  "Action.OpenUrl",
			Title: "📄 View Detail Analysis",
			URL:   ev.ReportURL,
		})
	}
	if len(actions) > 0 {
		body = append(body, element{Type: "TextBlock", Text: "---", Separator: true})
	}
	return newCard(body, actions)
}

func (n *Notifier) decisionURL(alertID, action string) string {
	q := url.Values{"alert_id": {alertID}, "action": {action}}
	return n.approvalURL + "?" + q.Encode()
}

func executionCard(ev alert.Event) card {
	a := ev.Alert
	var res alert.ExecutionResult
	if ev.Result != nil {
		res = *ev.Result
	}

	icon, color, verb, status := "❌", "Attention", "Failed", "FAILED"
	if res.Success {
		icon, color, verb, status = "✅", "Good", "Completed", "SUCCESS"
	}
	completed := time.Now().UTC()
	if a.ExecutedAt != nil {
		completed = a.ExecutedAt.UTC()
	}

	body := []element{
		{
			Type:   "TextBlock",
			Text:   fmt.Sprintf("%s Execution %s: %s", icon, verb, a.ServiceName),
			Size:   "Large",
			Weight: "Bolder",
			Color:  color,
			Wrap:   true,
		},
		{Type: "FactSet", Facts: []fact{
			{Title: "Alert ID:", Value: a.AlertID},
			{Title: "Service:", Value: a.ServiceName},
			{Title: "Status:", Value: status},
			{Title: "Completed:", Value: completed.Format("2006-01-02 15:04:05")},
		}},
		{Type: "TextBlock", Text: "---", Separator: true},
		{
			Type: "TextBlock",
			Text: fmt.Sprintf(
				"**Execution Summary:**\n\n- Total Actions: %d\n- Successful: %d ✅\n- Failed: %d ❌\n- Skipped: %d ⏭️",
				res.Summary.TotalActions, res.Summary.Successful, res.Summary.Failed, res.Summary.Skipped),
			Wrap: true,
		},
	}
	if ev.ReportURL != "" {
		body = append(body, element{Type: "ActionSet", Actions: []cardAction{{
			Type:  "Action.OpenUrl",
			Title: "📄 View Execution Log",
			URL:   ev.ReportURL,
		}}})
	}
	return newCard(body, nil)
}

func (n *Notifier) post(ctx context.Context, msg card) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
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
		return fmt.Errorf("teams webhook status %d", resp.StatusCode)
	}
	return nil
}

// Adaptive Card envelope as Teams webhooks expect it.
type (
	card struct {
		Type        string           `json:"type"`
		Attachments []cardAttachment `json:"attachments"`
	}

	cardAttachment struct {
		ContentType string      `json:"contentType"`
		ContentURL  *string     `json:"contentUrl"`
		Content     cardContent `json:"content"`
	}

	cardContent struct {
		Schema  string       `json:"$schema"`
		Type    string       `json:"type"`
		Version string       `json:"version"`
		Body    []element    `json:"body"`
		Actions []cardAction `json:"actions,omitempty"`
		MSTeams msteams      `json:"msteams"`
	}

	msteams struct {
		Width string `json:"width"`
	}

	element struct {
		Type      string       `json:"type"`
		Text      string       `json:"text,omitempty"`
		Size      string       `json:"size,omitempty"`
		Weight    string       `json:"weight,omitempty"`
		Color     string       `json:"color,omitempty"`
		Wrap      bool         `json:"wrap,omitempty"`
		Separator bool         `json:"separator,omitempty"`
		Facts     []fact       `json:"facts,omitempty"`
		Actions   []cardAction `json:"actions,omitempty"`
	}

	fact struct {
		Title string `json:"title"`
		Value string `json:"value"`
	}

	cardAction struct {
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
		Style string `json:"style,omitempty"`
	}
)

func newCard(body []element, actions []cardAction) card {
	return card{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: cardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
				Actions: actions,
				MSTeams: msteams{Width: "Full"},
			},
		}},
	}
}
