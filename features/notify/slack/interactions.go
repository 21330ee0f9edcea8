package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

// ReplayWindow bounds how old an interaction request may be before it is
// rejected as a replay.
const ReplayWindow = 5 * time.Minute

// analysisChunkBound caps each analysis block so the ephemeral response stays
// under Slack's 3000 character block limit.
const analysisChunkBound = 2900

// Signature verification errors.
var (
	ErrMissingSignature  = errors.New("missing slack signature")
	ErrStaleTimestamp    = errors.New("slack timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("slack signature mismatch")
)

// VerifySignature checks the v0 request signature Slack attaches to
// interaction callbacks. The caller passes the raw request body and the
// X-Slack-Request-Timestamp and X-Slack-Signature header values.
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid slack timestamp: %w", err)
	}
	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(ReplayWindow/time.Second) {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Action is the decision carried by an interaction callback.
type Action string

const (
	ActionApprove      Action = "approve"
	ActionDismiss      Action = "dismiss"
	ActionViewAnalysis Action = "view_analysis"
	ActionUnknown      Action = "unknown"
)

// Interaction is a parsed block action callback.
type Interaction struct {
	Action      Action
	ActionID    string
	AlertID     string
	UserID      string
	UserName    string
	ResponseURL string
}

// ParseInteraction decodes the form-encoded interaction body Slack posts.
// The payload form field holds the JSON callback; the first action carries
// the alert id as its value.
func ParseInteraction(body []byte) (Interaction, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Interaction{}, fmt.Errorf("parse interaction body: %w", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return Interaction{}, errors.New("payload field is required")
	}

	var payload struct {
		Actions []struct {
			ActionID string `json:"action_id"`
			Value    string `json:"value"`
		} `json:"actions"`
		User struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Interaction{}, fmt.Errorf("decode interaction payload: %w", err)
	}
	if len(payload.Actions) == 0 {
		return Interaction{}, errors.New("interaction payload has no actions")
	}

	act := payload.Actions[0]
	in := Interaction{
		Action:      classifyAction(act.ActionID),
		ActionID:    act.ActionID,
		AlertID:     act.Value,
		UserID:      payload.User.ID,
		UserName:    payload.User.Name,
		ResponseURL: payload.ResponseURL,
	}
	if in.UserID == "" {
		in.UserID = "Unknown"
	}
	if in.UserName == "" {
		in.UserName = "Unknown User"
	}
	return in, nil
}

// classifyAction matches by substring so the alert id suffix on generated
// action ids does not affect dispatch.
func classifyAction(actionID string) Action {
	switch {
	case strings.Contains(actionID, "approve_remediation"):
		return ActionApprove
	case strings.Contains(actionID, "dismiss_alert"):
		return ActionDismiss
	case strings.Contains(actionID, "view_full_analysis"):
		return ActionViewAnalysis
	default:
		return ActionUnknown
	}
}

// Response is the inline reply returned to Slack for an interaction.
type Response struct {
	ResponseType    string  `json:"response_type,omitempty"`
	ReplaceOriginal bool    `json:"replace_original"`
	Text            string  `json:"text,omitempty"`
	Blocks          []block `json:"blocks,omitempty"`
}

// ApprovedResponse is the ephemeral confirmation shown to the approver.
func ApprovedResponse() Response {
	return Response{ResponseType: "ephemeral", Text: "✅ Remediation approved and executed!"}
}

// DismissedResponse is the ephemeral confirmation shown after a dismissal.
func DismissedResponse() Response {
	return Response{ResponseType: "ephemeral", Text: "❌ Alert dismissed."}
}

// AlreadyResolvedResponse tells the user the alert was decided earlier.
func AlreadyResolvedResponse(status alert.ApprovalStatus) Response {
	return Response{
		ResponseType: "ephemeral",
		Text:         fmt.Sprintf("⚠️ This alert has already been %s.", status),
	}
}

// AnalysisResponse renders the full analysis as an ephemeral message, split
// into blocks small enough for Slack to accept.
func AnalysisResponse(a alert.Alert, analysis string) Response {
	blocks := []block{headerBlock("🤖 Full AI Analysis - " + a.ServiceName)}
	for i, chunk := range chunkAnalysis(analysis, analysisChunkBound) {
		if i > 0 {
			blocks = append(blocks, block{Type: "divider"})
		}
		blocks = append(blocks, sectionBlock(chunk))
	}
	blocks = append(blocks, contextBlock(fmt.Sprintf(
		"📊 Total length: %d characters | Alert ID: `%s`",
		utf8.RuneCountInString(analysis), a.AlertID)))
	return Response{ResponseType: "ephemeral", Blocks: blocks}
}

// chunkAnalysis splits text into pieces of at most bound runes, breaking on
// newlines so sections stay intact. A single line longer than the bound is
// split mid-line.
func chunkAnalysis(text string, bound int) []string {
	var (
		chunks []string
		lines  []string
		size   int
	)
	flush := func() {
		if len(lines) > 0 {
			chunks = append(chunks, strings.Join(lines, "\n"))
			lines = lines[:0]
			size = 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > bound {
			flush()
			runes := []rune(line)
			chunks = append(chunks, string(runes[:bound]))
			line = string(runes[bound:])
		}
		n := utf8.RuneCountInString(line)
		if len(lines) > 0 {
			n++
		}
		if size+n > bound {
			flush()
			n = utf8.RuneCountInString(line)
		}
		lines = append(lines, line)
		size += n
	}
	flush()
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// UpdateMessage replaces the original alert message via its response URL
// after a decision so the buttons disappear and the outcome is visible to
// the channel.
func (n *Notifier) UpdateMessage(ctx context.Context, responseURL string, a alert.Alert, decision alert.ApprovalStatus, user string) error {
	ts := time.Now().UTC().Format("2006-01-02 15:04:05")
	if a.ApprovedAt != nil {
		ts = a.ApprovedAt.UTC().Format("2006-01-02 15:04:05")
	}

	var msg message
	switch decision {
	case alert.ApprovalApproved:
		msg = message{
			ReplaceOriginal: true,
			Blocks: []block{
				headerBlock(fmt.Sprintf("✅ RESOLVED: %s Alert - %s", a.ServiceType, a.ServiceName)),
				{
					Type: "section",
					Fields: []textObject{
						mrkdwn("*Service:*\n" + a.ServiceName),
						mrkdwn("*Status:*\nRESOLVING"),
						mrkdwn("*Approved By:*\n" + user),
						mrkdwn(fmt.Sprintf("*Alert ID:*\n`%s`", a.AlertID)),
					},
				},
				contextBlock("✅ Remediation approved at " + ts),
			},
			Attachments: []attachment{{
				Color:    "#36a64f",
				Fallback: fmt.Sprintf("Alert %s approved", a.AlertID),
			}},
		}
	case alert.ApprovalDismissed:
		msg = message{
			ReplaceOriginal: true,
			Blocks: []block{
				headerBlock(fmt.Sprintf("❌ DISMISSED: %s Alert - %s", a.ServiceType, a.ServiceName)),
				{
					Type: "section",
					Fields: []textObject{
						mrkdwn("*Service:*\n" + a.ServiceName),
						mrkdwn("*Status:*\nDISMISSED"),
						mrkdwn("*Dismissed By:*\n" + user),
						mrkdwn(fmt.Sprintf("*Alert ID:*\n`%s`", a.AlertID)),
					},
				},
				contextBlock(fmt.Sprintf("❌ Alert dismissed at %s - No action taken", ts)),
			},
			Attachments: []attachment{{
				Color:    "#ff0000",
				Fallback: fmt.Sprintf("Alert %s dismissed", a.AlertID),
			}},
		}
	default:
		return fmt.Errorf("no message update for decision %q", decision)
	}
	return n.post(ctx, responseURL, msg)
}
