// Package sns delivers alert notifications to an SNS topic as plain text,
// which typically fans out to email subscriptions. Messages carry the
// analysis summary inline and link to the full report.
package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

const (
	channelName      = "sns"
	defaultOpTimeout = 5 * time.Second

	// logPreviewBound caps the inlined execution log so topic messages stay
	// small; the full log is linked instead.
	logPreviewBound = 1000
)

// snsAPI is the slice of the SNS client the notifier relies on.
type snsAPI interface {
	Publish(ctx context.Context, in *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// Options configures the SNS notifier.
type Options struct {
	// Client is the SNS client to publish with.
	Client *awssns.Client
	// TopicARN is the topic notifications are published to.
	TopicARN string
	// Timeout bounds each publish call. Defaults to 5s.
	Timeout time.Duration
}

// Notifier publishes alert and execution notifications to an SNS topic.
type Notifier struct {
	api      snsAPI
	topicARN string
	timeout  time.Duration
}

// New returns a Notifier that publishes to the configured topic.
func New(opts Options) (*Notifier, error) {
	if opts.Client == nil {
		return nil, errors.New("sns client is required")
	}
	return newNotifierWithAPI(opts.Client, opts.TopicARN, opts.Timeout)
}

func newNotifierWithAPI(api snsAPI, topicARN string, timeout time.Duration) (*Notifier, error) {
	if topicARN == "" {
		return nil, errors.New("topic arn is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Notifier{api: api, topicARN: topicARN, timeout: timeout}, nil
}

// Name identifies the channel in logs and metrics.
func (n *Notifier) Name() string {
	return channelName
}

// Notify renders the event as a plain text message and publishes it.
func (n *Notifier) Notify(ctx context.Context, ev alert.Event) error {
	var subject, message string
	switch ev.Kind {
	case alert.EventAlertCreated:
		subject, message = alertMessage(ev)
	case alert.EventExecutionCompleted:
		subject, message = executionMessage(ev)
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	_, err := n.api.Publish(ctx, &awssns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("publish to sns: %w", err)
	}
	return nil
}

func alertMessage(ev alert.Event) (subject, message string) {
	a := ev.Alert
	subject = fmt.Sprintf("%s Alert: %s", a.ServiceType, a.ServiceName)
	message = fmt.Sprintf(
		"ALERT: %s issue detected - %s\nTimestamp: %s\n\nAI Agent Analysis Summary:\n%s\n\nFull Analysis: %s\n\nAlert ID: %s\n",
		a.ServiceType, a.ServiceName,
		a.Timestamp.Format(time.RFC3339),
		alert.SummarizeAnalysis(ev.Analysis),
		ev.ReportURL,
		a.AlertID,
	)
	return subject, message
}

func executionMessage(ev alert.Event) (subject, message string) {
	a := ev.Alert
	var res alert.ExecutionResult
	if ev.Result != nil {
		res = *ev.Result
	}

	icon, verb, outcome, status := "❌", "Failed", "FAILED", "FAILED"
	if res.Success {
		icon, verb, outcome, status = "✅", "Completed", "COMPLETED", "SUCCESS"
	}
	completed := time.Now().UTC()
	if a.ExecutedAt != nil {
		completed = a.ExecutedAt.UTC()
	}

	subject = fmt.Sprintf("Execution %s: %s", verb, a.ServiceName)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Execution %s\n\n", icon, outcome)
	fmt.Fprintf(&b, "Service: %s\nAlert ID: %s\nStatus: %s\nCompleted: %s\n\n",
		a.ServiceName, a.AlertID, status, completed.Format(time.RFC3339))
	fmt.Fprintf(&b, "Execution Summary:\n- Total Actions: %d\n- Successful: %d\n- Failed: %d\n- Skipped: %d\n\n",
		res.Summary.TotalActions, res.Summary.Successful, res.Summary.Failed, res.Summary.Skipped)

	if res.ExecutionLog != "" {
		if utf8.RuneCountInString(res.ExecutionLog) > logPreviewBound {
			runes := []rune(res.ExecutionLog)
			fmt.Fprintf(&b, "Execution Log (preview):\n%s...\n\n", string(runes[:logPreviewBound]))
		} else {
			fmt.Fprintf(&b, "Execution Log:\n%s\n\n", res.ExecutionLog)
		}
	}
	fmt.Fprintf(&b, "Full Execution Log: %s\n", ev.ReportURL)

	return subject, b.String()
}

func (n *Notifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, n.timeout)
}
