// Package dynamo hosts the DynamoDB client used by the alert store.
package dynamo

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/clue/health"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
)

const (
	defaultServiceIndex = "service_name-index"
	defaultOpTimeout    = 5 * time.Second
	alertClientName     = "alert-dynamo"
)

// Client exposes DynamoDB-backed operations for alert records.
type Client interface {
	health.Pinger

	PutAlert(ctx context.Context, a alert.Alert) error
	LoadAlert(ctx context.Context, alertID string) (alert.Alert, error)
	TransitionApproval(ctx context.Context, alertID string, to alert.ApprovalStatus, actor string) (alert.Alert, error)
	SetExecution(ctx context.Context, alertID string, status alert.ExecutionStatus, result *alert.ExecutionResult, at time.Time) error
	OpenAlertExists(ctx context.Context, serviceName, issueType string) (bool, error)
}

// Options configures the DynamoDB alert client.
type Options struct {
	Client *dynamodb.Client
	Table  string
	// ServiceIndex names the global secondary index keyed on service_name
	// that backs open-alert lookups.
	ServiceIndex string
	Timeout      time.Duration
}

type client struct {
	db      dynamoAPI
	table   string
	index   string
	timeout time.Duration
}

// New returns a Client backed by DynamoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("dynamo client is required")
	}
	index := opts.ServiceIndex
	if index == "" {
		index = defaultServiceIndex
	}
	return newClientWithAPI(opts.Client, opts.Table, index, opts.Timeout)
}

func (c *client) Name() string {
	return alertClientName
}

func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)})
	return err
}

func (c *client) PutAlert(ctx context.Context, a alert.Alert) error {
	if a.AlertID == "" {
		return errors.New("alert id is required")
	}
	item, err := attributevalue.MarshalMap(fromAlert(a))
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	return err
}

func (c *client) LoadAlert(ctx context.Context, alertID string) (alert.Alert, error) {
	if alertID == "" {
		return alert.Alert{}, errors.New("alert id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       alertKey(alertID),
	})
	if err != nil {
		return alert.Alert{}, err
	}
	if len(out.Item) == 0 {
		return alert.Alert{}, alert.ErrNotFound
	}
	var item alertItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return alert.Alert{}, err
	}
	return item.toAlert(), nil
}

func (c *client) TransitionApproval(ctx context.Context, alertID string, to alert.ApprovalStatus, actor string) (alert.Alert, error) {
	if alertID == "" {
		return alert.Alert{}, errors.New("alert id is required")
	}
	at, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return alert.Alert{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.table),
		Key:                 alertKey(alertID),
		UpdateExpression:    aws.String("SET approval_status = :decision, approved_by = :actor, approved_at = :at"),
		ConditionExpression: aws.String("approval_status = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":decision": &types.AttributeValueMemberS{Value: string(to)},
			":actor":    &types.AttributeValueMemberS{Value: actor},
			":at":       at,
			":pending":  &types.AttributeValueMemberS{Value: string(alert.ApprovalPending)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			// A missing item fails the condition with an empty image; a
			// resolved item fails it with the current record attached.
			if len(failed.Item) == 0 {
				return alert.Alert{}, alert.ErrNotFound
			}
			var item alertItem
			if uerr := attributevalue.UnmarshalMap(failed.Item, &item); uerr != nil {
				return alert.Alert{}, alert.ErrNotPending
			}
			return item.toAlert(), alert.ErrNotPending
		}
		return alert.Alert{}, err
	}
	var item alertItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return alert.Alert{}, err
	}
	return item.toAlert(), nil
}

func (c *client) SetExecution(ctx context.Context, alertID string, status alert.ExecutionStatus, result *alert.ExecutionResult, at time.Time) error {
	if alertID == "" {
		return errors.New("alert id is required")
	}
	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.table),
		Key:                 alertKey(alertID),
		UpdateExpression:    aws.String("SET execution_status = :status"),
		ConditionExpression: aws.String("attribute_exists(alert_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	}
	if result != nil {
		details, err := attributevalue.Marshal(fromExecution(*result))
		if err != nil {
			return err
		}
		atValue, err := attributevalue.Marshal(at.UTC())
		if err != nil {
			return err
		}
		input.UpdateExpression = aws.String(
			"SET execution_status = :status, executed_at = :at, execution_log = :log, execution_details = :details")
		input.ExpressionAttributeValues[":at"] = atValue
		input.ExpressionAttributeValues[":log"] = &types.AttributeValueMemberS{Value: result.ExecutionLog}
		input.ExpressionAttributeValues[":details"] = details
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.db.UpdateItem(ctx, input); err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return alert.ErrNotFound
		}
		return err
	}
	return nil
}

func (c *client) OpenAlertExists(ctx context.Context, serviceName, issueType string) (bool, error) {
	if serviceName == "" {
		return false, errors.New("service name is required")
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		IndexName:              aws.String(c.index),
		KeyConditionExpression: aws.String("service_name = :svc"),
		FilterExpression:       aws.String("issue_type = :issue AND approval_status = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":svc":     &types.AttributeValueMemberS{Value: serviceName},
			":issue":   &types.AttributeValueMemberS{Value: issueType},
			":pending": &types.AttributeValueMemberS{Value: string(alert.ApprovalPending)},
		},
		Select: types.SelectCount,
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	for {
		out, err := c.db.Query(ctx, input)
		if err != nil {
			return false, err
		}
		if out.Count > 0 {
			return true, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return false, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func alertKey(alertID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"alert_id": &types.AttributeValueMemberS{Value: alertID},
	}
}

type alertItem struct {
	AlertID         string         `dynamodbav:"alert_id"`
	ServiceName     string         `dynamodbav:"service_name"`
	ServiceType     string         `dynamodbav:"service_type"`
	IssueType       string         `dynamodbav:"issue_type"`
	ErrorDetails    string         `dynamodbav:"error_details"`
	Severity        string         `dynamodbav:"severity"`
	Timestamp       time.Time      `dynamodbav:"timestamp"`
	AgentSessionID  string         `dynamodbav:"agent_session_id,omitempty"`
	Summary         string         `dynamodbav:"agent_analysis"`
	AnalysisKey     string         `dynamodbav:"s3_analysis_key,omitempty"`
	AnalysisURL     string         `dynamodbav:"s3_analysis_url,omitempty"`
	ApprovalStatus  string         `dynamodbav:"approval_status"`
	ApprovedBy      string         `dynamodbav:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `dynamodbav:"approved_at,omitempty"`
	ExecutionStatus string         `dynamodbav:"execution_status"`
	ExecutionLog    string         `dynamodbav:"execution_log,omitempty"`
	Execution       *executionItem `dynamodbav:"execution_details,omitempty"`
	ExecutedAt      *time.Time     `dynamodbav:"executed_at,omitempty"`
	ExpiresAt       time.Time      `dynamodbav:"ttl,unixtime"`
}

type executionItem struct {
	Success bool         `dynamodbav:"success"`
	Actions []actionItem `dynamodbav:"actions,omitempty"`
	Summary summaryItem  `dynamodbav:"summary"`
}

type actionItem struct {
	Description string    `dynamodbav:"description"`
	Status      string    `dynamodbav:"status"`
	Timestamp   time.Time `dynamodbav:"timestamp"`
}

type summaryItem struct {
	TotalActions int `dynamodbav:"total_actions"`
	Successful   int `dynamodbav:"successful"`
	Failed       int `dynamodbav:"failed"`
	Skipped      int `dynamodbav:"skipped"`
}

func fromAlert(a alert.Alert) alertItem {
	item := alertItem{
		AlertID:         a.AlertID,
		ServiceName:     a.ServiceName,
		ServiceType:     a.ServiceType,
		IssueType:       a.IssueType,
		ErrorDetails:    a.ErrorDetails,
		Severity:        string(a.Severity),
		Timestamp:       a.Timestamp.UTC(),
		AgentSessionID:  a.AgentSessionID,
		Summary:         a.Summary,
		AnalysisKey:     a.AnalysisKey,
		AnalysisURL:     a.AnalysisURL,
		ApprovalStatus:  string(a.ApprovalStatus),
		ApprovedBy:      a.ApprovedBy,
		ExecutionStatus: string(a.ExecutionStatus),
		ExpiresAt:       a.ExpiresAt.UTC(),
	}
	if a.ApprovedAt != nil {
		at := a.ApprovedAt.UTC()
		item.ApprovedAt = &at
	}
	if a.ExecutedAt != nil {
		at := a.ExecutedAt.UTC()
		item.ExecutedAt = &at
	}
	if a.Execution != nil {
		item.ExecutionLog = a.Execution.ExecutionLog
		details := fromExecution(*a.Execution)
		item.Execution = &details
	}
	return item
}

func (item alertItem) toAlert() alert.Alert {
	out := alert.Alert{
		AlertID:         item.AlertID,
		ServiceName:     item.ServiceName,
		ServiceType:     item.ServiceType,
		IssueType:       item.IssueType,
		ErrorDetails:    item.ErrorDetails,
		Severity:        alert.Severity(item.Severity),
		Timestamp:       item.Timestamp,
		AgentSessionID:  item.AgentSessionID,
		Summary:         item.Summary,
		AnalysisKey:     item.AnalysisKey,
		AnalysisURL:     item.AnalysisURL,
		ApprovalStatus:  alert.ApprovalStatus(item.ApprovalStatus),
		ApprovedBy:      item.ApprovedBy,
		ApprovedAt:      item.ApprovedAt,
		ExecutionStatus: alert.ExecutionStatus(item.ExecutionStatus),
		ExecutedAt:      item.ExecutedAt,
		ExpiresAt:       item.ExpiresAt,
	}
	if item.Execution != nil {
		result := item.Execution.toResult()
		result.ExecutionLog = item.ExecutionLog
		out.Execution = &result
	}
	return out
}

func fromExecution(res alert.ExecutionResult) executionItem {
	item := executionItem{
		Success: res.Success,
		Summary: summaryItem{
			TotalActions: res.Summary.TotalActions,
			Successful:   res.Summary.Successful,
			Failed:       res.Summary.Failed,
			Skipped:      res.Summary.Skipped,
		},
	}
	for _, action := range res.Actions {
		item.Actions = append(item.Actions, actionItem{
			Description: action.Description,
			Status:      string(action.Status),
			Timestamp:   action.Timestamp.UTC(),
		})
	}
	return item
}

func (item executionItem) toResult() alert.ExecutionResult {
	result := alert.ExecutionResult{
		Success: item.Success,
		Summary: alert.ExecutionSummary{
			TotalActions: item.Summary.TotalActions,
			Successful:   item.Summary.Successful,
			Failed:       item.Summary.Failed,
			Skipped:      item.Summary.Skipped,
		},
	}
	for _, action := range item.Actions {
		result.Actions = append(result.Actions, alert.Action{
			Description: action.Description,
			Status:      alert.ActionStatus(action.Status),
			Timestamp:   action.Timestamp,
		})
	}
	return result
}

func newClientWithAPI(db dynamoAPI, table, index string, timeout time.Duration) (*client, error) {
	if db == nil {
		return nil, errors.New("dynamo client is required")
	}
	if table == "" {
		return nil, errors.New("table name is required")
	}
	if index == "" {
		index = defaultServiceIndex
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{db: db, table: table, index: index, timeout: timeout}, nil
}

// dynamoAPI is the slice of the DynamoDB SDK surface the client calls.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}
