// Package config resolves service configuration once at process start into
// explicit structs. Values come from an optional YAML file overridden by
// environment variables; validation is eager so missing identifiers surface
// as configuration errors before any request is served.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// OpsAgent configures the conversational agent runtime service.
	OpsAgent struct {
		// HTTPAddr is the listen address for the invocations endpoint.
		HTTPAddr string `yaml:"http_addr"`
		// Debug enables request/response debug logging.
		Debug bool `yaml:"debug"`

		Bedrock Bedrock `yaml:"bedrock"`
		Gateway Gateway `yaml:"gateway"`
		Cognito Cognito `yaml:"cognito"`
		Redis   Redis   `yaml:"redis"`
	}

	// AlertD configures the alert lifecycle service.
	AlertD struct {
		// HTTPAddr is the listen address for the callback endpoints.
		HTTPAddr string `yaml:"http_addr"`
		// Debug enables request/response debug logging.
		Debug bool `yaml:"debug"`

		// AlertTable is the DynamoDB table holding alert records.
		AlertTable string `yaml:"alert_table"`
		// ReportBucket is the S3 bucket holding analysis and execution
		// reports.
		ReportBucket string `yaml:"report_bucket"`
		// SlackSigningSecret verifies interaction callbacks. Required when
		// the Slack webhook is configured.
		SlackSigningSecret string `yaml:"slack_signing_secret"`
		// SlackWebhookURL, TeamsWebhookURL and SNSTopicARN each enable one
		// notification channel when non-empty.
		SlackWebhookURL string `yaml:"slack_webhook_url"`
		TeamsWebhookURL string `yaml:"teams_webhook_url"`
		SNSTopicARN     string `yaml:"sns_topic_arn"`
		// ApprovalBaseURL is the public URL of this service's /decisions
		// route, embedded in notification decision links.
		ApprovalBaseURL string `yaml:"approval_base_url"`
		// MonitorSchedule is the cron expression driving monitor sweeps.
		// Empty disables the scheduler; sweeps can still be triggered over
		// HTTP.
		MonitorSchedule string `yaml:"monitor_schedule"`
		// Targets lists the services the monitor probes.
		Targets []Target `yaml:"targets"`

		Bedrock Bedrock `yaml:"bedrock"`
		Runtime Runtime `yaml:"runtime"`
		Cognito Cognito `yaml:"cognito"`
		Redis   Redis   `yaml:"redis"`
	}

	// Bedrock selects the model backend.
	Bedrock struct {
		// ModelID is the Bedrock model identifier. Required.
		ModelID string `yaml:"model_id"`
		// Region overrides the AWS SDK default region when non-empty.
		Region string `yaml:"region"`
	}

	// Gateway locates the tool gateway MCP endpoint. Empty disables per-turn
	// tool narrowing and the primary gateway path.
	Gateway struct {
		Endpoint string `yaml:"endpoint"`
	}

	// Runtime locates a deployed agent runtime for remote invocation. Empty
	// means alertd invokes Bedrock directly.
	Runtime struct {
		Endpoint  string `yaml:"endpoint"`
		ARN       string `yaml:"arn"`
		Qualifier string `yaml:"qualifier"`
	}

	// Cognito holds the machine credentials used to obtain bearer tokens.
	// All fields empty disables token-authenticated paths.
	Cognito struct {
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	}

	// Redis locates the conversation store and job queue backend. Empty Addr
	// disables conversation persistence.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// Window bounds the exchanges kept per conversation.
		Window int `yaml:"window"`
		// IdleTTL evicts conversations untouched for this long.
		IdleTTL time.Duration `yaml:"idle_ttl"`
	}

	// Target is one monitored service.
	Target struct {
		// Name identifies the service in alerts.
		Name string `yaml:"name"`
		// Type classifies the service (CloudFront, Route53, ...).
		Type string `yaml:"type"`
		// URL is probed with an HTTP GET. Empty marks the target synthetic:
		// it is only checked through manual sweeps that carry a signal.
		URL string `yaml:"url"`
	}
)

// Defaults applied when neither file nor environment provides a value.
const (
	DefaultOpsAgentAddr = ":8080"
	DefaultAlertDAddr   = ":8081"
	DefaultRedisWindow  = 10
	DefaultRedisIdleTTL = 24 * time.Hour
)

// LoadOpsAgent resolves the opsagent configuration from the optional YAML
// file at path and the environment.
func LoadOpsAgent(path string) (OpsAgent, error) {
	var cfg OpsAgent
	cfg.HTTPAddr = DefaultOpsAgentAddr
	cfg.Redis.Window = DefaultRedisWindow
	cfg.Redis.IdleTTL = DefaultRedisIdleTTL

	if err := loadFile(path, &cfg); err != nil {
		return OpsAgent{}, err
	}

	overrideString(&cfg.HTTPAddr, "OPSAGENT_HTTP_ADDR")
	overrideBool(&cfg.Debug, "OPSAGENT_DEBUG")
	cfg.Bedrock.fromEnv()
	overrideString(&cfg.Gateway.Endpoint, "GATEWAY_ENDPOINT")
	cfg.Cognito.fromEnv()
	cfg.Redis.fromEnv()

	if err := cfg.Validate(); err != nil {
		return OpsAgent{}, err
	}
	return cfg, nil
}

// LoadAlertD resolves the alertd configuration from the optional YAML file at
// path and the environment.
func LoadAlertD(path string) (AlertD, error) {
	var cfg AlertD
	cfg.HTTPAddr = DefaultAlertDAddr
	cfg.Redis.Window = DefaultRedisWindow
	cfg.Redis.IdleTTL = DefaultRedisIdleTTL

	if err := loadFile(path, &cfg); err != nil {
		return AlertD{}, err
	}

	overrideString(&cfg.HTTPAddr, "ALERTD_HTTP_ADDR")
	overrideBool(&cfg.Debug, "ALERTD_DEBUG")
	overrideString(&cfg.AlertTable, "ALERT_TABLE_NAME")
	overrideString(&cfg.ReportBucket, "REPORT_BUCKET")
	overrideString(&cfg.SlackSigningSecret, "SLACK_SIGNING_SECRET")
	overrideString(&cfg.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	overrideString(&cfg.TeamsWebhookURL, "TEAMS_WEBHOOK_URL")
	overrideString(&cfg.SNSTopicARN, "SNS_TOPIC_ARN")
	overrideString(&cfg.ApprovalBaseURL, "APPROVAL_BASE_URL")
	overrideString(&cfg.MonitorSchedule, "MONITOR_SCHEDULE")
	cfg.Bedrock.fromEnv()
	overrideString(&cfg.Runtime.Endpoint, "AGENT_RUNTIME_ENDPOINT")
	overrideString(&cfg.Runtime.ARN, "AGENT_RUNTIME_ARN")
	overrideString(&cfg.Runtime.Qualifier, "AGENT_RUNTIME_QUALIFIER")
	cfg.Cognito.fromEnv()
	cfg.Redis.fromEnv()

	if err := cfg.Validate(); err != nil {
		return AlertD{}, err
	}
	return cfg, nil
}

// Validate reports the first missing required value.
func (c OpsAgent) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.Bedrock.ModelID == "" {
		return errors.New("bedrock model_id is required")
	}
	if c.Gateway.Endpoint != "" && !c.Cognito.Configured() {
		return errors.New("cognito credentials are required when the gateway endpoint is set")
	}
	return nil
}

// Validate reports the first missing required value.
func (c AlertD) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}
	if c.AlertTable == "" {
		return errors.New("alert_table is required")
	}
	if c.ReportBucket == "" {
		return errors.New("report_bucket is required")
	}
	if c.Runtime.Endpoint == "" && c.Bedrock.ModelID == "" {
		return errors.New("either a runtime endpoint or a bedrock model_id is required")
	}
	if c.Runtime.Endpoint != "" {
		if c.Runtime.ARN == "" {
			return errors.New("runtime arn is required when the runtime endpoint is set")
		}
		if !c.Cognito.Configured() {
			return errors.New("cognito credentials are required when the runtime endpoint is set")
		}
	}
	if c.SlackWebhookURL != "" && c.SlackSigningSecret == "" {
		return errors.New("slack_signing_secret is required when the slack webhook is set")
	}
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
	}
	return nil
}

// Configured reports whether all credential fields are set.
func (c Cognito) Configured() bool {
	return c.ClientID != "" && c.Username != "" && c.Password != ""
}

func (b *Bedrock) fromEnv() {
	overrideString(&b.ModelID, "BEDROCK_MODEL_ID")
	overrideString(&b.Region, "BEDROCK_REGION")
}

func (c *Cognito) fromEnv() {
	overrideString(&c.ClientID, "COGNITO_CLIENT_ID")
	overrideString(&c.Username, "COGNITO_USERNAME")
	overrideString(&c.Password, "COGNITO_PASSWORD")
}

func (r *Redis) fromEnv() {
	overrideString(&r.Addr, "REDIS_ADDR")
	overrideString(&r.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.DB = n
		}
	}
}

// loadFile merges the YAML file at path into cfg. A missing file is not an
// error when path is empty; an explicitly named file must exist.
func loadFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
