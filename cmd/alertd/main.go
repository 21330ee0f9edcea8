// Command alertd runs the alert lifecycle service.
//
// The service monitors configured targets on a cron schedule, raises alerts
// with agent-produced analyses, fans notifications out to Slack, Teams and
// SNS, and drives the approve/dismiss/execute workflow through signed Slack
// interaction callbacks and the execute endpoint. Approved remediations run
// through a durable Redis-backed job queue consumed by an in-process worker.
//
// # Configuration
//
// An optional YAML file (-config) provides the base configuration;
// environment variables override it:
//
//	ALERTD_HTTP_ADDR         - listen address (default: ":8081")
//	ALERTD_DEBUG             - enable debug logging
//	ALERT_TABLE_NAME         - DynamoDB alert table (required)
//	REPORT_BUCKET            - S3 report bucket (required)
//	BEDROCK_MODEL_ID         - Bedrock model for analysis and remediation
//	AGENT_RUNTIME_ENDPOINT   - deployed agent runtime, used instead of
//	AGENT_RUNTIME_ARN          direct Bedrock when set
//	COGNITO_CLIENT_ID        - machine credentials for runtime auth
//	COGNITO_USERNAME         -
//	COGNITO_PASSWORD         -
//	SLACK_WEBHOOK_URL        - notification channels, each optional
//	TEAMS_WEBHOOK_URL        -
//	SNS_TOPIC_ARN            -
//	SLACK_SIGNING_SECRET     - verifies interaction callbacks
//	APPROVAL_BASE_URL        - public base URL embedded in decision links
//	MONITOR_SCHEDULE         - cron expression for sweeps (optional)
//	REDIS_ADDR               - job queue backend (optional; executions run
//	                           in-process without it)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/Lynrbe/aws-cloudops-agent/config"
	"github.com/Lynrbe/aws-cloudops-agent/features/agent/bedrock"
	"github.com/Lynrbe/aws-cloudops-agent/features/agent/remote"
	dynamoalert "github.com/Lynrbe/aws-cloudops-agent/features/alert/dynamo"
	clientsdynamo "github.com/Lynrbe/aws-cloudops-agent/features/alert/dynamo/clients/dynamo"
	"github.com/Lynrbe/aws-cloudops-agent/features/auth/cognito"
	s3blob "github.com/Lynrbe/aws-cloudops-agent/features/blob/s3"
	"github.com/Lynrbe/aws-cloudops-agent/features/notify/slack"
	"github.com/Lynrbe/aws-cloudops-agent/features/notify/sns"
	"github.com/Lynrbe/aws-cloudops-agent/features/notify/teams"
	pulsequeue "github.com/Lynrbe/aws-cloudops-agent/features/queue/pulse"
	clientspulse "github.com/Lynrbe/aws-cloudops-agent/features/queue/pulse/clients/pulse"
	"github.com/Lynrbe/aws-cloudops-agent/monitor"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
	"github.com/Lynrbe/aws-cloudops-agent/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if err := run(ctx, *configPath); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAlertD(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Bedrock.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Bedrock.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("load AWS configuration: %w", err)
	}

	alertClient, err := clientsdynamo.New(clientsdynamo.Options{
		Client: dynamodb.NewFromConfig(awscfg),
		Table:  cfg.AlertTable,
	})
	if err != nil {
		return fmt.Errorf("create alert client: %w", err)
	}
	store, err := dynamoalert.NewStore(alertClient)
	if err != nil {
		return fmt.Errorf("create alert store: %w", err)
	}

	blobs, err := s3blob.New(s3blob.Options{
		Client: awss3.NewFromConfig(awscfg),
		Bucket: cfg.ReportBucket,
		Region: awscfg.Region,
	})
	if err != nil {
		return fmt.Errorf("create report store: %w", err)
	}

	invoker, err := buildInvoker(awscfg, cfg, logger)
	if err != nil {
		return err
	}

	notifiers, slackNotifier, err := buildNotifiers(awscfg, cfg)
	if err != nil {
		return err
	}

	manager, err := alert.NewManager(alert.ManagerOptions{
		Store:     store,
		Blobs:     blobs,
		Invoker:   invoker,
		Notifiers: notifiers,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    telemetry.NewClueTracer(),
	})
	if err != nil {
		return fmt.Errorf("create alert manager: %w", err)
	}

	mon, err := monitor.New(monitor.Options{
		Targets:    cfg.Targets,
		Creator:    manager,
		Suppressor: store,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	var wg sync.WaitGroup

	// Redis enables the durable job queue. Without it, executions run in a
	// goroutine of this process and are lost on crash.
	var dispatcher alert.Dispatcher
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf(ctx, "close redis: %v", err)
			}
		}()
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
		if err != nil {
			return fmt.Errorf("create pulse client: %w", err)
		}
		queue, err := pulsequeue.NewQueue(pulsequeue.Options{
			Client:  pc,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return fmt.Errorf("create job queue: %w", err)
		}
		dispatcher = queue

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := queue.Work(workerCtx, pulsequeue.DefaultSinkName, manager)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf(ctx, "job worker stopped: %v", err)
			}
		}()
	} else {
		dispatcher = &inProcessDispatcher{exec: manager, logger: logger, wg: &wg}
	}

	if cfg.MonitorSchedule != "" {
		sched, err := monitor.NewScheduler(ctx, mon, cfg.MonitorSchedule, logger)
		if err != nil {
			return fmt.Errorf("create monitor scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	handler, err := server.NewAlertD(server.AlertDOptions{
		Manager:       manager,
		Dispatcher:    dispatcher,
		Monitor:       mon,
		Slack:         slackNotifier,
		SigningSecret: cfg.SlackSigningSecret,
		Pingers:       []health.Pinger{alertClient, blobs},
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	router := gin.New()
	router.Use(gin.Recovery(), server.RequestLogger(logger))
	handler.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: log.HTTP(ctx)(router)}
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("signal: %v", <-c)
	}()
	go func() {
		log.Printf(ctx, "alertd listening on %s (table=%s bucket=%s)",
			cfg.HTTPAddr, cfg.AlertTable, cfg.ReportBucket)
		errc <- srv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting: %v", <-errc)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "shutdown: %v", err)
	}
	stopWorker()
	wg.Wait()
	return nil
}

// buildInvoker returns the agent backend for analysis and remediation runs: a
// deployed agent runtime when one is configured, direct Bedrock otherwise.
func buildInvoker(awscfg aws.Config, cfg config.AlertD, logger telemetry.Logger) (agent.Invoker, error) {
	if cfg.Runtime.Endpoint == "" {
		invoker, err := bedrock.New(bedrockruntime.NewFromConfig(awscfg), bedrock.Options{
			ModelID: cfg.Bedrock.ModelID,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create bedrock invoker: %w", err)
		}
		return invoker, nil
	}

	tokens, err := cognito.New(cognito.Options{
		Client:   cip.NewFromConfig(awscfg),
		ClientID: cfg.Cognito.ClientID,
		Username: cfg.Cognito.Username,
		Password: cfg.Cognito.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create token source: %w", err)
	}
	invoker, err := remote.New(remote.Options{
		Endpoint:   cfg.Runtime.Endpoint,
		RuntimeARN: cfg.Runtime.ARN,
		Qualifier:  cfg.Runtime.Qualifier,
		Tokens:     tokens,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime invoker: %w", err)
	}
	return invoker, nil
}

// buildNotifiers assembles the configured notification channels. The Slack
// notifier is also returned separately so the interaction handler can update
// the original message after a decision.
func buildNotifiers(awscfg aws.Config, cfg config.AlertD) ([]alert.Notifier, *slack.Notifier, error) {
	var (
		notifiers     []alert.Notifier
		slackNotifier *slack.Notifier
	)
	if cfg.SlackWebhookURL != "" {
		n, err := slack.New(slack.Options{WebhookURL: cfg.SlackWebhookURL})
		if err != nil {
			return nil, nil, fmt.Errorf("create slack notifier: %w", err)
		}
		slackNotifier = n
		notifiers = append(notifiers, n)
	}
	if cfg.TeamsWebhookURL != "" {
		n, err := teams.New(teams.Options{
			WebhookURL:  cfg.TeamsWebhookURL,
			ApprovalURL: cfg.ApprovalBaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create teams notifier: %w", err)
		}
		notifiers = append(notifiers, n)
	}
	if cfg.SNSTopicARN != "" {
		n, err := sns.New(sns.Options{
			Client:   awssns.NewFromConfig(awscfg),
			TopicARN: cfg.SNSTopicARN,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create sns notifier: %w", err)
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, slackNotifier, nil
}

// inProcessDispatcher runs executions in a goroutine of this process, used
// when no Redis queue is configured.
type inProcessDispatcher struct {
	exec   pulsequeue.Executor
	logger telemetry.Logger
	wg     *sync.WaitGroup
}

func (d *inProcessDispatcher) Dispatch(ctx context.Context, job alert.ExecutionJob) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.WithoutCancel(ctx)
		if _, err := d.exec.Execute(ctx, job.AlertID); err != nil {
			d.logger.Error(ctx, "execution failed", "alert_id", job.AlertID, "err", err)
		}
	}()
	return nil
}
