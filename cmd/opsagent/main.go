// Command opsagent runs the conversational CloudOps agent service.
//
// The service exposes POST /invocations, streaming each agent turn back to
// the caller as server-sent events, and GET /ping for container health
// checks. Turns run against AWS Bedrock; when a tool gateway is configured
// the relevant tools are selected per turn through its semantic search, and
// when Redis is configured prior exchanges are replayed as conversation
// context.
//
// # Configuration
//
// An optional YAML file (-config) provides the base configuration;
// environment variables override it:
//
//	OPSAGENT_HTTP_ADDR  - listen address (default: ":8080")
//	OPSAGENT_DEBUG      - enable debug logging
//	BEDROCK_MODEL_ID    - Bedrock model identifier (required)
//	BEDROCK_REGION      - AWS region override
//	GATEWAY_ENDPOINT    - tool gateway MCP URL (optional)
//	COGNITO_CLIENT_ID   - app client id for gateway auth
//	COGNITO_USERNAME    - machine user credentials for gateway auth
//	COGNITO_PASSWORD    -
//	REDIS_ADDR          - conversation store address (optional)
//	REDIS_PASSWORD      - Redis password (optional)
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/Lynrbe/aws-cloudops-agent/config"
	"github.com/Lynrbe/aws-cloudops-agent/features/agent/bedrock"
	"github.com/Lynrbe/aws-cloudops-agent/features/agent/middleware"
	"github.com/Lynrbe/aws-cloudops-agent/features/auth/cognito"
	redissession "github.com/Lynrbe/aws-cloudops-agent/features/session/redis"
	clientsredis "github.com/Lynrbe/aws-cloudops-agent/features/session/redis/clients/redis"
	"github.com/Lynrbe/aws-cloudops-agent/features/tools/gateway"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/session"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/stream"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/tools"
	"github.com/Lynrbe/aws-cloudops-agent/server"
)

// systemPrompt carries the operator instructions sent with every turn.
const systemPrompt = `You are an AWS CloudOps Agent, a friendly and knowledgeable assistant specializing in AWS cloud operations that can manage resources through specialized tools.

Your capabilities:
- Retrieve information about AWS services and resources
- Provide architecture solutions based on user scenarios
- Offer best practices and recommendations
- Help troubleshoot AWS-related issues

Guidelines:
- Provide clear, concise explanations suitable for beginners
- When suggesting architectures, explain the reasoning behind service choices
- Always consider cost-effectiveness and security best practices
- Call handoff_to_user for confirmation before executing any action that modifies resources`

// ratelimitMapName is the Pulse replicated map coordinating the token budget
// across opsagent processes sharing one Redis.
const ratelimitMapName = "opsagent-ratelimit"

const shutdownTimeout = 10 * time.Second

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
	cfg, err := config.LoadOpsAgent(configPath)
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

	invoker, err := bedrock.New(bedrockruntime.NewFromConfig(awscfg), bedrock.Options{
		ModelID:      cfg.Bedrock.ModelID,
		SystemPrompt: systemPrompt,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create bedrock invoker: %w", err)
	}

	// Redis backs both the conversation store and the cluster-wide rate
	// limit budget. The service runs without either when unconfigured.
	var (
		sessions session.Store
		limitMap *rmap.Map
	)
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

		conv, err := clientsredis.New(clientsredis.Options{
			Client:  rdb,
			Window:  cfg.Redis.Window,
			IdleTTL: cfg.Redis.IdleTTL,
		})
		if err != nil {
			return fmt.Errorf("create conversation client: %w", err)
		}
		store, err := redissession.NewStore(ctx, conv)
		if err != nil {
			return fmt.Errorf("create conversation store: %w", err)
		}
		sessions = store

		if m, err := rmap.Join(ctx, ratelimitMapName, rdb); err != nil {
			log.Printf(ctx, "rate limit map unavailable, limiter is process-local: %v", err)
		} else {
			limitMap = m
		}
	}

	limiter := middleware.NewAdaptiveRateLimiter(ctx, limitMap, "bedrock", 0, 0)
	primary := limiter.Middleware()(invoker)

	var searcher tools.Searcher
	if cfg.Gateway.Endpoint != "" {
		tokens, err := cognito.New(cognito.Options{
			Client:   cip.NewFromConfig(awscfg),
			ClientID: cfg.Cognito.ClientID,
			Username: cfg.Cognito.Username,
			Password: cfg.Cognito.Password,
		})
		if err != nil {
			return fmt.Errorf("create token source: %w", err)
		}
		gw, err := gateway.New(gateway.Options{
			Endpoint: cfg.Gateway.Endpoint,
			Tokens:   tokens,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create gateway client: %w", err)
		}
		searcher = gw
	}

	pipeline, err := stream.NewPipeline(stream.PipelineOptions{
		Primary: primary,
		// The rerun after a primary path failure skips tool search, so the
		// unwrapped invoker serves as the local-tools fallback.
		Fallback: invoker,
		Sessions: sessions,
		Tools:    searcher,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   telemetry.NewClueTracer(),
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	handler, err := server.NewOpsAgent(server.OpsAgentOptions{Pipeline: pipeline, Logger: logger})
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
		log.Printf(ctx, "opsagent listening on %s (model=%s)", cfg.HTTPAddr, cfg.Bedrock.ModelID)
		errc <- srv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting: %v", <-errc)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
