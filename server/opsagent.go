// Package server hosts the HTTP surfaces of both services: the opsagent
// conversational endpoint streaming agent turns over server-sent events, and
// the alertd endpoints driving the approval and execution workflow.
package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/stream"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

// stampLayout formats the last-update stamp served by /ping.
const stampLayout = "20060102-150405"

type (
	// OpsAgentOptions configures the conversational routes.
	OpsAgentOptions struct {
		// Pipeline runs streaming turns. Required.
		Pipeline *stream.Pipeline
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// OpsAgent serves the invocations and ping endpoints.
	OpsAgent struct {
		pipeline *stream.Pipeline
		logger   telemetry.Logger
		// lastUpdate tracks process start and the most recent successful
		// turn, served by /ping.
		lastUpdate atomic.Int64
	}

	// invocationRequest is the body of POST /invocations.
	invocationRequest struct {
		Prompt    string `json:"prompt" binding:"required"`
		SessionID string `json:"session_id"`
		ActorID   string `json:"actor_id"`
	}
)

// NewOpsAgent validates opts and returns the handler.
func NewOpsAgent(opts OpsAgentOptions) (*OpsAgent, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	h := &OpsAgent{pipeline: opts.Pipeline, logger: opts.Logger}
	h.lastUpdate.Store(time.Now().UTC().Unix())
	return h, nil
}

// Register mounts the routes on r.
func (h *OpsAgent) Register(r gin.IRouter) {
	r.POST("/invocations", h.invocations)
	r.GET("/ping", h.ping)
}

// invocations streams one conversational turn as server-sent events.
func (h *OpsAgent) invocations(c *gin.Context) {
	var req invocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ActorID == "" {
		req.ActorID = "user"
	}

	sink, err := newSSESink(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	turn := stream.Turn{Prompt: req.Prompt, SessionID: req.SessionID, ActorID: req.ActorID}
	if err := h.pipeline.Run(ctx, turn, sink); err != nil {
		// Transport failures only: the client is gone, nothing to report.
		h.logger.Warn(ctx, "stream transport failed", "session_id", req.SessionID, "err", err)
		return
	}
	h.lastUpdate.Store(time.Now().UTC().Unix())
}

// ping reports service health and the time of the last successful turn.
func (h *OpsAgent) ping(c *gin.Context) {
	stamp := time.Unix(h.lastUpdate.Load(), 0).UTC().Format(stampLayout)
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"time_of_last_update": stamp,
	})
}
