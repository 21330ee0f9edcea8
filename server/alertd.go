package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"goa.design/clue/health"

	"github.com/Lynrbe/aws-cloudops-agent/features/notify/slack"
	"github.com/Lynrbe/aws-cloudops-agent/monitor"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/alert"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

// interactionBodyBound caps how much of an interaction callback body is read.
const interactionBodyBound = 1 << 20

type (
	// AlertDOptions configures the alert lifecycle routes.
	AlertDOptions struct {
		// Manager drives the alert lifecycle. Required.
		Manager *alert.Manager
		// Dispatcher queues execution jobs for the async worker. Required.
		Dispatcher alert.Dispatcher
		// Monitor backs the manual check endpoint. Optional.
		Monitor *monitor.Monitor
		// Slack updates the original message after a decision. Optional.
		Slack *slack.Notifier
		// SigningSecret verifies Slack interaction callbacks. Required when
		// the interactions route is used.
		SigningSecret string
		// Pingers back the health endpoint.
		Pingers []health.Pinger
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// now is overridable in tests.
		now func() time.Time
	}

	// AlertD serves the approval, execution, alert and health endpoints.
	AlertD struct {
		manager    *alert.Manager
		dispatcher alert.Dispatcher
		monitor    *monitor.Monitor
		slack      *slack.Notifier
		secret     string
		pingers    []health.Pinger
		logger     telemetry.Logger
		now        func() time.Time
	}
)

// NewAlertD validates opts and returns the handler.
func NewAlertD(opts AlertDOptions) (*AlertD, error) {
	if opts.Manager == nil {
		return nil, errors.New("manager is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &AlertD{
		manager:    opts.Manager,
		dispatcher: opts.Dispatcher,
		monitor:    opts.Monitor,
		slack:      opts.Slack,
		secret:     opts.SigningSecret,
		pingers:    opts.Pingers,
		logger:     opts.Logger,
		now:        opts.now,
	}, nil
}

// Register mounts the routes on r.
func (h *AlertD) Register(r gin.IRouter) {
	r.POST("/slack/interactions", h.interactions)
	r.GET("/decisions", h.decision)
	r.GET("/execute", h.execute)
	r.GET("/alerts/:id", h.alertByID)
	r.POST("/checks/run", h.runChecks)
	r.GET("/healthz", gin.WrapF(health.Handler(health.NewChecker(h.pingers...))))
}

// interactions handles the signed callback Slack posts when an operator
// clicks a decision button.
func (h *AlertD) interactions(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, interactionBodyBound))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := slack.VerifySignature(
		h.secret,
		c.GetHeader("X-Slack-Request-Timestamp"),
		c.GetHeader("X-Slack-Signature"),
		body,
		h.now(),
	); err != nil {
		h.logger.Warn(c.Request.Context(), "slack signature rejected", "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	in, err := slack.ParseInteraction(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch in.Action {
	case slack.ActionApprove:
		a, err := h.manager.Approve(ctx, in.AlertID, in.UserName)
		if h.writeDecision(c, a, err, alert.ApprovalApproved, in) {
			// Approval triggers execution automatically; the worker performs
			// the run.
			job := alert.ExecutionJob{
				AlertID:     a.AlertID,
				SessionID:   a.AgentSessionID,
				ServiceName: a.ServiceName,
				AnalysisKey: a.AnalysisKey,
			}
			if err := h.dispatcher.Dispatch(ctx, job); err != nil {
				h.logger.Error(ctx, "execution dispatch failed", "alert_id", a.AlertID, "err", err)
			}
		}
	case slack.ActionDismiss:
		a, err := h.manager.Dismiss(ctx, in.AlertID, in.UserName)
		h.writeDecision(c, a, err, alert.ApprovalDismissed, in)
	case slack.ActionViewAnalysis:
		a, err := h.manager.Get(ctx, in.AlertID)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Alert not found."})
			return
		}
		c.JSON(http.StatusOK, slack.AnalysisResponse(a, h.manager.Analysis(ctx, a)))
	default:
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Unknown action."})
	}
}

// decision serves the link targets embedded in Teams notification cards.
// Teams cards open plain links instead of posting signed callbacks, so the
// decision arrives as a GET with alert_id and action query parameters. The
// same single-use semantics apply: a decision on an already-resolved alert
// is a no-op.
func (h *AlertD) decision(c *gin.Context) {
	alertID := c.Query("alert_id")
	if alertID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert_id is required"})
		return
	}
	ctx := c.Request.Context()
	actor := c.Query("user")
	if actor == "" {
		actor = "Teams User"
	}

	var (
		a   alert.Alert
		err error
	)
	action := c.Query("action")
	switch action {
	case "approve":
		a, err = h.manager.Approve(ctx, alertID, actor)
	case "dismiss":
		a, err = h.manager.Dismiss(ctx, alertID, actor)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be approve or dismiss"})
		return
	}

	switch {
	case errors.Is(err, alert.ErrNotPending):
		c.JSON(http.StatusOK, gin.H{
			"status":   string(a.ApprovalStatus),
			"alert_id": alertID,
			"message":  "This alert has already been " + string(a.ApprovalStatus) + ".",
		})
		return
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if action == "approve" {
		job := alert.ExecutionJob{
			AlertID:     a.AlertID,
			SessionID:   a.AgentSessionID,
			ServiceName: a.ServiceName,
			AnalysisKey: a.AnalysisKey,
		}
		if err := h.dispatcher.Dispatch(ctx, job); err != nil {
			h.logger.Error(ctx, "execution dispatch failed", "alert_id", a.AlertID, "err", err)
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "approved",
			"alert_id": a.AlertID,
			"message":  "Remediation approved. Execution has started.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "dismissed",
		"alert_id": a.AlertID,
		"message":  "Alert dismissed. No action will be taken.",
	})
}

// writeDecision renders the approval or dismissal outcome. A decision on an
// already-resolved alert is a no-op, not an error. Returns true when the
// decision was applied.
func (h *AlertD) writeDecision(c *gin.Context, a alert.Alert, err error, decision alert.ApprovalStatus, in slack.Interaction) bool {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, alert.ErrNotPending):
		c.JSON(http.StatusOK, slack.AlreadyResolvedResponse(a.ApprovalStatus))
		return false
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return false
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}

	if decision == alert.ApprovalApproved {
		c.JSON(http.StatusOK, slack.ApprovedResponse())
	} else {
		c.JSON(http.StatusOK, slack.DismissedResponse())
	}
	if h.slack != nil && in.ResponseURL != "" {
		if err := h.slack.UpdateMessage(ctx, in.ResponseURL, a, decision, in.UserName); err != nil {
			h.logger.Warn(ctx, "slack message update failed", "alert_id", a.AlertID, "err", err)
		}
	}
	return true
}

// execute triggers a remediation run. The first (non-async) call enqueues
// the job and acknowledges immediately; the async variant performs the run
// and reports the outcome.
func (h *AlertD) execute(c *gin.Context) {
	alertID := c.Query("alert_id")
	if alertID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert_id is required"})
		return
	}
	ctx := c.Request.Context()

	if c.Query("async") != "true" {
		job := alert.ExecutionJob{
			AlertID:     alertID,
			SessionID:   c.Query("session_id"),
			ServiceName: c.Query("service_name"),
			AnalysisKey: c.Query("s3_key"),
		}
		if err := h.dispatcher.Dispatch(ctx, job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":       "accepted",
			"message":      "Execution started. You will be notified when it completes.",
			"alert_id":     alertID,
			"service_name": job.ServiceName,
			"session_id":   job.SessionID,
		})
		return
	}

	report, err := h.manager.Execute(ctx, alertID)
	switch {
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	case errors.Is(err, alert.ErrNotApproved):
		c.JSON(http.StatusConflict, gin.H{
			"status":   "FAILED",
			"alert_id": alertID,
			"message":  "Alert has not been approved for execution.",
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := "SUCCESS"
	message := "Remediation executed."
	if report.Alert.ExecutionStatus == alert.ExecutionFailed {
		status = "FAILED"
		message = "Remediation failed; see the execution log."
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"alert_id":     report.Alert.AlertID,
		"service_name": report.Alert.ServiceName,
		"session_id":   report.Alert.AgentSessionID,
		"s3_key":       report.ReportKey,
		"message":      message,
	})
}

// alertByID returns the stored alert record. An in_progress execution is the
// "still running, check back later" outcome.
func (h *AlertD) alertByID(c *gin.Context) {
	a, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, a)
	}
}

// runChecks triggers one monitor action: a body carrying a signal raises a
// single alert, an empty body runs a full sweep.
func (h *AlertD) runChecks(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not configured"})
		return
	}
	ctx := c.Request.Context()

	var sig alert.Signal
	if err := c.ShouldBindJSON(&sig); err == nil && sig.ServiceName != "" {
		a, suppressed, err := h.monitor.Raise(ctx, sig)
		switch {
		case suppressed:
			c.JSON(http.StatusOK, gin.H{"status": "suppressed", "message": "A pending alert already covers this issue."})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "created", "alert_id": a.AlertID})
		}
		return
	}

	c.JSON(http.StatusOK, h.monitor.Sweep(ctx))
}
