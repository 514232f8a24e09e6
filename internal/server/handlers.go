package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"dployr/internal/deployment"
	"dployr/internal/history"
	"dployr/internal/project"
	"dployr/internal/security"
	"dployr/internal/webhook"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes        = 10 << 20 // 10 MiB
	RecentDeploymentsLimit = 10       // Number of recent deployments to return in status endpoint
)

var webhookIDPattern = regexp.MustCompile(`^\d+$`)

// Delivery outcomes, used as the metrics label.
const (
	outcomeInvalidID        = "invalid_id"
	outcomeNotFound         = "not_found"
	outcomeLookupError      = "lookup_error"
	outcomeUnknownProvider  = "unknown_provider"
	outcomeTooLarge         = "too_large"
	outcomeInvalidSignature = "invalid_signature"
	outcomeIgnoredEvent     = "ignored_event"
	outcomeInvalidPayload   = "invalid_payload"
	outcomeNoBranch         = "no_branch"
	outcomeBranchIgnored    = "branch_ignored"
	outcomeTriggered        = "triggered"
)

// HandleWebhook authenticates a push delivery from GitHub, GitLab or
// Bitbucket and dispatches a deploy of the registered project. The response
// never waits for the deploy.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "webhookId")
	provider := ""
	reject := func(status int, outcome, msg string) {
		s.Metrics.recordDelivery(provider, outcome)
		s.respondJSON(w, status, errorBody(msg))
	}

	if !webhookIDPattern.MatchString(rawID) {
		reject(http.StatusBadRequest, outcomeInvalidID, "Invalid webhook ID")
		return
	}

	// Digits that overflow int64 cannot name a registration.
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		reject(http.StatusNotFound, outcomeNotFound, "Webhook not found or disabled")
		return
	}

	proj, err := s.Webhooks.FindByWebhookID(r.Context(), id)
	if errors.Is(err, project.ErrWebhookNotFound) {
		reject(http.StatusNotFound, outcomeNotFound, "Webhook not found or disabled")
		return
	}
	if err != nil {
		s.Logger.Error("webhook_lookup_failed", "webhook_id", id, "error", err)
		reject(http.StatusInternalServerError, outcomeLookupError, "Internal server error")
		return
	}

	headers := webhook.NormalizeHeaders(r.Header)
	p, ok := webhook.Detect(headers)
	if !ok {
		reject(http.StatusBadRequest, outcomeUnknownProvider, "Unknown webhook provider")
		return
	}
	provider = p.Name()

	if r.ContentLength > MaxPayloadBytes {
		reject(http.StatusRequestEntityTooLarge, outcomeTooLarge, "Payload too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("webhook_read_failed", "webhook_id", id, "error", err)
		reject(http.StatusBadRequest, outcomeInvalidPayload, "Invalid JSON payload")
		return
	}
	if len(body) > MaxPayloadBytes {
		reject(http.StatusRequestEntityTooLarge, outcomeTooLarge, "Payload too large")
		return
	}

	if !p.Verify(body, headers, proj.Webhook.Secret) {
		s.Logger.Warn("webhook_signature_invalid",
			"webhook_id", id,
			"provider", provider,
			"project", proj.Key(),
			"ip", clientIP(r))
		reject(http.StatusUnauthorized, outcomeInvalidSignature, "Invalid signature")
		return
	}

	s.Logger.Info("webhook_received",
		"webhook_id", id,
		"provider", provider,
		"event", p.Event(headers),
		"project", proj.Key())

	if !p.IsPush(headers) {
		s.Metrics.recordDelivery(provider, outcomeIgnoredEvent)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Event ignored (not a push)"})
		return
	}

	push, err := p.ParsePush(body)
	if err != nil {
		s.Logger.Warn("webhook_payload_invalid", "webhook_id", id, "provider", provider, "error", err)
		reject(http.StatusBadRequest, outcomeInvalidPayload, "Invalid JSON payload")
		return
	}

	if push.Branch == "" {
		reject(http.StatusBadRequest, outcomeNoBranch, "Could not determine branch")
		return
	}

	if push.Branch != proj.Branch {
		s.Metrics.recordDelivery(provider, outcomeBranchIgnored)
		s.respondJSON(w, http.StatusOK, map[string]string{
			"message":    "Branch ignored",
			"received":   push.Branch,
			"configured": proj.Branch,
		})
		return
	}

	s.Coordinator.Dispatch(r.Context(), proj, deployment.TriggerWebhook, push.Commit.Hash)
	s.Metrics.recordDelivery(provider, outcomeTriggered)

	var commit *string
	if short := push.Commit.Short(); short != "" {
		commit = &short
	}
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"message": "Deployment triggered",
		"project": proj.Key(),
		"branch":  push.Branch,
		"commit":  commit,
	})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": s.Registry.Count(),
	})
}

// HandleStatus reports the in-flight run and recent history of a project.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "project")

	if err := security.ValidateUsername(owner); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("Invalid owner"))
		return
	}
	if err := security.ValidateProjectName(name); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("Invalid project name"))
		return
	}

	proj, err := s.Registry.Get(owner, name)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, errorBody("Unknown project"))
		return
	}

	response := map[string]any{
		"project":            proj.Key(),
		"branch":             proj.Branch,
		"active_run":         nil,
		"latest_deployment":  nil,
		"recent_deployments": []history.DeploymentRecord{},
	}

	if run, ok := s.Coordinator.Active(proj); ok {
		response["active_run"] = run
	}

	if s.History != nil {
		status, err := s.History.GetStatus(r.Context(), proj.Key(), RecentDeploymentsLimit)
		if err != nil {
			s.Logger.Error("status_history_failed", "project", proj.Key(), "error", err)
			s.respondJSON(w, http.StatusInternalServerError, errorBody("Failed to fetch deployment status"))
			return
		}
		response["latest_deployment"] = status.LatestDeployment
		response["recent_deployments"] = status.RecentHistory
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, s.Logger, statusCode, data)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
