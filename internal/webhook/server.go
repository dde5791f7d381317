// Package webhook receives tracker webhooks and dispatches them as events on
// the event bus.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/steveyegge/portalsync/internal/eventbus"
	"github.com/steveyegge/portalsync/internal/jira"
	"github.com/steveyegge/portalsync/internal/storage"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/types"
)

// Dispatcher delivers a normalized event to its handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *eventbus.Event) (*eventbus.Result, error)
}

// ProjectResolver maps the key of a remote portal project to the internal
// project its issues are copied into. It returns nil when there is none.
type ProjectResolver func(ctx context.Context, projectKey string) (*types.Project, error)

// Config holds configuration for the webhook server.
type Config struct {
	Bus    Dispatcher
	Issues tracker.IssueStore // re-reads issues before dispatch
	Links  storage.LinkStore

	// Secret enables signature checks on every webhook route when set.
	Secret []byte
	// EventTypes maps lower-cased custom event names to their IDs.
	EventTypes map[string]types.EventTypeID

	// Cloud makes the per-issue create route copy the remote issue into the
	// internal project instead of dispatching it.
	Cloud           bool
	Engine          *tracker.Engine
	InternalProject ProjectResolver

	Logger *slog.Logger
	Now    func() time.Time
}

// Server handles webhook deliveries.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	router     chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// Response is the JSON body of every webhook reply.
type Response struct {
	Success    bool     `json:"success"`
	EventType  string   `json:"event_type,omitempty"`
	IssueKey   string   `json:"issue_key,omitempty"`
	Operations []string `json:"operations,omitempty"`
	Suppressed bool     `json:"suppressed,omitempty"`
	Skipped    string   `json:"skipped,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewServer creates a webhook server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Bus == nil || cfg.Issues == nil || cfg.Links == nil {
		return nil, fmt.Errorf("webhook: bus, issue store and link store are required")
	}
	if cfg.Cloud && (cfg.Engine == nil || cfg.InternalProject == nil) {
		return nil, fmt.Errorf("webhook: cloud mode needs an engine and a project resolver")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if len(cfg.Secret) > 0 {
			r.Use(requireSignature(cfg.Secret))
		}
		r.Post("/webhooks/jira", s.handleWebhook)
		r.Route("/project/{projectKey}", func(r chi.Router) {
			r.Post("/issue/{issueKey}/create", s.handleIssueCreated)
			r.Post("/issue/{issueKey}/update", s.routeEvent(types.EventIssueUpdated))
			r.Post("/issue/{issueKey}/delete", s.routeEvent(types.EventIssueDeleted))
			r.Post("/issue/{issueKey}/comment/{commentId}/create", s.routeEvent(types.EventIssueCommented))
			r.Post("/issue/{issueKey}/comment/{commentId}/update", s.routeEvent(types.EventIssueCommentEdited))
			r.Post("/worklog/create", s.routeEvent(types.EventIssueWorklogged))
			r.Post("/worklog/update", s.routeEvent(types.EventIssueWorklogUpdated))
			r.Post("/version/{versionId}", s.handleVersion)
		})
	})
	s.router = r
	return s, nil
}

// Start serves on addr until Shutdown. Requests are traced through the global
// OpenTelemetry provider.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(s.router, "psync.webhook"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.closed = true
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWebhook handles POST /webhooks/jira. The event type comes from the payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	if p.IsVersionEvent() {
		s.versionEvent(w, r, p, p.VersionID())
		return
	}
	eventType, ok := p.EventType(s.cfg.EventTypes)
	if !ok {
		s.logger.DebugContext(r.Context(), "webhook event ignored",
			"webhook_event", p.WebhookEvent, "issue_event_type_name", p.IssueEventTypeName)
		writeJSON(w, http.StatusOK, Response{Success: true, Skipped: "unhandled event " + p.WebhookEvent})
		return
	}
	s.dispatch(w, r, p, eventType)
}

// routeEvent handles the per-resource routes, where the route names the event
// unless the payload carries a more specific issue event name.
func (s *Server) routeEvent(fallback types.EventTypeID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.readPayload(w, r)
		if !ok {
			return
		}
		eventType := fallback
		if fallback == types.EventIssueUpdated {
			if t, ok := p.EventType(s.cfg.EventTypes); ok {
				eventType = t
			}
		}
		s.dispatch(w, r, p, eventType)
	}
}

// handleIssueCreated handles POST /project/{projectKey}/issue/{issueKey}/create.
func (s *Server) handleIssueCreated(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Cloud {
		s.routeEvent(types.EventIssueCreated)(w, r)
		return
	}
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	remote := p.IssueSnapshot()
	if remote == nil {
		writeError(w, http.StatusBadRequest, "payload has no issue")
		return
	}
	projectKey := chi.URLParam(r, "projectKey")
	project, err := s.cfg.InternalProject(ctx, projectKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("resolve internal project for %s: %v", projectKey, err))
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no internal project for %s", projectKey))
		return
	}

	created, err := s.cfg.Engine.CreateInternalIssue(ctx, p.Actor(), remote, project)
	if err != nil {
		s.logger.ErrorContext(ctx, "internal issue creation failed",
			"project_key", projectKey, "issue_key", remote.Key, "error", err)
		resp := Response{Success: false, EventType: types.EventIssueCreated.String(), IssueKey: remote.Key, Error: err.Error()}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	s.logger.InfoContext(ctx, "internal issue created",
		"project_key", projectKey, "remote_key", remote.Key, "issue_key", created.Key)
	writeJSON(w, http.StatusOK, Response{Success: true, EventType: types.EventIssueCreated.String(), IssueKey: created.Key})
}

// handleVersion handles POST /project/{projectKey}/version/{versionId}.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	versionID, err := strconv.ParseInt(chi.URLParam(r, "versionId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version ID")
		return
	}
	s.versionEvent(w, r, p, versionID)
}

// versionEvent drops the links of a deleted version. Other version events are
// acknowledged without action.
func (s *Server) versionEvent(w http.ResponseWriter, r *http.Request, p *jira.WebhookPayload, versionID int64) {
	if p.WebhookEvent != jira.WebhookVersionDeleted {
		writeJSON(w, http.StatusOK, Response{Success: true, Skipped: "unhandled event " + p.WebhookEvent})
		return
	}
	if versionID <= 0 {
		writeError(w, http.StatusBadRequest, "payload has no version")
		return
	}
	if err := s.cfg.Links.RemoveVersionLinks(r.Context(), versionID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("remove links of version %d: %v", versionID, err))
		return
	}
	s.logger.InfoContext(r.Context(), "version links removed", "version_id", versionID)
	writeJSON(w, http.StatusOK, Response{Success: true})
}

// dispatch normalizes the payload into an event and runs it through the bus.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, p *jira.WebhookPayload, eventType types.EventTypeID) {
	ctx := r.Context()
	event, status, err := s.normalize(ctx, p, eventType)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	result, err := s.cfg.Bus.Dispatch(ctx, event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success:    result.OK(),
		EventType:  eventType.String(),
		IssueKey:   event.Issue.Key,
		Operations: result.Operations,
		Suppressed: result.Suppressed,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
	})
}

// normalize builds the event for a payload. The issue is re-read from the host
// except for deletions, where the payload holds the last known state.
func (s *Server) normalize(ctx context.Context, p *jira.WebhookPayload, eventType types.EventTypeID) (*eventbus.Event, int, error) {
	event := &eventbus.Event{
		Type:       eventType,
		Actor:      p.Actor(),
		Worklog:    p.WorklogSnapshot(),
		Source:     "webhook",
		ReceivedAt: s.cfg.Now(),
	}
	if eventType == types.EventIssueDeleted {
		event.Issue = p.IssueSnapshot()
		if event.Issue == nil {
			return nil, http.StatusBadRequest, fmt.Errorf("payload has no issue")
		}
	} else {
		id := p.IssueID()
		if id <= 0 {
			return nil, http.StatusBadRequest, fmt.Errorf("payload has no issue")
		}
		issue, err := s.cfg.Issues.GetIssue(ctx, id)
		if errors.Is(err, tracker.ErrIssueNotFound) {
			return nil, http.StatusNotFound, fmt.Errorf("issue %d not found", id)
		}
		if err != nil {
			return nil, http.StatusBadGateway, fmt.Errorf("read issue %d: %w", id, err)
		}
		event.Issue = issue
	}
	event.Comment = p.CommentSnapshot(event.Issue.ID)
	return event, http.StatusOK, nil
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (*jira.WebhookPayload, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	defer func() { _ = r.Body.Close() }()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	p, err := jira.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return nil, false
	}
	return p, true
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Error: message})
}
