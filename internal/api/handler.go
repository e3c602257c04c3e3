// Package api is the HTTP ingestion surface of findingsd.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/router"
	"github.com/djlord-it/findingsd/internal/transport/channel"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Bus queues findings for the router workers.
type Bus interface {
	EmitAll(ctx context.Context, envs []channel.Envelope) error
}

// JobRouter routes a job report synchronously.
type JobRouter interface {
	RouteBatch(ctx context.Context, jobID string, at time.Time, findings []domain.Finding) (router.BatchResult, error)
}

type Subscriptions interface {
	All() []domain.Subscription
	Get(id uuid.UUID) (domain.Subscription, bool)
}

type Triggers interface {
	List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error)
	DeleteAllForSubscription(ctx context.Context, subscriptionID uuid.UUID) error
	DeleteAllForProject(ctx context.Context, projectID string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	bus           Bus
	jobs          JobRouter
	subscriptions Subscriptions
	triggers      Triggers
	db            HealthChecker // optional
	resources     Resources     // optional
	logger        *zap.Logger
}

func NewHandler(bus Bus, jobs JobRouter, subscriptions Subscriptions, triggers Triggers, logger *zap.Logger) *Handler {
	return &Handler{
		bus:           bus,
		jobs:          jobs,
		subscriptions: subscriptions,
		triggers:      triggers,
		logger:        logger.Named("api"),
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// Routes returns a chi.Router serving the API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)
	r.Post("/findings", h.postFindings)
	r.Post("/jobs/{jobId}/findings", h.postJobFindings)

	r.Get("/subscriptions", h.listSubscriptions)
	r.Get("/subscriptions/{id}", h.getSubscription)
	r.Get("/subscriptions/{id}/triggers", h.listTriggers)
	r.Delete("/subscriptions/{id}/triggers", h.deleteSubscriptionTriggers)
	r.Delete("/projects/{projectId}/triggers", h.deleteProjectTriggers)
	if h.resources != nil {
		r.Put("/resources/blocked", h.putBlocked)
	}
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
