// Package httpapi exposes webhook ingress and the webhook-simulation
// endpoints over a chi router.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petrijr/flowq/internal/simulation"
	"github.com/petrijr/flowq/internal/watcher"
	"github.com/petrijr/flowq/pkg/api"
)

// DefaultMaxBodyBytes caps an inbound webhook body.
const DefaultMaxBodyBytes = 10 << 20

// Producer enqueues work produced by HTTP requests.
type Producer interface {
	EnqueueWebhook(ctx context.Context, data api.WebhookJobData) (string, error)
	EnqueueUserInteraction(ctx context.Context, data api.UserInteractionJobData) (string, error)
}

// Simulations is the simulation session lifecycle.
type Simulations interface {
	Create(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error)
	Get(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error)
	Delete(ctx context.Context, p simulation.DeleteParams) error
}

// Config wires a Server.
type Config struct {
	Producer    Producer
	Watcher     *watcher.Watcher
	Simulations Simulations
	// WebhookTimeout bounds the wait of a synchronous webhook.
	WebhookTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

type Server struct {
	producer       Producer
	watcher        *watcher.Watcher
	simulations    Simulations
	webhookTimeout time.Duration
	maxBodyBytes   int64
	logger         *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		producer:       cfg.Producer,
		watcher:        cfg.Watcher,
		simulations:    cfg.Simulations,
		webhookTimeout: cfg.WebhookTimeout,
		maxBodyBytes:   cfg.MaxBodyBytes,
		logger:         cfg.Logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/webhooks/{flowId}", func(r chi.Router) {
			r.Post("/", s.handleWebhook)
			r.Post("/sync", s.handleSyncWebhook)
			r.Post("/simulate", s.handleSimulatedWebhook)
		})
		r.Route("/webhook-simulations", func(r chi.Router) {
			r.Post("/", s.createSimulation)
			r.Get("/", s.getSimulation)
			r.Delete("/", s.deleteSimulation)
		})
		r.Post("/flow-runs/{runId}/interactions/{interaction}", s.handleInteraction)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
