// Package api exposes manual triggers, recent results and alert operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Triggerer interface {
	Trigger(ctx context.Context, targetID int64, kind target.Kind) ([]target.Kind, error)
}

type Alerts interface {
	List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error)
	Get(ctx context.Context, id string) (*alert.Alert, error)
	Acknowledge(ctx context.Context, id string) (*alert.Alert, error)
	Resolve(ctx context.Context, id, note string) (*alert.Alert, error)
}

type RecentResults interface {
	Recent(ctx context.Context, p target.Pair, n int) ([]*result.CheckResult, error)
}

type Config struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type Server struct {
	log     *zap.Logger
	checks  Triggerer
	alerts  Alerts
	results RecentResults
	cache   RecentResults
	health  obs.HealthChecks
	origins []string
}

// NewServer builds the API. cache may be nil; results is the source of truth.
func NewServer(log *zap.Logger, checks Triggerer, alerts Alerts, results, cache RecentResults,
	health obs.HealthChecks, origins []string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		log:     log.With(zap.String("component", "api")),
		checks:  checks,
		alerts:  alerts,
		results: results,
		cache:   cache,
		health:  health,
		origins: origins,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", obs.HealthHandler(s.health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/targets/{targetID}/checks", s.handleTrigger)
		r.Get("/targets/{targetID}/results", s.handleResults)

		r.Get("/alerts", s.handleListAlerts)
		r.Get("/alerts/{alertID}", s.handleGetAlert)
		r.Post("/alerts/{alertID}/acknowledge", s.handleAcknowledge)
		r.Post("/alerts/{alertID}/resolve", s.handleResolve)
	})

	return obs.HTTPHandler(r, "api")
}

// HTTPServer wraps Router with the configured timeouts.
func (s *Server) HTTPServer(cfg Config) *http.Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		obs.WithTrace(r.Context(), s.log).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
