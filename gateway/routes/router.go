package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nhbcdp/core/events"
	"nhbcdp/gateway/middleware"
	"nhbcdp/native/cdp"
	"nhbcdp/native/spot"
	"nhbcdp/storage/journal"
)

const (
	ScopeRead  = "cdp:read"
	ScopeWrite = "cdp:write"
	ScopeAdmin = "cdp:admin"

	rateLimitRead  = "cdp_read"
	rateLimitWrite = "cdp_write"
)

type Config struct {
	Interaction    *cdp.Interaction
	Journal        *journal.Journal
	Stream         *events.Stream
	Feeds          map[string]*spot.StaticFeed
	HealthHandler  http.Handler
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// New assembles the HTTP surface of the daemon. Each route group demands its
// own scope; paths listed as optional in the authenticator stay anonymous.
func New(cfg Config) (http.Handler, error) {
	if cfg.Interaction == nil {
		return nil, errors.New("routes: interaction not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsCfg := cfg.CORS
	if corsCfg.AllowedMethods == nil {
		corsCfg.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(corsCfg))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	api := newCDPRoutes(cfg)
	r.Route("/v1/cdp", func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware("cdp"))
		}
		sr.Group(func(g chi.Router) {
			guard(g, cfg, rateLimitRead, ScopeRead)
			api.mountRead(g)
		})
		sr.Group(func(g chi.Router) {
			guard(g, cfg, rateLimitWrite, ScopeWrite)
			api.mountWrite(g)
		})
		sr.Group(func(g chi.Router) {
			guard(g, cfg, rateLimitWrite, ScopeAdmin)
			api.mountAdmin(g)
		})
	})

	logger.Debug("gateway routes mounted", "journal", cfg.Journal != nil, "stream", cfg.Stream != nil, "auth", cfg.Authenticator != nil)
	return r, nil
}

// guard authenticates before rate limiting so buckets key on the caller.
func guard(r chi.Router, cfg Config, limitKey string, scopes ...string) {
	if cfg.Authenticator != nil {
		r.Use(cfg.Authenticator.Middleware(scopes...))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware(limitKey))
	}
}
