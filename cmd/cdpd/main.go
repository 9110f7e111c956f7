package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbcdp/config"
	"nhbcdp/core/events"
	"nhbcdp/core/state"
	"nhbcdp/crypto"
	"nhbcdp/gateway/middleware"
	"nhbcdp/gateway/routes"
	"nhbcdp/native/cdp"
	"nhbcdp/observability"
	"nhbcdp/observability/logging"
	telemetry "nhbcdp/observability/otel"
	"nhbcdp/services/keeper"
	"nhbcdp/storage"
	"nhbcdp/storage/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to cdpd configuration (TOML or YAML)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions("cdpd", cfg.Server.Environment, logging.Options{
		Level: cfg.Server.LogLevel,
		File:  cfg.Server.LogFile,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cdpd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	telemetryOn := cfg.Telemetry.Endpoint != ""
	if telemetryOn {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "cdpd",
			Environment: cfg.Server.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			Attributes:  map[string]string{"cdp.stable": cfg.System.StableSymbol},
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.Open(cfg.Server.Storage, ledgerPath(cfg.Server))
	if err != nil {
		return err
	}
	defer db.Close()

	stream := events.NewStream()
	sink := events.Fanout{stream, observability.EventCounter{}}
	var journ *journal.Journal
	if cfg.Journal.DSN != "" {
		logger.Info("opening event journal", "driver", cfg.Journal.Driver, logging.MaskDSN("dsn", cfg.Journal.DSN))
		journ, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
		if err != nil {
			return err
		}
		defer journ.Close()
		sink = append(sink, journ)
	}

	admin, err := cfg.System.AdminAddress()
	if err != nil {
		return err
	}
	mgr := state.NewManager(db)
	if err := mgr.EnsureStateVersion(false); err != nil {
		return err
	}
	ix, err := cdp.New(mgr, cdp.Config{
		StableSymbol: cfg.System.StableSymbol,
		StableName:   cfg.System.StableName,
		Admin:        admin,
		Emitter:      sink,
		Pauses:       cfg.Pauses,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	feeds, err := bootstrap(ctx, ix, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Keeper.IntervalSeconds > 0 {
		kpr, err := startKeeper(ctx, ix, cfg, admin, logger)
		if err != nil {
			return err
		}
		if kpr != nil {
			go func() {
				if err := kpr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("keeper exited", "error", err)
				}
			}()
		}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "cdpd",
		LogRequests: true,
		Enabled:     true,
	}, logger)
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       cfg.Auth.Enabled,
		HMACSecret:    cfg.Auth.HMACSecret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		OptionalPaths: cfg.Auth.OptionalPaths,
	}, logger)
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled, callers are taken from the " + middleware.CallerHeader + " header")
	}
	limit := middleware.RateLimit{RatePerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"cdp_read":  limit,
		"cdp_write": limit,
	}, logger)

	router, err := routes.New(routes.Config{
		Interaction:   ix,
		Journal:       journ,
		Stream:        stream,
		Feeds:         feeds,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: []string{"*"}},
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	handler := http.Handler(router)
	if telemetryOn && cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(router, "cdpd")
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", listener.Addr().String(), "stable", ix.StableSymbol())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func ledgerPath(server config.Server) string {
	if server.Storage == storage.EngineBolt {
		return filepath.Join(server.DataDir, "ledger.db")
	}
	return filepath.Join(server.DataDir, "ledger")
}

// startKeeper builds the maintenance loop. It acts as the configured keeper
// address, or the administrator when none is set, and is skipped when
// neither exists.
func startKeeper(ctx context.Context, ix *cdp.Interaction, cfg config.Config, admin crypto.Address, logger *slog.Logger) (*keeper.Keeper, error) {
	address := admin
	if raw := strings.TrimSpace(cfg.Keeper.Address); raw != "" {
		decoded, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		address = decoded
	}
	if address.IsZero() {
		logger.Warn("keeper disabled, no keeper or administrator address configured")
		return nil, nil
	}
	interval := time.Duration(cfg.Keeper.IntervalSeconds) * time.Second
	kpr, err := keeper.New(ix, address, interval, keeper.WithLogger(logger.With("component", "keeper")))
	if err != nil {
		return nil, err
	}
	if err := kpr.Tick(ctx); err != nil {
		logger.Warn("initial keeper pass incomplete", "error", err)
	}
	return kpr, nil
}
