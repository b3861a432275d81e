// Package server provides the shared service lifecycle runner.
// cmd/ services delegate to server.Run for signal handling, config
// loading, observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/musicroom/internal/config"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/observability"
)

// Deps are handed to a service's Setup once config and logging exist.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger
}

// Service is what Setup builds: the routes to serve and the resources to
// release after the HTTP server has drained.
type Service struct {
	Handler http.Handler
	Close   func(ctx context.Context) error
}

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "chat").
	Name string

	// PortFromConfig extracts the HTTP port for this service from config.
	PortFromConfig func(cfg *config.Config) int

	// Setup wires the service. Nil serves only /healthz.
	Setup func(ctx context.Context, deps Deps) (*Service, error)
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, service setup, HTTP server with health
// checks, and graceful shutdown. If ln is non-nil, it is used instead of
// creating a new listener from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logging with secret redaction
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> service -> HTTP server ---

	otelCfg := observability.OTELConfig{
		ServiceName:    serviceName(cfg, p.Name),
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		SampleRatio:    cfg.OTEL.SampleRatio,
	}
	tracerProvider, err := observability.InitTracer(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, otelCfg)
	if err != nil {
		return errors.Join(fmt.Errorf("initialize metrics: %w", err), shutdownOTEL(logger, nil, tracerProvider))
	}

	svc := &Service{}
	if p.Setup != nil {
		svc, err = p.Setup(ctx, Deps{Config: cfg, Logger: logger})
		if err != nil {
			return errors.Join(fmt.Errorf("setup %s: %w", p.Name, err), shutdownOTEL(logger, metricsProvider, tracerProvider))
		}
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	})
	if svc.Handler != nil {
		r.Mount("/", svc.Handler)
	}

	// Bind listener (use injected listener or create from config).
	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", p.PortFromConfig(cfg)))
		if err != nil {
			return errors.Join(fmt.Errorf("listen: %w", err), closeService(svc), shutdownOTEL(logger, metricsProvider, tracerProvider))
		}
	}

	// No WriteTimeout: websocket connections set their own deadlines.
	server := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: Serve HTTP
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Goroutine 2: Shutdown trigger. Waits for context cancellation, then
	// drains in reverse startup order: HTTP server -> service -> metrics -> tracer.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down: health checks return 503
		shuttingDown.Store(true)

		// 2. Drain delay: let load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain HTTP server
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Release service resources (rooms, sockets, clients)
		if closeErr := closeService(svc); closeErr != nil {
			logger.Error("service shutdown error", slog.String("error", closeErr.Error()))
		}

		// 5. Flush OTEL
		_ = shutdownOTEL(logger, metricsProvider, tracerProvider)

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

func serviceName(cfg *config.Config, fallback string) string {
	if cfg.OTEL.ServiceName != "" {
		return cfg.OTEL.ServiceName
	}
	return fallback
}

func closeService(svc *Service) error {
	if svc == nil || svc.Close == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
	defer cancel()
	return svc.Close(ctx)
}

// shutdownOTEL flushes metrics first, then the tracer. Nil providers are
// skipped.
func shutdownOTEL(logger *slog.Logger, mp *observability.MetricsProvider, tp *observability.TracerProvider) error {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer cancel()

	if err := observability.Shutdown(ctx, mp, tp); err != nil {
		logger.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
		return err
	}
	return nil
}
