package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SanteonNL/mpi-mediator/healthcheck"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/mediator"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 10 * time.Second

// Start wires the mediator and serves it until ctx is cancelled or the process receives SIGINT or SIGTERM.
func Start(ctx context.Context, config Config) error {
	zerolog.SetGlobalLevel(config.LogLevel)
	// log.Ctx() falls back to the global logger for contexts without a logger
	zerolog.DefaultContextLogger = &log.Logger
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := otel.Initialize(ctx, config.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer shutdown("OpenTelemetry", tracerProvider.Shutdown)

	broker, err := messaging.New(ctx, config.Messaging)
	if err != nil {
		return fmt.Errorf("failed to create message broker: %w", err)
	}
	defer shutdown("message broker", broker.Close)

	var tokens mpi.TokenProvider
	if config.MPI.OAuth.Enabled() {
		tokens = mpi.NewOAuthTokenProvider(config.MPI.OAuth, coolfhir.NewHTTPClient(config.MPI.Timeout))
	} else {
		log.Ctx(ctx).Warn().Msg("MPI OAuth is not configured, calling the MPI without authentication")
	}
	registry, err := mpi.NewRegistry(config.MPI, coolfhir.NewHTTPClient(config.MPI.Timeout), tokens)
	if err != nil {
		return fmt.Errorf("failed to create MPI client: %w", err)
	}
	mediatorService, err := mediator.New(config.Mediator, registry, broker, config.Messaging.Topic)
	if err != nil {
		return fmt.Errorf("failed to create mediator: %w", err)
	}

	httpHandler := http.NewServeMux()
	services := []Service{
		healthcheck.New(config.Mediator.URN),
		mediatorService,
	}
	for _, service := range services {
		service.RegisterHandlers(httpHandler)
	}
	httpHandler.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:    config.Public.Address,
		Handler: otelhttp.NewHandler(httpHandler, "mpi-mediator"),
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Ctx(ctx).Info().Msgf("Public interface listens on %s", config.Public.Address)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

type Service interface {
	RegisterHandlers(mux *http.ServeMux)
}

func shutdown(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Msgf("Failed to shut down %s", name)
	}
}
