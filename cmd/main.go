package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "speech-relay-service/internal/api/grpc"
	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	httpapi "speech-relay-service/internal/http"
	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/metrics"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	application := app.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	obs := observability.NewServer(":"+cfg.Service.MetricsPort, application.Ready)

	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpcapi.New(metrics.DefaultMetrics)

	// Media stream sessions hang off this context rather than the signal
	// context so that shutdown can stop accepting before ending calls.
	sessionCtx, endSessions := context.WithCancel(context.Background())
	defer endSessions()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sessionCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(grpcLis)
	})
	g.Go(obs.ListenAndServe)
	grpcServer.SetServing()

	log.Info().
		Str("httpPort", cfg.Service.HTTPPort).
		Str("grpcPort", cfg.Service.GRPCPort).
		Str("metricsPort", cfg.Service.MetricsPort).
		Str("streamUrl", cfg.Service.StreamURL).
		Msg("Speech relay service started")

	// Block until a signal arrives or a server fails.
	<-gctx.Done()

	log.Info().Dur("grace", cfg.Service.ShutdownGrace).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownGrace)
	defer cancel()

	grpcServer.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	endSessions()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Application shutdown error")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown error")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
}
