// Package grpcapi serves the relay's gRPC surface: the standard health
// service and reflection.
package grpcapi

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/metrics"
)

// ServiceName is the health service name reported for the media relay.
const ServiceName = "speech.relay.MediaStream"

// Server wraps a gRPC server with a health service whose status follows
// the relay lifecycle.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a gRPC server reporting NOT_SERVING until SetServing is called.
func New(m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: hs}
}

// SetServing marks the relay healthy.
func (s *Server) SetServing() {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING, then stops gracefully or forcibly when ctx
// expires.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("gRPC graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}
