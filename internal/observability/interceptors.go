// Package observability provides the metrics HTTP server and gRPC
// interceptors for metrics and logging.
package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
)

// observe records one finished RPC. Probes from load balancers hit the
// health service constantly, so everything logs at debug except failures.
func observe(ctx context.Context, m *metrics.Metrics, method string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err)
	m.RecordGRPC(method, code.String(), elapsed.Seconds())

	logger := logging.WithComponent("grpc")
	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		event = event.Str("peer", p.Addr.String())
	}
	event.
		Str("method", method).
		Str("code", code.String()).
		Dur("duration", elapsed).
		Msg("gRPC call finished")
}

// UnaryServerInterceptor returns a gRPC unary interceptor for metrics and logging.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(ctx, m, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and
// logging. Health Watch streams are the only streams served.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(ss.Context(), m, info.FullMethod, start, err)
		return err
	}
}
