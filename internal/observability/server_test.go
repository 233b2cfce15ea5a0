package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-relay-service/internal/observability/metrics"
)

func TestServer_Endpoints(t *testing.T) {
	var ready atomic.Bool
	s := NewServer(":0", ready.Load)
	h := s.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Errorf("expected healthz 200, got %d", rec.Code)
	}
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected readyz 503 before ready, got %d", rec.Code)
	}

	ready.Store(true)
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Errorf("expected readyz 200 when ready, got %d", rec.Code)
	}

	if rec := get("/debug/pprof/"); rec.Code != http.StatusOK {
		t.Errorf("expected pprof index 200, got %d", rec.Code)
	}

	metrics.DefaultMetrics.RecordFrame()
	rec := get("/metrics")
	if !strings.Contains(rec.Body.String(), "speech_relay_frames_received_total") {
		t.Error("expected relay metrics in /metrics output")
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	icpt := UnaryServerInterceptor(metrics.DefaultMetrics)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Call"}

	resp, err := icpt(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "resp", nil
	})
	if err != nil || resp != "resp" {
		t.Errorf("expected passthrough, got %v, %v", resp, err)
	}

	_, err = icpt(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	if status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable to pass through, got %v", err)
	}
}
