// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the store behind the chat API.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"letschat/internal/logging"
	"letschat/internal/observability"
)

// ServiceName is the health service name reported for the chat API.
const ServiceName = "letschat.Chat"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server serves gRPC health checks backed by periodic store pings.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	store    Pinger
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds a Server. interval <= 0 defaults to 10s.
func New(store Pinger, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{grpc: gs, health: hs, store: store, interval: interval, ctx: ctx, cancel: cancel}
}

// Check pings the store once and updates the serving status.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.store.PingContext(pingCtx); err != nil {
			logging.New("grpcserver.Check").WithError(err).Warn("store ping failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve checks health periodically and blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	ctx := s.ctx
	s.Check(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
	return s.grpc.Serve(lis)
}

// Stop marks the service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.cancel()
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
