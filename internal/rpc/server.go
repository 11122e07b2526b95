// Package rpc hosts the gRPC health endpoint that load balancers and
// orchestrators probe.
package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/observability"
)

// ServiceName is the health service name reported for the docent engine.
const ServiceName = "docent.v1.Docent"

// Check probes one dependency. A nil error means serving.
type Check func(ctx context.Context) error

// Server is a gRPC server exposing grpc.health.v1 for the engine and for
// each registered dependency.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server

	log    logging.Logger
	checks map[string]Check
}

// NewServer builds the gRPC server with tracing, request-id and metrics
// interceptors. collector may be nil.
func NewServer(log logging.Logger, collector *observability.DocentCollector, checks map[string]Check) *Server {
	if log == nil {
		log = logging.Noop()
	}
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		unary = append(unary, collector.UnaryServerInterceptor())
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	if checks == nil {
		checks = map[string]Check{}
	}
	return &Server{GRPC: srv, Health: hs, log: log, checks: checks}
}

// Probe runs every dependency check once and records its status.
func (s *Server) Probe(ctx context.Context) {
	for name, check := range s.checks {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			s.log.Warn(ctx, "dependency check failed", logging.String("service", name), logging.Err(err))
		}
		s.Health.SetServingStatus(name, status)
	}
}

// Watch probes dependencies every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if len(s.checks) == 0 {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Stop marks everything NOT_SERVING and drains in-flight RPCs. Streams
// still open after grace, such as health watchers, are cut.
func (s *Server) Stop(grace time.Duration) {
	s.Health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.GRPC.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn(context.Background(), "grpc graceful stop timed out; closing open streams", logging.Duration("grace", grace))
		s.GRPC.Stop()
		<-done
	}
}
