package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for the orders service. The health
// state outlives restarts of the underlying grpc.Server, which suture may
// recreate after a failure.
type HealthServer struct {
	addr        string
	serviceName string
	health      *health.Server
	logger      *slog.Logger
	stopTimeout time.Duration
}

func NewHealthServer(logger *slog.Logger, addr, serviceName string) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		addr:        addr,
		serviceName: serviceName,
		health:      health.NewServer(),
		logger:      logger.With("module", "grpc", "layer", "adapter"),
		stopTimeout: 5 * time.Second,
	}
}

// Check answers a health check without a network round trip.
func (s *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	if s.serviceName != "" {
		s.health.SetServingStatus(s.serviceName, status)
	}
}

func (s *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled, then reports
// NOT_SERVING and stops gracefully.
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, s.health)
	s.health.Resume()
	s.SetServing(true)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc server started", "addr", lis.Addr().String())
		errCh <- server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		s.SetServing(false)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.stopTimeout):
			s.logger.Warn("grpc graceful stop timed out", "operation", "shutdown", "outcome", "forced")
			server.Stop()
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HealthServer) String() string { return "grpc-health-server" }
