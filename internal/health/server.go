package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/grpclog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/priv-updater/internal/logger"
)

// ServiceName is the health service name of the release proxy.
// The empty name reports the same status.
const ServiceName = "priv_updater.ReleaseProxy"

// installGRPCLogger routes gRPC's own logs through zap once per process.
//
//nolint:gochecknoglobals // grpclog is process-wide and may only be set before gRPC is used.
var installGRPCLogger = sync.OnceFunc(func() {
	grpclog.SetLoggerV2(newGRPCLogger(logger.Logger().Desugar()))
})

// newGRPCLogger keeps connection chatter out of the proxy logs: only warnings and errors pass.
func newGRPCLogger(base *zap.Logger) *zapgrpc.Logger {
	return zapgrpc.NewLogger(base.WithOptions(logger.WithLevel(zapcore.WarnLevel)).Named("grpc"))
}

// Server serves gRPC health checks.
type Server struct {
	// grpcServer hosts the health service.
	grpcServer *grpc.Server
	// health tracks serving status per service name.
	health *health.Server
	// lis is the listener the server accepts on.
	lis net.Listener
	// done is closed when Serve returns.
	done chan struct{}
}

// Start listens on address and serves health checks in the background.
// The initial status is NOT_SERVING.
func Start(ctx context.Context, address string) (*Server, error) {
	installGRPCLogger()

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		lis:        lis,
		done:       make(chan struct{}),
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.SetServing(false)

	go func() {
		defer close(s.done)

		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.ErrorKV(ctx, "Health server failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Health server listening", "address", lis.Addr().String())

	return s, nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// SetServing switches the reported status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop reports NOT_SERVING to watchers and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	<-s.done
}
