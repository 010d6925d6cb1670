package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-aha/internal/config"
)

// Server hosts the read-only incident API over gRPC, together with the
// standard health and reflection services.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewServer listens on cfg.GRPCAddress. Serving starts with Start.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, service IncidentServiceServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}
	return newServer(cfg, logger, lis, service, opts...), nil
}

func newServer(cfg config.ServerConfig, logger *slog.Logger, lis net.Listener, service IncidentServiceServer, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			recoverUnary(logger),
			logUnary(logger),
		),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)
	gs := grpc.NewServer(serverOpts...)

	RegisterIncidentServiceServer(gs, service)
	grpc_prometheus.Register(gs)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(IncidentServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{cfg: cfg, logger: logger, grpc: gs, health: hs, listener: lis}
}

// Start blocks serving requests. It returns nil once Shutdown completes.
func (s *Server) Start() error {
	if s.grpc == nil || s.listener == nil {
		return errors.New("grpc server not initialised")
	}
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown reports NOT_SERVING to health checkers and drains in-flight calls.
// Connections still open when ctx expires are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpc == nil {
		return
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("grpc drain timed out; forcing stop")
		s.grpc.Stop()
	}
}

// Address is the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout bounds the whole shutdown sequence.
func (s *Server) GracefulTimeout() time.Duration {
	if s.cfg.GracefulTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.GracefulTimeout
}

func recoverUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panic", slog.String("method", info.FullMethod), slog.Any("panic", r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
