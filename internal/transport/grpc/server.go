package transportgrpc

import (
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/arklim/bizhub-authz/internal/transport/grpc/interceptors"
	"github.com/arklim/bizhub-authz/internal/transport/grpc/server"
)

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Resolver      server.Resolver
	Verifier      interceptors.TokenVerifier
	Metrics       *interceptors.GRPCMetrics
	Tracing       *interceptors.Tracing
	Logger        *zap.Logger
	CallerCode    string   // permission callers need to query decisions
	PublicMethods []string // methods that don't require authentication
}

// Server bundles the gRPC server with its health service so callers can flip
// serving status during shutdown.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer wires gRPC services with authentication enforced through interceptors.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	public := append([]string{
		healthpb.Health_Check_FullMethodName,
	}, deps.PublicMethods...)

	authInterceptor := interceptors.NewAuthInterceptor(deps.Verifier, interceptors.AuthOptions{
		Logger:       logger,
		AllowMethods: public,
	})
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		deps.Metrics.UnaryServerInterceptor(),
		authInterceptor.UnaryServerInterceptor(),
	}

	grpcServer := grpc.NewServer(
		deps.Tracing.ServerOption(),
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
	)

	server.RegisterDecisionServiceServer(grpcServer, server.NewDecisionServer(deps.Resolver, deps.CallerCode, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.DecisionServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service for tools like Postman, grpcurl, etc.
	reflection.Register(grpcServer)

	return &Server{Server: grpcServer, Health: healthServer}, nil
}

// Shutdown marks every service as not serving and stops the server gracefully.
func (s *Server) Shutdown() {
	if s == nil {
		return
	}
	s.Health.Shutdown()
	s.GracefulStop()
}
