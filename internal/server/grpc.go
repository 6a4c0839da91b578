package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthhandler "sessionauth/internal/health/handler"
	"sessionauth/internal/server/interceptors"
)

// GRPCOptions configures the gRPC server.
type GRPCOptions struct {
	// Health serves grpc.health.v1.Health. Required.
	Health *healthhandler.Server
	// Reflection registers the server reflection service (development only).
	Reflection bool
}

// quietMethods are not logged by the logging interceptor; probes call them constantly.
var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
}

// NewGRPCServer returns a gRPC server carrying the standard health service, instrumented
// with OpenTelemetry and wrapped with recovery and logging interceptors.
func NewGRPCServer(opts GRPCOptions) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(),
			interceptors.LoggingUnary(quietMethods),
		),
	)
	RegisterServices(s, opts)
	return s
}

// RegisterServices registers the gRPC services with the given registrar.
//
//   - grpc.health.v1.Health → internal/health/handler
//   - grpc.reflection       → when opts.Reflection is set
func RegisterServices(s grpc.ServiceRegistrar, opts GRPCOptions) {
	if opts.Health != nil {
		healthpb.RegisterHealthServer(s, opts.Health)
	}
	if opts.Reflection {
		if gs, ok := s.(*grpc.Server); ok {
			reflection.Register(gs)
		}
	}
}
