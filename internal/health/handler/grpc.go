package handler

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the name reported to gRPC health clients besides the empty overall name.
const ServiceName = "sessionauth"

const checkTimeout = 2 * time.Second

// Pinger checks the session store connection (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the admin policy evaluates (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// KeyChecker checks that signing key material is loaded (e.g. *security.TokenProvider).
type KeyChecker interface {
	Ready() error
}

// Server implements grpc.health.v1.Health for readiness. SERVING requires the store to
// ping, key material to load, and the admin policy to evaluate. Nil checkers are skipped.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger Pinger
	policy PolicyChecker
	keys   KeyChecker
}

// NewServer returns a new Health server.
func NewServer(pinger Pinger, policy PolicyChecker, keys KeyChecker) *Server {
	return &Server{pinger: pinger, policy: policy, keys: keys}
}

// Check reports SERVING or NOT_SERVING. Failed checks never surface as gRPC errors.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	return &healthpb.HealthCheckResponse{Status: s.status(ctx)}, nil
}

func (s *Server) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			log.Printf("health: store ping failed: %v", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.keys != nil {
		if err := s.keys.Ready(); err != nil {
			log.Printf("health: signing key unavailable: %v", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			log.Printf("health: policy check failed: %v", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
