package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sessionauth/internal/audit"
	auditrepo "sessionauth/internal/audit/repository"
	"sessionauth/internal/config"
	"sessionauth/internal/db"
	healthhandler "sessionauth/internal/health/handler"
	identityhandler "sessionauth/internal/identity/handler"
	identityservice "sessionauth/internal/identity/service"
	"sessionauth/internal/policy/engine"
	"sessionauth/internal/ratelimit"
	"sessionauth/internal/security"
	"sessionauth/internal/server"
	"sessionauth/internal/server/middleware"
	sessionhandler "sessionauth/internal/session/handler"
	sessionrepo "sessionauth/internal/session/repository"
	sessionservice "sessionauth/internal/session/service"
	"sessionauth/internal/telemetry"
	telemetryotel "sessionauth/internal/telemetry/otel"
	"sessionauth/internal/telemetry/producer"
	userrepo "sessionauth/internal/user/repository"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "sessionauth",
		ServiceVersion: serviceVersion,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	// Key material is loaded before any listener opens; a bad key is fatal.
	keys := security.NewKeyManager(security.KeySource{PrivateKey: cfg.JWTPrivateKey, PublicKey: cfg.JWTPublicKey})
	signing, err := keys.Load()
	if err != nil {
		log.Fatalf("security: signing key: %v", err)
	}
	log.Printf("security: signing key loaded alg=%s kid=%s", signing.Alg, signing.KeyID)
	tokens := security.NewTokenProvider(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	var (
		pool      *pgxpool.Pool
		sessions  sessionrepo.Repository
		users     userrepo.Repository
		auditLogs auditrepo.Repository
		pinger    healthhandler.Pinger
	)
	switch cfg.SessionStore {
	case config.StorePostgres:
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{ConnectTimeout: 5 * time.Second})
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		sessions = sessionrepo.NewPostgresRepository(pool)
		users = userrepo.NewPostgresRepository(pool)
		auditLogs = auditrepo.NewPostgresRepository(pool)
		pinger = pool
	default:
		log.Printf("db: using in-memory store; state is lost on restart")
		sessions = sessionrepo.NewMemoryRepository()
		users = userrepo.NewMemoryRepository()
		auditLogs = auditrepo.NewMemoryRepository()
	}

	policySource, err := engine.LoadPolicyFile(cfg.AdminPolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	policy, err := engine.NewOPAEvaluator(ctx, policySource)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	var kafkaEmitter telemetry.EventEmitter
	if kafkaProducer != nil {
		kafkaEmitter = kafkaProducer
		log.Printf("telemetry: exporting security events to kafka topic=%s", cfg.SecurityEventsTopic)
	}
	auditLogger := audit.NewLogger(auditLogs)
	sink := telemetry.Fanout{
		auditLogger,
		telemetry.NewSink(telemetryotel.NewEventEmitter(providers.LoggerProvider), kafkaEmitter),
	}

	scope, err := sessionservice.ParseReplayScope(cfg.ReplayRevokeScope)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	sessionEngine := sessionservice.NewEngine(sessions, tokens, security.NewSecretHasher(security.SecretParams), sessionservice.Config{
		RefreshTTL:      cfg.RefreshTTL(),
		ReplayScope:     scope,
		RevocationCheck: cfg.AccessRevocationCheck,
	}, sink)

	authService, err := identityservice.NewAuthService(users, sessionEngine, security.NewHasher(security.PasswordParams), auditLogger)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var limiter middleware.Limiter
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rl := ratelimit.New(redisClient)
		if err := rl.Ping(ctx); err != nil {
			log.Printf("ratelimit: redis unreachable at startup, requests pass until it recovers: %v", err)
		}
		limiter = rl
	}

	health := healthhandler.NewServer(pinger, policy, tokens)
	router := server.NewRouter(server.Deps{
		Auth:          identityhandler.NewAuthHandler(authService, tokens),
		Sessions:      sessionhandler.NewServer(sessionEngine, users, policy),
		Health:        health,
		Authenticator: sessionEngine,
		Limiter:       limiter,
		LoginPerMin:   cfg.RateLimitLoginPerMin,
		RefreshPerMin: cfg.RateLimitRefreshPerMin,
		CORSOrigins:   cfg.CORSOrigins(),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	grpcServer := server.NewGRPCServer(server.GRPCOptions{Health: health, Reflection: !cfg.IsProduction()})

	go func() {
		log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	// Let in-flight async emits finish before closing their exporters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		log.Printf("kafka close: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("server stopped")
}
