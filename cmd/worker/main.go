// Worker consumes security events from Kafka, logs replay alerts, and forwards every event
// to the OTLP log pipeline when OTEL_EXPORTER_OTLP_ENDPOINT is set.
// Set KAFKA_BROKERS, SECURITY_EVENTS_TOPIC and KAFKA_GROUP_ID.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessionauth/internal/config"
	"sessionauth/internal/telemetry"
	telemetryotel "sessionauth/internal/telemetry/otel"
	"sessionauth/internal/telemetry/producer"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "sessionauth-worker",
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("worker: otel: %v", err)
	}
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	consumer, err := producer.NewKafkaConsumer(cfg.Brokers(), cfg.SecurityEventsTopic, cfg.KafkaGroupID)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer consumer.Close()

	log.Printf("worker: consuming from %s (group %s)", cfg.SecurityEventsTopic, cfg.KafkaGroupID)
	err = consumer.Run(ctx, func(ctx context.Context, e *telemetry.SecurityEvent) error {
		if e.IsAlert() {
			log.Printf("worker: ALERT %s user_id=%s session_id=%s affected=%d", e.Type, e.UserID, e.SessionID, len(e.Affected))
		}
		return emitter.Emit(ctx, e)
	})
	if err != nil {
		log.Printf("worker: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker: otel shutdown: %v", err)
	}
	log.Println("worker: stopped")
}
