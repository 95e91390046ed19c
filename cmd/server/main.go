package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/app"
	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/handlers"
	"github.com/avvvet/lgdl-runtime/internal/transport"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const cleanupInterval = time.Minute

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	log.Println("🚀 Starting LGDL Runtime...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Service: %s", cfg.ServiceName)
	log.Printf("📡 NATS URL: %s", cfg.NatsURL)
	log.Printf("🎲 Game: %s", cfg.GamePath)
	if cfg.EnableLLMMatching {
		log.Printf("🤖 LLM matching: %s/%s", cfg.LLMProvider, cfg.LLMModel)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// NATS first: the engine uses it to ask clarifications and publish
	// interactions.
	log.Println("📡 Connecting to NATS...")
	natsTransport, err := transport.NewNATSTransport(cfg, nil)
	if err != nil {
		log.Fatalf("❌ Failed to initialize NATS transport: %v", err)
	}
	defer natsTransport.Close()

	log.Println("🧠 Building dialogue engine...")
	rt, err := app.Build(cfg, app.Hooks{
		Clarifier: natsTransport,
		Sink:      natsTransport,
		Registry:  registry,
	})
	if err != nil {
		log.Fatalf("❌ Failed to build engine: %v", err)
	}
	defer rt.Close()
	log.Println("✅ Engine initialized")

	natsTransport.SetHandler(handlers.NewTurnHandler(rt.Engine))
	if err := natsTransport.Start(); err != nil {
		log.Fatalf("❌ Failed to start NATS transport: %v", err)
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(registry)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("⚠️ Metrics server stopped: %v", err)
		}
	}()
	log.Printf("📊 Metrics on %s/metrics", cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanupLoop(ctx, rt)

	log.Println("✅ LGDL Runtime is running!")
	log.Printf("👂 Listening on subject: %s", cfg.NatsTurnSubject)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Block until signal received
	sig := <-sigChan
	log.Printf("🛑 Received signal: %v", sig)
	log.Println("🔄 Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Error stopping metrics server: %v", err)
	}

	if err := natsTransport.Close(); err != nil {
		log.Printf("⚠️ Error closing NATS transport: %v", err)
	}

	if err := rt.Close(); err != nil {
		log.Printf("⚠️ Error closing engine: %v", err)
	}

	log.Println("👋 LGDL Runtime stopped")
}

func metricsMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// cleanupLoop evicts expired cache entries until ctx is done.
func cleanupLoop(ctx context.Context, rt *app.Runtime) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.State.Cleanup(ctx)
			if err != nil {
				log.Printf("⚠️ Cache cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("🧹 Evicted %d expired conversations from cache", n)
			}
		}
	}
}
