package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"env-dashboard/internal/api"
	"env-dashboard/internal/hub"
	"env-dashboard/internal/ingest"
	"env-dashboard/internal/latest"
	"env-dashboard/internal/metrics"
	"env-dashboard/internal/query"
	"env-dashboard/internal/store"
)

const serviceName = "telemetry-hub"

func main() {
	cfg := LoadConfig()
	started := time.Now()

	// MQTT klient musí vzniknout dřív než logger, pokud chceme logovat i do MQTT.
	var client mqtt.Client
	var logOut io.Writer = os.Stdout
	if cfg.MQTTBroker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientID).
			SetAutoReconnect(true).
			// Perzistentní session: broker si po reconnectu pamatuje naše subscribe.
			SetCleanSession(false)
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			slog.Error("Fatal MQTT Error", "err", token.Error())
			os.Exit(1)
		}
		defer client.Disconnect(250)
		logOut = io.MultiWriter(os.Stdout, NewMqttLogWriter(client, serviceName))
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	logger.Info("Startuji Telemetry Hub", "config", cfg)

	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Úložiště
	st, err := openStore(ctx, cfg)
	if err != nil {
		fatal("Kritická chyba: Nelze otevřít úložiště", err)
	}
	defer st.Close()

	// 2. Index posledních hodnot (+ volitelně zrcadlo ve Valkey)
	var mirror latest.Mirror
	if cfg.ValkeyAddr != "" {
		rm, err := latest.NewRedisMirror(ctx, cfg.ValkeyAddr, cfg.LatestTTL)
		if err != nil {
			fatal("Kritická chyba: Nelze se připojit k Valkey", err)
		}
		defer rm.Close()
		mirror = rm
	}
	index := latest.New(st, cfg.DeviceCount, mirror, logger)
	if err := index.Warm(ctx); err != nil {
		fatal("Kritická chyba: Nelze načíst poslední hodnoty", err)
	}

	// 3. Hub, pipeline, export
	m := metrics.New(prometheus.NewRegistry())
	h := hub.New(cfg.SubscriberQueue, logger, m)

	sinks, closeSinks := buildSinks(cfg, client, logger)
	defer closeSinks()
	pipeline := ingest.NewPipeline(index, h, logger, ingest.WithSinks(sinks...), ingest.WithRecorder(m))
	go pipeline.RunExports(ctx)
	go pipeline.RunPeriodicPush(ctx, cfg.PushInterval)

	if client != nil {
		if token := client.Subscribe(cfg.InputTopic, 0, pipeline.MQTTHandler()); token.Wait() && token.Error() != nil {
			fatal("Subscribe selhal", token.Error())
		}
		logger.Info("Poslouchám na topicu", "topic", cfg.InputTopic)
	}

	// 4. HTTP
	auth, err := api.NewAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, logger)
	if err != nil {
		fatal("Kritická chyba: Nelze nastavit ověřování tokenů", err)
	}

	var accessLog io.Writer
	if cfg.AccessLog != "" {
		f, err := os.OpenFile(cfg.AccessLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fatal("Nelze otevřít access log", err)
		}
		defer f.Close()
		accessLog = f
	}

	router := api.NewRouter(pipeline, query.NewEngine(st, index), logger, api.Options{
		Auth:           auth,
		Metrics:        m,
		WebSocket:      hub.NewTransport(h, pipeline.HubHooks(), logger),
		Health:         healthHandler(started, h.Count, logger),
		AllowedOrigins: cfg.Origins(),
		AccessLog:      accessLog,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server naslouchá", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server spadl", "error", err)
			stop()
		}
	}()

	// 5. Graceful shutdown: čekáme na SIGINT/SIGTERM nebo pád serveru.
	<-ctx.Done()
	logger.Info("Ukončuji službu...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server se neukončil včas", "error", err)
	}
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), nil
	case "postgres":
		return store.NewPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("neznámý STORE_BACKEND %q (memory|postgres)", cfg.StoreBackend)
	}
}

// buildSinks zapne exporty, které mají konfiguraci. Vrací i funkci, která je uzavře.
func buildSinks(cfg Config, client mqtt.Client, logger *slog.Logger) ([]ingest.Sink, func()) {
	var sinks []ingest.Sink
	var closers []func()

	if client != nil && cfg.OutputTopic != "" {
		sinks = append(sinks, ingest.NewMQTTSink(client, cfg.OutputTopic))
	}
	if cfg.InfluxURL != "" {
		s := ingest.NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	if len(cfg.KafkaBrokers) > 0 {
		s := ingest.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, s)
		closers = append(closers, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Kafka writer se nezavřel čistě", "error", err)
			}
		})
	}

	for _, s := range sinks {
		logger.Info("Export zapnut", "sink", s.Name())
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
