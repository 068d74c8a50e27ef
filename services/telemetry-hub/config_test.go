package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"env-dashboard/internal/store"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DEVICE_COUNT", "")
	t.Setenv("SUBSCRIBER_QUEUE", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := LoadConfig()
	require.Equal(t, 16, cfg.DeviceCount)
	require.Equal(t, 64, cfg.SubscriberQueue)
	require.Equal(t, 5*time.Second, cfg.PushInterval)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, slog.LevelInfo, Config{LogLevel: "nonsense"}.Level())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DEVICE_COUNT", "4")
	t.Setenv("SUBSCRIBER_QUEUE", "-3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CLIENT_URL", "http://a.example,http://b.example")
	t.Setenv("LATEST_TTL", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig()
	require.Equal(t, "9000", cfg.HTTPPort)
	require.Equal(t, 4, cfg.DeviceCount)
	require.Equal(t, 64, cfg.SubscriberQueue, "záporná hodnota padá na výchozí")
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Origins())
	require.Equal(t, 90*time.Second, cfg.LatestTTL)
	require.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestSubscriberQueueFitsGreeting(t *testing.T) {
	t.Setenv("DEVICE_COUNT", "16")
	t.Setenv("SUBSCRIBER_QUEUE", "4")
	t.Setenv("PUSH_INTERVAL", "0")

	cfg := LoadConfig()
	require.Equal(t, 17, cfg.SubscriberQueue)
	require.Zero(t, cfg.PushInterval)

	t.Setenv("SUBSCRIBER_QUEUE", "100")
	require.Equal(t, 100, LoadConfig().SubscriberQueue)
}

func TestOpenStore(t *testing.T) {
	st, err := openStore(context.Background(), Config{StoreBackend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &store.Memory{}, st)

	_, err = openStore(context.Background(), Config{StoreBackend: "sqlite"})
	require.Error(t, err)
}

func TestBuildSinksFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sinks, closeAll := buildSinks(Config{}, nil, logger)
	require.Empty(t, sinks)
	closeAll()

	sinks, closeAll = buildSinks(Config{
		InfluxURL:    "http://influx:8086",
		KafkaBrokers: []string{"kafka:9092"},
		KafkaTopic:   "env.readings",
	}, nil, logger)
	defer closeAll()
	names := []string{}
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"influx", "kafka"}, names)
}

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := healthHandler(time.Now().Add(-time.Minute), func() int { return 2 }, logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, "ok", st.Status)
	require.Equal(t, 2, st.Subscribers)
	require.GreaterOrEqual(t, st.UptimeSeconds, 60.0)
}
