package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := LoadConfig()
	logger.Info("Startuji Device Simulator", "mode", cfg.Mode, "devices", cfg.DeviceCount, "interval", cfg.Interval)

	var pub Publisher
	switch cfg.Mode {
	case "http":
		pub = NewHTTPPublisher(cfg.APIURL)
	case "mqtt":
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientID).
			SetAutoReconnect(true)
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Error("Selhalo připojení k MQTT", "error", token.Error())
			os.Exit(1)
		}
		defer client.Disconnect(250)
		pub = NewMQTTPublisher(client, cfg.TopicPrefix)
	default:
		logger.Error("Neznámý MODE (http|mqtt)", "mode", cfg.Mode)
		os.Exit(1)
	}

	fleet := NewFleet(cfg.DeviceCount, rand.New(rand.NewSource(time.Now().UnixNano())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	send := func() {
		tctx, cancel := context.WithTimeout(ctx, cfg.Interval)
		defer cancel()
		errs := Tick(tctx, fleet, pub)
		for _, err := range errs {
			logger.Warn("Odeslání selhalo", "error", err)
		}
		logger.Debug("Dávka odeslána", "devices", fleet.Size(), "failed", len(errs))
	}

	// Nečekáme celý interval na první dávku.
	send()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Přijat signál ukončení, vypínám...")
			return
		case <-ticker.C:
			send()
		}
	}
}
