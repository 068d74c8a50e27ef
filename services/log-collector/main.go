package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	// Collector loguje jen na stdout, do MQTT by posílal sám sobě.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := LoadConfig()
	logger.Info("Startuji Log Collector", "dir", cfg.LogDir, "topic", cfg.LogTopic)

	collector, err := NewCollector(cfg.LogDir)
	if err != nil {
		logger.Error("Kritická chyba", "error", err)
		os.Exit(1)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := collector.Append(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("Zpráva s logem zahozena", "topic", msg.Topic(), "error", err)
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetCleanSession(false)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("MQTT Connection failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	if token := client.Subscribe(cfg.LogTopic, 0, handler); token.Wait() && token.Error() != nil {
		logger.Error("Subscribe failed", "error", token.Error())
		os.Exit(1)
	}
	logger.Info("Poslouchám logy", "topic", cfg.LogTopic)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Ukončuji službu...")
}
