package main

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttLogWriter implementuje io.Writer a posílá každý řádek logu do MQTT
// (topic logs/<služba>), kde ho sbírá log-collector.
type MqttLogWriter struct {
	client mqtt.Client
	topic  string
}

func NewMqttLogWriter(client mqtt.Client, serviceName string) *MqttLogWriter {
	return &MqttLogWriter{
		client: client,
		topic:  fmt.Sprintf("logs/%s", serviceName),
	}
}

// Write neblokuje: na potvrzení publikace nečekáme (fire-and-forget).
// Když je klient odpojený, řádek se zahodí, stdout ho má stejně.
func (w *MqttLogWriter) Write(p []byte) (n int, err error) {
	if !w.client.IsConnectionOpen() {
		return len(p), nil
	}

	// slog buffer p po návratu recykluje, proto kopie.
	payload := make([]byte, len(p))
	copy(payload, p)

	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
