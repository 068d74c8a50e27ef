package main

import (
	"os"

	"github.com/joho/godotenv"
)

// Config drží nastavení Log Collectoru.
type Config struct {
	MQTTBroker   string
	MQTTClientID string

	// LogTopic: topic s wildcardem, na kterém posloucháme logy (např. "logs/#").
	LogTopic string

	// LogDir: adresář pro soubory s logy. V Dockeru typicky namapovaný volume.
	LogDir string
}

func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://mosquitto:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		LogTopic:     getEnv("LOG_TOPIC", "logs/#"),
		LogDir:       getEnv("LOG_DIR", "/var/log/env-dashboard"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
