package main

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Mode: "http" (poziční tvar na POST /api/data/{id}) nebo "mqtt" (plochý tvar na env/{id}/reading).
	Mode string

	APIURL string

	MQTTBroker   string
	MQTTClientID string
	TopicPrefix  string

	DeviceCount int

	// Interval odesílání (např. "10s", "1m")
	Interval time.Duration
}

func LoadConfig() Config {
	intervalStr := getEnv("SIM_INTERVAL", "10s")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil || interval <= 0 {
		interval = 10 * time.Second
	}

	devices, err := strconv.Atoi(getEnv("DEVICE_COUNT", "16"))
	if err != nil || devices < 1 {
		devices = 16
	}

	return Config{
		Mode:         getEnv("MODE", "http"),
		APIURL:       getEnv("API_URL", "http://telemetry-hub:3100"),
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://mosquitto:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "device-simulator"),
		TopicPrefix:  getEnv("TOPIC_PREFIX", "env"),
		DeviceCount:  devices,
		Interval:     interval,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
