package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/segmentio/kafka-go"

	"env-dashboard/internal/reading"
)

// --- MQTT ---

// MQTTSink publikuje uložená měření do jednoho topicu (např. pro další služby).
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, timeout: 2 * time.Second}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Export(_ context.Context, r reading.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return errors.New("MQTT publish timeout")
	}
	return token.Error()
}

// --- InfluxDB ---

// InfluxSink zapisuje měření jako bod "environment" s tagem device_id.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Export(ctx context.Context, r reading.Reading) error {
	p := influxdb2.NewPoint(
		"environment",
		map[string]string{"device_id": strconv.Itoa(r.DeviceID)},
		map[string]interface{}{
			"temperature": r.Temperature,
			"pressure":    r.Pressure,
			"humidity":    r.Humidity,
		},
		r.ReadingDate,
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("zápis do InfluxDB selhal: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}

// --- Kafka ---

// KafkaSink posílá měření do Kafka topicu. Klíčem je ID zařízení,
// takže všechna měření jednoho zařízení končí ve stejné partition (zachová pořadí).
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Export(ctx context.Context, r reading.Reading) error {
	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(r.DeviceID)),
		Value: value,
	})
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
