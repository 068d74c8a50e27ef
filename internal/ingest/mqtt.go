package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"env-dashboard/internal/reading"
)

const mqttIngestTimeout = 5 * time.Second

// DeviceFromTopic vytáhne ID zařízení z topicu "env/{id}/reading"
// (předposlední segment, takže funguje i s jiným prefixem).
func DeviceFromTopic(topic string) (int, error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("topic %q neobsahuje ID zařízení", topic)
	}
	id, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, fmt.Errorf("topic %q neobsahuje číselné ID zařízení", topic)
	}
	return id, nil
}

// MQTTHandler vrací callback pro Subscribe. Neplatné zprávy se zalogují a zahodí,
// služba kvůli nim nekončí.
func (p *Pipeline) MQTTHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		id, err := DeviceFromTopic(msg.Topic())
		if err != nil {
			p.reject(SourceMQTT, err)
			return
		}
		r, err := reading.DecodeFlatFor(msg.Payload(), id)
		if err != nil {
			p.reject(SourceMQTT, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), mqttIngestTimeout)
		defer cancel()
		// Chybu už zalogoval Ingest.
		_, _ = p.Ingest(ctx, SourceMQTT, r)
	}
}
