package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
)

// Sample je jedno vygenerované měření.
type Sample struct {
	Temperature float64
	Pressure    float64
	Humidity    float64
}

// channel je jedna veličina: hodnota se náhodně "toulá" kolem základu,
// ale nikdy nevyleze z fyzikálně rozumných mezí.
type channel struct {
	value, step, min, max float64
}

func (c *channel) next(rng *rand.Rand) float64 {
	c.value += (rng.Float64()*2 - 1) * c.step
	c.value = math.Max(c.min, math.Min(c.max, c.value))
	return math.Round(c.value*10) / 10
}

type device struct {
	temperature, pressure, humidity channel
}

// Fleet drží stav všech simulovaných zařízení. Není thread-safe, volá ji jen hlavní smyčka.
type Fleet struct {
	rng     *rand.Rand
	devices []device
}

func NewFleet(n int, rng *rand.Rand) *Fleet {
	f := &Fleet{rng: rng, devices: make([]device, n)}
	for i := range f.devices {
		// Každé zařízení startuje trochu jinde, ať grafy nejsou totožné.
		f.devices[i] = device{
			temperature: channel{value: 18 + rng.Float64()*6, step: 0.3, min: -20, max: 45},
			pressure:    channel{value: 1005 + rng.Float64()*15, step: 0.5, min: 950, max: 1050},
			humidity:    channel{value: 35 + rng.Float64()*20, step: 1.0, min: 5, max: 95},
		}
	}
	return f
}

func (f *Fleet) Size() int { return len(f.devices) }

func (f *Fleet) Next(id int) Sample {
	d := &f.devices[id]
	return Sample{
		Temperature: d.temperature.next(f.rng),
		Pressure:    d.pressure.next(f.rng),
		Humidity:    d.humidity.next(f.rng),
	}
}

// Publisher odešle jedno měření jednoho zařízení.
type Publisher interface {
	Publish(ctx context.Context, deviceID int, s Sample) error
}

// --- HTTP (firmware styl) ---

type slot struct {
	Value float64 `json:"value"`
}

type positionalBody struct {
	Measurements [3]slot `json:"measurements"`
}

// HTTPPublisher posílá poziční tvar na POST /api/data/{id}, stejně jako HTTP firmware.
type HTTPPublisher struct {
	client *resty.Client
}

func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	return &HTTPPublisher{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, deviceID int, s Sample) error {
	body := positionalBody{Measurements: [3]slot{{s.Temperature}, {s.Pressure}, {s.Humidity}}}
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.Itoa(deviceID)).
		SetBody(body).
		Post("/api/data/{id}")
	if err != nil {
		return fmt.Errorf("chyba sítě: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("API vrátilo chybný status: %d (%s)", resp.StatusCode(), resp.String())
	}
	return nil
}

// --- MQTT ---

type flatBody struct {
	DeviceID    int       `json:"deviceId"`
	Temperature float64   `json:"temperature"`
	Pressure    float64   `json:"pressure"`
	Humidity    float64   `json:"humidity"`
	ReadingDate time.Time `json:"readingDate"`
}

// MQTTPublisher posílá plochý tvar na <prefix>/{id}/reading.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	now    func() time.Time
}

func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, now: time.Now}
}

func Topic(prefix string, deviceID int) string {
	return fmt.Sprintf("%s/%d/reading", prefix, deviceID)
}

func (p *MQTTPublisher) Publish(_ context.Context, deviceID int, s Sample) error {
	payload, err := json.Marshal(flatBody{
		DeviceID:    deviceID,
		Temperature: s.Temperature,
		Pressure:    s.Pressure,
		Humidity:    s.Humidity,
		ReadingDate: p.now().UTC(),
	})
	if err != nil {
		return err
	}
	token := p.client.Publish(Topic(p.prefix, deviceID), 0, false, payload)
	token.Wait()
	return token.Error()
}

// Tick pošle jedno měření za každé zařízení. Chyba jednoho zařízení nezastaví ostatní.
func Tick(ctx context.Context, fleet *Fleet, pub Publisher) []error {
	var errs []error
	for id := 0; id < fleet.Size(); id++ {
		if err := pub.Publish(ctx, id, fleet.Next(id)); err != nil {
			errs = append(errs, fmt.Errorf("zařízení %d: %w", id, err))
		}
	}
	return errs
}
