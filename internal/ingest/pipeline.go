// Package ingest přijímá měření ze všech vstupů (HTTP, WebSocket, MQTT),
// ukládá je přes Latest-Reading Index a rozesílá poslední hodnotu dashboardům.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"env-dashboard/internal/hub"
	"env-dashboard/internal/latest"
	"env-dashboard/internal/reading"
)

// EventNewDeviceData je událost s novou poslední hodnotou zařízení.
const EventNewDeviceData = "new_device_data"

// Zdroje měření (label metrik a logů).
const (
	SourceHTTP = "http"
	SourceWS   = "ws"
	SourceMQTT = "mqtt"
)

const (
	exportQueueSize = 256
	exportTimeout   = 5 * time.Second
)

// Broadcaster je ta část Hubu, kterou pipeline potřebuje.
type Broadcaster interface {
	BroadcastAll(event string, payload any) error
	SendTo(id, event string, payload any) error
}

// Sink je cíl, kam se uložená měření navíc exportují (MQTT, InfluxDB, Kafka).
// Export je best-effort, chyba se jen zaloguje.
type Sink interface {
	Name() string
	Export(ctx context.Context, r reading.Reading) error
}

// Recorder počítá metriky. Implementuje ho *metrics.Metrics.
type Recorder interface {
	Ingested(source string)
	Rejected(source string)
	ExportFailed(sink string)
}

type nopRecorder struct{}

func (nopRecorder) Ingested(string)     {}
func (nopRecorder) Rejected(string)     {}
func (nopRecorder) ExportFailed(string) {}

type Pipeline struct {
	index   *latest.Index
	hub     Broadcaster
	logger  *slog.Logger
	rec     Recorder
	sinks   []Sink
	exports chan reading.Reading
	now     func() time.Time
}

type Option func(*Pipeline)

func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.rec = r
		}
	}
}

// WithClock přepíše zdroj času (pro testy).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(index *latest.Index, b Broadcaster, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:   index,
		hub:     b,
		logger:  logger,
		rec:     nopRecorder{},
		exports: make(chan reading.Reading, exportQueueSize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest je jádro příjmu:
//  1. doplní čas měření, pokud chybí,
//  2. zvaliduje a uloží měření (pod zámkem zařízení v indexu),
//  3. ve stejné kritické sekci rozešle poslední hodnotu všem odběratelům,
//  4. zařadí měření do exportu.
//
// Validační chyba znamená, že se nic neuložilo ani nerozeslalo.
func (p *Pipeline) Ingest(ctx context.Context, source string, r reading.Reading) (reading.Reading, error) {
	if r.ReadingDate.IsZero() {
		r.ReadingDate = p.now().UTC()
	}

	stored, err := p.index.Commit(ctx, r, func(_, last reading.Reading) {
		// Broadcast jen řadí do front odběratelů, nikdy neblokuje.
		if err := p.hub.BroadcastAll(EventNewDeviceData, reading.NewDeviceData(last)); err != nil {
			p.logger.Error("Nelze rozeslat novou hodnotu", "device_id", last.DeviceID, "error", err)
		}
	})
	if err != nil {
		if reading.IsValidation(err) {
			p.reject(source, err)
		} else {
			p.logger.Error("Uložení měření selhalo", "source", source, "device_id", r.DeviceID, "error", err)
		}
		return reading.Reading{}, err
	}

	p.rec.Ingested(source)
	p.logger.Debug("Měření uloženo", "source", source, "device_id", stored.DeviceID)
	p.enqueueExport(stored)
	return stored, nil
}

// IngestPositional přijme poziční tvar {"measurements": [...]} pro zařízení z URL.
func (p *Pipeline) IngestPositional(ctx context.Context, deviceID int, body []byte) (reading.Reading, error) {
	r, err := reading.DecodePositional(body, deviceID)
	if err != nil {
		p.reject(SourceHTTP, err)
		return reading.Reading{}, err
	}
	return p.Ingest(ctx, SourceHTTP, r)
}

// IngestFlat přijme plochý tvar s deviceId v těle.
func (p *Pipeline) IngestFlat(ctx context.Context, source string, body []byte) (reading.Reading, error) {
	r, err := reading.DecodeFlat(body)
	if err != nil {
		p.reject(source, err)
		return reading.Reading{}, err
	}
	return p.Ingest(ctx, source, r)
}

// Greet pošle nově připojenému odběrateli poslední hodnoty všech zařízení,
// která už něco poslala, seřazené podle ID.
func (p *Pipeline) Greet(connID string) {
	for _, r := range p.latestByID() {
		if err := p.hub.SendTo(connID, EventNewDeviceData, reading.NewDeviceData(r)); err != nil {
			p.logger.Error("Nelze poslat úvodní data", "connection_id", connID, "error", err)
		}
	}
}

// RunPeriodicPush každých every rozešle všem odběratelům poslední hodnoty
// zařízení. Kdo zmeškal událost, dožene ji nejpozději v dalším kole.
// Nulový interval push vypíná.
func (p *Pipeline) RunPeriodicPush(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PushLatest()
		}
	}
}

// PushLatest rozešle jednu událost new_device_data za každé zařízení s daty.
func (p *Pipeline) PushLatest() {
	for _, r := range p.latestByID() {
		if err := p.hub.BroadcastAll(EventNewDeviceData, reading.NewDeviceData(r)); err != nil {
			p.logger.Error("Nelze rozeslat poslední hodnotu", "device_id", r.DeviceID, "error", err)
		}
	}
}

func (p *Pipeline) latestByID() []reading.Reading {
	snap := p.index.Snapshot()
	ids := make([]int, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]reading.Reading, 0, len(ids))
	for _, id := range ids {
		out = append(out, snap[id])
	}
	return out
}

// HubHooks propojí WebSocket transport s pipeline: pozdrav při připojení
// a událost "message" jako další vstup měření.
func (p *Pipeline) HubHooks() hub.Hooks {
	return hub.Hooks{
		OnConnect: func(_ context.Context, sub *hub.Subscriber) {
			p.Greet(sub.ID())
		},
		OnMessage: func(ctx context.Context, _ *hub.Subscriber, data json.RawMessage) error {
			_, err := p.IngestFlat(ctx, SourceWS, unquote(data))
			return clientError(err)
		},
	}
}

// RunExports odesílá uložená měření do sinků, dokud není ctx zrušen.
func (p *Pipeline) RunExports(ctx context.Context) {
	if len(p.sinks) == 0 {
		return
	}
	p.logger.Info("Export měření spuštěn", "sinks", len(p.sinks))
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-p.exports:
			p.export(ctx, r)
		}
	}
}

func (p *Pipeline) export(ctx context.Context, r reading.Reading) {
	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, exportTimeout)
		err := s.Export(sctx, r)
		cancel()
		if err != nil {
			p.rec.ExportFailed(s.Name())
			p.logger.Warn("Export selhal", "sink", s.Name(), "device_id", r.DeviceID, "error", err)
		}
	}
}

func (p *Pipeline) enqueueExport(r reading.Reading) {
	if len(p.sinks) == 0 {
		return
	}
	select {
	case p.exports <- r:
	default:
		p.rec.ExportFailed("queue")
		p.logger.Warn("Fronta exportu je plná, měření se neexportuje", "device_id", r.DeviceID)
	}
}

// unquote rozbalí měření poslané jako JSON řetězec ("{\"deviceId\":1,...}"),
// tak ho posílá dashboard z textového pole. Jiná data vrací beze změny.
func unquote(data json.RawMessage) json.RawMessage {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return data
	}
	return json.RawMessage(text)
}

func (p *Pipeline) reject(source string, err error) {
	p.rec.Rejected(source)
	p.logger.Warn("Měření odmítnuto", "source", source, "důvod", err)
}

// clientError převede chybu na text, který smí vidět klient.
// Detaily chyb úložiště zůstávají v logu.
func clientError(err error) error {
	if err == nil || reading.IsValidation(err) {
		return err
	}
	return errors.New("měření se nepodařilo uložit")
}
