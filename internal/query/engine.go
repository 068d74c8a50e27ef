// Package query obsluhuje čtecí dotazy dashboardu a mazání dat.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"env-dashboard/internal/latest"
	"env-dashboard/internal/reading"
	"env-dashboard/internal/store"
)

// MaxRange omezuje, jak daleko do minulosti lze chtít historii.
const MaxRange = 31 * 24 * time.Hour

// Entry je položka odpovědi "poslední hodnota všech zařízení".
// Zařízení bez dat se serializuje jen jako {"deviceId": n}.
type Entry struct {
	DeviceID int
	Reading  *reading.Reading
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Reading == nil {
		return json.Marshal(struct {
			DeviceID int `json:"deviceId"`
		}{e.DeviceID})
	}
	return json.Marshal(e.Reading)
}

// Engine čte přímo ze Store, poslední hodnoty z indexu, mazání jde přes index
// (aby se index nerozešel s úložištěm).
type Engine struct {
	store store.Store
	index *latest.Index
	now   func() time.Time
}

func NewEngine(st store.Store, ix *latest.Index) *Engine {
	return &Engine{store: st, index: ix, now: time.Now}
}

// LatestAll vrací pro každé zařízení 0..N-1 poslední měření nebo placeholder.
// Délka výsledku je vždy rovna počtu zařízení.
func (e *Engine) LatestAll() []Entry {
	snap := e.index.Snapshot()
	out := make([]Entry, e.index.Devices())
	for id := range out {
		out[id] = Entry{DeviceID: id}
		if r, ok := snap[id]; ok {
			out[id].Reading = &r
		}
	}
	return out
}

// Recent vrací nejvýše count posledních měření, od nejnovějšího.
func (e *Engine) Recent(ctx context.Context, deviceID, count int) ([]reading.Reading, error) {
	if !e.index.Known(deviceID) {
		return []reading.Reading{}, nil
	}
	return e.store.QueryRecent(ctx, deviceID, count)
}

// All vrací celou historii zařízení bez záruky pořadí.
func (e *Engine) All(ctx context.Context, deviceID int) ([]reading.Reading, error) {
	if !e.index.Known(deviceID) {
		return []reading.Reading{}, nil
	}
	return e.store.QueryByDevice(ctx, deviceID)
}

// History vrací měření za posledních rng (např. "24h"), od nejstaršího.
func (e *Engine) History(ctx context.Context, deviceID int, rng string) ([]reading.Reading, error) {
	d, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}
	if !e.index.Known(deviceID) {
		return []reading.Reading{}, nil
	}
	return e.store.QueryWindow(ctx, deviceID, e.now().Add(-d), time.Time{})
}

// DeleteDevice vrací false, pokud zařízení žádná data nemělo (-> 404).
func (e *Engine) DeleteDevice(ctx context.Context, deviceID int) (bool, error) {
	return e.index.Forget(ctx, deviceID)
}

func (e *Engine) DeleteAll(ctx context.Context) error {
	return e.index.Reset(ctx)
}

// ParseRange převede rozsah historie na dobu. Prázdný rozsah = 24h.
func ParseRange(rng string) (time.Duration, error) {
	if rng == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(rng)
	if err != nil {
		return 0, &reading.ValidationError{Field: "range", Reason: fmt.Sprintf("neplatný rozsah %q", rng)}
	}
	if d <= 0 || d > MaxRange {
		return 0, &reading.ValidationError{Field: "range", Reason: "rozsah mimo povolené meze"}
	}
	return d, nil
}
