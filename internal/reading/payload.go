package reading

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// Zařízení posílají měření ve dvou tvarech:
//
//	ploché:  {"deviceId": 3, "temperature": 21.5, "pressure": 1013.2, "humidity": 40.0}
//	poziční: {"measurements": [{"value": 21.5}, {"value": 1013.2}, {"value": 40.0}]}
//
// Poziční tvar posílá HTTP firmware, ID zařízení je v URL. Starší verze firmwaru
// používají místo "measurements" klíč "air". Pořadí slotů určuje PositionalFields.
var PositionalFields = [3]string{"temperature", "pressure", "humidity"}

type slot struct {
	Value json.RawMessage `json:"value"`
}

// payload je společný "volný" tvar. Každé pole necháváme jako RawMessage,
// abychom rozlišili chybějící hodnotu od hodnoty špatného typu.
type payload struct {
	DeviceID     json.RawMessage `json:"deviceId"`
	Temperature  json.RawMessage `json:"temperature"`
	Pressure     json.RawMessage `json:"pressure"`
	Humidity     json.RawMessage `json:"humidity"`
	ReadingDate  json.RawMessage `json:"readingDate"`
	Measurements []slot          `json:"measurements"`
	Air          []slot          `json:"air"`
}

// DecodeFlat přečte plochý tvar, deviceId je povinné.
func DecodeFlat(data []byte) (Reading, error) {
	p, err := parse(data)
	if err != nil {
		return Reading{}, err
	}
	if isMissing(p.DeviceID) {
		return Reading{}, &ValidationError{Field: "deviceId", Reason: "chybí"}
	}
	id, err := decodeDeviceID(p.DeviceID)
	if err != nil {
		return Reading{}, err
	}
	return p.flat(id)
}

// DecodeFlatFor přečte plochý tvar pro zařízení, jehož ID známe odjinud (URL, MQTT topic).
// deviceId v těle je nepovinné, ale pokud je uvedeno, musí souhlasit.
func DecodeFlatFor(data []byte, deviceID int) (Reading, error) {
	p, err := parse(data)
	if err != nil {
		return Reading{}, err
	}
	if err := p.checkDevice(deviceID); err != nil {
		return Reading{}, err
	}
	return p.flat(deviceID)
}

// DecodePositional přečte poziční tvar (measurements / air).
func DecodePositional(data []byte, deviceID int) (Reading, error) {
	p, err := parse(data)
	if err != nil {
		return Reading{}, err
	}
	if err := p.checkDevice(deviceID); err != nil {
		return Reading{}, err
	}

	slots := p.Measurements
	if slots == nil {
		slots = p.Air
	}
	if len(slots) != len(PositionalFields) {
		return Reading{}, &ValidationError{Field: "measurements", Reason: "očekávány přesně 3 hodnoty"}
	}

	var vals [3]float64
	for i, name := range PositionalFields {
		v, err := decodeNumber(slots[i].Value, name)
		if err != nil {
			return Reading{}, err
		}
		vals[i] = v
	}

	r := Reading{DeviceID: deviceID, Temperature: vals[0], Pressure: vals[1], Humidity: vals[2]}
	if r.ReadingDate, err = decodeDate(p.ReadingDate); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func parse(data []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return payload{}, &ValidationError{Field: "payload", Reason: "neplatný JSON: " + err.Error()}
	}
	return p, nil
}

func (p payload) checkDevice(deviceID int) error {
	if isMissing(p.DeviceID) {
		return nil
	}
	id, err := decodeDeviceID(p.DeviceID)
	if err != nil {
		return err
	}
	if id != deviceID {
		return &ValidationError{Field: "deviceId", Reason: "neodpovídá zařízení z adresy"}
	}
	return nil
}

func (p payload) flat(deviceID int) (Reading, error) {
	r := Reading{DeviceID: deviceID}
	var err error
	if r.Temperature, err = decodeNumber(p.Temperature, "temperature"); err != nil {
		return Reading{}, err
	}
	if r.Pressure, err = decodeNumber(p.Pressure, "pressure"); err != nil {
		return Reading{}, err
	}
	if r.Humidity, err = decodeNumber(p.Humidity, "humidity"); err != nil {
		return Reading{}, err
	}
	if r.ReadingDate, err = decodeDate(p.ReadingDate); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func isMissing(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeNumber přijímá jen JSON číslo. Text "21.5" je chyba (nečíselná hodnota).
func decodeNumber(raw json.RawMessage, field string) (float64, error) {
	if isMissing(raw) {
		return 0, &ValidationError{Field: field, Reason: "chybí"}
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &ValidationError{Field: field, Reason: "není číslo"}
	}
	return v, nil
}

// decodeDeviceID přijímá celé číslo nebo číselný text ("14"), protože
// webové klienty často posílají ID tak, jak ho přečetly z URL.
func decodeDeviceID(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, &ValidationError{Field: "deviceId", Reason: "není celé číslo"}
}

// decodeDate: chybějící datum vrací nulový čas (doplní ho ingestion pipeline).
func decodeDate(raw json.RawMessage) (time.Time, error) {
	if isMissing(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, &ValidationError{Field: "readingDate", Reason: "očekáván ISO 8601 text"}
	}
	parsed, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "readingDate", Reason: "neplatný ISO 8601 čas"}
	}
	return parsed.UTC(), nil
}
