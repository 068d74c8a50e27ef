package reading

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Reading je jedno měření (teplota, tlak, vlhkost) z jednoho zařízení.
// Po uložení se už nikdy nemění - úložiště ho může jen celé smazat.
type Reading struct {
	// Seq: pořadí vložení, přiděluje ho úložiště.
	// Rozhoduje shodu, pokud mají dvě měření stejný ReadingDate (novější vložení vyhrává).
	// Do JSONu ho neposíláme, je to čistě interní údaj.
	Seq int64 `json:"-"`

	// DeviceID: číslo zařízení v rozsahu [0, počet zařízení).
	DeviceID int `json:"deviceId"`

	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`

	// ReadingDate: čas měření. Když ho zařízení nepošle, doplní ho server při příjmu.
	ReadingDate time.Time `json:"readingDate"`
}

// Validate kontroluje, že měření lze uložit.
// devices <= 0 znamená "horní mez ID neznáme" (tak to volá úložiště).
func (r Reading) Validate(devices int) error {
	if r.DeviceID < 0 || (devices > 0 && r.DeviceID >= devices) {
		return &ValidationError{Field: "deviceId", Reason: "mimo rozsah podporovaných zařízení"}
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"temperature", r.Temperature},
		{"pressure", r.Pressure},
		{"humidity", r.Humidity},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Reason: "hodnota není konečné číslo"}
		}
	}
	if r.ReadingDate.IsZero() {
		return &ValidationError{Field: "readingDate", Reason: "chybí čas měření"}
	}
	return nil
}

// Newer vrací true, pokud r patří v pořadí "od nejnovějšího" před o.
func (r Reading) Newer(o Reading) bool {
	if !r.ReadingDate.Equal(o.ReadingDate) {
		return r.ReadingDate.After(o.ReadingDate)
	}
	return r.Seq > o.Seq
}

// SortNewestFirst seřadí měření od nejnovějšího. Řadí na místě.
func SortNewestFirst(rs []Reading) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Newer(rs[j]) })
}

// SortOldestFirst je opak SortNewestFirst (pro grafy historie).
func SortOldestFirst(rs []Reading) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[j].Newer(rs[i]) })
}

// Formatted jsou hodnoty připravené pro dashboard: čísla jako text na jedno desetinné místo.
type Formatted struct {
	Temperature string    `json:"temperature"`
	Pressure    string    `json:"pressure"`
	Humidity    string    `json:"humidity"`
	ReadingDate time.Time `json:"readingDate"`
}

// DeviceData je payload push události new_device_data.
type DeviceData struct {
	DeviceID int       `json:"deviceId"`
	Data     Formatted `json:"data"`
}

// NewDeviceData převede měření na tvar, který očekává dashboard.
func NewDeviceData(r Reading) DeviceData {
	return DeviceData{
		DeviceID: r.DeviceID,
		Data: Formatted{
			Temperature: OneDecimal(r.Temperature),
			Pressure:    OneDecimal(r.Pressure),
			Humidity:    OneDecimal(r.Humidity),
			ReadingDate: r.ReadingDate,
		},
	}
}

// OneDecimal formátuje číslo na jedno desetinné místo ("21.5").
func OneDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
