package gasmodels

import "time"

// Reading sources, used to label where a persisted reading entered the pipeline.
const (
	SourceHTTP   = "http"
	SourceBroker = "broker"
)

// SensorReading is the canonical unit of gas sensor telemetry.
// Optional measurements are pointers so that "absent" stays distinct from zero.
type SensorReading struct {
	ID         string     `json:"id,omitempty"`
	DeviceID   string     `json:"device_id"`
	RawValue   *float64   `json:"raw_value,omitempty"`
	Voltage    *float64   `json:"voltage,omitempty"`
	Resistance *float64   `json:"resistance,omitempty"`
	Ratio      *float64   `json:"ratio,omitempty"`
	AlcoholPPM float64    `json:"alcohol_ppm"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Statistics is the aggregate over every persisted reading.
type Statistics struct {
	AvgPpm float64 `json:"avgPpm"`
	MaxPpm float64 `json:"maxPpm"`
	MinPpm float64 `json:"minPpm"`
	Count  int64   `json:"count"`
}
