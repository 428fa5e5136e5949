// Package normalizer turns raw sensor payloads from HTTP bodies or broker
// messages into canonical SensorReading values. It has no side effects.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
)

// RawPayload is an untyped JSON object as produced by Decode.
type RawPayload map[string]interface{}

// DecodeError reports bytes that are not a single JSON object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a payload whose fields are missing or wrong-typed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sensor reading: %s %s", e.Field, e.Reason)
}

// IsClientError reports whether err was caused by the submitted payload itself.
func IsClientError(err error) bool {
	var decodeErr *DecodeError
	var validationErr *ValidationError
	return errors.As(err, &decodeErr) || errors.As(err, &validationErr)
}

// Decode parses message or body bytes into a RawPayload. Numbers are kept as
// json.Number so integer timestamps survive without float rounding.
func Decode(data []byte) (RawPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload RawPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if payload == nil {
		return nil, &DecodeError{Err: errors.New("payload is not a JSON object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodeError{Err: errors.New("trailing data after JSON object")}
	}
	return payload, nil
}

// Normalize validates a payload and converts it into a SensorReading.
// Timestamp is left nil when the payload has none; ID and ReceivedAt are
// assigned later, at persistence time.
func Normalize(payload RawPayload) (gasmodels.SensorReading, error) {
	var reading gasmodels.SensorReading

	deviceID, err := requiredString(payload, "device_id")
	if err != nil {
		return reading, err
	}
	reading.DeviceID = deviceID

	ppm, present, err := optionalNumber(payload, "alcohol_ppm")
	if err != nil {
		return reading, err
	}
	if !present {
		return reading, &ValidationError{Field: "alcohol_ppm", Reason: "is required"}
	}
	reading.AlcoholPPM = *ppm

	for _, field := range []struct {
		key string
		dst **float64
	}{
		{"raw_value", &reading.RawValue},
		{"voltage", &reading.Voltage},
		{"resistance", &reading.Resistance},
		{"ratio", &reading.Ratio},
	} {
		value, _, err := optionalNumber(payload, field.key)
		if err != nil {
			return reading, err
		}
		*field.dst = value
	}

	ts, err := timestamp(payload["timestamp"])
	if err != nil {
		return reading, err
	}
	reading.Timestamp = ts

	return reading, nil
}

func requiredString(payload RawPayload, key string) (string, error) {
	value, ok := payload[key]
	if !ok || value == nil {
		return "", &ValidationError{Field: key, Reason: "is required"}
	}
	s, ok := value.(string)
	if !ok {
		return "", &ValidationError{Field: key, Reason: "must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return "", &ValidationError{Field: key, Reason: "must not be empty"}
	}
	return s, nil
}

// optionalNumber returns nil, false for absent or null fields.
func optionalNumber(payload RawPayload, key string) (*float64, bool, error) {
	value, ok := payload[key]
	if !ok || value == nil {
		return nil, false, nil
	}
	f, ok := toFloat(value)
	if !ok {
		return nil, true, &ValidationError{Field: key, Reason: "must be a finite number"}
	}
	return &f, true, nil
}

func toFloat(value interface{}) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Stored timestamps must render as RFC 3339, which limits them to years 0000-9999.
var (
	minTimestampMillis = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxTimestampMillis = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1
)

var (
	errTimestampFormat = &ValidationError{Field: "timestamp", Reason: "must be epoch milliseconds or an RFC 3339 time"}
	errTimestampRange  = &ValidationError{Field: "timestamp", Reason: "must fall between years 0000 and 9999"}
)

// timestamp interprets integer-like values (numbers or numeric strings) as
// epoch milliseconds, truncating any fraction. RFC 3339 strings are also accepted.
func timestamp(value interface{}) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}

	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromMillis(ms)
		}
		if isDigits(s) {
			return nil, errTimestampRange
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t = t.UTC()
			if t.Year() < 0 || t.Year() > 9999 {
				return nil, errTimestampRange
			}
			return &t, nil
		}
		return nil, errTimestampFormat
	}

	if n, ok := value.(json.Number); ok {
		if ms, err := n.Int64(); err == nil {
			return fromMillis(ms)
		}
	}

	f, ok := toFloat(value)
	if !ok {
		return nil, errTimestampFormat
	}
	if f < float64(minTimestampMillis) || f >= float64(maxTimestampMillis)+1 {
		return nil, errTimestampRange
	}
	return fromMillis(int64(f))
}

func fromMillis(ms int64) (*time.Time, error) {
	if ms < minTimestampMillis || ms > maxTimestampMillis {
		return nil, errTimestampRange
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

// isDigits reports an optionally signed run of decimal digits.
func isDigits(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
