package interfaces

import (
	"context"
	"fmt"
	"time"

	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
)

// DefaultListLimit applies when a caller does not supply a limit.
const DefaultListLimit = 100

// ReadingQuery represents parameters for reading queries.
// A non-positive Limit means no limit. From and To bound Timestamp inclusively.
type ReadingQuery struct {
	Limit    int
	From     *time.Time
	To       *time.Time
	DeviceID string
}

// StoreError wraps any failure of the persistence store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ReadingRepository is the durable, append-only collection of sensor readings.
// Implementations must be safe for concurrent use.
type ReadingRepository interface {
	// InsertReading persists one reading and returns the store-assigned id.
	InsertReading(ctx context.Context, reading gasmodels.SensorReading) (string, error)

	// ListReadings returns readings newest first by timestamp.
	ListReadings(ctx context.Context, query ReadingQuery) ([]gasmodels.SensorReading, error)

	// GetStatistics aggregates alcohol_ppm over the whole collection.
	// An empty collection yields a zero value.
	GetStatistics(ctx context.Context) (gasmodels.Statistics, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// LatestReadingCache holds the most recent reading per device.
type LatestReadingCache interface {
	PutLatest(ctx context.Context, reading gasmodels.SensorReading) error
	GetLatest(ctx context.Context, deviceID string) (*gasmodels.SensorReading, error)
	Ping(ctx context.Context) error
	Close() error
}
