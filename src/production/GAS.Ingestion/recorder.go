package ingestion

import (
	"context"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
)

// Clock hands out received_at instants that never go backwards within a process.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time at millisecond precision, or the previous
// value if the wall clock stepped back.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// Recorder is the persist step shared by the HTTP and broker paths.
type Recorder struct {
	repo    interfaces.ReadingRepository
	cache   interfaces.LatestReadingCache
	clock   *Clock
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewRecorder builds a Recorder. cache and m may be nil.
func NewRecorder(repo interfaces.ReadingRepository, cache interfaces.LatestReadingCache, clock *Clock, m *metrics.Metrics, log *logger.Logger) *Recorder {
	if clock == nil {
		clock = NewClock()
	}
	return &Recorder{
		repo:    repo,
		cache:   cache,
		clock:   clock,
		metrics: m,
		logger:  log,
	}
}

// Record stamps received_at, defaults a missing timestamp to it and inserts
// the reading. The returned reading carries the store id.
func (r *Recorder) Record(ctx context.Context, reading gasmodels.SensorReading, source string) (gasmodels.SensorReading, error) {
	start := time.Now()

	reading.ReceivedAt = r.clock.Now()
	if reading.Timestamp == nil {
		ts := reading.ReceivedAt
		reading.Timestamp = &ts
	}

	id, err := r.repo.InsertReading(ctx, reading)
	if r.metrics != nil {
		r.metrics.IngestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.count(source, metrics.OutcomeFailed)
		return reading, err
	}
	reading.ID = id
	r.count(source, metrics.OutcomeStored)

	if r.cache != nil {
		if err := r.cache.PutLatest(ctx, reading); err != nil {
			r.logger.Logger.Warn().Err(err).Str("device_id", reading.DeviceID).Msg("Failed to update latest reading cache")
		}
	}
	return reading, nil
}

// CountRejected records a payload that never reached the store.
func (r *Recorder) CountRejected(source, outcome string) {
	r.count(source, outcome)
}

func (r *Recorder) count(source, outcome string) {
	if r.metrics != nil {
		r.metrics.ReadingsIngested.WithLabelValues(source, outcome).Inc()
	}
}
