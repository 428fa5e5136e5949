package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
)

const createReadingsTable = `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		id           BIGSERIAL PRIMARY KEY,
		device_id    TEXT NOT NULL,
		raw_value    DOUBLE PRECISION,
		voltage      DOUBLE PRECISION,
		resistance   DOUBLE PRECISION,
		ratio        DOUBLE PRECISION,
		alcohol_ppm  DOUBLE PRECISION NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		received_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sensor_readings_ts_desc ON sensor_readings (ts DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_sensor_readings_device_ts_desc ON sensor_readings (device_id, ts DESC);
`

const readingColumns = `id, device_id, raw_value, voltage, resistance, ratio, alcohol_ppm, ts, received_at`

type PostgresReadingRepository struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewPostgresReadingRepository(db *sql.DB, opTimeout time.Duration) *PostgresReadingRepository {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &PostgresReadingRepository{db: db, opTimeout: opTimeout}
}

// CreateTables creates the readings table and its indexes if they don't exist.
func (r *PostgresReadingRepository) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, createReadingsTable); err != nil {
		return &interfaces.StoreError{Op: "create tables", Err: err}
	}
	return nil
}

func (r *PostgresReadingRepository) InsertReading(ctx context.Context, reading gasmodels.SensorReading) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	ts := reading.ReceivedAt
	if reading.Timestamp != nil {
		ts = *reading.Timestamp
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sensor_readings (device_id, raw_value, voltage, resistance, ratio, alcohol_ppm, ts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		reading.DeviceID,
		nullFloat(reading.RawValue),
		nullFloat(reading.Voltage),
		nullFloat(reading.Resistance),
		nullFloat(reading.Ratio),
		reading.AlcoholPPM,
		ts.UTC(),
		reading.ReceivedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return "", &interfaces.StoreError{Op: "insert", Err: err}
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *PostgresReadingRepository) ListReadings(ctx context.Context, query interfaces.ReadingQuery) ([]gasmodels.SensorReading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	var (
		conditions []string
		args       []interface{}
	)
	if query.From != nil {
		args = append(args, query.From.UTC())
		conditions = append(conditions, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if query.To != nil {
		args = append(args, query.To.UTC())
		conditions = append(conditions, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if query.DeviceID != "" {
		args = append(args, query.DeviceID)
		conditions = append(conditions, fmt.Sprintf("device_id = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + readingColumns + " FROM sensor_readings")
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC")
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &interfaces.StoreError{Op: "find", Err: err}
	}
	defer rows.Close()

	readings := make([]gasmodels.SensorReading, 0)
	for rows.Next() {
		var (
			id                               int64
			reading                          gasmodels.SensorReading
			rawValue, voltage, resist, ratio sql.NullFloat64
			ts                               time.Time
		)
		if err := rows.Scan(&id, &reading.DeviceID, &rawValue, &voltage, &resist, &ratio,
			&reading.AlcoholPPM, &ts, &reading.ReceivedAt); err != nil {
			return nil, &interfaces.StoreError{Op: "find", Err: err}
		}
		reading.ID = strconv.FormatInt(id, 10)
		reading.RawValue = floatPtr(rawValue)
		reading.Voltage = floatPtr(voltage)
		reading.Resistance = floatPtr(resist)
		reading.Ratio = floatPtr(ratio)
		ts = ts.UTC()
		reading.Timestamp = &ts
		reading.ReceivedAt = reading.ReceivedAt.UTC()
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, &interfaces.StoreError{Op: "find", Err: err}
	}
	return readings, nil
}

func (r *PostgresReadingRepository) GetStatistics(ctx context.Context) (gasmodels.Statistics, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	var stats gasmodels.Statistics
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(alcohol_ppm), 0), COALESCE(MAX(alcohol_ppm), 0), COALESCE(MIN(alcohol_ppm), 0), COUNT(*)
		FROM sensor_readings`,
	).Scan(&stats.AvgPpm, &stats.MaxPpm, &stats.MinPpm, &stats.Count)
	if err != nil {
		return gasmodels.Statistics{}, &interfaces.StoreError{Op: "aggregate", Err: err}
	}
	return stats, nil
}

func (r *PostgresReadingRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return &interfaces.StoreError{Op: "ping", Err: err}
	}
	return nil
}

func (r *PostgresReadingRepository) Close(_ context.Context) error {
	return r.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
