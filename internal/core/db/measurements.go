package db

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

var measurementColumns = []string{
	"step_id", "execution_time", "total_time", "timestamp", "voltage", "current",
	"capacity", "energy", "temperature", "c_rate", "soc",
}

// InsertMeasurements writes a batch of measurements in one transaction.
// Every measurement must carry a resolved StepID; the batch commits or
// rolls back as a whole.
func (db *DB) InsertMeasurements(ctx context.Context, batch []models.Measurement) error {
	if len(batch) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(batch); start += db.insertChunk {
			end := min(start+db.insertChunk, len(batch))

			b := sq.Insert("measurements").Columns(measurementColumns...)
			for _, m := range batch[start:end] {
				b = b.Values(
					m.StepID, m.ExecutionTime, floatArg(m.TotalTime), formatTimePtr(m.Timestamp),
					m.Voltage, m.Current, m.Capacity, m.Energy, floatArg(m.Temperature), m.CRate, floatArg(m.SOC),
				)
			}
			query, args, err := b.ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert measurements: %w", err)
			}
		}
		return nil
	})
}

// CountMeasurements returns how many measurements are stored for an experiment
func (db *DB) CountMeasurements(ctx context.Context, experimentID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM measurements m
		JOIN steps s ON s.id = m.step_id
		WHERE s.experiment_id = ?
	`, experimentID).Scan(&n)
	return n, err
}

// GetMeasurements loads an experiment's measurements ordered by step and time.
// StepNumber is filled from the owning step.
func (db *DB) GetMeasurements(ctx context.Context, experimentID int64) ([]models.Measurement, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, m.step_id, s.step_number, m.execution_time, m.total_time, m.timestamp,
		       m.voltage, m.current, m.capacity, m.energy, m.temperature, m.c_rate, m.soc
		FROM measurements m
		JOIN steps s ON s.id = m.step_id
		WHERE s.experiment_id = ?
		ORDER BY s.step_number, m.execution_time, m.id
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Measurement
	for rows.Next() {
		var m models.Measurement
		var total, temp, soc, voltage, current, capacity, energy, cRate sql.NullFloat64
		var ts sql.NullString
		if err := rows.Scan(&m.ID, &m.StepID, &m.StepNumber, &m.ExecutionTime, &total, &ts,
			&voltage, &current, &capacity, &energy, &temp, &cRate, &soc); err != nil {
			return nil, err
		}
		m.TotalTime = nullFloat(total)
		m.Timestamp = parseTime(ts)
		m.Voltage, m.Current, m.Capacity, m.Energy = voltage.Float64, current.Float64, capacity.Float64, energy.Float64
		m.Temperature = nullFloat(temp)
		m.CRate = cRate.Float64
		m.SOC = nullFloat(soc)
		out = append(out, m)
	}
	return out, rows.Err()
}
