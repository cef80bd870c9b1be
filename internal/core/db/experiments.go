package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

var experimentColumns = []string{
	"id", "name", "COALESCE(description, '')", "COALESCE(battery_type, '')", "nominal_capacity",
	"COALESCE(cell_ref, '')", "COALESCE(machine_ref, '')", "COALESCE(operator, '')",
	"temperature_avg", "temperature_min", "temperature_max",
	"start_date", "end_date", "COALESCE(soc_reference_step, 0)", "metadata",
	"COALESCE(ingestion_id, '')", "created_at",
}

var stepColumns = []string{
	"experiment_id", "step_number", "step_type", "original_step_type", "start_time", "end_time",
	"duration", "voltage_start", "voltage_end", "current", "capacity", "energy",
	"total_capacity", "power", "temperature_start", "temperature_end",
	"temperature_min", "temperature_max", "temperature_avg",
	"c_rate", "soc_start", "soc_end", "ocv", "pre_test_rest_time", "annotation",
}

// CreateExperiment inserts the experiment and all of its steps in one
// transaction and sets end_date from the last step end. Step IDs are not
// returned; callers resolve them with StepIDs once committed.
func (db *DB) CreateExperiment(ctx context.Context, exp *models.Experiment, steps []models.Step) (int64, error) {
	if err := exp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid experiment: %w", err)
	}
	metadata, err := json.Marshal(exp.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	var experimentID int64
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := sq.Insert("experiments").
			Columns("name", "description", "battery_type", "nominal_capacity", "cell_ref", "machine_ref",
				"operator", "temperature_avg", "temperature_min", "temperature_max", "start_date",
				"soc_reference_step", "metadata", "ingestion_id", "created_at").
			Values(exp.Name, exp.Description, exp.BatteryType, exp.NominalCapacity, exp.CellRef, exp.MachineRef,
				exp.Operator, floatArg(exp.TemperatureAvg), floatArg(exp.TemperatureMin), floatArg(exp.TemperatureMax),
				formatTime(exp.StartDate), exp.SOCReferenceStep, string(metadata), exp.IngestionID,
				formatTime(time.Now())).
			ToSql()
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert experiment: %w", err)
		}
		if experimentID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("get experiment ID: %w", err)
		}

		for _, s := range steps {
			query, args, err := sq.Insert("steps").Columns(stepColumns...).Values(stepValues(experimentID, s)...).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert step %d: %w", s.StepNumber, err)
			}
		}

		// end_date follows the last step
		_, err = tx.ExecContext(ctx, `
			UPDATE experiments
			SET end_date = (SELECT MAX(COALESCE(end_time, start_time)) FROM steps WHERE experiment_id = ?)
			WHERE id = ?
		`, experimentID, experimentID)
		if err != nil {
			return fmt.Errorf("update end date: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	exp.ID = experimentID
	return experimentID, nil
}

func stepValues(experimentID int64, s models.Step) []any {
	return []any{
		experimentID, s.StepNumber, string(s.StepType), s.OriginalStepType, formatTime(s.StartTime), formatTimePtr(s.EndTime),
		s.Duration, s.VoltageStart, s.VoltageEnd, s.Current, s.Capacity, s.Energy,
		floatArg(s.TotalCapacity), floatArg(s.Power), floatArg(s.TemperatureStart), floatArg(s.TemperatureEnd),
		floatArg(s.TemperatureMin), floatArg(s.TemperatureMax), floatArg(s.TemperatureAvg),
		s.CRate, floatArg(s.SOCStart), floatArg(s.SOCEnd), floatArg(s.OCV), floatArg(s.PreTestRestTime), s.Annotation,
	}
}

// StepIDs maps step_number to step id for an experiment
func (db *DB) StepIDs(ctx context.Context, experimentID int64) (map[int]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT step_number, id FROM steps WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[int]int64)
	for rows.Next() {
		var num int
		var id int64
		if err := rows.Scan(&num, &id); err != nil {
			return nil, err
		}
		ids[num] = id
	}
	return ids, rows.Err()
}

// ExperimentFilter narrows ListExperiments
type ExperimentFilter struct {
	Name      string // substring match
	CellRef   string
	Machine   string
	Operator  string
	After     time.Time // start_date on or after
	Before    time.Time // start_date on or before
	HasAfter  bool
	HasBefore bool
	Limit     int
}

// ExperimentSummary is a row of ListExperiments
type ExperimentSummary struct {
	ID               int64      `json:"id" yaml:"id"`
	Name             string     `json:"name" yaml:"name"`
	CellRef          string     `json:"cell_ref" yaml:"cell_ref"`
	NominalCapacity  float64    `json:"nominal_capacity" yaml:"nominal_capacity"`
	StartDate        *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	StepCount        int        `json:"step_count" yaml:"step_count"`
	MeasurementCount int        `json:"measurement_count" yaml:"measurement_count"`
}

// ListExperiments returns experiments, most recent first
func (db *DB) ListExperiments(ctx context.Context, f ExperimentFilter) ([]ExperimentSummary, error) {
	b := sq.Select(
		"e.id", "e.name", "COALESCE(e.cell_ref, '')", "e.nominal_capacity", "e.start_date", "e.end_date",
		"(SELECT COUNT(*) FROM steps s WHERE s.experiment_id = e.id)",
		"(SELECT COUNT(*) FROM measurements m JOIN steps s ON s.id = m.step_id WHERE s.experiment_id = e.id)",
	).From("experiments e").OrderBy("e.start_date DESC", "e.id DESC")

	if f.Name != "" {
		b = b.Where(sq.Like{"e.name": "%" + f.Name + "%"})
	}
	if f.CellRef != "" {
		b = b.Where(sq.Eq{"e.cell_ref": f.CellRef})
	}
	if f.Machine != "" {
		b = b.Where(sq.Eq{"e.machine_ref": f.Machine})
	}
	if f.Operator != "" {
		b = b.Where(sq.Eq{"e.operator": f.Operator})
	}
	if f.HasAfter {
		b = b.Where(sq.GtOrEq{"e.start_date": formatTime(f.After)})
	}
	if f.HasBefore {
		b = b.Where(sq.LtOrEq{"e.start_date": formatTime(f.Before)})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	b = b.Limit(uint64(limit))

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ExperimentSummary
	for rows.Next() {
		var e ExperimentSummary
		var start, end sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.CellRef, &e.NominalCapacity, &start, &end, &e.StepCount, &e.MeasurementCount); err != nil {
			return nil, err
		}
		e.StartDate = parseTime(start)
		e.EndDate = parseTime(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExperiment loads one experiment
func (db *DB) GetExperiment(ctx context.Context, id int64) (*models.Experiment, error) {
	query, args, err := sq.Select(experimentColumns...).From("experiments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var e models.Experiment
	var tAvg, tMin, tMax sql.NullFloat64
	var start, end, created, metadata sql.NullString
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(
		&e.ID, &e.Name, &e.Description, &e.BatteryType, &e.NominalCapacity,
		&e.CellRef, &e.MachineRef, &e.Operator,
		&tAvg, &tMin, &tMax,
		&start, &end, &e.SOCReferenceStep, &metadata,
		&e.IngestionID, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	e.TemperatureAvg, e.TemperatureMin, e.TemperatureMax = nullFloat(tAvg), nullFloat(tMin), nullFloat(tMax)
	if t := parseTime(start); t != nil {
		e.StartDate = *t
	}
	e.EndDate = parseTime(end)
	if t := parseTime(created); t != nil {
		e.CreatedAt = *t
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

// GetSteps loads an experiment's steps ordered by step number
func (db *DB) GetSteps(ctx context.Context, experimentID int64) ([]models.Step, error) {
	cols := append([]string{"id"}, stepColumns...)
	query, args, err := sq.Select(cols...).From("steps").
		Where(sq.Eq{"experiment_id": experimentID}).OrderBy("step_number").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var steps []models.Step
	for rows.Next() {
		var s models.Step
		var stepType string
		var original, start, end, annotation sql.NullString
		var vStart, vEnd, current, capacity, energy sql.NullFloat64
		var totalCap, power, tStart, tEnd, tMin, tMax, tAvg, cRate, socStart, socEnd, ocv, rest sql.NullFloat64
		if err := rows.Scan(
			&s.ID, &s.ExperimentID, &s.StepNumber, &stepType, &original, &start, &end,
			&s.Duration, &vStart, &vEnd, &current, &capacity, &energy,
			&totalCap, &power, &tStart, &tEnd,
			&tMin, &tMax, &tAvg,
			&cRate, &socStart, &socEnd, &ocv, &rest, &annotation,
		); err != nil {
			return nil, err
		}
		s.StepType = models.StepType(stepType)
		s.OriginalStepType = original.String
		if t := parseTime(start); t != nil {
			s.StartTime = *t
		}
		s.EndTime = parseTime(end)
		s.VoltageStart, s.VoltageEnd = vStart.Float64, vEnd.Float64
		s.Current, s.Capacity, s.Energy = current.Float64, capacity.Float64, energy.Float64
		s.TotalCapacity, s.Power = nullFloat(totalCap), nullFloat(power)
		s.TemperatureStart, s.TemperatureEnd = nullFloat(tStart), nullFloat(tEnd)
		s.TemperatureMin, s.TemperatureMax, s.TemperatureAvg = nullFloat(tMin), nullFloat(tMax), nullFloat(tAvg)
		s.CRate = cRate.Float64
		s.SOCStart, s.SOCEnd, s.OCV, s.PreTestRestTime = nullFloat(socStart), nullFloat(socEnd), nullFloat(ocv), nullFloat(rest)
		s.Annotation = annotation.String
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// UpdateStepAnnotation replaces the free-text annotation of a step
func (db *DB) UpdateStepAnnotation(ctx context.Context, experimentID int64, stepNumber int, annotation string) error {
	query, args, err := sq.Update("steps").Set("annotation", annotation).
		Where(sq.Eq{"experiment_id": experimentID, "step_number": stepNumber}).ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %d of experiment %d: %w", stepNumber, experimentID, ErrNotFound)
	}
	return nil
}

// DeleteExperiment removes an experiment. Measurements go first because
// they do not cascade from steps; steps and processed files cascade.
func (db *DB) DeleteExperiment(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM measurements
			WHERE step_id IN (SELECT id FROM steps WHERE experiment_id = ?)
		`, id); err != nil {
			return fmt.Errorf("delete measurements: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete experiment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("experiment %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// UpdateSOC rewrites SOC for every step and measurement of an experiment
// after a change of reference step, in one transaction.
func (db *DB) UpdateSOC(ctx context.Context, experimentID int64, reference int, steps []models.Step, measurements []models.Measurement) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE experiments SET soc_reference_step = ? WHERE id = ?`, reference, experimentID); err != nil {
			return fmt.Errorf("update reference step: %w", err)
		}

		stepStmt, err := tx.PrepareContext(ctx, `
			UPDATE steps SET soc_start = ?, soc_end = ?
			WHERE experiment_id = ? AND step_number = ?
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stepStmt.Close() }()
		for _, s := range steps {
			if _, err := stepStmt.ExecContext(ctx, floatArg(s.SOCStart), floatArg(s.SOCEnd), experimentID, s.StepNumber); err != nil {
				return fmt.Errorf("update step %d: %w", s.StepNumber, err)
			}
		}

		measStmt, err := tx.PrepareContext(ctx, `UPDATE measurements SET soc = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = measStmt.Close() }()
		for _, m := range measurements {
			if m.ID == 0 {
				continue
			}
			if _, err := measStmt.ExecContext(ctx, floatArg(m.SOC), m.ID); err != nil {
				return fmt.Errorf("update measurement %d: %w", m.ID, err)
			}
		}
		return nil
	})
}
