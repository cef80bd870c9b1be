package db

import (
	"context"
	"database/sql"
	"time"
)

// Stats represents database statistics
type Stats struct {
	TotalExperiments  int            `json:"total_experiments" yaml:"total_experiments"`
	TotalSteps        int            `json:"total_steps" yaml:"total_steps"`
	TotalMeasurements int            `json:"total_measurements" yaml:"total_measurements"`
	TotalFiles        int            `json:"total_files" yaml:"total_files"`
	OldestExperiment  time.Time      `json:"oldest_experiment" yaml:"oldest_experiment"`
	NewestExperiment  time.Time      `json:"newest_experiment" yaml:"newest_experiment"`
	MostUsedCell      string         `json:"most_used_cell" yaml:"most_used_cell"`
	MostUsedCellCount int            `json:"most_used_cell_count" yaml:"most_used_cell_count"`
	StepTypeBreakdown map[string]int `json:"step_type_breakdown" yaml:"step_type_breakdown"`
}

// GetStats returns comprehensive database statistics
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{StepTypeBreakdown: make(map[string]int)}

	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM experiments),
			(SELECT COUNT(*) FROM steps),
			(SELECT COUNT(*) FROM measurements),
			(SELECT COUNT(*) FROM processed_files)
	`).Scan(&stats.TotalExperiments, &stats.TotalSteps, &stats.TotalMeasurements, &stats.TotalFiles)
	if err != nil {
		return nil, err
	}

	if stats.TotalExperiments == 0 {
		return stats, nil
	}

	var oldest, newest sql.NullString
	err = db.conn.QueryRowContext(ctx, "SELECT MIN(start_date), MAX(COALESCE(end_date, start_date)) FROM experiments").Scan(&oldest, &newest)
	if err != nil {
		return nil, err
	}
	if t := parseTime(oldest); t != nil {
		stats.OldestExperiment = *t
	}
	if t := parseTime(newest); t != nil {
		stats.NewestExperiment = *t
	}

	var cell sql.NullString
	err = db.conn.QueryRowContext(ctx, `
		SELECT cell_ref, COUNT(*) as count
		FROM experiments
		WHERE cell_ref IS NOT NULL AND cell_ref != ''
		GROUP BY cell_ref
		ORDER BY count DESC
		LIMIT 1
	`).Scan(&cell, &stats.MostUsedCellCount)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	stats.MostUsedCell = cell.String

	rows, err := db.conn.QueryContext(ctx, "SELECT step_type, COUNT(*) FROM steps GROUP BY step_type")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.StepTypeBreakdown[t] = n
	}

	return stats, rows.Err()
}
