package models

import (
	"errors"
	"time"
)

// Experiment represents one cycler test run
type Experiment struct {
	ID               int64
	Name             string
	Description      string
	BatteryType      string
	NominalCapacity  float64 // Ah
	CellRef          string
	MachineRef       string
	Operator         string
	TemperatureAvg   *float64
	TemperatureMin   *float64
	TemperatureMax   *float64
	StartDate        time.Time
	EndDate          *time.Time
	SOCReferenceStep int            // step_number anchoring SOC, 0 when unset
	Metadata         map[string]any // stored as JSON
	IngestionID      string         // UUID of the ingestion run
	CreatedAt        time.Time
}

// Validate checks if the experiment has required fields
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return errors.New("name is required")
	}
	if e.NominalCapacity <= 0 {
		return errors.New("nominal_capacity must be positive")
	}
	return nil
}

// FileKind distinguishes the two cycler exports
type FileKind string

const (
	FileKindStep   FileKind = "step"
	FileKindDetail FileKind = "detail"
)

// ProcessedFile is the dedup record of an ingested input file
type ProcessedFile struct {
	ID           int64
	ContentHash  string // SHA256 hex of the raw bytes
	Filename     string
	Kind         FileKind
	RowCount     int
	ExperimentID int64
	IngestionID  string
	ProcessedAt  time.Time
}
