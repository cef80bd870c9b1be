package models

import (
	"errors"
	"time"
)

// StepType is the normalized operating mode of a step
type StepType string

const (
	StepTypeCharge    StepType = "charge"
	StepTypeDischarge StepType = "discharge"
	StepTypeRest      StepType = "rest"
	StepTypeOther     StepType = "other"
)

// Step represents one contiguous operating phase
type Step struct {
	ID               int64
	ExperimentID     int64
	StepNumber       int
	StepType         StepType
	OriginalStepType string // label as exported by the cycler
	StartTime        time.Time
	EndTime          *time.Time
	Duration         float64 // seconds
	VoltageStart     float64
	VoltageEnd       float64
	Current          float64 // A, sign as exported
	Capacity         float64 // Ah
	Energy           float64 // Wh
	TotalCapacity    *float64
	Power            *float64
	TemperatureStart *float64
	TemperatureEnd   *float64
	TemperatureMin   *float64
	TemperatureMax   *float64
	TemperatureAvg   *float64
	CRate            float64
	SOCStart         *float64
	SOCEnd           *float64
	OCV              *float64
	PreTestRestTime  *float64 // duration of the preceding step
	Annotation       string
}

// Validate checks if the step has required fields
func (s *Step) Validate() error {
	if s.StepNumber <= 0 {
		return errors.New("step_number must be positive")
	}
	switch s.StepType {
	case StepTypeCharge, StepTypeDischarge, StepTypeRest, StepTypeOther:
	default:
		return errors.New("step_type must be charge, discharge, rest or other")
	}
	if s.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

// Measurement is one sampled point of a step's detail series
type Measurement struct {
	ID            int64
	StepID        int64 // resolved at write time
	StepNumber    int   // linkage to the step table before persistence
	ExecutionTime float64
	TotalTime     *float64
	Timestamp     *time.Time
	Voltage       float64
	Current       float64
	Capacity      float64
	Energy        float64
	Temperature   *float64
	CRate         float64
	SOC           *float64
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
