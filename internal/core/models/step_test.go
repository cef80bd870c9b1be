package models

import (
	"testing"
	"time"
)

func TestStepValidation(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{
			name: "valid step",
			step: Step{
				StepNumber: 1,
				StepType:   StepTypeDischarge,
				StartTime:  time.Now(),
				Duration:   1800,
			},
			wantErr: false,
		},
		{
			name:    "zero step number",
			step:    Step{StepType: StepTypeRest},
			wantErr: true,
		},
		{
			name:    "unknown step type",
			step:    Step{StepNumber: 2, StepType: "CCCV"},
			wantErr: true,
		},
		{
			name:    "negative duration",
			step:    Step{StepNumber: 3, StepType: StepTypeCharge, Duration: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExperimentValidation(t *testing.T) {
	tests := []struct {
		name    string
		exp     Experiment
		wantErr bool
	}{
		{"valid experiment", Experiment{Name: "cell-07 RPT", NominalCapacity: 2.5}, false},
		{"missing name", Experiment{NominalCapacity: 2.5}, true},
		{"zero capacity", Experiment{Name: "cell-07 RPT"}, true},
		{"negative capacity", Experiment{Name: "cell-07 RPT", NominalCapacity: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
