package cyclerexport

import (
	"fmt"
	"sort"
	"time"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// ParsedSteps is the output of ParseSteps
type ParsedSteps struct {
	Steps    []models.Step // sorted by step number
	Warnings []string
	Rows     int // data rows read, including dropped duplicates
}

// StepNumbers returns the step numbers in order
func (p *ParsedSteps) StepNumbers() []int {
	nums := make([]int, len(p.Steps))
	for i, s := range p.Steps {
		nums[i] = s.StepNumber
	}
	return nums
}

// ParseSteps converts a step summary export into typed step records.
// A table with no data rows is a *FormatError. Rows whose start time
// precedes the previous row, or whose end precedes their own start, are kept
// and reported as warnings. Repeated step numbers keep the first row.
func ParseSteps(t *Table) (*ParsedSteps, error) {
	check := CheckHeaders(t.Headers, StepHeaders)
	if !check.Valid {
		return nil, &FormatError{File: t.Name, Missing: check.Missing}
	}
	if t.Len() == 0 {
		return nil, &FormatError{File: t.Name, Reason: "no step rows"}
	}

	out := &ParsedSteps{Rows: t.Len()}
	seen := make(map[int]bool, t.Len())
	noStartVoltage := make(map[int]bool)
	var prevStart time.Time

	for i, record := range t.Rows {
		r := row{file: t.Name, index: i + 1, record: record, mapping: check.Mapping}
		step, hasStartVoltage, err := parseStepRow(r)
		if err != nil {
			return nil, err
		}

		if !prevStart.IsZero() && step.StartTime.Before(prevStart) {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"row %d: step %d starts at %s, before the previous row (%s)",
				r.index, step.StepNumber, step.StartTime.Format(time.DateTime), prevStart.Format(time.DateTime)))
		}
		prevStart = step.StartTime

		if step.Duration < 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"row %d: step %d ends before it starts, duration clamped to 0", r.index, step.StepNumber))
			end := step.StartTime
			step.Duration = 0
			step.EndTime = &end
		}

		if seen[step.StepNumber] {
			out.Warnings = append(out.Warnings, fmt.Sprintf("row %d: duplicate step %d dropped", r.index, step.StepNumber))
			continue
		}
		seen[step.StepNumber] = true
		noStartVoltage[step.StepNumber] = !hasStartVoltage
		out.Steps = append(out.Steps, step)
	}

	sort.SliceStable(out.Steps, func(i, j int) bool {
		return out.Steps[i].StepNumber < out.Steps[j].StepNumber
	})

	// Backfill start voltage from the preceding step's end voltage
	for i := range out.Steps {
		if !noStartVoltage[out.Steps[i].StepNumber] {
			continue
		}
		if i > 0 {
			out.Steps[i].VoltageStart = out.Steps[i-1].VoltageEnd
		} else {
			out.Steps[i].VoltageStart = out.Steps[i].VoltageEnd
		}
	}

	return out, nil
}

func parseStepRow(r row) (models.Step, bool, error) {
	var s models.Step
	var err error
	hasStartVoltage := false

	if s.StepNumber, err = r.integer(FieldStepNumber); err != nil {
		return s, false, err
	}
	if s.StepNumber <= 0 {
		return s, false, r.fail(FieldStepNumber, "step number must be positive")
	}
	s.OriginalStepType = r.raw(FieldStepType)
	s.StepType = NormalizeStepType(s.OriginalStepType)

	start, err := r.optTime(FieldStartTime)
	if err != nil {
		return s, false, err
	}
	if start == nil {
		return s, false, r.fail(FieldStartTime, "value is empty")
	}
	s.StartTime = *start

	end, err := r.optTime(FieldEndTime)
	if err != nil {
		return s, false, err
	}
	duration, err := r.optFloat(FieldDuration)
	if err != nil {
		return s, false, err
	}
	switch {
	case end != nil:
		s.EndTime = end
		s.Duration = end.Sub(s.StartTime).Seconds()
	case duration != nil:
		s.Duration = *duration
		e := s.StartTime.Add(time.Duration(*duration * float64(time.Second)))
		s.EndTime = &e
	}

	if v, err := r.optFloat(FieldVoltageStart); err != nil {
		return s, false, err
	} else if v != nil {
		s.VoltageStart = *v
		hasStartVoltage = true
	}
	if s.VoltageEnd, err = r.float(FieldVoltageEnd); err != nil {
		return s, false, err
	}
	if s.Current, err = r.float(FieldCurrent); err != nil {
		return s, false, err
	}
	if s.Capacity, err = r.float(FieldCapacity); err != nil {
		return s, false, err
	}
	if s.Energy, err = r.float(FieldEnergy); err != nil {
		return s, false, err
	}
	if s.TotalCapacity, err = r.optFloat(FieldTotalCapacity); err != nil {
		return s, false, err
	}
	if s.Power, err = r.optFloat(FieldPower); err != nil {
		return s, false, err
	}

	temp, err := r.optFloat(FieldTemperature)
	if err != nil {
		return s, false, err
	}
	if s.TemperatureStart, err = r.optFloat(FieldTemperatureStart); err != nil {
		return s, false, err
	}
	if s.TemperatureEnd, err = r.optFloat(FieldTemperatureEnd); err != nil {
		return s, false, err
	}
	if s.TemperatureStart == nil {
		s.TemperatureStart = temp
	}
	if s.TemperatureEnd == nil {
		s.TemperatureEnd = temp
	}

	return s, hasStartVoltage, nil
}
