package cyclerexport

import (
	"math"
	"sort"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// bucketEpsilon absorbs float error in execution_time / interval
const bucketEpsilon = 1e-9

// DetailOptions controls detail parsing
type DetailOptions struct {
	// SampleInterval keeps one row per interval bucket within each step.
	// Zero keeps every row.
	SampleInterval float64
	// StepNumbers are the steps detail rows may reference. They are only
	// enforced when CheckOrphans is set, so an empty list rejects every row.
	StepNumbers  []int
	CheckOrphans bool
}

// ParsedDetails is the output of ParseDetails
type ParsedDetails struct {
	Measurements []models.Measurement // grouped by step, ordered by execution time
	Rows         int                  // data rows read before sampling
}

// ByStep groups the measurements by step number
func (p *ParsedDetails) ByStep() map[int][]models.Measurement {
	groups := make(map[int][]models.Measurement)
	for _, m := range p.Measurements {
		groups[m.StepNumber] = append(groups[m.StepNumber], m)
	}
	return groups
}

// ParseDetails converts a detail export into measurements. With
// opts.CheckOrphans, rows referencing a step absent from opts.StepNumbers
// fail the whole file with an *OrphanReferenceError.
func ParseDetails(t *Table, opts DetailOptions) (*ParsedDetails, error) {
	check := CheckHeaders(t.Headers, DetailHeaders)
	if !check.Valid {
		return nil, &FormatError{File: t.Name, Missing: check.Missing}
	}

	known := make(map[int]bool, len(opts.StepNumbers))
	for _, n := range opts.StepNumbers {
		known[n] = true
	}
	orphans := make(map[int]bool)
	orphanRows := 0

	measurements := make([]models.Measurement, 0, t.Len())
	for i, record := range t.Rows {
		r := row{file: t.Name, index: i + 1, record: record, mapping: check.Mapping}
		m, err := parseDetailRow(r)
		if err != nil {
			return nil, err
		}
		if opts.CheckOrphans && !known[m.StepNumber] {
			orphans[m.StepNumber] = true
			orphanRows++
			continue
		}
		measurements = append(measurements, m)
	}

	if orphanRows > 0 {
		nums := make([]int, 0, len(orphans))
		for n := range orphans {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		return nil, &OrphanReferenceError{File: t.Name, StepNumbers: nums, Rows: orphanRows}
	}

	sort.SliceStable(measurements, func(i, j int) bool {
		if measurements[i].StepNumber != measurements[j].StepNumber {
			return measurements[i].StepNumber < measurements[j].StepNumber
		}
		return measurements[i].ExecutionTime < measurements[j].ExecutionTime
	})

	return &ParsedDetails{
		Measurements: Downsample(measurements, opts.SampleInterval),
		Rows:         t.Len(),
	}, nil
}

// Downsample keeps the first measurement of each floor(execution_time /
// interval) bucket within each step. Input must be grouped by step and
// ordered by execution time. A non-positive interval returns the input.
func Downsample(measurements []models.Measurement, interval float64) []models.Measurement {
	if interval <= 0 || len(measurements) == 0 {
		return measurements
	}

	out := make([]models.Measurement, 0, len(measurements))
	lastStep := 0
	lastBucket := int64(math.MinInt64)
	for i, m := range measurements {
		bucket := int64(math.Floor(m.ExecutionTime/interval + bucketEpsilon))
		if i > 0 && m.StepNumber == lastStep && bucket == lastBucket {
			continue
		}
		out = append(out, m)
		lastStep = m.StepNumber
		lastBucket = bucket
	}
	return out
}

func parseDetailRow(r row) (models.Measurement, error) {
	var m models.Measurement
	var err error

	if m.StepNumber, err = r.integer(FieldStepNumber); err != nil {
		return m, err
	}
	if m.ExecutionTime, err = r.float(FieldExecutionTime); err != nil {
		return m, err
	}
	if m.TotalTime, err = r.optFloat(FieldTotalTime); err != nil {
		return m, err
	}
	if m.Timestamp, err = r.optTime(FieldTimestamp); err != nil {
		return m, err
	}
	if m.Voltage, err = r.float(FieldVoltage); err != nil {
		return m, err
	}
	if m.Current, err = r.float(FieldCurrent); err != nil {
		return m, err
	}
	if v, err := r.optFloat(FieldCapacity); err != nil {
		return m, err
	} else if v != nil {
		m.Capacity = *v
	}
	if v, err := r.optFloat(FieldEnergy); err != nil {
		return m, err
	} else if v != nil {
		m.Energy = *v
	}
	if m.Temperature, err = r.optFloat(FieldTemperature); err != nil {
		return m, err
	}
	return m, nil
}
