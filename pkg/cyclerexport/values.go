package cyclerexport

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006/1/2 15:04",
	"01-02-06 15:04:05",
}

// row gives typed access to one record through a resolved header mapping
type row struct {
	file    string
	index   int // 1-based data row
	record  []string
	mapping map[string]int
}

func (r row) raw(field string) string {
	i, ok := r.mapping[field]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r row) fail(field, reason string) error {
	return &FormatError{File: r.file, Row: r.index, Column: field, Reason: reason}
}

// float parses a required numeric cell
func (r row) float(field string) (float64, error) {
	v, ok, err := parseFloat(r.raw(field))
	if err != nil {
		return 0, r.fail(field, err.Error())
	}
	if !ok {
		return 0, r.fail(field, "value is empty")
	}
	return v, nil
}

// optFloat parses an optional numeric cell; empty cells yield nil
func (r row) optFloat(field string) (*float64, error) {
	v, ok, err := parseFloat(r.raw(field))
	if err != nil {
		return nil, r.fail(field, err.Error())
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r row) integer(field string) (int, error) {
	v, err := r.float(field)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, r.fail(field, fmt.Sprintf("%v is not an integer", v))
	}
	return int(v), nil
}

func (r row) optTime(field string) (*time.Time, error) {
	s := r.raw(field)
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, r.fail(field, err.Error())
	}
	return &t, nil
}

func parseFloat(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "nan") {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid number %q", s)
	}
	return v, true, nil
}

// parseTime accepts the layouts cycler software writes, plus spreadsheet
// serial dates as produced by xlsx exports.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		return excelize.ExcelDateToTime(serial, false)
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
