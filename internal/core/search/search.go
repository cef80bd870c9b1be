// Package search turns a free-form experiment query into a database filter.
package search

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/neilberkman/batteryetl/internal/core/db"
)

// ParseQuery extracts filters from a query string
// Supports:
//   - cell:<ref>, machine:<ref>, operator:<name>
//   - after:yesterday, before:2024-11-01, date:last-week (same as after:)
//   - limit:<n>
//
// Remaining words match the experiment name.
func ParseQuery(query string) db.ExperimentFilter {
	return parseQuery(query, time.Now())
}

func parseQuery(query string, now time.Time) db.ExperimentFilter {
	var filter db.ExperimentFilter

	// Initialize date parser with English rules
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	var nameParts []string
	for _, token := range strings.Fields(query) {
		key, value, ok := strings.Cut(token, ":")
		if !ok || value == "" {
			nameParts = append(nameParts, token)
			continue
		}

		switch strings.ToLower(key) {
		case "cell":
			filter.CellRef = value
		case "machine":
			filter.Machine = value
		case "operator":
			filter.Operator = value
		case "after", "date":
			if parsed := parseDate(w, value, now); parsed != nil {
				filter.After = *parsed
				filter.HasAfter = true
			}
		case "before":
			if parsed := parseDate(w, value, now); parsed != nil {
				filter.Before = *parsed
				filter.HasBefore = true
			}
		case "limit":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				filter.Limit = n
			}
		default:
			nameParts = append(nameParts, token)
		}
	}

	filter.Name = strings.Join(nameParts, " ")
	return filter
}

// parseDate tries fixed layouts first, then natural language
func parseDate(w *when.Parser, dateStr string, now time.Time) *time.Time {
	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
		"01/02/2006",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, dateStr, now.Location()); err == nil {
			return &t
		}
	}

	// "last-week" reads as "last week"
	result, err := w.Parse(strings.ReplaceAll(dateStr, "-", " "), now)
	if err == nil && result != nil {
		return &result.Time
	}
	return nil
}

// Experiments lists the experiments matching query, most recent first
func Experiments(ctx context.Context, database *db.DB, query string) ([]db.ExperimentSummary, error) {
	return database.ListExperiments(ctx, ParseQuery(query))
}
