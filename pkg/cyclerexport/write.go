package cyclerexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// WriteTable writes t as CSV or XLSX, chosen by the extension of t.Name.
// The output reads back with ReadTable.
func WriteTable(w io.Writer, t *Table) error {
	switch strings.ToLower(filepath.Ext(t.Name)) {
	case ".xlsx":
		return WriteXLSX(w, t, "")
	case ".csv", "":
		return WriteCSV(w, t)
	default:
		return fmt.Errorf("unsupported output type %q", filepath.Ext(t.Name))
	}
}

func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.Name, err)
	}
	return nil
}

// WriteXLSX writes t to a single worksheet using the streaming writer.
// An empty sheet name keeps the default.
func WriteXLSX(w io.Writer, t *Table, sheet string) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	const defaultSheet = "Sheet1"
	if sheet == "" {
		sheet = defaultSheet
	}
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return err
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	writeRow := func(n int, rec []string) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		values := make([]any, len(rec))
		for i, v := range rec {
			values[i] = v
		}
		return sw.SetRow(cell, values)
	}

	if err := writeRow(1, t.Headers); err != nil {
		return err
	}
	for i, rec := range t.Rows {
		if err := writeRow(i+2, rec); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}
