package cyclerexport

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a raw tabular export: a header row followed by data rows
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// ReadTable reads a CSV or XLSX export, chosen by file extension
func ReadTable(name string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(name, r)
	case ".csv", ".txt", "":
		return ReadCSV(name, r)
	default:
		return nil, &FormatError{File: name, Reason: fmt.Sprintf("unsupported file type %q", filepath.Ext(name))}
	}
}

// ReadCSV reads a comma separated export. A UTF-8 BOM is stripped.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	// Cycler exports pad trailing columns inconsistently
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &FormatError{File: name, Reason: fmt.Sprintf("malformed csv: %v", err)}
	}
	return newTable(name, records)
}

// ReadXLSX reads the first worksheet whose header row carries a step number
// column, or the first worksheet otherwise.
func ReadXLSX(name string, r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &FormatError{File: name, Reason: fmt.Sprintf("unreadable workbook: %v", err)}
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{File: name, Reason: "workbook has no sheets"}
	}

	var first [][]string
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if i == 0 {
			first = rows
		}
		if len(rows) > 0 {
			if _, ok := resolve(rows[0], stepNumberAliases); ok {
				return newTable(name, rows)
			}
		}
	}
	return newTable(name, first)
}

func newTable(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, &FormatError{File: name, Reason: "file is empty"}
	}
	t := &Table{Name: name, Headers: records[0]}
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
