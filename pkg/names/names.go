// Package names loads the list of locations to select from a CSV or Excel
// master file.
package names

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// DefaultColumn holds the location names in the master file
	DefaultColumn = "Location Name"
	// RegionColumn holds each location's region
	RegionColumn = "Region"
)

var replacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2026", "...",
)

// Normalize repairs the HTML entities and typographic punctuation that
// spreadsheet exports introduce, so names match the portal's option text.
func Normalize(s string) string {
	return strings.TrimSpace(replacer.Replace(s))
}

// Table is a header plus data rows. Short rows read as empty cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Load reads a .csv or .xlsx file. CSV input may start with a UTF-8 BOM.
func Load(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path)
	case ".xlsx", ".xlsm":
		return loadXLSX(path)
	case ".xls":
		return nil, fmt.Errorf("legacy .xls files are not supported, save %s as .xlsx or .csv", filepath.Base(path))
	default:
		return nil, fmt.Errorf("file must be CSV or Excel format: %s", path)
	}
}

func loadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open names file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses CSV from r
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return fromRecords(records)
}

func loadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return fromRecords(rows)
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("file is empty")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &Table{Header: header, Rows: records[1:]}, nil
}

// Index returns the position of column, or -1
func (t *Table) Index(column string) int {
	for i, h := range t.Header {
		if h == column {
			return i
		}
	}
	return -1
}

// ResolveColumn returns column when present, otherwise the second column.
// Master files without a header match put names in column B.
func (t *Table) ResolveColumn(column string) (string, error) {
	if t.Index(column) >= 0 {
		return column, nil
	}
	if len(t.Header) < 2 {
		return "", fmt.Errorf("column %q not found and file has no second column", column)
	}
	return t.Header[1], nil
}

func (t *Table) cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Values returns the normalized non-empty cells of column in file order
func (t *Table) Values(column string) []string {
	i := t.Index(column)
	if i < 0 {
		return nil
	}
	var out []string
	for _, row := range t.Rows {
		if v := Normalize(t.cell(row, i)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Names loads the name list from path. It returns the names and the column
// actually used.
func Names(path, column string) ([]string, string, *Table, error) {
	t, err := Load(path)
	if err != nil {
		return nil, "", nil, err
	}
	used, err := t.ResolveColumn(column)
	if err != nil {
		return nil, "", nil, err
	}
	return t.Values(used), used, t, nil
}

// RegionCount is a region and the number of locations in it
type RegionCount struct {
	Region string
	Count  int
}

// HasRegions reports whether the table carries a Region column
func (t *Table) HasRegions() bool {
	return t.Index(RegionColumn) >= 0
}

// Regions lists the distinct non-empty regions in sorted order
func (t *Table) Regions() []RegionCount {
	i := t.Index(RegionColumn)
	if i < 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, row := range t.Rows {
		if r := strings.TrimSpace(t.cell(row, i)); r != "" {
			counts[r]++
		}
	}
	out := make([]RegionCount, 0, len(counts))
	for r, n := range counts {
		out = append(out, RegionCount{Region: r, Count: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Region < out[b].Region })
	return out
}

// NamesInRegion returns the normalized names of column whose Region is region
func (t *Table) NamesInRegion(column, region string) []string {
	ri, ni := t.Index(RegionColumn), t.Index(column)
	if ri < 0 || ni < 0 {
		return nil
	}
	var out []string
	for _, row := range t.Rows {
		if strings.TrimSpace(t.cell(row, ri)) != region {
			continue
		}
		if v := Normalize(t.cell(row, ni)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
