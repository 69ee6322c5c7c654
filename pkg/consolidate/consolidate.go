// Package consolidate merges the per-chunk MAR CSV exports into one file and
// tags every record with the region of its care service.
package consolidate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"dev/bravebird/mar-export/pkg/logging"
	"dev/bravebird/mar-export/pkg/names"
)

const (
	// MergedDir is the subdirectory of the download directory holding output
	MergedDir = "Merged_Reports"
	// CareServiceColumn names the location in each exported record
	CareServiceColumn = "Care Service"

	UnknownRegion      = "Unknown Region"
	NoRegionData       = "No Region Data"
	MissingCareService = "Missing Care Service Column"

	outputPrefix = "Consolidated_MAR_Report_"
)

// ErrNoFiles is returned when the directory holds no CSV exports
var ErrNoFiles = errors.New("no CSV files found to consolidate")

// RegionLookup maps normalized location names to regions
type RegionLookup map[string]string

// BuildRegionLookup reads Location Name and Region from the master table.
// A table without both columns yields an empty lookup.
func BuildRegionLookup(t *names.Table) RegionLookup {
	lookup := make(RegionLookup)
	if t == nil {
		return lookup
	}
	ni, ri := t.Index(names.DefaultColumn), t.Index(names.RegionColumn)
	if ni < 0 || ri < 0 {
		return lookup
	}
	for _, row := range t.Rows {
		if ni >= len(row) || ri >= len(row) {
			continue
		}
		name, region := names.Normalize(row[ni]), strings.TrimSpace(row[ri])
		if name == "" || region == "" {
			continue
		}
		lookup[name] = region
	}
	return lookup
}

// Options tunes a consolidation
type Options struct {
	// ExpectedFiles is the number of downloads the run produced. Zero skips
	// the count check.
	ExpectedFiles int
	// FuzzyThreshold enables a Jaro-Winkler fallback for care services with
	// no exact match. Zero disables it.
	FuzzyThreshold float64
	Now            func() time.Time
	Logger         logging.Logger
}

// SkippedFile is an export that could not be read
type SkippedFile struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Result describes a finished consolidation
type Result struct {
	OutputPath string         `json:"output_path"`
	Files      []string       `json:"files"`
	Skipped    []SkippedFile  `json:"skipped,omitempty"`
	Rows       int            `json:"rows"`
	Mapped     int            `json:"mapped"`
	Regions    map[string]int `json:"regions"`
	Unmapped   []string       `json:"unmapped,omitempty"`
	Warning    string         `json:"warning,omitempty"`
}

// RegionCount is one entry of the region distribution
type RegionCount struct {
	Region string
	Count  int
}

// TopRegions returns up to n regions by descending record count
func (r *Result) TopRegions(n int) []RegionCount {
	out := make([]RegionCount, 0, len(r.Regions))
	for region, count := range r.Regions {
		out = append(out, RegionCount{Region: region, Count: count})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].Region < out[b].Region
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type export struct {
	name   string
	header []string
	rows   [][]string
}

// Consolidate merges every top-level CSV in dir into
// dir/Merged_Reports/Consolidated_MAR_Report_<timestamp>.csv. Columns are the
// union of all headers in first-seen order with Region last unless an export
// already carries it.
func Consolidate(dir string, lookup RegionLookup, opts Options) (*Result, error) {
	logger := logging.OrDefault(opts.Logger)
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	files, err := csvFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	logger.Info("Consolidating CSV files", "dir", dir, "files", len(files), "regions", len(lookup))

	res := &Result{Files: files, Regions: make(map[string]int)}
	if opts.ExpectedFiles > 0 && opts.ExpectedFiles != len(files) {
		res.Warning = fmt.Sprintf("expected %d files but found %d, some downloads may not have finished", opts.ExpectedFiles, len(files))
		logger.Warn("File count mismatch", "expected", opts.ExpectedFiles, "found", len(files))
	}

	m := newMatcher(lookup, opts.FuzzyThreshold)
	var exports []export
	var columns []string
	seen := make(map[string]bool)
	addColumn := func(c string) {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	unmapped := make(map[string]bool)

	for i, name := range files {
		ex, err := readExport(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping unreadable file", "file", name, "error", err)
			res.Skipped = append(res.Skipped, SkippedFile{Name: name, Error: err.Error()})
			continue
		}
		logger.Info("Processing file", "n", i+1, "of", len(files), "file", name, "rows", len(ex.rows))

		regionAt := indexOf(ex.header, names.RegionColumn)
		if regionAt < 0 {
			ex.header = append(ex.header, names.RegionColumn)
			regionAt = len(ex.header) - 1
		}
		careAt := indexOf(ex.header, CareServiceColumn)
		if careAt < 0 {
			logger.Warn("Care Service column not found", "file", name, "columns", ex.header)
		}

		fileMapped := 0
		for r, row := range ex.rows {
			row = pad(row, len(ex.header))
			var region string
			switch {
			case len(lookup) == 0:
				region = NoRegionData
			case careAt < 0:
				region = MissingCareService
			default:
				var ok bool
				service := row[careAt]
				if region, ok = m.match(service); ok {
					fileMapped++
				} else {
					region = UnknownRegion
					if s := strings.TrimSpace(service); s != "" {
						unmapped[s] = true
					}
				}
			}
			row[regionAt] = region
			ex.rows[r] = row
			res.Regions[region]++
		}
		if len(lookup) > 0 && careAt >= 0 {
			logger.Info("Mapped regions", "file", name, "mapped", fileMapped, "total", len(ex.rows))
		}
		res.Mapped += fileMapped
		res.Rows += len(ex.rows)

		for _, c := range ex.header {
			addColumn(c)
		}
		exports = append(exports, ex)
	}

	if len(exports) == 0 {
		return res, fmt.Errorf("none of the %d CSV files could be read", len(files))
	}

	out := filepath.Join(dir, MergedDir, outputPrefix+now().Format("20060102_150405")+".csv")
	if err := writeMerged(out, columns, exports); err != nil {
		return res, err
	}
	res.OutputPath = out

	for s := range unmapped {
		res.Unmapped = append(res.Unmapped, s)
	}
	sort.Strings(res.Unmapped)

	logger.Info("Consolidation complete", "output", out, "rows", res.Rows, "mapped", res.Mapped, "skipped", len(res.Skipped))
	return res, nil
}

func csvFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func readExport(path string) (export, error) {
	f, err := os.Open(path)
	if err != nil {
		return export{}, err
	}
	defer f.Close()

	t, err := names.ReadCSV(f)
	if err != nil {
		return export{}, err
	}
	return export{name: filepath.Base(path), header: t.Header, rows: t.Rows}, nil
}

func writeMerged(path string, columns []string, exports []export) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create merged directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create merged file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, ex := range exports {
		at := make([]int, len(columns))
		for i, c := range columns {
			at[i] = indexOf(ex.header, c)
		}
		record := make([]string, len(columns))
		for _, row := range ex.rows {
			for i, j := range at {
				record[i] = ""
				if j >= 0 && j < len(row) {
					record[i] = row[j]
				}
			}
			if err := w.Write(record); err != nil {
				f.Close()
				return fmt.Errorf("failed to write %s rows: %w", ex.name, err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write merged file: %w", err)
	}
	return f.Close()
}

func indexOf(header []string, column string) int {
	for i, h := range header {
		if h == column {
			return i
		}
	}
	return -1
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	return append(row, make([]string, n-len(row))...)
}

// matcher resolves care services to regions, remembering fuzzy decisions
type matcher struct {
	lookup    RegionLookup
	threshold float64
	cache     map[string]string
}

func newMatcher(lookup RegionLookup, threshold float64) *matcher {
	return &matcher{lookup: lookup, threshold: threshold, cache: make(map[string]string)}
}

func (m *matcher) match(service string) (string, bool) {
	key := names.Normalize(service)
	if key == "" {
		return "", false
	}
	if region, ok := m.lookup[key]; ok {
		return region, true
	}
	if m.threshold <= 0 {
		return "", false
	}
	if region, ok := m.cache[key]; ok {
		return region, region != ""
	}

	var best float64
	var bestName, region string
	for name, r := range m.lookup {
		sim := matchr.JaroWinkler(strings.ToLower(key), strings.ToLower(name), false)
		if sim > best || (sim == best && name < bestName) {
			best, bestName, region = sim, name, r
		}
	}
	if best < m.threshold {
		region = ""
	}
	m.cache[key] = region
	return region, region != ""
}

// CleanOutputDir creates dir, or empties it except for the entry named keep
func CleanOutputDir(dir, keep string, logger logging.Logger) error {
	logger = logging.OrDefault(logger)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Created output directory", "dir", dir)
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			logger.Warn("Failed to delete", "path", e.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Debug("Deleted", "path", e.Name())
	}
	logger.Info("Output directory cleaned", "dir", dir, "kept", keep)
	return errors.Join(errs...)
}
