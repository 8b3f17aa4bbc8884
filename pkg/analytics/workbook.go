// Package analytics reads web analytics exports (device and browser sheets of
// an .xlsx workbook), summarises them as plain text knowledge, and computes
// per-category shares and testing tiers.
package analytics

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet name prefixes that select the sheets to read.
const (
	DevicePrefix  = "Device - "
	BrowserPrefix = "Browser - "
)

// Column headers.
const (
	ColDeviceCategory   = "Device category"
	ColDeviceBrand      = "Device brand"
	ColDeviceModel      = "Device model"
	ColSessions         = "Sessions"
	ColBrowser          = "Browser"
	ColBrowserVersion   = "Browser version"
	ColScreenResolution = "Screen resolution"
)

// ErrNoSheets is returned when a workbook has no device or browser sheet.
var ErrNoSheets = errors.New("analytics: workbook has no device or browser sheets")

// DeviceRow is one row of a device sheet.
type DeviceRow struct {
	Category string
	Brand    string
	Model    string
	Sessions float64
}

// BrowserRow is one row of a browser sheet. Category is empty when the sheet
// has no device category column.
type BrowserRow struct {
	Browser    string
	Version    string
	Resolution string
	Category   string
	Sessions   float64
}

// DeviceSheet is a parsed device sheet.
type DeviceSheet struct {
	Name string
	Rows []DeviceRow
}

// BrowserSheet is a parsed browser sheet.
type BrowserSheet struct {
	Name        string
	Rows        []BrowserRow
	HasCategory bool
}

// Workbook holds the sheets of an analytics export, in workbook order.
type Workbook struct {
	Devices  []DeviceSheet
	Browsers []BrowserSheet
}

// ReadFile opens and parses the workbook at path.
func ReadFile(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return parse(f)
}

// Read parses a workbook from r.
func Read(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("analytics: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parse(f)
}

func parse(f *excelize.File) (*Workbook, error) {
	wb := &Workbook{}

	for _, name := range f.GetSheetList() {
		switch {
		case strings.HasPrefix(name, DevicePrefix):
			rows, err := f.GetRows(name)
			if err != nil {
				return nil, fmt.Errorf("analytics: sheet %q: %w", name, err)
			}
			sheet, err := parseDeviceSheet(name, rows)
			if err != nil {
				return nil, err
			}
			wb.Devices = append(wb.Devices, sheet)

		case strings.HasPrefix(name, BrowserPrefix):
			rows, err := f.GetRows(name)
			if err != nil {
				return nil, fmt.Errorf("analytics: sheet %q: %w", name, err)
			}
			sheet, err := parseBrowserSheet(name, rows)
			if err != nil {
				return nil, err
			}
			wb.Browsers = append(wb.Browsers, sheet)
		}
	}

	if len(wb.Devices) == 0 && len(wb.Browsers) == 0 {
		return nil, ErrNoSheets
	}

	return wb, nil
}

func parseDeviceSheet(name string, rows [][]string) (DeviceSheet, error) {
	sheet := DeviceSheet{Name: name}

	cols, err := findColumns(name, rows, ColDeviceCategory, ColDeviceBrand, ColDeviceModel, ColSessions)
	if err != nil {
		return sheet, err
	}

	for i, row := range dataRows(rows) {
		sessions, err := parseSessions(cell(row, cols[ColSessions]))
		if err != nil {
			return sheet, fmt.Errorf("analytics: sheet %q row %d: %w", name, i+2, err)
		}
		sheet.Rows = append(sheet.Rows, DeviceRow{
			Category: cell(row, cols[ColDeviceCategory]),
			Brand:    cell(row, cols[ColDeviceBrand]),
			Model:    cell(row, cols[ColDeviceModel]),
			Sessions: sessions,
		})
	}

	return sheet, nil
}

func parseBrowserSheet(name string, rows [][]string) (BrowserSheet, error) {
	sheet := BrowserSheet{Name: name}

	cols, err := findColumns(name, rows, ColBrowser, ColBrowserVersion, ColScreenResolution, ColSessions)
	if err != nil {
		return sheet, err
	}

	catCol, hasCategory := headerIndex(rows[0])[strings.ToLower(ColDeviceCategory)]
	sheet.HasCategory = hasCategory

	for i, row := range dataRows(rows) {
		sessions, err := parseSessions(cell(row, cols[ColSessions]))
		if err != nil {
			return sheet, fmt.Errorf("analytics: sheet %q row %d: %w", name, i+2, err)
		}

		r := BrowserRow{
			Browser:    cell(row, cols[ColBrowser]),
			Version:    cell(row, cols[ColBrowserVersion]),
			Resolution: cell(row, cols[ColScreenResolution]),
			Sessions:   sessions,
		}
		if hasCategory {
			r.Category = cell(row, catCol)
		}
		sheet.Rows = append(sheet.Rows, r)
	}

	return sheet, nil
}

// findColumns maps each required header to its column index.
func findColumns(sheet string, rows [][]string, required ...string) (map[string]int, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("analytics: sheet %q has no header row", sheet)
	}

	index := headerIndex(rows[0])

	cols := make(map[string]int, len(required))
	for _, h := range required {
		i, ok := index[strings.ToLower(h)]
		if !ok {
			return nil, fmt.Errorf("analytics: sheet %q: missing column %q", sheet, h)
		}
		cols[h] = i
	}

	return cols, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[key]; !dup && key != "" {
			index[key] = i
		}
	}
	return index
}

// dataRows returns the rows after the header, skipping blank ones.
func dataRows(rows [][]string) [][]string {
	var out [][]string
	for _, row := range rows[1:] {
		blank := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out
}

// cell returns row[i] trimmed; GetRows drops trailing empty cells.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseSessions(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sessions value %q", s)
	}
	return v, nil
}
