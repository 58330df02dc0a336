// Package workbook extracts KPI measurement rows from .xlsx exports.
//
// Sheets follow the operator export layout: the first row is a title, the
// second row holds column headers and the first column is a row index.
// Headers are mapped to canonical metric names, blank cells become "" and
// infinite values become 0.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/xuri/excelize/v2"
)

var (
	ErrNotWorkbook   = errors.New("file must be an Excel sheet")
	ErrSheetNotFound = errors.New("sheet not found")
	ErrNoDates       = errors.New("workbook has no dated rows")
)

// DefaultSheet is the sheet read when the caller names none.
const DefaultSheet = "Hourly Ville"

const (
	headerRow   = 1
	indexColumn = 0
	dateLayout  = "2006-01-02"
)

// SheetError reports a missing sheet together with the sheets that exist.
type SheetError struct {
	Sheet     string
	Available []string
}

func (e *SheetError) Error() string {
	quoted := make([]string, len(e.Available))
	for i, s := range e.Available {
		quoted[i] = "'" + s + "'"
	}
	return fmt.Sprintf("Sheet '%s' not found. Available sheets: [%s]", e.Sheet, strings.Join(quoted, ", "))
}

func (e *SheetError) Unwrap() error {
	return ErrSheetNotFound
}

// CheckFilename rejects uploads that are not .xlsx files.
func CheckFilename(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return ErrNotWorkbook
	}
	return nil
}

// Workbook is an opened spreadsheet.
type Workbook struct {
	file     *excelize.File
	date1904 bool
}

// Open parses a workbook from r.
func Open(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotWorkbook, err)
	}

	wb := &Workbook{file: f}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		wb.date1904 = *props.Date1904
	}
	return wb, nil
}

// OpenBytes parses a workbook held in memory.
func OpenBytes(data []byte) (*Workbook, error) {
	return Open(bytes.NewReader(data))
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Sheets returns sheet names in workbook order.
func (w *Workbook) Sheets() []string {
	return w.file.GetSheetList()
}

func (w *Workbook) hasSheet(name string) bool {
	for _, s := range w.Sheets() {
		if s == name {
			return true
		}
	}
	return false
}

// Records returns every data row of a sheet keyed by canonical column name.
func (w *Workbook) Records(sheet string) ([]domain.MetricRecord, error) {
	if !w.hasSheet(sheet) {
		return nil, &SheetError{Sheet: sheet, Available: w.Sheets()}
	}

	rows, err := w.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) <= headerRow {
		return []domain.MetricRecord{}, nil
	}

	header := rows[headerRow]
	columns := make([]string, len(header))
	for i, h := range header {
		if i == indexColumn {
			continue
		}
		columns[i] = CanonicalName(h)
	}

	records := make([]domain.MetricRecord, 0, len(rows)-headerRow-1)
	for _, row := range rows[headerRow+1:] {
		if blankRow(row) {
			continue
		}
		rec := make(domain.MetricRecord, len(columns))
		for i, name := range columns {
			if name == "" {
				continue
			}
			raw := ""
			if i < len(row) {
				raw = row[i]
			}
			rec[name] = w.cellValue(name, raw)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Extract returns the rows of sheet whose City equals city and whose Date
// equals date.
func (w *Workbook) Extract(sheet, city, date string) ([]domain.MetricRecord, error) {
	records, err := w.Records(sheet)
	if err != nil {
		return nil, err
	}
	return Filter(records, city, NormalizeDate(date, w.date1904)), nil
}

// Info summarizes a workbook.
type Info struct {
	Sheets []string `json:"sheets"`
	Cities []string `json:"cities"`
	Dates  []string `json:"dates"`
}

// Info lists the sheets and the cities and dates of the first sheet, in
// first-seen order.
func (w *Workbook) Info() (*Info, error) {
	records, err := w.firstSheet()
	if err != nil {
		return nil, err
	}
	return &Info{
		Sheets: w.Sheets(),
		Cities: Unique(records, domain.FieldCity),
		Dates:  Unique(records, domain.FieldDate),
	}, nil
}

// FileInfo returns the first and last dates of the first sheet.
func (w *Workbook) FileInfo() (domain.FileInfo, error) {
	records, err := w.firstSheet()
	if err != nil {
		return domain.FileInfo{}, err
	}
	return DateRange(records)
}

func (w *Workbook) firstSheet() ([]domain.MetricRecord, error) {
	sheets := w.Sheets()
	if len(sheets) == 0 {
		return nil, ErrNotWorkbook
	}
	return w.Records(sheets[0])
}

func (w *Workbook) cellValue(column, raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if column == domain.FieldDate {
		return NormalizeDate(s, w.date1904)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return raw
	}
	switch {
	case math.IsInf(f, 0):
		return 0.0
	case math.IsNaN(f):
		return ""
	}
	return f
}

// Filter keeps records whose City and Date match exactly.
func Filter(records []domain.MetricRecord, city, date string) []domain.MetricRecord {
	out := make([]domain.MetricRecord, 0)
	for _, rec := range records {
		if rec.String(domain.FieldCity) == city && rec.String(domain.FieldDate) == date {
			out = append(out, rec)
		}
	}
	return out
}

// Unique returns the distinct non-empty values of field in first-seen order.
func Unique(records []domain.MetricRecord, field string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, rec := range records {
		v := rec.String(field)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DateRange returns the first and last distinct dates in first-seen order.
func DateRange(records []domain.MetricRecord) (domain.FileInfo, error) {
	dates := Unique(records, domain.FieldDate)
	if len(dates) == 0 {
		return domain.FileInfo{}, ErrNoDates
	}
	return domain.FileInfo{StartDate: dates[0], EndDate: dates[len(dates)-1]}, nil
}

var dateLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
}

// NormalizeDate formats an Excel serial date or a textual timestamp as
// YYYY-MM-DD. Values it cannot parse are returned unchanged.
func NormalizeDate(s string, date1904 bool) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, date1904)
		if err != nil {
			return s
		}
		return t.Format(dateLayout)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	return s
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
