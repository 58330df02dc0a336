package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/xuri/excelize/v2"
)

// buildWorkbook writes an operator-style export: title row, header row and
// data rows with an index in column A.
func buildWorkbook(t *testing.T, sheets map[string][][]any, order ...string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("failed to rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("failed to create sheet: %v", err)
		}

		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("bad coordinates: %v", err)
			}
			values := row
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				t.Fatalf("failed to write row: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to serialize workbook: %v", err)
	}
	return buf.Bytes()
}

// 45352 and 45353 are the Excel serials of 2024-03-01 and 2024-03-02.
func hourlySheet() [][]any {
	return [][]any{
		{"Hourly KPI export"},
		{"", "Date", "City", "Cell", "DL PRB Utilization", "CSSR", "Total Traffic (GB)"},
		{0, 45352, "Casablanca", "CAS001", 80.5, 99.1, 12.0},
		{1, 45352, "Casablanca", "CAS002", 60.0, "", 4.0},
		{2, 45352, "Rabat", "RAB001", 71.0, 94.0, "inf"},
		{3, 45353, "Casablanca", "CAS001", 75.0, 98.0, 10.0},
		{4, "2024-03-02", "Rabat", "RAB002", 20.0, 99.0, 3.0},
	}
}

func openTest(t *testing.T, data []byte) *Workbook {
	t.Helper()
	wb, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	t.Cleanup(func() { wb.Close() })
	return wb
}

func TestRecords(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{DefaultSheet: hourlySheet()}, DefaultSheet)
	wb := openTest(t, data)

	records, err := wb.Records(DefaultSheet)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	first := records[0]
	if first.String(domain.FieldDate) != "2024-03-01" {
		t.Errorf("expected date 2024-03-01, got %v", first[domain.FieldDate])
	}
	if first.String(domain.FieldCity) != "Casablanca" {
		t.Errorf("expected city Casablanca, got %v", first[domain.FieldCity])
	}
	if v, ok := first.Float(domain.FieldDLPRBUtilization); !ok || v != 80.5 {
		t.Errorf("expected PRB 80.5 under canonical name, got %v", first[domain.FieldDLPRBUtilization])
	}
	if _, ok := first[""]; ok {
		t.Error("index column must be dropped")
	}
	if first["Cell"] != "CAS001" {
		t.Errorf("expected unknown header kept verbatim, got %v", first["Cell"])
	}

	if records[1][domain.FieldCSSR] != "" {
		t.Errorf("expected blank cell as empty string, got %#v", records[1][domain.FieldCSSR])
	}
	if records[2][domain.FieldTotalTrafficGB] != 0.0 {
		t.Errorf("expected infinity replaced by 0, got %#v", records[2][domain.FieldTotalTrafficGB])
	}
	if records[4].String(domain.FieldDate) != "2024-03-02" {
		t.Errorf("expected textual date kept, got %v", records[4][domain.FieldDate])
	}
}

func TestExtract(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{
		"Summary":    {{"title"}, {"", "City"}},
		DefaultSheet: hourlySheet(),
	}, "Summary", DefaultSheet)
	wb := openTest(t, data)

	tests := []struct {
		name  string
		city  string
		date  string
		cells []string
	}{
		{"CityAndDay", "Casablanca", "2024-03-01", []string{"CAS001", "CAS002"}},
		{"OtherDay", "Casablanca", "2024-03-02", []string{"CAS001"}},
		{"TimestampQuery", "Rabat", "2024-03-02T00:00:00", []string{"RAB002"}},
		{"NoMatch", "Tangier", "2024-03-01", nil},
		{"EmptyFilter", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := wb.Extract(DefaultSheet, tt.city, tt.date)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if records == nil {
				t.Fatal("expected empty slice, got nil")
			}
			var cells []string
			for _, r := range records {
				cells = append(cells, r.String("Cell"))
			}
			if !reflect.DeepEqual(cells, tt.cells) {
				t.Errorf("expected cells %v, got %v", tt.cells, cells)
			}
		})
	}
}

func TestExtractUnknownSheet(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{"Daily": hourlySheet()}, "Daily")
	wb := openTest(t, data)

	_, err := wb.Extract(DefaultSheet, "Casablanca", "2024-03-01")
	if !errors.Is(err, ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}

	var sheetErr *SheetError
	if !errors.As(err, &sheetErr) {
		t.Fatalf("expected *SheetError, got %T", err)
	}
	if !reflect.DeepEqual(sheetErr.Available, []string{"Daily"}) {
		t.Errorf("expected available [Daily], got %v", sheetErr.Available)
	}
	want := "Sheet 'Hourly Ville' not found. Available sheets: ['Daily']"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestInfo(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{
		DefaultSheet: hourlySheet(),
		"Daily":      {{"title"}, {"", "City", "Date"}, {0, "Fes", 45000}},
	}, DefaultSheet, "Daily")
	wb := openTest(t, data)

	info, err := wb.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	if !reflect.DeepEqual(info.Sheets, []string{DefaultSheet, "Daily"}) {
		t.Errorf("unexpected sheets %v", info.Sheets)
	}
	if !reflect.DeepEqual(info.Cities, []string{"Casablanca", "Rabat"}) {
		t.Errorf("unexpected cities %v", info.Cities)
	}
	if !reflect.DeepEqual(info.Dates, []string{"2024-03-01", "2024-03-02"}) {
		t.Errorf("unexpected dates %v", info.Dates)
	}

	fi, err := wb.FileInfo()
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if fi.StartDate != "2024-03-01" || fi.EndDate != "2024-03-02" {
		t.Errorf("unexpected range %+v", fi)
	}
}

func TestOpenRejectsNonWorkbook(t *testing.T) {
	_, err := Open(strings.NewReader("City,Date\nRabat,2024-03-01\n"))
	if !errors.Is(err, ErrNotWorkbook) {
		t.Errorf("expected ErrNotWorkbook, got %v", err)
	}
}

func TestCheckFilename(t *testing.T) {
	for name, ok := range map[string]bool{
		"kpi.xlsx":   true,
		"KPI.XLSX":   true,
		"kpi.xls":    false,
		"kpi.csv":    false,
		"xlsx":       false,
		"kpi.xlsx.1": false,
	} {
		err := CheckFilename(name)
		if ok && err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if !ok && !errors.Is(err, ErrNotWorkbook) {
			t.Errorf("%s: expected ErrNotWorkbook, got %v", name, err)
		}
	}
}

func TestDateRange(t *testing.T) {
	records := []domain.MetricRecord{
		{"Date": "2024-03-03"},
		{"Date": ""},
		{"Date": "2024-03-01"},
		{"Date": "2024-03-03"},
		{"Date": "2024-03-02"},
	}

	fi, err := DateRange(records)
	if err != nil {
		t.Fatalf("DateRange failed: %v", err)
	}
	if fi.StartDate != "2024-03-03" || fi.EndDate != "2024-03-02" {
		t.Errorf("expected first-seen order, got %+v", fi)
	}

	if _, err := DateRange([]domain.MetricRecord{{"City": "Rabat"}}); !errors.Is(err, ErrNoDates) {
		t.Errorf("expected ErrNoDates, got %v", err)
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"45352", "2024-03-01"},
		{"45352.5", "2024-03-01"},
		{"2024-03-01", "2024-03-01"},
		{"2024-03-01 13:00:00", "2024-03-01"},
		{"2024/03/01", "2024-03-01"},
		{"not a date", "not a date"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			if got := NormalizeDate(tt.in, false); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	rec := domain.MetricRecord{
		"DL PRB Utilization":  80.0,
		" cssr ":              90.0,
		"Total  Traffic (GB)": 1.0,
		"Cell":                "CAS001",
	}

	got := Canonicalize(rec)

	want := domain.MetricRecord{
		"DLPRBUtilization": 80.0,
		"CSSR":             90.0,
		"TotalTrafficGB":   1.0,
		"Cell":             "CAS001",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	t.Run("CanonicalSpellingWins", func(t *testing.T) {
		got := Canonicalize(domain.MetricRecord{
			"DL PRB Utilization": 10.0,
			"DLPRBUtilization":   20.0,
		})
		if got["DLPRBUtilization"] != 20.0 {
			t.Errorf("expected canonical key to win, got %v", got["DLPRBUtilization"])
		}
	})
}

func TestOpenReader(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{DefaultSheet: hourlySheet()}, DefaultSheet)

	wb, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer wb.Close()

	if got := wb.Sheets(); !reflect.DeepEqual(got, []string{DefaultSheet}) {
		t.Errorf("unexpected sheets %v", got)
	}
}
