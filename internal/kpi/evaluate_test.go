package kpi

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

func mustCatalog(t *testing.T, defs []*domain.RuleDefinition) *Catalog {
	t.Helper()
	c, err := NewCatalog(defs)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return c
}

func defaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	return mustCatalog(t, DefaultCatalog())
}

// healthyRecord trips no built-in rule.
func healthyRecord() domain.MetricRecord {
	return domain.MetricRecord{
		"City":                    "Casablanca",
		"Date":                    "2024-03-01",
		"CSSR":                    99.5,
		"TotalTrafficGB":          120.0,
		"NbrDrops":                3.0,
		"ERABDropRate":            0.2,
		"DLThroughputMbps":        18.0,
		"ULThroughputMbps":        2.5,
		"earfcndl":                1650.0,
		"TrafficDLGB":             80.0,
		"TrafficULGB":             12.0,
		"CellAvailability":        100.0,
		"CellAvailabilityAutoDay": 100.0,
		"DLPRBUtilization":        35.0,
		"CSFB_SR":                 99.0,
		"CSFBAttempts":            150.0,
		"VoLTEeRABSR":             99.8,
		"VoLTEErlang":             12.0,
		"VoLTEDrops":              0.0,
		"VoLTECDR":                0.1,
		"VolteIntraFreqHOSR":      98.0,
		"AttemptsIntraFreqQCI1":   40.0,
		"VolteInterFreqHOSR":      97.0,
		"AttemptsInterFreqQCI1":   35.0,
		"SRVCCWCDMASRTot":         96.0,
		"AttemptsSRVCCWCDMA":      22.0,
		"VolteLatency":            20.0,
	}
}

func with(rec domain.MetricRecord, kv ...any) domain.MetricRecord {
	out := make(domain.MetricRecord, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func without(rec domain.MetricRecord, names ...string) domain.MetricRecord {
	out := with(rec)
	for _, n := range names {
		delete(out, n)
	}
	return out
}

func TestEvaluateEmptyBatch(t *testing.T) {
	c := defaultCatalog(t)

	result := Evaluate(nil, c)

	if len(result) != c.Len() {
		t.Fatalf("expected %d entries, got %d", c.Len(), len(result))
	}
	for name, n := range result {
		if n != 0 {
			t.Errorf("expected 0 for %s, got %d", name, n)
		}
	}
}

func TestEvaluateCompleteness(t *testing.T) {
	c := defaultCatalog(t)

	batches := [][]domain.MetricRecord{
		{},
		{healthyRecord()},
		{domain.MetricRecord{}},
		{domain.MetricRecord{"City": "Rabat"}, with(healthyRecord(), "CSSR", 10.0)},
	}

	for i, batch := range batches {
		result := Evaluate(batch, c)
		if len(result) != c.Len() {
			t.Errorf("batch %d: expected %d entries, got %d", i, c.Len(), len(result))
		}
		for _, name := range c.Names() {
			if _, ok := result[name]; !ok {
				t.Errorf("batch %d: missing entry for %s", i, name)
			}
		}
	}
}

func TestEvaluateHealthyRecordTripsNothing(t *testing.T) {
	c := defaultCatalog(t)

	result := Evaluate([]domain.MetricRecord{healthyRecord()}, c)

	if result.Total() != 0 {
		t.Errorf("expected no alarms for healthy record, got %v", result)
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	c := defaultCatalog(t)
	records := syntheticRecords(500, 7)

	first := EvaluateReport(records, c)
	for i := 0; i < 5; i++ {
		again := EvaluateReport(records, c)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestCSSRGuardSuppression(t *testing.T) {
	c := defaultCatalog(t)

	tests := []struct {
		name    string
		cssr    float64
		traffic float64
		want    int64
	}{
		{"LowCSSRNoTraffic", 50, 0, 0},
		{"LowCSSRWithTraffic", 50, 10, 1},
		{"AtThreshold", 95, 10, 0},
		{"JustBelowThreshold", 94.99, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := with(healthyRecord(), "CSSR", tt.cssr, "TotalTrafficGB", tt.traffic)
			result := Evaluate([]domain.MetricRecord{rec}, c)
			if result["Nbr_WCL_4G_CSSR"] != tt.want {
				t.Errorf("expected %d, got %d", tt.want, result["Nbr_WCL_4G_CSSR"])
			}
		})
	}
}

func TestDownlinkThroughputMembership(t *testing.T) {
	c := defaultCatalog(t)

	tests := []struct {
		name       string
		earfcn     any
		throughput float64
		want       bool
	}{
		{"FirstBandLow", 1650.0, 2.0, true},
		{"FirstBandIntEarfcn", 2850, 2.0, true},
		{"FirstBandAboveThreshold", 200.0, 3.0, false},
		{"SecondBandLow", 6400.0, 0.5, true},
		{"SecondBandBetweenThresholds", 1506.0, 2.0, false},
		{"UnlistedCarrier", 300.0, 0.0, false},
		{"UnlistedCarrierString", "300", 0.1, false},
		{"NearMissCarrier", 1650.5, 0.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := with(healthyRecord(), "earfcndl", tt.earfcn, "DLThroughputMbps", tt.throughput)
			flags := EvaluateRecord(rec, c)
			if flags["Nbr_WCL_DLThp"] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, flags["Nbr_WCL_DLThp"])
			}
		})
	}
}

func TestDownlinkThroughputGuardsApplyToBothBands(t *testing.T) {
	c := defaultCatalog(t)

	tests := []struct {
		name string
		rec  domain.MetricRecord
		want bool
	}{
		{"FirstBandLowTraffic", with(healthyRecord(), "earfcndl", 200.0, "DLThroughputMbps", 1.0, "TrafficDLGB", 39.9), false},
		{"SecondBandLowTraffic", with(healthyRecord(), "earfcndl", 1506.0, "DLThroughputMbps", 0.5, "TrafficDLGB", 10.0), false},
		{"SecondBandLowAvailability", with(healthyRecord(), "earfcndl", 1506.0, "DLThroughputMbps", 0.5, "CellAvailability", 98.0), false},
		{"InclusiveGuards", with(healthyRecord(), "earfcndl", 1506.0, "DLThroughputMbps", 0.5, "TrafficDLGB", 40.0, "CellAvailability", 99.0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := EvaluateRecord(tt.rec, c)
			if flags["Nbr_WCL_DLThp"] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, flags["Nbr_WCL_DLThp"])
			}
		})
	}
}

func TestUplinkThroughput(t *testing.T) {
	c := defaultCatalog(t)

	rec := with(healthyRecord(), "earfcndl", 200.0, "ULThroughputMbps", 0.4)
	if !EvaluateRecord(rec, c)["Nbr_WCL_ULThp"] {
		t.Error("expected uplink rule to trip for 0.4 Mbps on first band")
	}

	rec = with(rec, "CellAvailabilityAutoDay", 98.5)
	if EvaluateRecord(rec, c)["Nbr_WCL_ULThp"] {
		t.Error("expected availability guard to suppress uplink rule")
	}

	rec = with(healthyRecord(), "earfcndl", 6400.0, "ULThroughputMbps", 0.3)
	if EvaluateRecord(rec, c)["Nbr_WCL_ULThp"] {
		t.Error("expected 0.3 Mbps on second band to stay below alarm")
	}
}

func TestMissingFieldIsolation(t *testing.T) {
	c := defaultCatalog(t)

	rec := without(
		with(healthyRecord(),
			"VoLTEeRABSR", 80.0,
			"VolteLatency", 50.0,
			"DLPRBUtilization", 90.0,
		),
		"VoLTEErlang",
	)

	report := EvaluateReport([]domain.MetricRecord{rec}, c)

	if report.Counts["Nbr_WCL_DLPRB"] != 1 {
		t.Errorf("expected PRB rule to still evaluate, got %d", report.Counts["Nbr_WCL_DLPRB"])
	}
	if report.Counts["Nbr_WCL_Volte_CSSR"] != 0 {
		t.Errorf("expected VoLTE CSSR to be skipped, got %d", report.Counts["Nbr_WCL_Volte_CSSR"])
	}
	if report.Counts["Nbr_WCL_Volte_Latency"] != 0 {
		t.Errorf("expected VoLTE latency to be skipped, got %d", report.Counts["Nbr_WCL_Volte_Latency"])
	}

	wantSkipped := map[string]int64{
		"Nbr_WCL_Volte_CSSR":    1,
		"Nbr_WCL_Volte_Latency": 1,
	}
	if !reflect.DeepEqual(report.Skipped, wantSkipped) {
		t.Errorf("expected skipped %v, got %v", wantSkipped, report.Skipped)
	}
}

func TestBlankCellsCountAsMissing(t *testing.T) {
	c := defaultCatalog(t)

	rec := with(healthyRecord(), "DLPRBUtilization", "", "CSSR", "n/a")
	report := EvaluateReport([]domain.MetricRecord{rec}, c)

	if report.Skipped["Nbr_WCL_DLPRB"] != 1 {
		t.Errorf("expected PRB rule skipped for blank cell, got %d", report.Skipped["Nbr_WCL_DLPRB"])
	}
	if report.Skipped["Nbr_WCL_4G_CSSR"] != 1 {
		t.Errorf("expected CSSR rule skipped for text cell, got %d", report.Skipped["Nbr_WCL_4G_CSSR"])
	}
	if report.SkippedTotal() != 2 {
		t.Errorf("expected 2 skips in total, got %d", report.SkippedTotal())
	}
}

func TestNumericStringsAreEvaluated(t *testing.T) {
	c := defaultCatalog(t)

	rec := with(healthyRecord(), "DLPRBUtilization", "71.5")
	if !EvaluateRecord(rec, c)["Nbr_WCL_DLPRB"] {
		t.Error("expected numeric string to be compared as a number")
	}
}

func TestAdditivityUnderPartition(t *testing.T) {
	c := defaultCatalog(t)
	records := syntheticRecords(300, 42)

	full := EvaluateReport(records, c)

	for _, split := range []int{0, 1, 150, 299, 300} {
		left := EvaluateReport(records[:split], c)
		right := EvaluateReport(records[split:], c)
		merged := Merge(left, right)

		if !reflect.DeepEqual(merged.Counts, full.Counts) {
			t.Errorf("split %d: counts %v, want %v", split, merged.Counts, full.Counts)
		}
		if merged.SkippedTotal() != full.SkippedTotal() {
			t.Errorf("split %d: skipped %d, want %d", split, merged.SkippedTotal(), full.SkippedTotal())
		}
		if merged.Records != full.Records {
			t.Errorf("split %d: records %d, want %d", split, merged.Records, full.Records)
		}
	}
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	c := defaultCatalog(t)
	records := syntheticRecords(1000, 3)

	want := EvaluateReport(records, c)

	for _, workers := range []int{0, 1, 2, 3, 7, 16, 2000} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			got, err := EvaluateParallel(context.Background(), records, c, workers)
			if err != nil {
				t.Fatalf("EvaluateParallel failed: %v", err)
			}
			if !reflect.DeepEqual(got.Counts, want.Counts) {
				t.Errorf("counts %v, want %v", got.Counts, want.Counts)
			}
			if got.SkippedTotal() != want.SkippedTotal() {
				t.Errorf("skipped %d, want %d", got.SkippedTotal(), want.SkippedTotal())
			}
			if got.Records != len(records) {
				t.Errorf("records %d, want %d", got.Records, len(records))
			}
		})
	}
}

func TestEvaluateParallelCancelled(t *testing.T) {
	c := defaultCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EvaluateParallel(ctx, syntheticRecords(100, 1), c, 4)
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestSampleScenario(t *testing.T) {
	c := mustCatalog(t, []*domain.RuleDefinition{
		{Name: "PRB overutilization", Expression: "DLPRBUtilization > 70.0", Enabled: true},
	})

	records := []domain.MetricRecord{
		{"DLPRBUtilization": 80},
		{"DLPRBUtilization": 60},
		{"DLPRBUtilization": 71},
	}

	result := Evaluate(records, c)

	want := domain.EvaluationResult{"PRB overutilization": 2}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("expected %v, got %v", want, result)
	}
}

func TestEvaluateRecordFlagsEveryRule(t *testing.T) {
	c := defaultCatalog(t)

	rec := with(healthyRecord(),
		"NbrDrops", 51.0, "ERABDropRate", 1.6,
		"VoLTEDrops", 3.0, "VoLTECDR", 1.2,
		"CSFB_SR", 80.0,
	)
	flags := EvaluateRecord(rec, c)

	if len(flags) != c.Len() {
		t.Fatalf("expected %d flags, got %d", c.Len(), len(flags))
	}

	for name, want := range map[string]bool{
		"Nbr_WCL_eDrop":         true,
		"Nbr_WCL_Volte_DROP":    true,
		"Nbr_WCL_Mobility_CSFB": true,
		"Nbr_WCL_4G_CSSR":       false,
		"Nbr_WCL_SRVCC_SR":      false,
	} {
		if flags[name] != want {
			t.Errorf("%s: expected %v, got %v", name, want, flags[name])
		}
	}
}

// syntheticRecords builds a reproducible batch around the alarm thresholds,
// with some metrics randomly dropped.
func syntheticRecords(n int, seed int64) []domain.MetricRecord {
	rng := rand.New(rand.NewSource(seed))
	carriers := []float64{200, 300, 1506, 1650, 2850, 6400}

	records := make([]domain.MetricRecord, n)
	for i := range records {
		rec := healthyRecord()
		rec["CSSR"] = 90 + rng.Float64()*10
		rec["TotalTrafficGB"] = float64(rng.Intn(3))
		rec["DLPRBUtilization"] = rng.Float64() * 100
		rec["DLThroughputMbps"] = rng.Float64() * 5
		rec["ULThroughputMbps"] = rng.Float64()
		rec["earfcndl"] = carriers[rng.Intn(len(carriers))]
		rec["VoLTEeRABSR"] = 90 + rng.Float64()*10
		rec["VolteLatency"] = 20 + rng.Float64()*30
		rec["NbrDrops"] = float64(rng.Intn(100))
		rec["ERABDropRate"] = rng.Float64() * 3

		if rng.Intn(5) == 0 {
			delete(rec, "VoLTEErlang")
		}
		if rng.Intn(7) == 0 {
			rec["CSSR"] = ""
		}
		records[i] = rec
	}
	return records
}
