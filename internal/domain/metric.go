package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MetricRecord is one row of measurements for a cell or site at one time bucket.
// Keys are canonical metric names (see CanonicalFields); values are numbers or strings
// as they came out of the workbook.
type MetricRecord map[string]any

// Float returns the named metric as a float64.
// The second return value is false when the metric is absent or not numeric.
// Empty strings count as absent because blank workbook cells are exported as "".
func (r MetricRecord) Float(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String returns the named metric as a string, formatting numbers without
// trailing zeros.
func (r MetricRecord) String(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		if f, ok := r.Float(name); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return ""
	}
}

// Canonical metric names referenced by the built-in KPI catalog.
const (
	FieldCSSR                  = "CSSR"
	FieldTotalTrafficGB        = "TotalTrafficGB"
	FieldNbrDrops              = "NbrDrops"
	FieldERABDropRate          = "ERABDropRate"
	FieldDLThroughputMbps      = "DLThroughputMbps"
	FieldULThroughputMbps      = "ULThroughputMbps"
	FieldEarfcnDL              = "earfcndl"
	FieldTrafficDLGB           = "TrafficDLGB"
	FieldTrafficULGB           = "TrafficULGB"
	FieldCellAvailability      = "CellAvailability"
	FieldCellAvailabilityDay   = "CellAvailabilityAutoDay"
	FieldDLPRBUtilization      = "DLPRBUtilization"
	FieldCSFBSR                = "CSFB_SR"
	FieldCSFBAttempts          = "CSFBAttempts"
	FieldVoLTEeRABSR           = "VoLTEeRABSR"
	FieldVoLTEErlang           = "VoLTEErlang"
	FieldVoLTEDrops            = "VoLTEDrops"
	FieldVoLTECDR              = "VoLTECDR"
	FieldVolteIntraFreqHOSR    = "VolteIntraFreqHOSR"
	FieldAttemptsIntraFreqQCI1 = "AttemptsIntraFreqQCI1"
	FieldVolteInterFreqHOSR    = "VolteInterFreqHOSR"
	FieldAttemptsInterFreqQCI1 = "AttemptsInterFreqQCI1"
	FieldSRVCCWCDMASRTot       = "SRVCCWCDMASRTot"
	FieldAttemptsSRVCCWCDMA    = "AttemptsSRVCCWCDMA"
	FieldVolteLatency          = "VolteLatency"
)

// Non-metric columns used to filter workbook rows.
const (
	FieldCity = "City"
	FieldDate = "Date"
)

// CanonicalFields returns the numeric metric names a rule expression may reference.
func CanonicalFields() []string {
	return []string{
		FieldCSSR,
		FieldTotalTrafficGB,
		FieldNbrDrops,
		FieldERABDropRate,
		FieldDLThroughputMbps,
		FieldULThroughputMbps,
		FieldEarfcnDL,
		FieldTrafficDLGB,
		FieldTrafficULGB,
		FieldCellAvailability,
		FieldCellAvailabilityDay,
		FieldDLPRBUtilization,
		FieldCSFBSR,
		FieldCSFBAttempts,
		FieldVoLTEeRABSR,
		FieldVoLTEErlang,
		FieldVoLTEDrops,
		FieldVoLTECDR,
		FieldVolteIntraFreqHOSR,
		FieldAttemptsIntraFreqQCI1,
		FieldVolteInterFreqHOSR,
		FieldAttemptsInterFreqQCI1,
		FieldSRVCCWCDMASRTot,
		FieldAttemptsSRVCCWCDMA,
		FieldVolteLatency,
	}
}
