package workbook

import (
	"strings"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

// headerAliases maps column headers found in operator KPI exports to
// canonical metric names.
var headerAliases = map[string]string{
	"CSSR":                       domain.FieldCSSR,
	"Total Traffic (GB)":         domain.FieldTotalTrafficGB,
	"#Nbr_Drops":                 domain.FieldNbrDrops,
	"ERAB Drop Rate":             domain.FieldERABDropRate,
	"DL User Throughput (Mbps)":  domain.FieldDLThroughputMbps,
	"UL User Throughput (Mbps)":  domain.FieldULThroughputMbps,
	"earfcndl":                   domain.FieldEarfcnDL,
	"Traffic DL (GB)":            domain.FieldTrafficDLGB,
	"Traffic UL (GB)":            domain.FieldTrafficULGB,
	"Cell Availability":          domain.FieldCellAvailability,
	"Cell Availability Auto_Day": domain.FieldCellAvailabilityDay,
	"DL PRB Utilization":         domain.FieldDLPRBUtilization,
	"CSFB_SR%":                   domain.FieldCSFBSR,
	"attempts CSFB":              domain.FieldCSFBAttempts,
	"11_VOLTE eRAB SR%":          domain.FieldVoLTEeRABSR,
	"VoLTE_Erlang":               domain.FieldVoLTEErlang,
	"VoLTE_Drops":                domain.FieldVoLTEDrops,
	"VoLTE CDR%":                 domain.FieldVoLTECDR,
	"Volte_IntraFreq_HOSR":       domain.FieldVolteIntraFreqHOSR,
	"Attempts_IntraFreq QCI 1":   domain.FieldAttemptsIntraFreqQCI1,
	"Volte_InterFreq_HOSR":       domain.FieldVolteInterFreqHOSR,
	"Attempts_InterFQci1":        domain.FieldAttemptsInterFreqQCI1,
	"13_SRVCC_WCDMA_SR_Tot":      domain.FieldSRVCCWCDMASRTot,
	"#Attempt_SRVCC_WCDMA":       domain.FieldAttemptsSRVCCWCDMA,
	"Volte Latency":              domain.FieldVolteLatency,
	"City":                       domain.FieldCity,
	"Date":                       domain.FieldDate,
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]string {
	idx := make(map[string]string, 2*len(headerAliases))
	for alias, canonical := range headerAliases {
		idx[normalizeHeader(alias)] = canonical
		idx[normalizeHeader(canonical)] = canonical
	}
	return idx
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// CanonicalName returns the canonical metric name for a column header.
// Unknown headers are returned trimmed and otherwise unchanged.
func CanonicalName(header string) string {
	if canonical, ok := aliasIndex[normalizeHeader(header)]; ok {
		return canonical
	}
	return strings.TrimSpace(header)
}

// Canonicalize returns a copy of rec keyed by canonical metric names.
// When two keys map to the same name the canonical spelling wins.
func Canonicalize(rec domain.MetricRecord) domain.MetricRecord {
	out := make(domain.MetricRecord, len(rec))
	for k, v := range rec {
		name := CanonicalName(k)
		if _, taken := out[name]; taken && k != name {
			continue
		}
		out[name] = v
	}
	return out
}

// CanonicalizeAll applies Canonicalize to every record.
func CanonicalizeAll(records []domain.MetricRecord) []domain.MetricRecord {
	out := make([]domain.MetricRecord, len(records))
	for i, rec := range records {
		out[i] = Canonicalize(rec)
	}
	return out
}
