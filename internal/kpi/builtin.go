package kpi

import "github.com/kestrel-noc/kestrel/internal/domain"

// DefaultCatalog returns the built-in worst-cell-list rules.
// Each pairs a magnitude breach with a traffic guard so idle cells do not alarm.
func DefaultCatalog() []*domain.RuleDefinition {
	return []*domain.RuleDefinition{
		{
			Name:        "Nbr_WCL_4G_CSSR",
			Description: "4G call setup success rate degraded",
			Category:    domain.CategoryAccessibility,
			Expression:  "CSSR < 95.0 && TotalTrafficGB > 0.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_eDrop",
			Description: "Excess drop rate",
			Category:    domain.CategoryRetainability,
			Expression:  "NbrDrops > 50.0 && ERABDropRate > 1.5",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_DLThp",
			Description: "Downlink throughput degraded",
			Category:    domain.CategoryIntegrity,
			Expression: "((DLThroughputMbps < 3.0 && earfcndl in [200.0, 1650.0, 2850.0]) || " +
				"(DLThroughputMbps < 1.0 && earfcndl in [1506.0, 6400.0])) && " +
				"TrafficDLGB >= 40.0 && CellAvailability >= 99.0",
			Enabled: true,
		},
		{
			Name:        "Nbr_WCL_ULThp",
			Description: "Uplink throughput degraded",
			Category:    domain.CategoryIntegrity,
			Expression: "((ULThroughputMbps < 0.5 && earfcndl in [200.0, 1650.0, 2850.0]) || " +
				"(ULThroughputMbps < 0.2 && earfcndl in [1506.0, 6400.0])) && " +
				"TrafficULGB >= 7.0 && CellAvailabilityAutoDay >= 99.0",
			Enabled: true,
		},
		{
			Name:        "Nbr_WCL_DLPRB",
			Description: "PRB overutilization",
			Category:    domain.CategoryUtilization,
			Expression:  "DLPRBUtilization > 70.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Mobility_CSFB",
			Description: "CSFB mobility degraded",
			Category:    domain.CategoryMobility,
			Expression:  "CSFB_SR < 90.0 && CSFBAttempts > 10.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Volte_CSSR",
			Description: "VoLTE call setup degraded",
			Category:    domain.CategoryVoice,
			Expression:  "VoLTEeRABSR < 95.0 && VoLTEErlang > 0.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Volte_DROP",
			Description: "VoLTE drop excess",
			Category:    domain.CategoryVoice,
			Expression:  "VoLTEDrops > 2.0 && VoLTECDR > 1.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Volte_Intra",
			Description: "VoLTE intra-frequency handover degraded",
			Category:    domain.CategoryMobility,
			Expression:  "VolteIntraFreqHOSR < 90.0 && AttemptsIntraFreqQCI1 > 10.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Volte_Inter",
			Description: "VoLTE inter-frequency handover degraded",
			Category:    domain.CategoryMobility,
			Expression:  "VolteInterFreqHOSR < 90.0 && AttemptsInterFreqQCI1 > 10.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_SRVCC_SR",
			Description: "SRVCC handover degraded",
			Category:    domain.CategoryMobility,
			Expression:  "SRVCCWCDMASRTot < 90.0 && AttemptsSRVCCWCDMA > 10.0",
			Enabled:     true,
		},
		{
			Name:        "Nbr_WCL_Volte_Latency",
			Description: "VoLTE latency excess",
			Category:    domain.CategoryVoice,
			Expression:  "VolteLatency > 35.0 && VoLTEErlang > 0.0",
			Enabled:     true,
		},
	}
}
