// Load tool for a running Kestrel instance.
//
// Usage:
//
//	go run ./cmd/kpibench -url http://localhost:8000 -token $TOKEN -batches 500 -cells 300
//
// This tool:
//  1. Generates synthetic daily cell KPIs, a share of them degraded
//  2. Posts each batch to /getsynthese
//  3. Tallies ALRT/NALT verdicts and per-rule alarm counts
//  4. Reports latency and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

// syntheseResponse is the /getsynthese response body.
type syntheseResponse struct {
	Code int              `json:"code"`
	Data domain.Synthesis `json:"data"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Alerts    int64
	NoAlerts  int64
	Errors    int64
	Processed int64

	ProcessingTimeMs int64

	mu         sync.Mutex
	ruleTotals map[string]int64
}

func (m *Metrics) addCounts(counts domain.EvaluationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, n := range counts {
		m.ruleTotals[name] += n
	}
}

var earfcns = []float64{200, 1650, 2850, 1506, 6400}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "Kestrel base URL")
	token := flag.String("token", "", "Bearer token sent in the Authorization header")
	batches := flag.Int("batches", 200, "Number of batches to send")
	cells := flag.Int("cells", 300, "Cells per batch")
	degraded := flag.Float64("degraded", 0.02, "Share of cells with degraded KPIs (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	city := flag.String("city", "Abidjan", "City stamped on every record")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *token == "" {
		fmt.Println("Usage: kpibench -token TOKEN [-url http://localhost:8000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL BENCHMARK - Worst Cell Lists             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Batches:     %d\n", *batches)
	fmt.Printf("Cells:       %d\n", *cells)
	fmt.Printf("Degraded:    %.2f\n", *degraded)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	date := time.Now().UTC().Format("2006-01-02")
	work := make([][]domain.MetricRecord, *batches)
	for i := range work {
		work[i] = generateBatch(*city, date, *cells, *degraded)
	}
	fmt.Printf("✓ Generated %d batches\n", len(work))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(work, *baseURL, *token, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateBatch returns one day of cell records. Healthy cells sit well inside
// every threshold; degraded cells breach several at once.
func generateBatch(city, date string, cells int, degraded float64) []domain.MetricRecord {
	records := make([]domain.MetricRecord, cells)
	for i := range records {
		rec := domain.MetricRecord{
			domain.FieldCity:                  city,
			domain.FieldDate:                  date,
			domain.FieldCSSR:                  97 + 3*rand.Float64(),
			domain.FieldTotalTrafficGB:        5 + 50*rand.Float64(),
			domain.FieldNbrDrops:              float64(rand.IntN(20)),
			domain.FieldERABDropRate:          rand.Float64(),
			domain.FieldDLThroughputMbps:      10 + 20*rand.Float64(),
			domain.FieldULThroughputMbps:      2 + 3*rand.Float64(),
			domain.FieldEarfcnDL:              earfcns[rand.IntN(len(earfcns))],
			domain.FieldTrafficDLGB:           50 + 100*rand.Float64(),
			domain.FieldTrafficULGB:           8 + 10*rand.Float64(),
			domain.FieldCellAvailability:      99.5 + 0.5*rand.Float64(),
			domain.FieldCellAvailabilityDay:   99.5 + 0.5*rand.Float64(),
			domain.FieldDLPRBUtilization:      20 + 40*rand.Float64(),
			domain.FieldCSFBSR:                95 + 5*rand.Float64(),
			domain.FieldCSFBAttempts:          float64(20 + rand.IntN(100)),
			domain.FieldVoLTEeRABSR:           98 + 2*rand.Float64(),
			domain.FieldVoLTEErlang:           1 + 10*rand.Float64(),
			domain.FieldVoLTEDrops:            float64(rand.IntN(2)),
			domain.FieldVoLTECDR:              0.5 * rand.Float64(),
			domain.FieldVolteIntraFreqHOSR:    95 + 5*rand.Float64(),
			domain.FieldAttemptsIntraFreqQCI1: float64(20 + rand.IntN(100)),
			domain.FieldVolteInterFreqHOSR:    95 + 5*rand.Float64(),
			domain.FieldAttemptsInterFreqQCI1: float64(20 + rand.IntN(100)),
			domain.FieldSRVCCWCDMASRTot:       95 + 5*rand.Float64(),
			domain.FieldAttemptsSRVCCWCDMA:    float64(20 + rand.IntN(100)),
			domain.FieldVolteLatency:          10 + 20*rand.Float64(),
		}
		if rand.Float64() < degraded {
			rec[domain.FieldCSSR] = 80 + 10*rand.Float64()
			rec[domain.FieldDLPRBUtilization] = 75 + 25*rand.Float64()
			rec[domain.FieldDLThroughputMbps] = 0.5 * rand.Float64()
			rec[domain.FieldVolteLatency] = 40 + 20*rand.Float64()
		}
		records[i] = rec
	}
	return records
}

func runBenchmark(batches [][]domain.MetricRecord, baseURL, token string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{ruleTotals: make(map[string]int64)}

	work := make(chan []domain.MetricRecord, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for batch := range work {
				start := time.Now()
				syn, err := synthesize(client, baseURL, token, batch)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.Processed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				if syn.Status == domain.StatusAlert {
					atomic.AddInt64(&metrics.Alerts, 1)
				} else {
					atomic.AddInt64(&metrics.NoAlerts, 1)
				}
				metrics.addCounts(syn.Counts)

				if verbose {
					fmt.Printf("%s %-4s | cells: %4d | %4d ms\n", syn.ID, syn.Status, len(batch), elapsed)
				}
			}
		}()
	}

	for _, batch := range batches {
		work <- batch
	}
	close(work)

	wg.Wait()

	return metrics
}

func synthesize(client *http.Client, baseURL, token string, batch []domain.MetricRecord) (*domain.Synthesis, error) {
	body, err := json.Marshal(map[string]any{"data": batch})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/getsynthese", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result syntheseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 VERDICTS\n")
	fmt.Printf("   Batches:   %d\n", m.Processed)
	fmt.Printf("   ALRT:      %d\n", m.Alerts)
	fmt.Printf("   NALT:      %d\n", m.NoAlerts)
	fmt.Printf("   Errors:    %d\n", m.Errors)

	fmt.Printf("\n📈 ALARMS PER RULE\n")
	names := make([]string, 0, len(m.ruleTotals))
	for name := range m.ruleTotals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("   %-26s %8d\n", name, m.ruleTotals[name])
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Processed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.Processed)
		bps := float64(m.Processed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f batches/sec\n", bps)
	}

	fmt.Println()
}
