// Benchmark tool for testing Kestrel against labeled consumption data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled consumption data (one consumer per row, true_theft_label column)
//   2. Sends each profile to Kestrel for assessment
//   3. Compares Kestrel's verdict (ALRT/NALT) with the actual theft labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/ingest"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Theft detected as ALRT
	FalsePositives int64 // Honest consumer detected as ALRT
	TrueNegatives  int64 // Honest consumer detected as NALT
	FalseNegatives int64 // Theft detected as NALT (missed theft!)

	TotalProcessed int64
	TotalTheft     int64
	TotalHonest    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled consumption CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum consumers to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each consumer result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Theft Detection                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled consumption data
	fmt.Printf("\nReading consumption data from %s...\n", *csvPath)
	profiles, err := readLabeledCSV(*csvPath, *tenantID, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d consumers\n", len(profiles))

	// Count theft vs honest
	theftCount := 0
	for _, p := range profiles {
		if p.TrueLabel != nil && *p.TrueLabel == 1 {
			theftCount++
		}
	}
	fmt.Printf("  - Theft:  %d (%.2f%%)\n", theftCount, 100*float64(theftCount)/float64(len(profiles)))
	fmt.Printf("  - Honest: %d (%.2f%%)\n", len(profiles)-theftCount, 100*float64(len(profiles)-theftCount)/float64(len(profiles)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(profiles, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readLabeledCSV(path, tenantID string, limit int) ([]*domain.ConsumptionProfile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	profiles, err := ingest.ParseCSV(file, tenantID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func runBenchmark(profiles []*domain.ConsumptionProfile, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan *domain.ConsumptionProfile, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for profile := range work {
				start := time.Now()
				result, err := assessProfile(client, baseURL, tenantID, profile)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", profile.ConsumerID, err)
					}
					continue
				}

				// Rows without a label cannot score the confusion matrix
				if profile.TrueLabel == nil {
					continue
				}
				actual := *profile.TrueLabel == 1

				// Track actual labels
				if actual {
					atomic.AddInt64(&metrics.TotalTheft, 1)
				} else {
					atomic.AddInt64(&metrics.TotalHonest, 1)
				}

				// Calculate confusion matrix
				predicted := result.Status == domain.StatusAlert

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-10s | Theft: %-5v | Kestrel: %-4s (%.3f) | Risk: %s\n",
						status,
						profile.ConsumerID,
						actual,
						result.Status,
						result.EnsembleScore,
						result.RiskCategory,
					)
				}
			}
		}()
	}

	// Send work
	for _, profile := range profiles {
		work <- profile
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func assessProfile(client *http.Client, baseURL, tenantID string, profile *domain.ConsumptionProfile) (*domain.AssessmentResponse, error) {
	req := domain.ProfileRequest{
		ConsumerID: profile.ConsumerID,
		HourlyData: profile.Readings,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/predict/manual", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.AssessmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Theft:      %d\n", m.TotalTheft)
	fmt.Printf("   Total Honest:     %d\n", m.TotalHonest)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    ALRT        NALT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  T  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           H  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual theft)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of theft, how much did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalTheft > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalTheft) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalTheft) * 100
		fmt.Printf("   Theft Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalTheft, detectionRate)
		fmt.Printf("   Theft Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalTheft, missRate)
	}
	if m.TotalHonest > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalHonest) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalHonest, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		pps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f profiles/sec\n", pps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most theft")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some theft")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant theft being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most theft is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
