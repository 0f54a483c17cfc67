package echo

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for dRPC providers",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchLargeValueSizeKB = 100
	benchNumThreads       = 10
	benchSkip             = make([]string, 0)
)

// benchmark is one measured call pattern
type benchmark struct {
	name string
	call func(ctx context.Context) error
}

// benchResult combines the go benchmark result with the latency distribution of the single calls
type benchResult struct {
	testing.BenchmarkResult
	latency gometrics.Timer
	errors  int64
}

func init() {
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. identity,upper)"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU calling in parallel"))
	key = "large-value-size"
	benchCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the identity-large test should be (in KB)"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	benchLargeValueSizeKB = viper.GetInt("large-value-size")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dRPC providers")

	config := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Println()

	largeValue := strings.Repeat("x", benchLargeValueSizeKB*1024)
	benchmarks := []benchmark{
		{"identity", func(ctx context.Context) error {
			_, err := rpcEcho.Identity(ctx, "bench")
			return err
		}},
		{"upper", func(ctx context.Context) error {
			_, err := rpcEcho.Upper(ctx, "bench")
			return err
		}},
		{"identity-large", func(ctx context.Context) error {
			_, err := rpcEcho.Identity(ctx, largeValue)
			return err
		}},
		{"fail", func(ctx context.Context) error {
			// the remote error is the expected outcome, only transport failures count
			if _, err := rpcEcho.Fail(ctx, "bench"); err != nil && common.IsTransportError(err) {
				return err
			}
			return nil
		}},
	}

	fmt.Println("starting tests...")
	results := make(map[string]*benchResult)
	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			printResult(bm.name, nil)
			continue
		}
		result := runBenchmark(cmd.Context(), bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func runBenchmark(ctx context.Context, bm benchmark) *benchResult {
	result := &benchResult{}
	result.BenchmarkResult = testing.Benchmark(func(b *testing.B) {
		// testing.Benchmark runs the function repeatedly, only the last run is reported
		timer := gometrics.NewTimer()
		errCount := gometrics.NewCounter()
		b.Cleanup(timer.Stop)

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				start := time.Now()
				if err := bm.call(ctx); err != nil {
					errCount.Inc(1)
					log.Printf("(%s) - error: %v\n", bm.name, err)
					continue
				}
				timer.UpdateSince(start)
			}
		})

		result.latency = timer.Snapshot()
		result.errors = errCount.Count()
	})
	return result
}

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result *benchResult) {
	if result == nil || result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.latency.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\terrors %d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(ps[0]), time.Duration(ps[1]), result.errors)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]*benchResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors",
		"Endpoints", "TimeoutMs", "Serializer", "LoadBalancer", "Retry", "Tolerant",
		"Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		ps := result.latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(result.errors, 10),
			strings.Join(config.Endpoints, ";"),
			strconv.FormatInt(config.TimeoutMillisecond, 10),
			config.Serializer,
			config.LoadBalancer,
			config.RetryStrategy,
			config.TolerantStrategy,
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
