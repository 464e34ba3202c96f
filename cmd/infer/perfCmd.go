package infer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/aibroker/cmd/util"
	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/rpc/client"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for aibroker servers",
		Long:    "Runs sync, sync-large, async and start-stop benchmarks against the engine selected with --algo. The async benchmark needs an asynchronous plugin (e.g. --algo echo-async), it is skipped for synchronous ones.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargePayloadSizeKB = 100
	perfNumThreads         = 10
	perfSkip               = make([]string, 0)
	perfUnsupported        = make(map[string]bool) // tests the engine cannot serve
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. sync,async)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-payload-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the sync-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargePayloadSizeKB = viper.GetInt("large-payload-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for aibroker servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Engine: %s\n", getAlgo().Key())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// a session held over all benchmarks keeps the engine loaded
	keeper, err := startSession()
	if err != nil {
		return err
	}
	defer keeper.Stop(nil)

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	syncResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("sync") {
			return
		}

		session := benchSession(b, "sync")
		if session == nil {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				_, err := session.SyncExecute(&core.Request{Payload: []byte("test")})
				if err != nil {
					log.Printf("(sync) - error executing request: %v\n", err)
				}
			}
		})
	})

	results["sync"] = syncResult
	printResult("sync", syncResult)

	syncLargeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("sync-large") {
			return
		}

		// prepare large payload
		largePayload := make([]byte, perfLargePayloadSizeKB*1024)

		session := benchSession(b, "sync-large")
		if session == nil {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				_, err := session.SyncExecute(&core.Request{Payload: largePayload})
				if err != nil {
					log.Printf("(sync-large) - error executing request: %v\n", err)
				}
			}
		})
	})

	results["sync-large"] = syncLargeResult
	printResult("sync-large", syncLargeResult)

	asyncResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("async") {
			return
		}

		session := benchSession(b, "async")
		if session == nil {
			return
		}

		// every queued request is done once its reply was pushed
		var pending sync.WaitGroup
		if err := session.SetListener(func(resp *core.Response) {
			if err := resp.Err(); err != nil {
				log.Printf("(async) - error reply: %v\n", err)
			}
			pending.Done()
		}); err != nil {
			log.Printf("(async) - error registering listener: %v\n", err)
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				pending.Add(1)
				_, err := session.AsyncExecute(&core.Request{Payload: []byte("test")})
				if err != nil {
					pending.Done()
					log.Printf("(async) - error queueing request: %v\n", err)
				}
			}
		})

		pending.Wait()
	})

	results["async"] = asyncResult
	printResult("async", asyncResult)

	startStopResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("start-stop") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				session, _, err := rpcClient.StartEngine(getAlgo(), nil)
				if err != nil {
					log.Printf("(start-stop) - error starting engine: %v\n", err)
					continue
				}
				if err := session.Stop(nil); err != nil {
					log.Printf("(start-stop) - error stopping engine: %v\n", err)
				}
			}
		})
	})

	results["start-stop"] = startStopResult
	printResult("start-stop", startStopResult)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// benchSession starts a session stopped when the benchmark run ends. It
// returns nil (and the benchmark is reported as skipped) if the engine
// cannot serve the test.
func benchSession(b *testing.B, test string) *client.Session {
	session, err := startSession()
	if err != nil {
		log.Printf("(%s) - error starting engine: %v\n", test, err)
		perfUnsupported[test] = true
		return nil
	}

	b.Cleanup(func() {
		if err := session.Stop(nil); err != nil {
			log.Printf("(%s) - error stopping engine: %v\n", test, err)
		}
	})

	// probe the infer mode of the engine with a synchronous request, async
	// engines reject it without running the plugin
	_, err = session.SyncExecute(&core.Request{Payload: []byte("probe")})
	switch {
	case test == "async" && !errors.Is(err, core.ErrWrongInferMode):
		log.Printf("(%s) - skipped: engine %s is not asynchronous\n", test, session.Algo().Key())
		perfUnsupported[test] = true
		return nil
	case test != "async" && err != nil:
		log.Printf("(%s) - skipped: %v\n", test, err)
		perfUnsupported[test] = true
		return nil
	}
	return session
}

// isSkipped reports whether a test did not run
func isSkipped(test string, result testing.BenchmarkResult) bool {
	return result.NsPerOp() == 0 || perfUnsupported[test]
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if isSkipped(test, result) {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Engine", "Serializer", "Transport",
		"Threads", "LargePayloadSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if isSkipped(test, result) {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			getAlgo().Key().String(),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargePayloadSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
