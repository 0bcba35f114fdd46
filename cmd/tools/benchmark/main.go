package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/historian/internal/archive"
	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

// BenchmarkConfig holds benchmark configuration
type BenchmarkConfig struct {
	Dir              string
	NumSignals       int
	Duration         time.Duration
	QueryWorkers     int
	BatchSize        int
	QueryInterval    time.Duration
	QueryWindow      time.Duration
	SampleInterval   time.Duration // spacing of generated points per signal
	DataTimeRange    time.Duration // how far back in time generated data starts
	CompressionLimit float64
	FileSizeMB       float64
	DataBlockSizeKB  int
	Save             bool
}

// Metrics holds benchmark metrics
type Metrics struct {
	WriteLatencies  []float64
	QueryLatencies  []float64
	WriteErrors     int64
	QueryErrors     int64
	WriteSuccess    int64
	QuerySuccess    int64
	PointsWritten   int64
	PointsRead      int64
	FirstWriteError string
	FirstQueryError string
	mu              sync.Mutex
}

// Result represents benchmark results
type Result struct {
	Operation  string
	TotalOps   int64
	SuccessOps int64
	ErrorOps   int64
	Duration   time.Duration
	Throughput float64 // ops/sec
	AvgLatency float64 // ms
	MinLatency float64 // ms
	MaxLatency float64 // ms
	P50Latency float64 // ms
	P95Latency float64 // ms
	P99Latency float64 // ms
	ErrorMsg   string  // First error message
}

func main() {
	config := BenchmarkConfig{}
	flag.StringVar(&config.Dir, "dir", "", "Archive directory (default: a temporary directory)")
	flag.IntVar(&config.NumSignals, "signals", 100, "Number of signals")
	flag.DurationVar(&config.Duration, "duration", 30*time.Second, "Benchmark duration")
	flag.IntVar(&config.QueryWorkers, "query-workers", 4, "Number of concurrent query workers")
	flag.IntVar(&config.BatchSize, "batch-size", 1000, "Points per WriteData call")
	flag.DurationVar(&config.QueryInterval, "query-interval", 10*time.Millisecond, "Interval between queries per worker")
	flag.DurationVar(&config.QueryWindow, "query-window", 5*time.Minute, "Time span read by each query")
	flag.DurationVar(&config.SampleInterval, "sample-interval", time.Second, "Spacing of generated points")
	flag.DurationVar(&config.DataTimeRange, "time-range", 7*24*time.Hour, "How far back generated data starts")
	flag.Float64Var(&config.CompressionLimit, "compression-limit", 0.5, "Swinging door compression limit")
	flag.Float64Var(&config.FileSizeMB, "file-size-mb", 16, "Archive file size")
	flag.IntVar(&config.DataBlockSizeKB, "block-kb", 8, "Data block size")
	flag.BoolVar(&config.Save, "save", false, "Save results under benchmark_results/")
	flag.Parse()

	if config.Dir == "" {
		dir, err := os.MkdirTemp("", "historian_bench")
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		config.Dir = dir
	}

	fmt.Printf("=== Historian Benchmark Tool ===\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Directory: %s\n", config.Dir)
	fmt.Printf("  Signals: %d\n", config.NumSignals)
	fmt.Printf("  Duration: %s\n", config.Duration)
	fmt.Printf("  Query Workers: %d\n", config.QueryWorkers)
	fmt.Printf("  Batch Size: %d\n", config.BatchSize)
	fmt.Printf("  Query Interval: %s\n", config.QueryInterval)
	fmt.Printf("  File Size: %.1f MB, %d KB blocks\n", config.FileSizeMB, config.DataBlockSizeKB)
	fmt.Printf("  Compression Limit: %g\n", config.CompressionLimit)
	fmt.Printf("\n")

	af, err := openArchive(config)
	if err != nil {
		fmt.Printf("Failed to open archive: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running benchmark for %s...\n\n", config.Duration)
	start := time.Now()
	metrics := runBenchmark(config, af)

	if err := af.Flush(); err != nil {
		fmt.Printf("Flush failed: %v\n", err)
	}
	elapsed := time.Since(start)
	stats, _ := af.Statistics()
	_ = af.Close()

	writeResult := calculateResult("Write", metrics.WriteLatencies, metrics.WriteSuccess, metrics.WriteErrors, elapsed, metrics.FirstWriteError)
	queryResult := calculateResult("Query", metrics.QueryLatencies, metrics.QuerySuccess, metrics.QueryErrors, elapsed, metrics.FirstQueryError)

	displayResult(writeResult)
	fmt.Printf("Points written:   %d (%.0f points/sec)\n\n", metrics.PointsWritten, float64(metrics.PointsWritten)/elapsed.Seconds())
	displayResult(queryResult)
	fmt.Printf("Points read:      %d\n\n", metrics.PointsRead)

	fmt.Printf("=== Archive ===\n")
	fmt.Printf("Points received:  %d\n", stats.PointsReceived)
	fmt.Printf("Points archived:  %d\n", stats.PointsArchived)
	fmt.Printf("Compression:      %.2f:1\n", stats.CompressionRatio)
	fmt.Printf("Blocks used:      %d / %d\n", stats.BlocksUsed, stats.BlockCount)
	fmt.Printf("Historic files:   %d\n", stats.HistoricFiles)

	if config.Save {
		saveResults(config, writeResult, queryResult)
	}
}

func openArchive(config BenchmarkConfig) (*archive.ArchiveFile, error) {
	store := records.NewMemoryStore()
	for id := 1; id <= config.NumSignals; id++ {
		meta := models.NewAnalogMetadata(int32(id), fmt.Sprintf("signal_%d", id), float32(config.CompressionLimit))
		if err := store.WriteMetadata(int32(id), meta); err != nil {
			return nil, err
		}
	}

	opts := archive.DefaultOptions(filepath.Join(config.Dir, "archive.d"))
	opts.FileSizeMB = config.FileSizeMB
	opts.DataBlockSizeKB = config.DataBlockSizeKB

	af, err := archive.New(opts, archive.Dependencies{
		States:   store,
		Metadata: store,
		Intercom: store,
		Logger:   logging.NewNop(),
	})
	if err != nil {
		return nil, err
	}
	return af, af.Open()
}

func runBenchmark(config BenchmarkConfig, af *archive.ArchiveFile) *Metrics {
	metrics := &Metrics{
		WriteLatencies: make([]float64, 0, 10000),
		QueryLatencies: make([]float64, 0, 1000),
	}

	var wg sync.WaitGroup
	stopCh := make(chan struct{})
	startTime := time.Now()

	// Latest generated time, read by the query workers
	var latest atomic.Int64
	first := time.Now().Add(-config.DataTimeRange)
	latest.Store(first.UnixMilli())

	wg.Add(1)
	go writeWorker(config, af, first, &latest, metrics, stopCh, &wg)

	for i := 0; i < config.QueryWorkers; i++ {
		wg.Add(1)
		go queryWorker(i, config, af, first, &latest, metrics, stopCh, &wg)
	}

	go progressReporter(metrics, config.Duration, startTime)

	time.Sleep(config.Duration)
	close(stopCh)
	wg.Wait()

	return metrics
}

// writeWorker generates a random walk per signal, one sample interval at a
// time, until the generated time catches up with the clock
func writeWorker(config BenchmarkConfig, af *archive.ArchiveFile, first time.Time, latest *atomic.Int64, metrics *Metrics, stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	rng := rand.New(rand.NewSource(1))
	values := make([]float64, config.NumSignals)
	batch := make([]models.DataPoint, 0, config.BatchSize)

	send := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := af.WriteData(batch...)
		latency := time.Since(start).Seconds() * 1000

		metrics.mu.Lock()
		metrics.WriteLatencies = append(metrics.WriteLatencies, latency)
		if err != nil && metrics.FirstWriteError == "" {
			metrics.FirstWriteError = err.Error()
		}
		metrics.mu.Unlock()

		if err != nil {
			atomic.AddInt64(&metrics.WriteErrors, 1)
		} else {
			atomic.AddInt64(&metrics.WriteSuccess, 1)
			atomic.AddInt64(&metrics.PointsWritten, int64(len(batch)))
		}
		batch = batch[:0]
	}

	for ts := first; ts.Before(time.Now()); ts = ts.Add(config.SampleInterval) {
		select {
		case <-stopCh:
			send()
			return
		default:
		}

		tag := models.NewTimeTag(ts)
		for i := range values {
			values[i] += rng.NormFloat64()
			batch = append(batch, models.NewDataPoint(int32(i+1), tag, float32(values[i]), models.QualityUnknown))
			if len(batch) >= config.BatchSize {
				send()
			}
		}
		latest.Store(ts.UnixMilli())
	}
	send()
}

func queryWorker(id int, config BenchmarkConfig, af *archive.ArchiveFile, first time.Time, latest *atomic.Int64, metrics *Metrics, stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	rng := rand.New(rand.NewSource(int64(id) + 100))
	ticker := time.NewTicker(config.QueryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			span := time.UnixMilli(latest.Load()).Sub(first)
			offset := time.Duration(0)
			if span > config.QueryWindow {
				offset = time.Duration(rng.Int63n(int64(span - config.QueryWindow)))
			}
			startTag := models.NewTimeTag(first.Add(offset))
			q := archive.Query{
				IDs:   []int32{int32(rng.Intn(config.NumSignals) + 1)},
				Start: startTag,
				End:   startTag.Add(config.QueryWindow),
			}

			start := time.Now()
			n, err := runQuery(af, q)
			latency := time.Since(start).Seconds() * 1000

			metrics.mu.Lock()
			metrics.QueryLatencies = append(metrics.QueryLatencies, latency)
			if err != nil && metrics.FirstQueryError == "" {
				metrics.FirstQueryError = err.Error()
			}
			metrics.mu.Unlock()

			if err != nil {
				atomic.AddInt64(&metrics.QueryErrors, 1)
			} else {
				atomic.AddInt64(&metrics.QuerySuccess, 1)
				atomic.AddInt64(&metrics.PointsRead, int64(n))
			}
		}
	}
}

func runQuery(af *archive.ArchiveFile, q archive.Query) (int, error) {
	r, err := af.ReadData(context.Background(), q)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for r.Next() {
		n++
	}
	return n, r.Err()
}

func progressReporter(metrics *Metrics, duration time.Duration, startTime time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		<-ticker.C
		elapsed := time.Since(startTime)
		if elapsed >= duration {
			return
		}

		points := atomic.LoadInt64(&metrics.PointsWritten)
		queries := atomic.LoadInt64(&metrics.QuerySuccess)
		writeErrors := atomic.LoadInt64(&metrics.WriteErrors)
		queryErrors := atomic.LoadInt64(&metrics.QueryErrors)

		remaining := duration - elapsed
		fmt.Printf("[%s remaining] Points: %d (%.0f/s, %d errors) | Queries: %d (%.0f/s, %d errors)\n",
			remaining.Round(time.Second), points, float64(points)/elapsed.Seconds(), writeErrors,
			queries, float64(queries)/elapsed.Seconds(), queryErrors)
	}
}

func calculateResult(operation string, latencies []float64, success, errors int64, duration time.Duration, errorMsg string) Result {
	if len(latencies) == 0 {
		return Result{
			Operation: operation,
			TotalOps:  success + errors,
			ErrorMsg:  errorMsg,
		}
	}

	sort.Float64s(latencies)

	result := Result{
		Operation:  operation,
		TotalOps:   success + errors,
		SuccessOps: success,
		ErrorOps:   errors,
		Duration:   duration,
		Throughput: float64(success) / duration.Seconds(),
		MinLatency: latencies[0],
		MaxLatency: latencies[len(latencies)-1],
		P50Latency: percentile(latencies, 50),
		P95Latency: percentile(latencies, 95),
		P99Latency: percentile(latencies, 99),
		ErrorMsg:   errorMsg,
	}

	var sum float64
	for _, lat := range latencies {
		sum += lat
	}
	result.AvgLatency = sum / float64(len(latencies))

	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(math.Ceil(float64(len(sorted)) * p / 100.0))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func displayResult(r Result) {
	fmt.Printf("=== %s Operations ===\n", r.Operation)
	fmt.Printf("Total Operations: %d\n", r.TotalOps)
	if r.TotalOps > 0 {
		fmt.Printf("Success:          %d (%.2f%%)\n", r.SuccessOps, float64(r.SuccessOps)/float64(r.TotalOps)*100)
		fmt.Printf("Errors:           %d (%.2f%%)\n", r.ErrorOps, float64(r.ErrorOps)/float64(r.TotalOps)*100)
	}
	fmt.Printf("Duration:         %s\n", r.Duration)
	fmt.Printf("Throughput:       %.2f ops/sec\n", r.Throughput)
	if r.ErrorOps > 0 && len(r.ErrorMsg) > 0 {
		fmt.Printf("First Error:      %s\n", r.ErrorMsg)
	}
	fmt.Printf("\nLatency (ms):\n")
	fmt.Printf("  Min:  %.2f\n", r.MinLatency)
	fmt.Printf("  Avg:  %.2f\n", r.AvgLatency)
	fmt.Printf("  P50:  %.2f\n", r.P50Latency)
	fmt.Printf("  P95:  %.2f\n", r.P95Latency)
	fmt.Printf("  P99:  %.2f\n", r.P99Latency)
	fmt.Printf("  Max:  %.2f\n", r.MaxLatency)
}

func saveResults(config BenchmarkConfig, writeResult, queryResult Result) {
	timestamp := time.Now().Format("20060102_150405")
	if err := os.MkdirAll("benchmark_results", 0o755); err != nil {
		fmt.Printf("Failed to create result directory: %v\n", err)
		return
	}
	filename := fmt.Sprintf("benchmark_results/archive_benchmark_%s.txt", timestamp)

	f, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Failed to create result file: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	_, _ = fmt.Fprintf(f, "=== Historian Archive Benchmark Results ===\n")
	_, _ = fmt.Fprintf(f, "Date: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(f, "Configuration:\n")
	_, _ = fmt.Fprintf(f, "  Signals: %d\n", config.NumSignals)
	_, _ = fmt.Fprintf(f, "  Duration: %s\n", config.Duration)
	_, _ = fmt.Fprintf(f, "  Query Workers: %d\n", config.QueryWorkers)
	_, _ = fmt.Fprintf(f, "  Batch Size: %d\n", config.BatchSize)
	_, _ = fmt.Fprintf(f, "  File Size: %.1f MB\n", config.FileSizeMB)
	_, _ = fmt.Fprintf(f, "  Block Size: %d KB\n", config.DataBlockSizeKB)
	_, _ = fmt.Fprintf(f, "\n")

	writeResultToFile(f, writeResult)
	_, _ = fmt.Fprintf(f, "\n")
	writeResultToFile(f, queryResult)

	fmt.Printf("\nResults saved to: %s\n", filename)
}

func writeResultToFile(f *os.File, r Result) {
	_, _ = fmt.Fprintf(f, "=== %s Operations ===\n", r.Operation)
	_, _ = fmt.Fprintf(f, "Total Operations: %d\n", r.TotalOps)
	_, _ = fmt.Fprintf(f, "Duration:         %s\n", r.Duration)
	_, _ = fmt.Fprintf(f, "Throughput:       %.2f ops/sec\n", r.Throughput)
	_, _ = fmt.Fprintf(f, "\nLatency (ms):\n")
	_, _ = fmt.Fprintf(f, "  Min:  %.2f\n", r.MinLatency)
	_, _ = fmt.Fprintf(f, "  Avg:  %.2f\n", r.AvgLatency)
	_, _ = fmt.Fprintf(f, "  P50:  %.2f\n", r.P50Latency)
	_, _ = fmt.Fprintf(f, "  P95:  %.2f\n", r.P95Latency)
	_, _ = fmt.Fprintf(f, "  P99:  %.2f\n", r.P99Latency)
	_, _ = fmt.Fprintf(f, "  Max:  %.2f\n", r.MaxLatency)
}
