// Package benchmark - Measures classification throughput and latency for a model.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nvr-ai/go-classify/inference"
	"github.com/nvr-ai/go-classify/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Classifier is the part of inference.Engine the suite drives.
type Classifier interface {
	Classify(ctx context.Context, image []byte, modelPath string) (*inference.Result, error)
}

// Scenario defines a specific benchmark run.
type Scenario struct {
	Name       string `json:"name"        yaml:"name"`
	ModelPath  string `json:"model_path"  yaml:"model_path"`
	Iterations int    `json:"iterations"  yaml:"iterations"`
	WarmupRuns int    `json:"warmup_runs" yaml:"warmup_runs"`
}

// PerformanceMetrics captures the results of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	MeanLatency     time.Duration `json:"mean_latency"`
	P50Latency      time.Duration `json:"p50_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	FramesPerSecond float64       `json:"frames_per_second"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
	NumCPU          int           `json:"num_cpu"`
	ErrorRate       float64       `json:"error_rate"`
	// Labels counts the top-1 label of each successful iteration.
	Labels map[string]int `json:"labels"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// Suite manages and executes benchmark scenarios.
type Suite struct {
	engine    Classifier
	outputDir string
	log       logrus.FieldLogger

	mu         sync.RWMutex
	scenarios  []Scenario
	testImages [][]byte
	results    []PerformanceMetrics
}

// NewSuite creates a benchmark suite.
//
// Arguments:
//   - engine: The classifier under test.
//   - outputDir: Where SaveResults writes its files.
//   - log: The logger; nil means the standard logger.
//
// Returns:
//   - *Suite: The empty suite.
func NewSuite(engine Classifier, outputDir string, log logrus.FieldLogger) *Suite {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Suite{engine: engine, outputDir: outputDir, log: log}
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// AddImage adds encoded image bytes to the rotation.
func (s *Suite) AddImage(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testImages = append(s.testImages, data)
}

// LoadTestImages loads a single image file or every image in a directory.
func (s *Suite) LoadTestImages(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "stat image path")
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "read image file")
		}
		s.AddImage(data)
		return nil
	}

	files, err := util.LoadDirectoryImageFiles(path)
	if err != nil {
		return errors.Wrap(err, "read image directory")
	}
	if len(files) == 0 {
		return errors.Errorf("no images found in directory: %s", path)
	}
	for _, f := range files {
		s.AddImage(f.Data)
	}
	return nil
}

// RunScenario executes a single scenario. Warmup runs are not measured and their errors
// are ignored.
//
// Arguments:
//   - ctx: Cancels the remaining iterations.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid, no images are loaded or ctx ends.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s needs a positive iteration count", scenario.Name)
	}

	s.mu.RLock()
	images := s.testImages
	s.mu.RUnlock()
	if len(images) == 0 {
		return nil, errors.New("no test images loaded")
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		_, _ = s.engine.Classify(ctx, images[i%len(images)], scenario.ModelPath)
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
		NumCPU:    runtime.NumCPU(),
		Labels:    make(map[string]int),
	}

	latencies := make([]time.Duration, 0, scenario.Iterations)
	failures := 0
	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := time.Now()
		result, err := s.engine.Classify(ctx, images[i%len(images)], scenario.ModelPath)
		if err != nil {
			failures++
			s.log.WithError(err).WithField("scenario", scenario.Name).Debug("benchmark iteration failed")
			continue
		}
		latencies = append(latencies, time.Since(t))
		metrics.Labels[result.Label]++
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	if secs := metrics.TotalDuration.Seconds(); secs > 0 {
		metrics.FramesPerSecond = float64(len(latencies)) / secs
	}
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.MeanLatency, metrics.P50Latency, metrics.P95Latency = summarize(latencies)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	return metrics, nil
}

// RunAllScenarios executes every scenario and saves the results. A failing scenario is
// logged and skipped.
func (s *Suite) RunAllScenarios(ctx context.Context) error {
	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := s.RunScenario(ctx, scenario)
		if err != nil {
			s.log.WithError(err).WithField("scenario", scenario.Name).Warn("scenario failed")
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *metrics)
		s.mu.Unlock()

		s.log.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"fps":      fmt.Sprintf("%.2f", metrics.FramesPerSecond),
			"p95":      metrics.P95Latency,
		}).Info("scenario completed")
	}

	_, err := s.SaveResults()
	return err
}

// SaveResults writes the results as JSON and a CSV summary into the output directory.
//
// Returns:
//   - []string: The written file paths.
//   - error: An error if a file cannot be written.
func (s *Suite) SaveResults() ([]string, error) {
	results := s.GetResults()

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	summaryFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "write results file")
	}
	if err := writeSummaryCSV(summaryFile, results); err != nil {
		return nil, errors.Wrap(err, "write summary CSV")
	}

	s.log.WithFields(logrus.Fields{"results": resultsFile, "summary": summaryFile}).Info("benchmark results saved")
	return []string{resultsFile, summaryFile}, nil
}

// GetResults returns all benchmark results.
func (s *Suite) GetResults() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

func writeSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"Scenario", "Model", "FPS", "Total_Duration_ms", "Mean_ms", "P95_ms", "Alloc_MB", "Error_Rate"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Scenario.Name,
			r.Scenario.ModelPath,
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(ms(r.TotalDuration), 'f', 2, 64),
			strconv.FormatFloat(ms(r.MeanLatency), 'f', 3, 64),
			strconv.FormatFloat(ms(r.P95Latency), 'f', 3, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ms(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }

// summarize returns the mean, median and 95th percentile (nearest rank).
func summarize(latencies []time.Duration) (mean, p50, p95 time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	return total / time.Duration(len(sorted)), percentile(sorted, 50), percentile(sorted, 95)
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
