package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/go-classify/inference"
	"github.com/nvr-ai/go-classify/session"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockClassifier fails every failEvery-th call and otherwise returns label.
type MockClassifier struct {
	calls     atomic.Int64
	failEvery int64
	label     string
}

func (m *MockClassifier) Classify(ctx context.Context, image []byte, modelPath string) (*inference.Result, error) {
	n := m.calls.Add(1)
	if m.failEvery > 0 && n%m.failEvery == 0 {
		return nil, errors.New("mock failure")
	}
	return &inference.Result{Prediction: inference.Prediction{Label: m.label, Confidence: 0.9}}, nil
}

func newSuite(t *testing.T, engine Classifier) *Suite {
	t.Helper()
	log, _ := test.NewNullLogger()
	return NewSuite(engine, t.TempDir(), log)
}

func TestRunScenario(t *testing.T) {
	engine := &MockClassifier{label: "cat", failEvery: 4}
	suite := newSuite(t, engine)
	suite.AddImage([]byte("a"))
	suite.AddImage([]byte("b"))

	metrics, err := suite.RunScenario(context.Background(), Scenario{
		Name: "mock", ModelPath: "m.onnx", Iterations: 8, WarmupRuns: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), engine.calls.Load(), "warmup runs also call the engine")
	// Calls 4 and 8 fail; both fall after the two warmup calls.
	assert.InDelta(t, 2.0/8.0, metrics.ErrorRate, 1e-9)
	assert.Equal(t, 6, metrics.Labels["cat"])
	assert.Greater(t, metrics.FramesPerSecond, 0.0)
	assert.LessOrEqual(t, metrics.P50Latency, metrics.P95Latency)
	assert.Equal(t, "mock", metrics.Scenario.Name)
}

func TestRunScenarioCountsOnlySuccessfulFrames(t *testing.T) {
	suite := newSuite(t, &MockClassifier{failEvery: 1})
	suite.AddImage([]byte("a"))

	metrics, err := suite.RunScenario(context.Background(), Scenario{Name: "broken", ModelPath: "m.onnx", Iterations: 5})
	require.NoError(t, err)

	assert.Equal(t, 1.0, metrics.ErrorRate)
	assert.Zero(t, metrics.FramesPerSecond, "failed iterations are not frames")
	assert.Empty(t, metrics.Labels)
}

func TestRunScenarioValidation(t *testing.T) {
	suite := newSuite(t, &MockClassifier{})

	_, err := suite.RunScenario(context.Background(), Scenario{Name: "zero", Iterations: 0})
	assert.Error(t, err)

	_, err = suite.RunScenario(context.Background(), Scenario{Name: "no images", Iterations: 1})
	assert.ErrorContains(t, err, "no test images")

	suite.AddImage([]byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.RunScenario(ctx, Scenario{Name: "cancelled", Iterations: 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAllScenariosSavesResults(t *testing.T) {
	suite := newSuite(t, &MockClassifier{label: "dog"})
	suite.AddImage([]byte("x"))
	suite.AddScenario(Scenario{Name: "first", ModelPath: "a.onnx", Iterations: 3})
	suite.AddScenario(Scenario{Name: "broken", ModelPath: "b.onnx"})

	require.NoError(t, suite.RunAllScenarios(context.Background()))

	results := suite.GetResults()
	require.Len(t, results, 1, "the invalid scenario is skipped")
	assert.Equal(t, "first", results[0].Scenario.Name)

	files, err := filepath.Glob(filepath.Join(suite.outputDir, "benchmark_*"))
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestSaveResultsFormats(t *testing.T) {
	suite := newSuite(t, &MockClassifier{})
	suite.results = []PerformanceMetrics{{
		Scenario:        Scenario{Name: "s", ModelPath: "m.yaml", Iterations: 10},
		TotalDuration:   2 * time.Second,
		MeanLatency:     200 * time.Millisecond,
		P95Latency:      250 * time.Millisecond,
		FramesPerSecond: 5,
		ErrorRate:       0.1,
	}}

	files, err := suite.SaveResults()
	require.NoError(t, err)
	require.Len(t, files, 2)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var decoded []PerformanceMetrics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, suite.results[0].Scenario, decoded[0].Scenario)

	f, err := os.Open(files[1])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"s", "m.yaml", "5.00", "2000.00", "200.000", "250.000", "0.00", "0.1000"}, rows[1])
}

func TestSummarize(t *testing.T) {
	var latencies []time.Duration
	for i := 1; i <= 20; i++ {
		latencies = append(latencies, time.Duration(21-i)*time.Millisecond)
	}

	mean, p50, p95 := summarize(latencies)
	assert.Equal(t, 10500*time.Microsecond, mean)
	assert.Equal(t, 10*time.Millisecond, p50)
	assert.Equal(t, 19*time.Millisecond, p95)

	mean, p50, p95 = summarize(nil)
	assert.Zero(t, mean)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
}

func TestLoadTestImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("c"), 0o600))

	suite := newSuite(t, &MockClassifier{})
	require.NoError(t, suite.LoadTestImages(dir))
	require.NoError(t, suite.LoadTestImages(filepath.Join(dir, "a.png")))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("a")}, suite.testImages)

	assert.Error(t, suite.LoadTestImages(t.TempDir()), "an empty directory has no images")
	assert.Error(t, suite.LoadTestImages(filepath.Join(dir, "missing.png")))
}

func TestRunScenarioWithEngine(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "linear.yaml")
	require.NoError(t, os.WriteFile(model, []byte(
		"input: {name: x, shape: [1, 3, 16, 16]}\noutput: y\nweights: [[0, 0, 0], [0, 0, 0]]\nbias: [0, 1]\n"), 0o600))

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewNRGBA(image.Rect(0, 0, 32, 32))))

	log, _ := test.NewNullLogger()
	engine, err := inference.NewEngineBuilder().WithLoader(session.LinearLoader{}).WithLogger(log).Build()
	require.NoError(t, err)
	defer engine.Close()

	suite := NewSuite(engine, t.TempDir(), log)
	suite.AddImage(img.Bytes())

	metrics, err := suite.RunScenario(context.Background(), Scenario{Name: "linear", ModelPath: model, Iterations: 5, WarmupRuns: 1})
	require.NoError(t, err)
	assert.Zero(t, metrics.ErrorRate)
	assert.Equal(t, map[string]int{"Class #1": 5}, metrics.Labels)
}
