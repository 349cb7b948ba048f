package session

import (
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Stats holds run statistics for a single handle.
type Stats struct {
	// Runs is the number of completed runs, successful or not.
	Runs int64
	// Total is the summed wall time of all runs.
	Total time.Duration
}

// Mean returns the average run time, or zero before the first run.
func (s Stats) Mean() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Runs)
}

// Handle is a loaded model owned by a Cache.
//
// Runs on the same handle are serialized; runs on different handles are independent.
type Handle struct {
	path    string
	meta    Metadata
	backend Backend

	mu     sync.Mutex
	closed bool
	stats  Stats
}

func newHandle(path string, backend Backend) *Handle {
	meta := backend.Metadata()
	meta.InputShape = append([]int64(nil), meta.InputShape...)
	return &Handle{path: path, meta: meta, backend: backend}
}

// Path returns the cache key of the handle.
func (h *Handle) Path() string { return h.path }

// InputName returns the declared input tensor name.
func (h *Handle) InputName() string { return h.meta.InputName }

// InputShape returns a copy of the declared input shape; dynamic dimensions are -1.
func (h *Handle) InputShape() []int64 { return append([]int64(nil), h.meta.InputShape...) }

// OutputName returns the declared output tensor name.
func (h *Handle) OutputName() string { return h.meta.OutputName }

// Run executes the model exclusively and returns the first output as flat values.
//
// Arguments:
//   - input: The input values in row-major order.
//   - shape: The input shape; its element count must equal len(input).
//
// Returns:
//   - []float32: The flattened first output.
//   - error: An *ExecutionError on any failure, including NaN or infinite outputs.
func (h *Handle) Run(input []float32, shape []int64) ([]float32, error) {
	if err := checkShape(input, shape); err != nil {
		return nil, &ExecutionError{Path: h.path, Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, &ExecutionError{Path: h.path, Err: errors.New("session is closed")}
	}

	start := time.Now()
	out, err := h.backend.Run(input, shape)
	h.stats.Runs++
	h.stats.Total += time.Since(start)

	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return nil, &ExecutionError{Path: h.path, Err: err}
	}
	if len(out) == 0 {
		return nil, &ExecutionError{Path: h.path, Err: errors.New("model produced an empty output")}
	}
	for i, v := range out {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return nil, &ExecutionError{Path: h.path, Err: errors.Errorf("model produced a non-finite output %v at index %d", v, i)}
		}
	}
	return out, nil
}

// Stats returns a snapshot of the run statistics.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Close releases the backend. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.backend.Close(); err != nil {
		return errors.Wrapf(err, "close model %s", h.path)
	}
	return nil
}

func checkShape(input []float32, shape []int64) error {
	if len(shape) == 0 {
		return errors.New("input shape is empty")
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return errors.Errorf("input shape %v has a non-positive dimension", shape)
		}
		n *= d
	}
	if n != int64(len(input)) {
		return errors.Errorf("input shape %v needs %d values, got %d", shape, n, len(input))
	}
	return nil
}
