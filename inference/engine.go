// Package inference - Classifies images with cached models and renders labelled results.
package inference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-classify/labels"
	"github.com/nvr-ai/go-classify/preprocess"
	"github.com/nvr-ai/go-classify/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default input size used for dynamic model dimensions.
const (
	DefaultWidth  = 224
	DefaultHeight = 224
)

// Engine runs the classification pipeline: load, preprocess, run, softmax, label.
//
// An Engine is safe for concurrent use. Requests for different models run in parallel;
// requests for the same model are serialized by its session handle.
type Engine struct {
	cache         *session.Cache
	preprocessor  *preprocess.Preprocessor
	defaultWidth  int
	defaultHeight int
	log           logrus.FieldLogger
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	cache         *session.Cache
	loader        session.Loader
	preprocessor  *preprocess.Preprocessor
	defaultWidth  int
	defaultHeight int
	log           logrus.FieldLogger
	err           error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
//
// @example
//
//	engine, err := inference.NewEngineBuilder().
//	    WithLoader(session.NewDefaultRouter(session.ONNXConfig{})).
//	    WithFilter(preprocess.FilterBilinear).
//	    Build()
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		defaultWidth:  DefaultWidth,
		defaultHeight: DefaultHeight,
		log:           logrus.StandardLogger(),
	}
}

// WithCache sets the session cache. It takes precedence over WithLoader.
func (b *EngineBuilder) WithCache(cache *session.Cache) *EngineBuilder {
	b.cache = cache
	return b
}

// WithLoader sets the loader used to build the engine's own session cache.
func (b *EngineBuilder) WithLoader(loader session.Loader) *EngineBuilder {
	b.loader = loader
	return b
}

// WithPreprocessor sets the image preprocessor.
func (b *EngineBuilder) WithPreprocessor(p *preprocess.Preprocessor) *EngineBuilder {
	b.preprocessor = p
	return b
}

// WithFilter builds a preprocessor using the given resampling filter.
//
// Arguments:
//   - filter: The resampling filter name.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithFilter(filter preprocess.Filter) *EngineBuilder {
	if b.HasError() {
		return b
	}
	p, err := preprocess.NewPreprocessor(preprocess.Config{Filter: filter})
	if err != nil {
		b.err = err
		return b
	}
	b.preprocessor = p
	return b
}

// WithDefaultSize sets the input size used when a model declares dynamic height or width.
func (b *EngineBuilder) WithDefaultSize(width, height int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if width <= 0 || height <= 0 {
		b.err = errors.Errorf("invalid default input size %dx%d", width, height)
		return b
	}
	b.defaultWidth, b.defaultHeight = width, height
	return b
}

// WithLogger sets the logger.
func (b *EngineBuilder) WithLogger(log logrus.FieldLogger) *EngineBuilder {
	if log != nil {
		b.log = log
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The first configuration error, if any.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}

	cache := b.cache
	if cache == nil {
		if b.loader == nil {
			return nil, errors.New("neither a session cache nor a loader is configured")
		}
		cache = session.NewCache(b.loader, session.WithLogger(b.log))
	}

	p := b.preprocessor
	if p == nil {
		var err error
		if p, err = preprocess.NewPreprocessor(preprocess.Config{}); err != nil {
			return nil, err
		}
	}

	return &Engine{
		cache:         cache,
		preprocessor:  p,
		defaultWidth:  b.defaultWidth,
		defaultHeight: b.defaultHeight,
		log:           b.log,
	}, nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - *Engine: The engine.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Cache returns the engine's session cache.
func (e *Engine) Cache() *session.Cache { return e.cache }

// Close evicts every cached model and releases the loader.
func (e *Engine) Close() error {
	return e.cache.Close()
}

// Predict classifies an image and renders the top class as "<label>: <percent>%".
//
// Arguments:
//   - ctx: Checked before any work starts; a running model is not interrupted.
//   - image: The encoded image bytes.
//   - modelPath: The model file path.
//
// Returns:
//   - string: The formatted result, e.g. "tabby cat: 87.3%".
//   - error: The error from the failing step, see Classify.
func (e *Engine) Predict(ctx context.Context, image []byte, modelPath string) (string, error) {
	r, err := e.Classify(ctx, image, modelPath)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

// Classify runs the full pipeline and returns the structured result.
//
// Errors keep their type: *session.ModelLoadError, *preprocess.DecodeError,
// *session.ExecutionError and *labels.ReadError can all be matched with errors.As.
//
// Arguments:
//   - ctx: Checked before any work starts.
//   - image: The encoded image bytes.
//   - modelPath: The model file path.
//
// Returns:
//   - *Result: The classification.
//   - error: The error from the failing step.
func (e *Engine) Classify(ctx context.Context, image []byte, modelPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	requestID := uuid.NewString()
	log := e.log.WithFields(logrus.Fields{"model": modelPath, "request_id": requestID})

	handle, err := e.cache.GetOrLoad(modelPath)
	if err != nil {
		return nil, err
	}

	width, height, err := e.inputSize(handle.InputShape())
	if err != nil {
		return nil, &session.ExecutionError{Path: handle.Path(), Err: err}
	}

	tensor, err := e.preprocessor.Preprocess(image, width, height)
	if err != nil {
		return nil, err
	}

	logits, err := handle.Run(tensor.Data, tensor.Shape)
	if err != nil {
		return nil, err
	}

	probs := Softmax(logits)
	index := Argmax(probs)

	table, _, err := labels.Resolve(modelPath)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Prediction: Prediction{
			Index:      index,
			Label:      table.Name(index),
			Confidence: probs[index],
		},
		RequestID:     requestID,
		Probabilities: probs,
		labels:        table,
	}

	log.WithFields(logrus.Fields{
		"width":      width,
		"height":     height,
		"index":      index,
		"label":      result.Label,
		"confidence": result.Confidence,
		"duration":   time.Since(start),
	}).Debug("classified image")

	return result, nil
}

// inputSize picks the tensor size from a declared [N, C, H, W] shape. Dynamic height or
// width falls back to the engine default.
func (e *Engine) inputSize(shape []int64) (width, height int, err error) {
	if len(shape) != 4 {
		return 0, 0, errors.Errorf("input shape %v is not [N, C, H, W]", shape)
	}
	if n := shape[0]; n > 1 {
		return 0, 0, errors.Errorf("input shape %v has batch size %d, want 1", shape, n)
	}
	if c := shape[1]; c > 0 && c != preprocess.Channels {
		return 0, 0, errors.Errorf("input shape %v has %d channels, want %d", shape, c, preprocess.Channels)
	}

	height, width = e.defaultHeight, e.defaultWidth
	if shape[2] > 0 {
		height = int(shape[2])
	}
	if shape[3] > 0 {
		width = int(shape[3])
	}
	return width, height, nil
}
