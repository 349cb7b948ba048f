package session

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-classify/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures the ONNX Runtime loader.
type ONNXConfig struct {
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
	// LogLevel is the ONNX Runtime log level name; empty means warning.
	LogLevel string
	// Provider selects the execution provider and session options.
	Provider providers.Config
}

// ONNXLoader opens .onnx models with ONNX Runtime.
//
// A loader takes one reference on the process-wide ONNX Runtime environment on its first
// successful environment start and drops it on Close. Other loaders keep the environment
// alive until they close too.
type ONNXLoader struct {
	config ONNXConfig

	mu      sync.Mutex
	envHeld bool
}

// NewONNXLoader creates a loader. No native code runs until the first Load.
func NewONNXLoader(config ONNXConfig) *ONNXLoader {
	return &ONNXLoader{config: config}
}

// Load implements Loader.
func (l *ONNXLoader) Load(path string) (Backend, error) {
	fail := func(err error) (Backend, error) {
		return nil, &ModelLoadError{Path: path, Err: err}
	}

	if _, err := os.Stat(path); err != nil {
		return fail(err)
	}

	libPath, err := providers.SharedLibPath(l.config.LibraryPath)
	if err != nil {
		return fail(err)
	}
	if err := l.holdEnvironment(libPath); err != nil {
		return fail(err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fail(errors.Wrap(err, "read model inputs and outputs"))
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fail(errors.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs)))
	}
	in, out := inputs[0], outputs[0]
	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		return fail(errors.Errorf("input %q is not a float32 tensor", in.Name))
	}

	options, err := providers.NewSessionOptions(l.config.Provider)
	if err != nil {
		return fail(err)
	}
	defer options.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return fail(errors.Wrap(err, "create session"))
	}

	return &onnxBackend{
		session: sess,
		meta: Metadata{
			InputName:  in.Name,
			InputShape: append([]int64(nil), in.Dimensions...),
			OutputName: out.Name,
		},
	}, nil
}

// Close drops the loader's environment reference, if it took one. Close the sessions it
// loaded first; Cache.Close does this.
func (l *ONNXLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.envHeld {
		return nil
	}
	l.envHeld = false
	return providers.DestroyEnvironment()
}

func (l *ONNXLoader) holdEnvironment(libPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.envHeld {
		return nil
	}
	if err := providers.InitializeEnvironment(libPath, l.config.LogLevel); err != nil {
		return err
	}
	l.envHeld = true
	return nil
}

type onnxBackend struct {
	session *ort.DynamicAdvancedSession
	meta    Metadata
}

func (b *onnxBackend) Metadata() Metadata { return b.meta }

func (b *onnxBackend) Run(input []float32, shape []int64) ([]float32, error) {
	tensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, errors.Wrap(err, "run session")
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("output %q is %T, want a float32 tensor", b.meta.OutputName, outputs[0])
	}
	return append([]float32(nil), logits.GetData()...), nil
}

func (b *onnxBackend) Close() error {
	return b.session.Destroy()
}
