// Package providers - ONNX Runtime execution provider selection and session options.
package providers

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default ONNX Runtime CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// Backends lists every supported backend.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CoreMLProviderBackend,
	CUDAProviderBackend,
	OpenVINOProviderBackend,
}

// Config describes how ONNX Runtime sessions are created.
type Config struct {
	// Backend selects the execution provider. Empty means CPU.
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// IntraOpThreads sets the threads used inside a single graph node. 0 lets ONNX Runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`

	// InterOpThreads sets the threads used across independent graph nodes. 0 lets ONNX Runtime
	// decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`

	// GraphOptimization is one of "disable", "basic", "extended" or "all". Empty means "extended".
	GraphOptimization string `json:"graph_optimization" yaml:"graph_optimization"`

	// CoreML holds options applied when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`

	// CUDA holds options applied when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`

	// OpenVINO holds options applied when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimizations.
func DefaultConfig() Config {
	return Config{
		Backend:           CPUProviderBackend,
		GraphOptimization: "extended",
	}
}

// Validate checks that the backend and graph optimization level are known.
//
// Returns:
//   - error: An error describing the first invalid field.
func (c Config) Validate() error {
	if c.Backend != "" {
		known := false
		for _, b := range Backends {
			if b == c.Backend {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unsupported provider backend %q", c.Backend)
		}
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative (intra=%d, inter=%d)",
			c.IntraOpThreads, c.InterOpThreads)
	}
	if _, err := graphOptimizationLevel(c.GraphOptimization); err != nil {
		return err
	}
	return nil
}

func graphOptimizationLevel(name string) (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(name) {
	case "disable", "none":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unsupported graph optimization level %q", name)
	}
}

// NewSessionOptions builds ONNX Runtime session options for the configuration.
//
// The environment must already be initialized. The caller owns the returned options and
// must Destroy them once the session has been created.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if an option or execution provider could not be applied.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := graphOptimizationLevel(cfg.GraphOptimization)

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := configure(options, cfg, level); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config, level ort.GraphOptimizationLevel) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch cfg.Backend {
	case "", CPUProviderBackend:
		// The CPU provider is always registered.
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.Flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case CUDAProviderBackend:
		cuda, err := cfg.CUDA.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.Map()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	}
	return nil
}
