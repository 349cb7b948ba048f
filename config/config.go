// Package config - YAML configuration for the classifier and its logger.
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"strings"

	"github.com/nvr-ai/go-classify/inference"
	"github.com/nvr-ai/go-classify/inference/providers"
	"github.com/nvr-ai/go-classify/preprocess"
	"github.com/nvr-ai/go-classify/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	OnnxRuntime OnnxRuntime      `json:"onnxruntime" yaml:"onnxruntime"`
	Provider    providers.Config `json:"provider"    yaml:"provider"`
	Preprocess  Preprocess       `json:"preprocess"  yaml:"preprocess"`
	Log         Log              `json:"log"         yaml:"log"`
}

// OnnxRuntime locates the ONNX Runtime shared library.
type OnnxRuntime struct {
	// LibraryPath overrides the bundled library; see providers.SharedLibPath.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// LogLevel is one of verbose, info, warning, error or fatal.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Preprocess controls image preprocessing.
type Preprocess struct {
	// DefaultWidth and DefaultHeight are used for models with dynamic spatial dimensions.
	DefaultWidth  int `json:"default_width"  yaml:"default_width"`
	DefaultHeight int `json:"default_height" yaml:"default_height"`
	// Filter is the resampling filter name.
	Filter preprocess.Filter `json:"filter" yaml:"filter"`
	// MaxPixels rejects images whose header declares more pixels than this.
	MaxPixels int `json:"max_pixels" yaml:"max_pixels"`
}

// Log controls the process logger.
type Log struct {
	// Level is a logrus level name.
	Level string `json:"level" yaml:"level"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
//
// @example
//
//	cfg := config.Default()
//	cfg.Provider.Backend = providers.CUDAProviderBackend
func Default() Config {
	return Config{
		OnnxRuntime: OnnxRuntime{LogLevel: "warning"},
		Provider:    providers.DefaultConfig(),
		Preprocess: Preprocess{
			DefaultWidth:  inference.DefaultWidth,
			DefaultHeight: inference.DefaultHeight,
			Filter:        preprocess.DefaultFilter,
			MaxPixels:     preprocess.DefaultMaxPixels,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults, see LoadWithLogger. Warnings go to the
// standard logger.
func Load(path string) (Config, error) {
	return LoadWithLogger(path, logrus.StandardLogger())
}

// LoadWithLogger reads a YAML file over the defaults. A missing file yields the defaults
// and logs a warning naming the path.
//
// Arguments:
//   - path: The configuration file path. Empty means no file.
//   - log: Receives the missing file warning.
//
// Returns:
//   - Config: The merged, validated configuration.
//   - error: An error if the file is unreadable, malformed or invalid.
func LoadWithLogger(path string, log logrus.FieldLogger) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		log.WithField("path", path).Warn("config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if _, err := providers.ParseLogLevel(c.OnnxRuntime.LogLevel); err != nil {
		return err
	}
	if c.Preprocess.DefaultWidth <= 0 || c.Preprocess.DefaultHeight <= 0 {
		return errors.Errorf("invalid default input size %dx%d",
			c.Preprocess.DefaultWidth, c.Preprocess.DefaultHeight)
	}
	if _, err := preprocess.ParseFilter(string(c.Preprocess.Filter)); err != nil {
		return err
	}
	if c.Preprocess.MaxPixels < 0 {
		return errors.Errorf("invalid max_pixels %d", c.Preprocess.MaxPixels)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return errors.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// ONNX returns the session loader settings.
func (c Config) ONNX() session.ONNXConfig {
	return session.ONNXConfig{
		LibraryPath: c.OnnxRuntime.LibraryPath,
		LogLevel:    c.OnnxRuntime.LogLevel,
		Provider:    c.Provider,
	}
}

// NewLogger builds a logrus logger from the log section.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// NewEngine builds an inference engine with an ONNX and linear model router.
func (c Config) NewEngine(log logrus.FieldLogger) (*inference.Engine, error) {
	p, err := preprocess.NewPreprocessor(preprocess.Config{
		Filter:    c.Preprocess.Filter,
		MaxPixels: c.Preprocess.MaxPixels,
	})
	if err != nil {
		return nil, err
	}
	return inference.NewEngineBuilder().
		WithLogger(log).
		WithLoader(session.NewDefaultRouter(c.ONNX())).
		WithPreprocessor(p).
		WithDefaultSize(c.Preprocess.DefaultWidth, c.Preprocess.DefaultHeight).
		Build()
}
