package providers

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the default ONNX Runtime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath resolves the ONNX Runtime shared library path.
//
// The override wins, then the ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable,
// then the bundled library for the current platform.
//
// Arguments:
//   - override: An explicit path, usually from configuration. May be empty.
//
// Returns:
//   - string: The library path.
//   - error: An error if no library is known for this platform.
func SharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p, nil
	}
	return defaultLibPath(runtime.GOOS, runtime.GOARCH)
}

func defaultLibPath(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		if goarch == "arm64" || goarch == "amd64" {
			return "third_party/onnxruntime_" + goarch + ".dylib", nil
		}
	case "linux", "android":
		if goarch == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s, set %s", goos, goarch, LibraryPathEnv)
}

// ParseLogLevel maps a level name to an ONNX Runtime logging level. Empty means warning.
func ParseLogLevel(name string) (ort.LoggingLevel, error) {
	switch strings.ToLower(name) {
	case "verbose":
		return ort.LoggingLevelVerbose, nil
	case "info":
		return ort.LoggingLevelInfo, nil
	case "", "warning", "warn":
		return ort.LoggingLevelWarning, nil
	case "error":
		return ort.LoggingLevelError, nil
	case "fatal":
		return ort.LoggingLevelFatal, nil
	default:
		return 0, errors.Errorf("unsupported onnxruntime log level %q", name)
	}
}

// environment reference-counts the process-wide ONNX Runtime environment so that one
// owner releasing it does not tear it down under the others.
type environment struct {
	mu    sync.Mutex
	refs  int
	owned bool

	isInitialized func() bool
	initialize    func(libPath string, level ort.LoggingLevel) error
	destroy       func() error
}

var env = &environment{
	isInitialized: ort.IsInitialized,
	initialize:    startRuntime,
	destroy:       ort.DestroyEnvironment,
}

func startRuntime(libPath string, level ort.LoggingLevel) error {
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	if err := ort.SetEnvironmentLogLevel(level); err != nil {
		_ = ort.DestroyEnvironment()
		return errors.Wrap(err, "error setting ORT log level")
	}
	return nil
}

func (e *environment) acquire(libPath, logLevel string) error {
	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 && !e.isInitialized() {
		if err := e.initialize(libPath, level); err != nil {
			return err
		}
		e.owned = true
	}
	e.refs++
	return nil
}

func (e *environment) release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 {
		return nil
	}
	e.refs--
	if e.refs > 0 || !e.owned {
		return nil
	}
	e.owned = false
	if !e.isInitialized() {
		return nil
	}
	return errors.Wrap(e.destroy(), "destroy ORT environment")
}

func (e *environment) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}

// InitializeEnvironment takes a reference on the process-wide ONNX Runtime environment,
// loading the shared library and creating the environment on the first reference.
//
// Every successful call must be paired with one DestroyEnvironment. An environment that
// was created outside this package is shared but never destroyed here.
//
// Arguments:
//   - libPath: The shared library path, see SharedLibPath.
//   - logLevel: The ONNX Runtime log level name.
//
// Returns:
//   - error: An error if the library is missing or the environment fails to start. No
//     reference is taken on failure.
func InitializeEnvironment(libPath, logLevel string) error {
	return env.acquire(libPath, logLevel)
}

// DestroyEnvironment drops a reference taken by InitializeEnvironment. The environment is
// destroyed when the last reference is dropped. Extra calls are no-ops.
func DestroyEnvironment() error {
	return env.release()
}

// EnvironmentRefs returns the number of live references on the ONNX Runtime environment.
func EnvironmentRefs() int {
	return env.count()
}
