package session

import "fmt"

// ModelLoadError reports a model file that is missing, unreadable or not a valid model.
type ModelLoadError struct {
	// Path is the model path as requested.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ExecutionError reports a failed model run, including input shape mismatches and
// unusable outputs.
type ExecutionError struct {
	// Path is the model path of the handle that failed.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute model %s: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
