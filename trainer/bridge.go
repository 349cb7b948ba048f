// Package trainer - Bridge to the on-device training library.
//
// Training itself happens in a native library that only ships for Android. Other builds get
// a bridge that reports the operations as unsupported.
package trainer

import (
	"context"
	"fmt"
)

// Status classifies a bridge result.
type Status int

const (
	// Available means the native library ran and Message holds its response.
	Available Status = iota
	// Unsupported means this build has no native training library.
	Unsupported
	// Failed means the native library was present but the call did not succeed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Unsupported:
		return "unsupported"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of a bridge call.
type Result struct {
	Status  Status
	Message string
}

func (r Result) String() string { return r.Message }

// Bridge trains and runs a model through the platform training library.
type Bridge interface {
	// Train trains on the images under datasetDir.
	Train(ctx context.Context, datasetDir string) Result
	// Infer classifies the image at imagePath with the trained model.
	Infer(ctx context.Context, imagePath string) Result
}

// New returns the bridge for the current build.
func New() Bridge {
	return newPlatformBridge()
}

// notAvailable is the result for a native call that failed.
func notAvailable(operation, reason string) Result {
	return Result{
		Status:  Failed,
		Message: fmt.Sprintf("%s not available: %s\nDid you add the AAR and dependencies?", operation, reason),
	}
}

// call runs fn on its own goroutine and gives up when ctx ends first. The native call
// itself cannot be interrupted and finishes in the background.
func call(ctx context.Context, fn func() Result) Result {
	if err := ctx.Err(); err != nil {
		return Result{Status: Failed, Message: err.Error()}
	}

	done := make(chan Result, 1)
	go func() {
		done <- fn()
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return Result{Status: Failed, Message: ctx.Err().Error()}
	}
}
