//go:build !(android && cgo)

package trainer

import "context"

type unsupportedBridge struct{}

func newPlatformBridge() Bridge { return unsupportedBridge{} }

func (unsupportedBridge) Train(context.Context, string) Result {
	return Result{Status: Unsupported, Message: "Training only supported on Android"}
}

func (unsupportedBridge) Infer(context.Context, string) Result {
	return Result{Status: Unsupported, Message: "Inference only supported on Android"}
}
