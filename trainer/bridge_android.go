//go:build android && cgo

package trainer

/*
#cgo LDFLAGS: -ltrainer
#include <stdlib.h>
#include "trainer_bridge.h"
*/
import "C"

import (
	"context"
	"unsafe"
)

type nativeBridge struct{}

func newPlatformBridge() Bridge { return nativeBridge{} }

func (nativeBridge) Train(ctx context.Context, datasetDir string) Result {
	return call(ctx, func() Result {
		return invoke("Training", datasetDir, func(arg *C.char, failed *C.int) *C.char {
			return C.trainer_train(arg, failed)
		})
	})
}

func (nativeBridge) Infer(ctx context.Context, imagePath string) Result {
	return call(ctx, func() Result {
		return invoke("Inference", imagePath, func(arg *C.char, failed *C.int) *C.char {
			return C.trainer_infer(arg, failed)
		})
	})
}

func invoke(operation, arg string, fn func(*C.char, *C.int) *C.char) Result {
	carg := C.CString(arg)
	defer C.free(unsafe.Pointer(carg))

	var failed C.int
	out := fn(carg, &failed)
	if out == nil {
		return notAvailable(operation, "libtrainer returned no response")
	}
	defer C.free(unsafe.Pointer(out))

	msg := C.GoString(out)
	if failed != 0 {
		return notAvailable(operation, msg)
	}
	return Result{Status: Available, Message: msg}
}
