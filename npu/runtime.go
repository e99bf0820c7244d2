/*
Package npu holds the cgo bindings to the Rockchip RKNN runtime used to run
the pose and posture models on the NPU.

Only the subset of the rknn_api.h C API the coaching pipeline needs is bound:
loading a model pinned to an NPU core, querying its tensors, and running
inference on either an image or a raw float32 tensor.
*/
package npu

/*
#cgo LDFLAGS: -lrknnrt
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// CoreMask selects the NPU cores a model runs on
type CoreMask int

// The rk3588 has three NPU cores, auto lets the driver pick an idle one.
// Boards without core selection support must use SkipSetCore.
const (
	CoreAuto    CoreMask = C.RKNN_NPU_CORE_AUTO
	Core0       CoreMask = C.RKNN_NPU_CORE_0
	Core1       CoreMask = C.RKNN_NPU_CORE_1
	Core2       CoreMask = C.RKNN_NPU_CORE_2
	Core01      CoreMask = C.RKNN_NPU_CORE_0_1
	Core012     CoreMask = C.RKNN_NPU_CORE_0_1_2
	SkipSetCore CoreMask = 9999
)

// platformCores lists the NPU cores of each supported board
var platformCores = map[string][]CoreMask{
	"rk3588": {Core0, Core1, Core2},
	"rk3582": {Core0, Core1, Core2},
	"rk3576": {Core0, Core1},
	"rk3568": {SkipSetCore},
	"rk3566": {SkipSetCore},
	"rk3562": {SkipSetCore},
}

// Code is a return code of the C API
type Code int

const (
	Success              Code = C.RKNN_SUCC
	ErrFail              Code = C.RKNN_ERR_FAIL
	ErrTimeout           Code = C.RKNN_ERR_TIMEOUT
	ErrDeviceUnavailable Code = C.RKNN_ERR_DEVICE_UNAVAILABLE
	ErrMallocFail        Code = C.RKNN_ERR_MALLOC_FAIL
	ErrParamInvalid      Code = C.RKNN_ERR_PARAM_INVALID
	ErrModelInvalid      Code = C.RKNN_ERR_MODEL_INVALID
	ErrCtxInvalid        Code = C.RKNN_ERR_CTX_INVALID
	ErrInputInvalid      Code = C.RKNN_ERR_INPUT_INVALID
	ErrOutputInvalid     Code = C.RKNN_ERR_OUTPUT_INVALID
	ErrDeviceMismatch    Code = C.RKNN_ERR_DEVICE_UNMATCH
	ErrPlatformMismatch  Code = C.RKNN_ERR_TARGET_PLATFORM_UNMATCH
)

// String returns a readable description of the code
func (c Code) String() string {
	switch c {
	case Success:
		return "execution successful"
	case ErrFail:
		return "execution failed"
	case ErrTimeout:
		return "execution timed out"
	case ErrDeviceUnavailable:
		return "device is unavailable"
	case ErrMallocFail:
		return "C memory allocation failed"
	case ErrParamInvalid:
		return "parameter is invalid"
	case ErrModelInvalid:
		return "model file is invalid"
	case ErrCtxInvalid:
		return "context is invalid"
	case ErrInputInvalid:
		return "input is invalid"
	case ErrOutputInvalid:
		return "output is invalid"
	case ErrDeviceMismatch:
		return "device mismatch, please update rknn sdk and npu driver/firmware"
	case ErrPlatformMismatch:
		return "the RKNN model target platform is not compatible with the current platform"
	default:
		return fmt.Sprintf("unknown error code %d", int(c))
	}
}

// callError formats a failed C call
func callError(fn string, ret C.int) error {
	return fmt.Errorf("C.%s failed with code %d, error: %s", fn, int(ret), Code(ret).String())
}

// Runtime is one loaded model.  A Runtime runs one inference at a time, it
// serialises callers itself.
type Runtime struct {
	ctx C.rknn_context
	// model is the file the runtime was loaded from
	model   string
	ioNum   IONumber
	inputs  []TensorAttr
	outputs []TensorAttr
	// wantFloat asks the driver to dequantize outputs to float32
	wantFloat bool
	mu        sync.Mutex
}

// NewRuntime loads the compiled RKNN model file onto the given core
func NewRuntime(modelFile string, core CoreMask) (*Runtime, error) {

	r := &Runtime{
		model:     modelFile,
		wantFloat: true,
	}

	if err := r.init(modelFile); err != nil {
		return nil, err
	}

	if core != SkipSetCore {
		if ret := C.rknn_set_core_mask(r.ctx, C.rknn_core_mask(core)); ret != C.RKNN_SUCC {
			r.Close()
			return nil, callError("rknn_set_core_mask", ret)
		}
	}

	var err error

	if r.ioNum, err = r.queryIONumber(); err != nil {
		r.Close()
		return nil, err
	}

	if r.inputs, err = r.queryTensors(C.RKNN_QUERY_INPUT_ATTR, r.ioNum.Inputs); err != nil {
		r.Close()
		return nil, err
	}

	if r.outputs, err = r.queryTensors(C.RKNN_QUERY_OUTPUT_ATTR, r.ioNum.Outputs); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Runtime) init(modelFile string) error {

	info, err := os.Stat(modelFile)

	if err != nil {
		return fmt.Errorf("model file does not exist at %s, error: %w", modelFile, err)
	}

	if info.IsDir() {
		return fmt.Errorf("model file %s is a directory", modelFile)
	}

	cModelFile := C.CString(modelFile)
	defer C.free(unsafe.Pointer(cModelFile))

	if ret := C.rknn_init(&r.ctx, unsafe.Pointer(cModelFile), 0, 0, nil); ret != C.RKNN_SUCC {
		return callError("rknn_init", ret)
	}

	return nil
}

// Close unloads the model and releases the C context
func (r *Runtime) Close() error {

	if ret := C.rknn_destroy(r.ctx); ret != C.RKNN_SUCC {
		return callError("rknn_destroy", ret)
	}

	return nil
}

// SetWantFloat selects float32 outputs, otherwise outputs stay quantized
// int8 and fp16 tensors are widened in Go
func (r *Runtime) SetWantFloat(v bool) {
	r.wantFloat = v
}

// Model returns the model file name
func (r *Runtime) Model() string {
	return r.model
}

// InputAttrs returns the model's input tensors
func (r *Runtime) InputAttrs() []TensorAttr {
	return r.inputs
}

// OutputAttrs returns the model's output tensors
func (r *Runtime) OutputAttrs() []TensorAttr {
	return r.outputs
}

// SDKVersion holds the driver and API versions
type SDKVersion struct {
	DriverVersion string
	APIVersion    string
}

// SDKVersion queries the RKNN API and driver versions
func (r *Runtime) SDKVersion() (SDKVersion, error) {

	var v C.rknn_sdk_version

	ret := C.rknn_query(r.ctx, C.RKNN_QUERY_SDK_VERSION,
		unsafe.Pointer(&v), C.uint(C.sizeof_rknn_sdk_version))

	if ret != C.RKNN_SUCC {
		return SDKVersion{}, callError("rknn_query", ret)
	}

	return SDKVersion{
		DriverVersion: C.GoString(&v.drv_version[0]),
		APIVersion:    C.GoString(&v.api_version[0]),
	}, nil
}

// PlatformCores returns the NPU cores for a board name such as rk3588
func PlatformCores(platform string) ([]CoreMask, error) {

	cores, ok := platformCores[normalizePlatform(platform)]

	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}

	return cores, nil
}
