package npu

/*
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"strings"
	"unsafe"
)

// TensorFormat is the memory layout of a tensor
type TensorFormat int

const (
	TensorNCHW      TensorFormat = C.RKNN_TENSOR_NCHW
	TensorNHWC      TensorFormat = C.RKNN_TENSOR_NHWC
	TensorNC1HWC2   TensorFormat = C.RKNN_TENSOR_NC1HWC2
	TensorUndefined TensorFormat = C.RKNN_TENSOR_UNDEFINED
)

// String returns the format name
func (f TensorFormat) String() string {
	switch f {
	case TensorNCHW:
		return "NCHW"
	case TensorNHWC:
		return "NHWC"
	case TensorNC1HWC2:
		return "NC1HWC2"
	case TensorUndefined:
		return "UNDEFINED"
	default:
		return "UNKNOWN"
	}
}

// TensorType is the element type of a tensor
type TensorType int

const (
	TensorFloat32 TensorType = C.RKNN_TENSOR_FLOAT32
	TensorFloat16 TensorType = C.RKNN_TENSOR_FLOAT16
	TensorInt8    TensorType = C.RKNN_TENSOR_INT8
	TensorUint8   TensorType = C.RKNN_TENSOR_UINT8
	TensorInt16   TensorType = C.RKNN_TENSOR_INT16
	TensorInt32   TensorType = C.RKNN_TENSOR_INT32
)

// String returns the type name
func (t TensorType) String() string {
	switch t {
	case TensorFloat32:
		return "FP32"
	case TensorFloat16:
		return "FP16"
	case TensorInt8:
		return "INT8"
	case TensorUint8:
		return "UINT8"
	case TensorInt16:
		return "INT16"
	case TensorInt32:
		return "INT32"
	default:
		return "UNKNOWN"
	}
}

// maxDims is the maximum number of dimensions of a tensor
const maxDims = C.RKNN_MAX_DIMS

// TensorAttr describes one model input or output tensor
type TensorAttr struct {
	Index  uint32
	NDims  uint32
	Dims   [maxDims]uint32
	Name   string
	NElems uint32
	Size   uint32
	Fmt    TensorFormat
	Type   TensorType
	// ZP and Scale are the affine quantization parameters
	ZP    int32
	Scale float32
}

// Shape returns the used dimensions
func (a TensorAttr) Shape() []int {

	out := make([]int, a.NDims)

	for i := range out {
		out[i] = int(a.Dims[i])
	}

	return out
}

// String formats the attributes for logging
func (a TensorAttr) String() string {
	return fmt.Sprintf("index=%d, name=%s, dims=%v, n_elems=%d, size=%d, fmt=%s, type=%s, zp=%d, scale=%f",
		a.Index, a.Name, a.Shape(), a.NElems, a.Size, a.Fmt, a.Type, a.ZP, a.Scale)
}

func convertTensorAttr(c *C.rknn_tensor_attr) TensorAttr {

	name := C.GoStringN(&c.name[0], C.RKNN_MAX_NAME_LEN)

	if i := strings.IndexByte(name, 0); i != -1 {
		name = name[:i]
	}

	return TensorAttr{
		Index:  uint32(c.index),
		NDims:  uint32(c.n_dims),
		Dims:   *(*[maxDims]uint32)(unsafe.Pointer(&c.dims)),
		Name:   name,
		NElems: uint32(c.n_elems),
		Size:   uint32(c.size),
		Fmt:    TensorFormat(c.fmt),
		Type:   TensorType(c._type),
		ZP:     int32(c.zp),
		Scale:  float32(c.scale),
	}
}

// IONumber is the count of model inputs and outputs
type IONumber struct {
	Inputs  uint32
	Outputs uint32
}

func (r *Runtime) queryIONumber() (IONumber, error) {

	var n C.rknn_input_output_num

	ret := C.rknn_query(r.ctx, C.RKNN_QUERY_IN_OUT_NUM,
		unsafe.Pointer(&n), C.uint(C.sizeof_rknn_input_output_num))

	if ret != C.RKNN_SUCC {
		return IONumber{}, callError("rknn_query", ret)
	}

	return IONumber{
		Inputs:  uint32(n.n_input),
		Outputs: uint32(n.n_output),
	}, nil
}

// queryTensors reads the attributes of n tensors of the given query kind
func (r *Runtime) queryTensors(cmd C.rknn_query_cmd, n uint32) ([]TensorAttr, error) {

	attrs := make([]TensorAttr, n)

	for i := uint32(0); i < n; i++ {
		var c C.rknn_tensor_attr
		c.index = C.uint32_t(i)

		ret := C.rknn_query(r.ctx, cmd, unsafe.Pointer(&c), C.uint(unsafe.Sizeof(c)))

		if ret != C.RKNN_SUCC {
			return nil, callError("rknn_query", ret)
		}

		attrs[i] = convertTensorAttr(&c)
	}

	return attrs, nil
}
