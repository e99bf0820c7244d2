package npu

/*
#include "rknn_api.h"
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"
)

// ErrInputSize is returned when an input buffer does not match the model's
// input tensor
var ErrInputSize = errors.New("input does not match model tensor")

// input is one tensor handed to rknn_inputs_set
type input struct {
	buf  unsafe.Pointer
	size uint32
	typ  TensorType
	fmt  TensorFormat
}

// InferImage runs the model on an RGB image already sized to the model's
// input tensor
func (r *Runtime) InferImage(img gocv.Mat) (*Outputs, error) {

	if !img.IsContinuous() {
		img = img.Clone()
		defer img.Close()
	}

	data, err := img.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer to Mat: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInputSize)
	}

	// Mat data lives in C memory so it can be handed over directly
	in := input{
		buf:  unsafe.Pointer(&data[0]),
		size: uint32(len(data)),
		typ:  TensorUint8,
		fmt:  TensorNHWC,
	}

	return r.run(in)
}

// InferFloat32 runs the model on a raw float32 tensor laid out as the model's
// only input expects
func (r *Runtime) InferFloat32(data []float32) (*Outputs, error) {

	if len(r.inputs) != 1 {
		return nil, fmt.Errorf("%w: model has %d inputs", ErrInputSize, len(r.inputs))
	}

	if want := r.inputs[0].NElems; uint32(len(data)) != want {
		return nil, fmt.Errorf("%w: got %d values, model expects %d", ErrInputSize, len(data), want)
	}

	// Go memory may not be retained by C, stage the tensor in a C buffer
	size := len(data) * 4
	cbuf := C.malloc(C.size_t(size))
	defer C.free(cbuf)

	copy(unsafe.Slice((*float32)(cbuf), len(data)), data)

	in := input{
		buf:  cbuf,
		size: uint32(size),
		typ:  TensorFloat32,
		fmt:  r.inputs[0].Fmt,
	}

	return r.run(in)
}

// run sets the input, runs the model and fetches outputs while holding the
// runtime lock
func (r *Runtime) run(in input) (*Outputs, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	var c C.rknn_input
	c.index = 0
	c.buf = in.buf
	c.size = C.uint32_t(in.size)
	c.pass_through = 0
	c._type = C.rknn_tensor_type(in.typ)
	c.fmt = C.rknn_tensor_format(in.fmt)

	if ret := C.rknn_inputs_set(r.ctx, 1, &c); ret != C.RKNN_SUCC {
		return nil, callError("rknn_inputs_set", ret)
	}

	if ret := C.rknn_run(r.ctx, nil); ret < 0 {
		return nil, callError("rknn_run", ret)
	}

	return r.getOutputs()
}

// Output is one output tensor.  Float holds the values when the driver
// dequantized them or the tensor is fp16, otherwise Int holds the raw int8
// values that index C memory until Free is called.
type Output struct {
	Index uint32
	Float []float32
	Int   []int8
	Attr  TensorAttr
}

// Outputs are the results of one inference
type Outputs struct {
	Output   []Output
	cOutputs []C.rknn_output
	rt       *Runtime
	once     sync.Once
	err      error
}

func (r *Runtime) getOutputs() (*Outputs, error) {

	n := int(r.ioNum.Outputs)

	outs := &Outputs{
		Output:   make([]Output, n),
		cOutputs: make([]C.rknn_output, n),
		rt:       r,
	}

	wantFloat := C.uint8_t(0)

	if r.wantFloat {
		wantFloat = 1
	}

	for i := range outs.cOutputs {
		outs.cOutputs[i].index = C.uint32_t(i)
		outs.cOutputs[i].want_float = wantFloat
	}

	ret := C.rknn_outputs_get(r.ctx, C.uint32_t(n), &outs.cOutputs[0], nil)

	if ret < 0 {
		return nil, callError("rknn_outputs_get", ret)
	}

	for i, c := range outs.cOutputs {
		o := Output{
			Index: uint32(c.index),
			Attr:  r.outputs[i],
		}

		switch {
		case c.want_float == 1:
			o.Float = unsafe.Slice((*float32)(c.buf), int(c.size)/4)

		case r.outputs[i].Type == TensorFloat16:
			// mixed precision models such as yolov8-pose keep keypoints in
			// fp16 even when the box heads are int8
			o.Float = float16ToFloat32(unsafe.Slice((*uint16)(c.buf), int(c.size)/2))

		default:
			o.Int = unsafe.Slice((*int8)(c.buf), int(c.size))
		}

		outs.Output[i] = o
	}

	return outs, nil
}

// Free releases the C memory holding the outputs.  It is safe to call more
// than once.
func (o *Outputs) Free() error {

	o.once.Do(func() {
		ret := C.rknn_outputs_release(o.rt.ctx, C.uint32_t(len(o.cOutputs)), &o.cOutputs[0])

		if ret != C.RKNN_SUCC {
			o.err = callError("rknn_outputs_release", ret)
		}
	})

	return o.err
}

// InputSize is the image size an image model expects
type InputSize struct {
	Width   int
	Height  int
	Channel int
}

// ImageInputSize returns the width, height and channels of the first input
// tensor, honouring its layout
func (r *Runtime) ImageInputSize() InputSize {

	a := r.inputs[0]

	if a.Fmt == TensorNHWC {
		return InputSize{Height: int(a.Dims[1]), Width: int(a.Dims[2]), Channel: int(a.Dims[3])}
	}

	return InputSize{Channel: int(a.Dims[1]), Height: int(a.Dims[2]), Width: int(a.Dims[3])}
}
