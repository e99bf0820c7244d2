package npu

import (
	"fmt"
	"io"
)

// Describe writes the SDK version and tensor layout of the loaded model in
// human readable form
func (r *Runtime) Describe(w io.Writer) error {

	ver, err := r.SDKVersion()

	if err != nil {
		return fmt.Errorf("error querying SDK version: %w", err)
	}

	fmt.Fprintf(w, "Model: %s\n", r.model)
	fmt.Fprintf(w, "Driver Version: %s, API Version: %s\n", ver.DriverVersion, ver.APIVersion)
	fmt.Fprintf(w, "Model Input Number: %d, Output Number: %d\n", r.ioNum.Inputs, r.ioNum.Outputs)

	fmt.Fprintf(w, "Input tensors:\n")

	for _, a := range r.inputs {
		fmt.Fprintf(w, "  %s\n", a)
	}

	fmt.Fprintf(w, "Output tensors:\n")

	for _, a := range r.outputs {
		fmt.Fprintf(w, "  %s\n", a)
	}

	return nil
}
