package npu

import "github.com/x448/float16"

// f16Table maps every fp16 bit pattern to its float32 value
var f16Table [1 << 16]float32

func init() {
	for i := range f16Table {
		f16Table[i] = float16.Frombits(uint16(i)).Float32()
	}
}

// float16ToFloat32 widens fp16 values into a new Go owned slice
func float16ToFloat32(src []uint16) []float32 {

	out := make([]float32, len(src))

	for i, v := range src {
		out[i] = f16Table[v]
	}

	return out
}
