package npu

import (
	"fmt"
	"strings"
	"syscall"
	"unsafe"
)

// CoreType selects a CPU cluster on big.LITTLE boards
type CoreType int

const (
	FastCores CoreType = iota
	SlowCores
	AllCores
)

// cpuMasks lists the CPU affinity masks for each board and cluster
var cpuMasks = map[string]map[CoreType]uintptr{
	// cortex A76 cores 4-7, A55 cores 0-3
	"rk3588": {FastCores: 0b11110000, SlowCores: 0b00001111, AllCores: 0b11111111},
	// cortex A76 cores 4-5, A55 cores 0-3
	"rk3582": {FastCores: 0b00110000, SlowCores: 0b00001111, AllCores: 0b00111111},
	// cortex A72 cores 4-7, A53 cores 0-3
	"rk3576": {FastCores: 0b11110000, SlowCores: 0b00001111, AllCores: 0b11111111},
	"rk3568": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
	"rk3566": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
	"rk3562": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
}

func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// CPUMask returns the CPU affinity mask for the platform's core cluster
func CPUMask(platform string, ct CoreType) (uintptr, error) {

	if m, ok := cpuMasks[normalizePlatform(platform)]; ok {
		if mask, ok := m[ct]; ok {
			return mask, nil
		}
	}

	return 0, fmt.Errorf("unknown platform: %s", platform)
}

// CPUCoreMask builds an affinity mask from CPU core numbers, eg: []int{4,5,6,7}
func CPUCoreMask(cores []int) uintptr {

	var mask uintptr

	for _, core := range cores {
		mask |= 1 << core
	}

	return mask
}

// SetCPUAffinity pins the process to the cores in mask
func SetCPUAffinity(mask uintptr) error {

	_, _, errno := syscall.RawSyscall(syscall.SYS_SCHED_SETAFFINITY, 0,
		unsafe.Sizeof(mask), uintptr(unsafe.Pointer(&mask)))

	if errno != 0 {
		return fmt.Errorf("failed to set CPU affinity: %w", errno)
	}

	return nil
}

// SetCPUAffinityByPlatform pins the process to a core cluster of the board
func SetCPUAffinityByPlatform(platform string, ct CoreType) error {

	mask, err := CPUMask(platform, ct)

	if err != nil {
		return err
	}

	return SetCPUAffinity(mask)
}
