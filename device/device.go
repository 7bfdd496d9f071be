// Package device enumerates compute devices and picks an execution order
// for training. Accelerators are preferred over the CPU and ranked by
// total memory so the largest card drives the run.
package device

import (
	"fmt"
	"sort"

	"github.com/klauspost/cpuid/v2"
)

// Kind identifies the device family.
type Kind int

const (
	KindCPU Kind = iota
	KindCUDA
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Device describes one compute device.
type Device struct {
	Kind     Kind
	Ordinal  int
	Name     string
	TotalMem int64
}

func (d Device) String() string {
	if d.Kind == KindCPU {
		return fmt.Sprintf("cpu (%s)", d.Name)
	}
	return fmt.Sprintf("%s:%d (%s, %d MB)", d.Kind, d.Ordinal, d.Name, d.TotalMem/(1<<20))
}

// cpuDevice describes the host processor as a fallback device.
func cpuDevice() Device {
	name := cpuid.CPU.BrandName
	if name == "" {
		name = "generic cpu"
	}
	return Device{Kind: KindCPU, Name: name}
}

// Order returns all usable devices, accelerators first sorted by total
// memory in descending order, followed by the CPU. The list is never
// empty.
func Order() []Device {
	accels := enumerateAccelerators()
	sortByMemory(accels)
	return append(accels, cpuDevice())
}

// Accelerators returns only the accelerator devices, sorted by total
// memory in descending order. Empty when none are present.
func Accelerators() []Device {
	accels := enumerateAccelerators()
	sortByMemory(accels)
	return accels
}

func sortByMemory(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].TotalMem > devices[j].TotalMem
	})
}

// RunContext carries the device selection through a training run.
type RunContext struct {
	Primary  Device
	Replicas []Device
}

// NewRunContext selects the run devices. With accelerators available the
// largest one is primary and the rest become replicas; otherwise the CPU
// runs alone.
func NewRunContext() RunContext {
	accels := Accelerators()
	if len(accels) == 0 {
		return RunContext{Primary: cpuDevice()}
	}
	return RunContext{Primary: accels[0], Replicas: accels[1:]}
}

// GPUCount reports how many accelerators the context holds.
func (rc RunContext) GPUCount() int {
	if rc.Primary.Kind == KindCPU {
		return 0
	}
	return 1 + len(rc.Replicas)
}

// Describe prints the device selection the way the training console
// reports it.
func (rc RunContext) Describe() string {
	if n := rc.GPUCount(); n > 0 {
		return fmt.Sprintf("=> using %d GPU(s)", n)
	}
	return fmt.Sprintf("=> using CPU: %s", rc.Primary.Name)
}
