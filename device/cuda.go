//go:build cuda

package device

import (
	"gorgonia.org/cu"
)

// enumerateAccelerators probes the CUDA driver for attached cards. A probe
// failure on one device skips it rather than failing the whole run.
func enumerateAccelerators() []Device {
	count, err := cu.NumDevices()
	if err != nil {
		return nil
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		dev := cu.Device(i)
		mem, err := dev.TotalMem()
		if err != nil {
			continue
		}
		name, err := dev.Name()
		if err != nil {
			name = "cuda device"
		}
		devices = append(devices, Device{
			Kind:     KindCUDA,
			Ordinal:  i,
			Name:     name,
			TotalMem: mem,
		})
	}
	return devices
}
