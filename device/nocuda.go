//go:build !cuda

package device

// enumerateAccelerators reports no devices when built without CUDA
// support.
func enumerateAccelerators() []Device {
	return nil
}
