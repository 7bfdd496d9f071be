package tensor

import (
	"fmt"
)

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the tensor data. The copy does not share
// the graph of the original.
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		data := make([]float32, len(src))
		copy(data, src)
		return NewTensor(t.Shape, Float32, t.Device, data)
	case Int32:
		src := t.Data.([]int32)
		data := make([]int32, len(src))
		copy(data, src)
		return NewTensor(t.Shape, Int32, t.Device, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", t.DType)
	}
}

// Item returns the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("item requires a Float32 tensor, got %s", t.DType)
	}
	return t.Data.([]float32)[0], nil
}

// GetFloat32Data returns the backing slice of a Float32 tensor.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	d, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor holds %s data, not Float32", t.DType)
	}
	return d, nil
}

// GetInt32Data returns the backing slice of an Int32 tensor.
func (t *Tensor) GetInt32Data() ([]int32, error) {
	d, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor holds %s data, not Int32", t.DType)
	}
	return d, nil
}

// SetData overwrites the tensor contents in place. The source must match
// the tensor's element count.
func (t *Tensor) SetData(data []float32) error {
	dst, err := t.GetFloat32Data()
	if err != nil {
		return err
	}
	if len(data) != len(dst) {
		return fmt.Errorf("data length %d does not match tensor size %d", len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

// ZeroGrad clears any accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// SetGrad replaces the accumulated gradient.
func (t *Tensor) SetGrad(grad *Tensor) {
	t.grad = grad
}

// Detach returns a view of the same data without gradient history.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    t.Shape,
		Strides:  t.Strides,
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}
