package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor from existing data. The data slice must match
// the declared dtype and hold exactly as many elements as the shape implies.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("data must be []float32 for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("data must be []int32 for Int32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, device, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Ones creates a Float32 tensor filled with ones.
func Ones(shape []int, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		data[i] = 1
	}
	return NewTensor(shape, Float32, device, data)
}

// FromScalar creates a single-element tensor from a float64 value.
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	var t *Tensor
	switch dtype {
	case Int32:
		t, _ = NewTensor([]int{1}, Int32, device, []int32{int32(value)})
	default:
		t, _ = NewTensor([]int{1}, Float32, device, []float32{float32(value)})
	}
	return t
}

// Randn creates a Float32 tensor with normally distributed entries drawn
// from the supplied source, scaled by std.
func Randn(shape []int, std float64, rng *rand.Rand, device DeviceType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	return NewTensor(shape, Float32, device, data)
}
