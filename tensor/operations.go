package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// broadcastShapes computes the result shape of broadcasting a against b
// using trailing-dimension alignment. A dimension of 1 stretches to match.
func broadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
		case db == 1:
			out[n-1-i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return out, nil
}

// broadcastIndex maps a flat index in the output shape to a flat index in
// the (possibly smaller) source shape.
func broadcastIndex(flatIdx int, outShape, srcShape, srcStrides []int) int {
	offset := len(outShape) - len(srcShape)
	src := 0
	rem := flatIdx
	for dim := len(outShape) - 1; dim >= 0; dim-- {
		coord := rem % outShape[dim]
		rem /= outShape[dim]
		sdim := dim - offset
		if sdim < 0 {
			continue
		}
		if srcShape[sdim] != 1 {
			src += coord * srcStrides[sdim]
		}
	}
	return src
}

func elementwise(a, b *Tensor, op func(x, y float32) float32) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("elementwise ops require Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	out, err := Zeros(outShape, Float32, a.Device)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	outData := out.Data.([]float32)

	if shapesEqual(a.Shape, b.Shape) {
		for i := range outData {
			outData[i] = op(aData[i], bData[i])
		}
		return out, nil
	}
	for i := range outData {
		ai := broadcastIndex(i, outShape, a.Shape, a.Strides)
		bi := broadcastIndex(i, outShape, b.Shape, b.Strides)
		outData[i] = op(aData[ai], bData[bi])
	}
	return out, nil
}

// Add computes a + b with broadcasting. The result does not track gradients.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x + y })
}

// Sub computes a - b with broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x - y })
}

// Mul computes elementwise a * b with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x * y })
}

// Div computes elementwise a / b with broadcasting.
func Div(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x / y })
}

// MatMul computes the matrix product of two 2D Float32 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", a.Shape, b.Shape)
	}
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("matmul requires Float32 tensors")
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	out, err := Zeros([]int{m, n}, Float32, a.Device)
	if err != nil {
		return nil, err
	}

	aMat := blas32.General{Rows: m, Cols: k, Stride: k, Data: a.Data.([]float32)}
	bMat := blas32.General{Rows: k, Cols: n, Stride: n, Data: b.Data.([]float32)}
	cMat := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.Data.([]float32)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, aMat, bMat, 0, cMat)
	return out, nil
}

// Transpose returns the transpose of a 2D tensor as a fresh tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	out, err := Zeros([]int{cols, rows}, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	src := a.Data.([]float32)
	dst := out.Data.([]float32)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return out, nil
}

// ReLU computes elementwise max(0, x).
func ReLU(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("relu requires a Float32 tensor")
	}
	out, err := Zeros(a.Shape, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	src := a.Data.([]float32)
	dst := out.Data.([]float32)
	for i, v := range src {
		// NaN passes through so divergence stays visible in the loss.
		if v > 0 || v != v {
			dst[i] = v
		}
	}
	return out, nil
}

// Abs computes elementwise |x|.
func Abs(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("abs requires a Float32 tensor")
	}
	out, err := Zeros(a.Shape, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	src := a.Data.([]float32)
	dst := out.Data.([]float32)
	for i, v := range src {
		dst[i] = float32(math.Abs(float64(v)))
	}
	return out, nil
}

// Reshape returns a view of the data under a new shape. The total number
// of elements must match. The underlying slice is shared.
func Reshape(a *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != a.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", a.Shape, a.NumElems, shape)
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    a.DType,
		Device:   a.Device,
		Data:     a.Data,
		NumElems: a.NumElems,
	}, nil
}

// Concat stacks tensors along the first dimension. All inputs must share
// the trailing dimensions and dtype.
func Concat(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}
	first := parts[0]
	totalRows := 0
	for _, p := range parts {
		if p.DType != first.DType {
			return nil, fmt.Errorf("concat dtype mismatch: %s vs %s", first.DType, p.DType)
		}
		if len(p.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("concat rank mismatch: %v vs %v", first.Shape, p.Shape)
		}
		for d := 1; d < len(p.Shape); d++ {
			if p.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("concat trailing shape mismatch: %v vs %v", first.Shape, p.Shape)
			}
		}
		totalRows += p.Shape[0]
	}

	outShape := make([]int, len(first.Shape))
	copy(outShape, first.Shape)
	outShape[0] = totalRows

	out, err := Zeros(outShape, first.DType, first.Device)
	if err != nil {
		return nil, err
	}

	switch first.DType {
	case Float32:
		dst := out.Data.([]float32)
		offset := 0
		for _, p := range parts {
			src := p.Data.([]float32)
			copy(dst[offset:], src)
			offset += len(src)
		}
	case Int32:
		dst := out.Data.([]int32)
		offset := 0
		for _, p := range parts {
			src := p.Data.([]int32)
			copy(dst[offset:], src)
			offset += len(src)
		}
	}
	return out, nil
}

// SliceRows returns rows [start, end) of a tensor along the first dimension
// as a fresh tensor.
func SliceRows(a *Tensor, start, end int) (*Tensor, error) {
	if len(a.Shape) == 0 {
		return nil, fmt.Errorf("cannot slice a 0-dimensional tensor")
	}
	if start < 0 || end > a.Shape[0] || start >= end {
		return nil, fmt.Errorf("invalid row range [%d, %d) for %d rows", start, end, a.Shape[0])
	}
	rowSize := a.NumElems / a.Shape[0]
	outShape := make([]int, len(a.Shape))
	copy(outShape, a.Shape)
	outShape[0] = end - start

	switch a.DType {
	case Float32:
		src := a.Data.([]float32)
		data := make([]float32, (end-start)*rowSize)
		copy(data, src[start*rowSize:end*rowSize])
		return NewTensor(outShape, Float32, a.Device, data)
	case Int32:
		src := a.Data.([]int32)
		data := make([]int32, (end-start)*rowSize)
		copy(data, src[start*rowSize:end*rowSize])
		return NewTensor(outShape, Int32, a.Device, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", a.DType)
	}
}
