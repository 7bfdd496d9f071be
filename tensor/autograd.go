package tensor

import (
	"fmt"
	"math"
)

// gradEnabled controls whether forward operations record the computation
// graph. Validation passes disable it to avoid building graphs that are
// never walked.
var gradEnabled = true

// SetGradEnabled toggles gradient tracking globally and returns the
// previous setting so callers can restore it.
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// GradEnabled reports whether operations currently record gradients.
func GradEnabled() bool {
	return gradEnabled
}

func linkCreator(out *Tensor, op Operation) {
	if !gradEnabled {
		return
	}
	for _, in := range op.Inputs() {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			return
		}
	}
}

// reduceGradientToShape sums a gradient over broadcast dimensions so that
// it matches the shape of the tensor it flows into.
func reduceGradientToShape(grad *Tensor, shape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, shape) {
		return grad, nil
	}
	out, err := Zeros(shape, Float32, grad.Device)
	if err != nil {
		return nil, err
	}
	gData := grad.Data.([]float32)
	oData := out.Data.([]float32)
	for i := range gData {
		oi := broadcastIndex(i, grad.Shape, shape, out.Strides)
		oData[oi] += gData[i]
	}
	return out, nil
}

// AddOp records an elementwise addition.
type AddOp struct {
	a, b *Tensor
}

func (op *AddOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := reduceGradientToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	gb, err := reduceGradientToShape(gradOut, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// SubOp records an elementwise subtraction.
type SubOp struct {
	a, b *Tensor
}

func (op *SubOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := reduceGradientToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	neg, err := Mul(gradOut, FromScalar(-1, Float32, gradOut.Device))
	if err != nil {
		return nil, err
	}
	gb, err := reduceGradientToShape(neg, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// MulOp records an elementwise multiplication.
type MulOp struct {
	a, b *Tensor
}

func (op *MulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rawA, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	ga, err := reduceGradientToShape(rawA, op.a.Shape)
	if err != nil {
		return nil, err
	}
	rawB, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	gb, err := reduceGradientToShape(rawB, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// MatMulOp records a 2D matrix multiplication.
type MatMulOp struct {
	a, b *Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	bT, err := Transpose(op.b)
	if err != nil {
		return nil, err
	}
	ga, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}
	aT, err := Transpose(op.a)
	if err != nil {
		return nil, err
	}
	gb, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// ReLUOp records a rectified linear activation.
type ReLUOp struct {
	input *Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.input.Shape, Float32, op.input.Device)
	if err != nil {
		return nil, err
	}
	src := op.input.Data.([]float32)
	g := gradOut.Data.([]float32)
	dst := grad.Data.([]float32)
	for i, v := range src {
		if v > 0 || v != v {
			dst[i] = g[i]
		}
	}
	return []*Tensor{grad}, nil
}

// AbsOp records an elementwise absolute value.
type AbsOp struct {
	input *Tensor
}

func (op *AbsOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *AbsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.input.Shape, Float32, op.input.Device)
	if err != nil {
		return nil, err
	}
	src := op.input.Data.([]float32)
	g := gradOut.Data.([]float32)
	dst := grad.Data.([]float32)
	for i, v := range src {
		switch {
		case v > 0:
			dst[i] = g[i]
		case v < 0:
			dst[i] = -g[i]
		}
	}
	return []*Tensor{grad}, nil
}

// ReciprocalOp records an elementwise 1/x.
type ReciprocalOp struct {
	input  *Tensor
	output *Tensor
}

func (op *ReciprocalOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ReciprocalOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.input.Shape, Float32, op.input.Device)
	if err != nil {
		return nil, err
	}
	out := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	dst := grad.Data.([]float32)
	for i := range dst {
		dst[i] = -g[i] * out[i] * out[i]
	}
	return []*Tensor{grad}, nil
}

// ReshapeOp records a shape change.
type ReshapeOp struct {
	input *Tensor
}

func (op *ReshapeOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Reshape(gradOut, op.input.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// MaxAbsRowsOp records a per-row max of absolute values over a 2D tensor,
// producing a column vector. The gradient flows to the position of the
// maximum in each row, signed by the winning entry.
type MaxAbsRowsOp struct {
	input  *Tensor
	argmax []int
	signs  []float32
}

func (op *MaxAbsRowsOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *MaxAbsRowsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.input.Shape, Float32, op.input.Device)
	if err != nil {
		return nil, err
	}
	g := gradOut.Data.([]float32)
	dst := grad.Data.([]float32)
	for row, idx := range op.argmax {
		dst[idx] = g[row] * op.signs[row]
	}
	return []*Tensor{grad}, nil
}

// CrossEntropyOp records a fused softmax cross-entropy over class logits,
// averaged over the batch.
type CrossEntropyOp struct {
	logits  *Tensor
	targets *Tensor
	probs   []float32
}

func (op *CrossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.logits} }

func (op *CrossEntropyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch := op.logits.Shape[0]
	classes := op.logits.Shape[1]
	targets := op.targets.Data.([]int32)
	scale := gradOut.Data.([]float32)[0] / float32(batch)

	grad, err := Zeros(op.logits.Shape, Float32, op.logits.Device)
	if err != nil {
		return nil, err
	}
	dst := grad.Data.([]float32)
	for b := 0; b < batch; b++ {
		for c := 0; c < classes; c++ {
			idx := b*classes + c
			delta := float32(0)
			if int32(c) == targets[b] {
				delta = 1
			}
			dst[idx] = (op.probs[idx] - delta) * scale
		}
	}
	return []*Tensor{grad}, nil
}

// AddAutograd computes a + b and records the operation when gradients are
// enabled.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &AddOp{a: a, b: b})
	return out, nil
}

// SubAutograd computes a - b with gradient tracking.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &SubOp{a: a, b: b})
	return out, nil
}

// MulAutograd computes elementwise a * b with gradient tracking.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &MulOp{a: a, b: b})
	return out, nil
}

// MatMulAutograd computes the matrix product with gradient tracking.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &MatMulOp{a: a, b: b})
	return out, nil
}

// ReLUAutograd computes max(0, x) with gradient tracking.
func ReLUAutograd(a *Tensor) (*Tensor, error) {
	out, err := ReLU(a)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &ReLUOp{input: a})
	return out, nil
}

// AbsAutograd computes |x| with gradient tracking.
func AbsAutograd(a *Tensor) (*Tensor, error) {
	out, err := Abs(a)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &AbsOp{input: a})
	return out, nil
}

// ReciprocalAutograd computes 1/x with gradient tracking.
func ReciprocalAutograd(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("reciprocal requires a Float32 tensor")
	}
	out, err := Zeros(a.Shape, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	src := a.Data.([]float32)
	dst := out.Data.([]float32)
	for i, v := range src {
		dst[i] = 1 / v
	}
	linkCreator(out, &ReciprocalOp{input: a, output: out})
	return out, nil
}

// ReshapeAutograd changes the shape with gradient tracking.
func ReshapeAutograd(a *Tensor, shape []int) (*Tensor, error) {
	out, err := Reshape(a, shape)
	if err != nil {
		return nil, err
	}
	linkCreator(out, &ReshapeOp{input: a})
	return out, nil
}

// MaxAbsRows reduces a 2D tensor to a column vector holding the largest
// absolute value in each row, with gradient tracking.
func MaxAbsRows(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("maxabsrows requires a 2D tensor, got shape %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	out, err := Zeros([]int{rows, 1}, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	src := a.Data.([]float32)
	dst := out.Data.([]float32)
	argmax := make([]int, rows)
	signs := make([]float32, rows)
	for r := 0; r < rows; r++ {
		best := float32(-1)
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			av := float32(math.Abs(float64(src[idx])))
			if av > best {
				best = av
				argmax[r] = idx
				if src[idx] >= 0 {
					signs[r] = 1
				} else {
					signs[r] = -1
				}
			}
		}
		dst[r] = best
	}
	linkCreator(out, &MaxAbsRowsOp{input: a, argmax: argmax, signs: signs})
	return out, nil
}

// CrossEntropy computes softmax cross-entropy between logits [batch, classes]
// and integer targets [batch], averaged over the batch, with gradient
// tracking through the logits.
func CrossEntropy(logits, targets *Tensor) (*Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("cross-entropy requires 2D logits, got shape %v", logits.Shape)
	}
	if logits.DType != Float32 || targets.DType != Int32 {
		return nil, fmt.Errorf("cross-entropy requires Float32 logits and Int32 targets")
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	if len(targets.Shape) != 1 || targets.Shape[0] != batch {
		return nil, fmt.Errorf("targets shape %v does not match batch size %d", targets.Shape, batch)
	}

	src := logits.Data.([]float32)
	tgt := targets.Data.([]int32)
	probs := make([]float32, batch*classes)
	totalLoss := 0.0

	for b := 0; b < batch; b++ {
		if tgt[b] < 0 || int(tgt[b]) >= classes {
			return nil, fmt.Errorf("target %d out of range for %d classes", tgt[b], classes)
		}
		maxLogit := src[b*classes]
		for c := 1; c < classes; c++ {
			if src[b*classes+c] > maxLogit {
				maxLogit = src[b*classes+c]
			}
		}
		sumExp := 0.0
		for c := 0; c < classes; c++ {
			e := math.Exp(float64(src[b*classes+c] - maxLogit))
			probs[b*classes+c] = float32(e)
			sumExp += e
		}
		for c := 0; c < classes; c++ {
			probs[b*classes+c] /= float32(sumExp)
		}
		p := float64(probs[b*classes+int(tgt[b])])
		totalLoss += -math.Log(p + 1e-10)
	}

	out := FromScalar(totalLoss/float64(batch), Float32, logits.Device)
	linkCreator(out, &CrossEntropyOp{logits: logits, targets: targets, probs: probs})
	return out, nil
}

// Backward walks the recorded graph from a scalar root, accumulating
// gradients into every tensor that requires them.
func Backward(root *Tensor) error {
	if root.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar root, got shape %v", root.Shape)
	}
	if root.creator == nil && !root.requiresGrad {
		return fmt.Errorf("backward root does not require gradients")
	}

	// Topological order over the creator graph.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)

	grads := make(map[*Tensor]*Tensor)
	seed, err := Ones(root.Shape, root.Device)
	if err != nil {
		return err
	}
	grads[root] = seed

	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		g, ok := grads[t]
		if !ok || t.creator == nil {
			continue
		}
		inGrads, err := t.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		inputs := t.creator.Inputs()
		if len(inGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inGrads), len(inputs))
		}
		for j, in := range inputs {
			if inGrads[j] == nil {
				continue
			}
			if existing, ok := grads[in]; ok {
				summed, err := Add(existing, inGrads[j])
				if err != nil {
					return err
				}
				grads[in] = summed
			} else {
				grads[in] = inGrads[j]
			}
		}
	}

	for t, g := range grads {
		if !t.requiresGrad {
			continue
		}
		if t.grad != nil {
			summed, err := Add(t.grad, g)
			if err != nil {
				return err
			}
			t.grad = summed
		} else {
			t.grad = g
		}
	}
	return nil
}
