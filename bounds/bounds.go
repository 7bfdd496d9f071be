// Package bounds implements interval bound propagation through classifier
// layers. An input region [x-eps, x+eps] is pushed through the network to
// obtain guaranteed lower and upper bounds on every logit, which the
// robust loss turns into worst-case margins.
package bounds

import (
	"fmt"

	"github.com/ModarTensai/ptb/tensor"
)

// Interval holds elementwise lower and upper bounds on a tensor. Both
// sides participate in the autograd graph so the robust loss can
// backpropagate through the propagation itself.
type Interval struct {
	Lower *tensor.Tensor
	Upper *tensor.Tensor
}

// NewInterval builds the input region [center-epsilon, center+epsilon].
func NewInterval(center *tensor.Tensor, epsilon float64) (Interval, error) {
	eps := tensor.FromScalar(epsilon, tensor.Float32, center.Device)
	lower, err := tensor.SubAutograd(center, eps)
	if err != nil {
		return Interval{}, err
	}
	upper, err := tensor.AddAutograd(center, eps)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Lower: lower, Upper: upper}, nil
}

// Exact wraps a tensor as a degenerate interval with zero width.
func Exact(t *tensor.Tensor) Interval {
	return Interval{Lower: t, Upper: t}
}

// Validate checks that the bounds are ordered and congruent in shape.
func (iv Interval) Validate() error {
	if iv.Lower == nil || iv.Upper == nil {
		return fmt.Errorf("interval has nil bounds")
	}
	if len(iv.Lower.Shape) != len(iv.Upper.Shape) {
		return fmt.Errorf("interval shape mismatch: %v vs %v", iv.Lower.Shape, iv.Upper.Shape)
	}
	for i := range iv.Lower.Shape {
		if iv.Lower.Shape[i] != iv.Upper.Shape[i] {
			return fmt.Errorf("interval shape mismatch: %v vs %v", iv.Lower.Shape, iv.Upper.Shape)
		}
	}
	lo, err := iv.Lower.GetFloat32Data()
	if err != nil {
		return err
	}
	hi, err := iv.Upper.GetFloat32Data()
	if err != nil {
		return err
	}
	for i := range lo {
		if lo[i] > hi[i] {
			return fmt.Errorf("lower bound exceeds upper bound at element %d: %v > %v", i, lo[i], hi[i])
		}
	}
	return nil
}

// Propagator is implemented by layers that can push an interval through
// themselves.
type Propagator interface {
	PropagateBounds(in Interval) (Interval, error)
}

// Affine propagates an interval through x@W + b using the midpoint and
// radius form. The radius is transported through |W| so the output
// interval is tight for an affine map.
func Affine(in Interval, weight, bias *tensor.Tensor) (Interval, error) {
	half := tensor.FromScalar(0.5, tensor.Float32, weight.Device)

	sum, err := tensor.AddAutograd(in.Lower, in.Upper)
	if err != nil {
		return Interval{}, err
	}
	mid, err := tensor.MulAutograd(sum, half)
	if err != nil {
		return Interval{}, err
	}
	diff, err := tensor.SubAutograd(in.Upper, in.Lower)
	if err != nil {
		return Interval{}, err
	}
	rad, err := tensor.MulAutograd(diff, half)
	if err != nil {
		return Interval{}, err
	}

	midOut, err := tensor.MatMulAutograd(mid, weight)
	if err != nil {
		return Interval{}, err
	}
	if bias != nil {
		midOut, err = tensor.AddAutograd(midOut, bias)
		if err != nil {
			return Interval{}, err
		}
	}
	absW, err := tensor.AbsAutograd(weight)
	if err != nil {
		return Interval{}, err
	}
	radOut, err := tensor.MatMulAutograd(rad, absW)
	if err != nil {
		return Interval{}, err
	}

	lower, err := tensor.SubAutograd(midOut, radOut)
	if err != nil {
		return Interval{}, err
	}
	upper, err := tensor.AddAutograd(midOut, radOut)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Lower: lower, Upper: upper}, nil
}

// ReLU propagates an interval through the rectifier. Monotonicity lets
// both sides clamp independently.
func ReLU(in Interval) (Interval, error) {
	lower, err := tensor.ReLUAutograd(in.Lower)
	if err != nil {
		return Interval{}, err
	}
	upper, err := tensor.ReLUAutograd(in.Upper)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Lower: lower, Upper: upper}, nil
}

// Reshape propagates an interval through a shape change.
func Reshape(in Interval, shape []int) (Interval, error) {
	lower, err := tensor.ReshapeAutograd(in.Lower, shape)
	if err != nil {
		return Interval{}, err
	}
	upper, err := tensor.ReshapeAutograd(in.Upper, shape)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Lower: lower, Upper: upper}, nil
}

// MarginLogits combines logit bounds into worst-case margins: the true
// class keeps its lower bound while every other class takes its upper
// bound. A classifier is certifiably robust on a sample when its margin
// row is maximized at the true class.
func MarginLogits(logits Interval, targets *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Upper.Shape) != 2 {
		return nil, fmt.Errorf("margin logits require 2D bounds, got shape %v", logits.Upper.Shape)
	}
	batch, classes := logits.Upper.Shape[0], logits.Upper.Shape[1]
	tgt, err := targets.GetInt32Data()
	if err != nil {
		return nil, err
	}
	if len(tgt) != batch {
		return nil, fmt.Errorf("targets length %d does not match batch size %d", len(tgt), batch)
	}

	onehotData := make([]float32, batch*classes)
	for b, class := range tgt {
		if class < 0 || int(class) >= classes {
			return nil, fmt.Errorf("target %d out of range for %d classes", class, classes)
		}
		onehotData[b*classes+int(class)] = 1
	}
	onehot, err := tensor.NewTensor([]int{batch, classes}, tensor.Float32, logits.Upper.Device, onehotData)
	if err != nil {
		return nil, err
	}

	// upper - onehot*(upper - lower) selects the lower bound exactly on
	// the true class.
	width, err := tensor.SubAutograd(logits.Upper, logits.Lower)
	if err != nil {
		return nil, err
	}
	masked, err := tensor.MulAutograd(onehot, width)
	if err != nil {
		return nil, err
	}
	return tensor.SubAutograd(logits.Upper, masked)
}
