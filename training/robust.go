package training

import (
	"fmt"

	"github.com/ModarTensai/ptb/bounds"
	"github.com/ModarTensai/ptb/tensor"
)

// RobustLoss augments cross-entropy with a certified-robustness term. An
// epsilon-ball around each input is pushed through the model with
// interval bound propagation; the worst-case margin logits are
// temperature-scaled and fed through a second cross-entropy weighted by
// Factor.
type RobustLoss struct {
	// Epsilon is the perturbation radius in normalized input units.
	Epsilon float64
	// Factor weights the robust term against the natural loss. Zero
	// disables bound propagation entirely.
	Factor float64
	// Temperature softens the scaled margins before the robust
	// cross-entropy. Must be positive when Factor is nonzero.
	Temperature float64

	base *CrossEntropyLoss
}

// NewRobustLoss validates the hyperparameters and builds the loss.
func NewRobustLoss(epsilon, factor, temperature float64) (*RobustLoss, error) {
	if epsilon < 0 {
		return nil, fmt.Errorf("epsilon must be non-negative, got %v", epsilon)
	}
	if factor < 0 {
		return nil, fmt.Errorf("factor must be non-negative, got %v", factor)
	}
	if factor > 0 && temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %v", temperature)
	}
	return &RobustLoss{
		Epsilon:     epsilon,
		Factor:      factor,
		Temperature: temperature,
		base:        NewCrossEntropyLoss(),
	}, nil
}

// LossTerms breaks a robust objective into its parts. Robust is nil when
// the robust term is disabled.
type LossTerms struct {
	Total  *tensor.Tensor
	Base   *tensor.Tensor
	Robust *tensor.Tensor
}

// scaleMargins divides each margin row by Temperature times its largest
// absolute entry. Rows that are entirely zero keep a unit denominator so
// the division stays finite.
func (r *RobustLoss) scaleMargins(margins *tensor.Tensor) (*tensor.Tensor, error) {
	maxAbs, err := tensor.MaxAbsRows(margins)
	if err != nil {
		return nil, err
	}

	maxData, err := maxAbs.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	guardData := make([]float32, len(maxData))
	guarded := false
	for i, v := range maxData {
		if v == 0 {
			guardData[i] = 1
			guarded = true
		}
	}
	denom := maxAbs
	if guarded {
		guard, err := tensor.NewTensor(maxAbs.Shape, tensor.Float32, maxAbs.Device, guardData)
		if err != nil {
			return nil, err
		}
		denom, err = tensor.AddAutograd(maxAbs, guard)
		if err != nil {
			return nil, err
		}
	}

	temp := tensor.FromScalar(r.Temperature, tensor.Float32, margins.Device)
	denom, err = tensor.MulAutograd(denom, temp)
	if err != nil {
		return nil, err
	}
	inv, err := tensor.ReciprocalAutograd(denom)
	if err != nil {
		return nil, err
	}
	return tensor.MulAutograd(margins, inv)
}

// Compute evaluates the full objective for one batch. The model must be
// able to propagate bounds when the robust term is active; logits are the
// model's ordinary forward output on the same input.
func (r *RobustLoss) Compute(model Module, input, targets, logits *tensor.Tensor) (LossTerms, error) {
	baseLoss, err := r.base.Forward(logits, targets)
	if err != nil {
		return LossTerms{}, err
	}
	if r.Factor == 0 || r.Epsilon == 0 {
		return LossTerms{Total: baseLoss, Base: baseLoss}, nil
	}

	prop, ok := model.(bounds.Propagator)
	if !ok {
		return LossTerms{}, fmt.Errorf("model %T cannot propagate bounds", model)
	}

	iv, err := bounds.NewInterval(input, r.Epsilon)
	if err != nil {
		return LossTerms{}, err
	}
	logitBounds, err := prop.PropagateBounds(iv)
	if err != nil {
		return LossTerms{}, fmt.Errorf("bound propagation failed: %v", err)
	}
	margins, err := bounds.MarginLogits(logitBounds, targets)
	if err != nil {
		return LossTerms{}, err
	}
	scaled, err := r.scaleMargins(margins)
	if err != nil {
		return LossTerms{}, err
	}
	robustLoss, err := r.base.Forward(scaled, targets)
	if err != nil {
		return LossTerms{}, err
	}

	factor := tensor.FromScalar(r.Factor, tensor.Float32, baseLoss.Device)
	weighted, err := tensor.MulAutograd(robustLoss, factor)
	if err != nil {
		return LossTerms{}, err
	}
	total, err := tensor.AddAutograd(baseLoss, weighted)
	if err != nil {
		return LossTerms{}, err
	}
	return LossTerms{Total: total, Base: baseLoss, Robust: robustLoss}, nil
}
