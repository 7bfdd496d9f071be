package training

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/ModarTensai/ptb/bounds"
	"github.com/ModarTensai/ptb/tensor"
)

var (
	globalRng   = rand.New(rand.NewSource(42))
	globalRngMu sync.Mutex
)

// SetRandomSeed reseeds the generator used for weight initialization so
// runs are reproducible.
func SetRandomSeed(seed int64) {
	globalRngMu.Lock()
	defer globalRngMu.Unlock()
	globalRng = rand.New(rand.NewSource(seed))
}

// NamedParameter pairs a parameter tensor with its state-dict name.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Module is a trainable component of a network.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() []NamedParameter
	Train()
	Eval()
	IsTraining() bool
}

// Linear is a fully connected layer computing x@W + b.
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a layer with Xavier-initialized weights.
func NewLinear(inFeatures, outFeatures int, useBias bool) (*Linear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("invalid layer size %dx%d", inFeatures, outFeatures)
	}

	std := math.Sqrt(2.0 / float64(inFeatures+outFeatures))
	globalRngMu.Lock()
	weight, err := tensor.Randn([]int{inFeatures, outFeatures}, std, globalRng, tensor.CPU)
	globalRngMu.Unlock()
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight, training: true}
	if useBias {
		bias, err := tensor.Zeros([]int{1, outFeatures}, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, err
		}
		bias.SetRequiresGrad(true)
		l.bias = bias
	}
	return l, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear forward failed: %v", err)
	}
	if l.bias != nil {
		out, err = tensor.AddAutograd(out, l.bias)
		if err != nil {
			return nil, fmt.Errorf("linear bias failed: %v", err)
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) NamedParameters() []NamedParameter {
	named := []NamedParameter{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		named = append(named, NamedParameter{Name: "bias", Tensor: l.bias})
	}
	return named
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// PropagateBounds pushes an interval through the affine map.
func (l *Linear) PropagateBounds(in bounds.Interval) (bounds.Interval, error) {
	return bounds.Affine(in, l.weight, l.bias)
}

// ReLU applies the rectifier elementwise.
type ReLU struct {
	training bool
}

func NewReLU() *ReLU {
	return &ReLU{training: true}
}

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

func (r *ReLU) Parameters() []*tensor.Tensor      { return nil }
func (r *ReLU) NamedParameters() []NamedParameter { return nil }
func (r *ReLU) Train()                            { r.training = true }
func (r *ReLU) Eval()                             { r.training = false }
func (r *ReLU) IsTraining() bool                  { return r.training }

func (r *ReLU) PropagateBounds(in bounds.Interval) (bounds.Interval, error) {
	return bounds.ReLU(in)
}

// Flatten collapses all trailing dimensions into one, keeping the batch
// dimension.
type Flatten struct {
	training bool
}

func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

func flatShape(shape []int) []int {
	features := 1
	for _, d := range shape[1:] {
		features *= d
	}
	return []int{shape[0], features}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten requires a batch dimension, got shape %v", input.Shape)
	}
	return tensor.ReshapeAutograd(input, flatShape(input.Shape))
}

func (f *Flatten) Parameters() []*tensor.Tensor      { return nil }
func (f *Flatten) NamedParameters() []NamedParameter { return nil }
func (f *Flatten) Train()                            { f.training = true }
func (f *Flatten) Eval()                             { f.training = false }
func (f *Flatten) IsTraining() bool                  { return f.training }

func (f *Flatten) PropagateBounds(in bounds.Interval) (bounds.Interval, error) {
	if len(in.Lower.Shape) < 2 {
		return bounds.Interval{}, fmt.Errorf("flatten requires a batch dimension, got shape %v", in.Lower.Shape)
	}
	return bounds.Reshape(in, flatShape(in.Lower.Shape))
}

// Sequential chains modules in order.
type Sequential struct {
	layers   []Module
	training bool
}

func NewSequential(layers ...Module) *Sequential {
	return &Sequential{layers: layers, training: true}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, layer := range s.layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %v", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (s *Sequential) NamedParameters() []NamedParameter {
	var named []NamedParameter
	for i, layer := range s.layers {
		for _, p := range layer.NamedParameters() {
			named = append(named, NamedParameter{
				Name:   strconv.Itoa(i) + "." + p.Name,
				Tensor: p.Tensor,
			})
		}
	}
	return named
}

func (s *Sequential) Train() {
	s.training = true
	for _, layer := range s.layers {
		layer.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, layer := range s.layers {
		layer.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// Layers exposes the chain for wrappers that split work across devices.
func (s *Sequential) Layers() []Module { return s.layers }

// SupportsSubmoduleParallel reports that the chain can be evaluated
// independently on input shards.
func (s *Sequential) SupportsSubmoduleParallel() bool { return true }

// PropagateBounds pushes an interval through every layer in order. Every
// layer must know how to propagate bounds.
func (s *Sequential) PropagateBounds(in bounds.Interval) (bounds.Interval, error) {
	iv := in
	for i, layer := range s.layers {
		p, ok := layer.(bounds.Propagator)
		if !ok {
			return bounds.Interval{}, fmt.Errorf("layer %d (%T) cannot propagate bounds", i, layer)
		}
		var err error
		iv, err = p.PropagateBounds(iv)
		if err != nil {
			return bounds.Interval{}, fmt.Errorf("layer %d: %v", i, err)
		}
	}
	return iv, nil
}

// NewMLPClassifier builds a flatten + hidden ReLU layers + linear head
// classifier, the shape used throughout the tests and examples.
func NewMLPClassifier(inFeatures int, hidden []int, numClasses int) (*Sequential, error) {
	layers := []Module{NewFlatten()}
	prev := inFeatures
	for _, h := range hidden {
		fc, err := NewLinear(prev, h, true)
		if err != nil {
			return nil, err
		}
		layers = append(layers, fc, NewReLU())
		prev = h
	}
	head, err := NewLinear(prev, numClasses, true)
	if err != nil {
		return nil, err
	}
	layers = append(layers, head)
	return NewSequential(layers...), nil
}
