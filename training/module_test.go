package training

import (
	"testing"

	"github.com/ModarTensai/ptb/bounds"
	"github.com/ModarTensai/ptb/tensor"
)

func TestLinearForwardShape(t *testing.T) {
	SetRandomSeed(1)
	fc, err := NewLinear(4, 3, true)
	if err != nil {
		t.Fatalf("NewLinear() error = %v", err)
	}

	input, _ := tensor.Zeros([]int{2, 4}, tensor.Float32, tensor.CPU)
	out, err := fc.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 3 {
		t.Errorf("output shape = %v, want [2 3]", out.Shape)
	}
	if len(fc.Parameters()) != 2 {
		t.Errorf("Parameters() = %d tensors, want 2", len(fc.Parameters()))
	}
}

func TestLinearValidation(t *testing.T) {
	if _, err := NewLinear(0, 3, true); err == nil {
		t.Error("expected error for zero input features")
	}
}

func TestSequentialNamedParameters(t *testing.T) {
	SetRandomSeed(2)
	model, err := NewMLPClassifier(4, []int{5}, 3)
	if err != nil {
		t.Fatalf("NewMLPClassifier() error = %v", err)
	}

	named := model.NamedParameters()
	want := []string{"1.weight", "1.bias", "3.weight", "3.bias"}
	if len(named) != len(want) {
		t.Fatalf("NamedParameters() = %d entries, want %d", len(named), len(want))
	}
	for i, name := range want {
		if named[i].Name != name {
			t.Errorf("parameter %d name = %q, want %q", i, named[i].Name, name)
		}
	}
}

func TestSequentialTrainEval(t *testing.T) {
	SetRandomSeed(3)
	model, _ := NewMLPClassifier(2, nil, 2)

	model.Eval()
	if model.IsTraining() {
		t.Error("Eval() should clear training mode")
	}
	for _, layer := range model.Layers() {
		if layer.IsTraining() {
			t.Error("Eval() should propagate to layers")
		}
	}
	model.Train()
	if !model.IsTraining() {
		t.Error("Train() should set training mode")
	}
}

func TestXavierInitDeterminism(t *testing.T) {
	SetRandomSeed(7)
	a, _ := NewLinear(3, 3, false)
	SetRandomSeed(7)
	b, _ := NewLinear(3, 3, false)

	aData, _ := a.Parameters()[0].GetFloat32Data()
	bData, _ := b.Parameters()[0].GetFloat32Data()
	for i := range aData {
		if aData[i] != bData[i] {
			t.Fatal("same seed must give identical initialization")
		}
	}
}

func TestForwardWithinPropagatedBounds(t *testing.T) {
	SetRandomSeed(5)
	model, err := NewMLPClassifier(4, []int{6}, 3)
	if err != nil {
		t.Fatalf("NewMLPClassifier() error = %v", err)
	}

	input, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, tensor.CPU,
		[]float32{0.1, -0.2, 0.3, 0.4, -0.5, 0.6, -0.7, 0.8})

	logits, err := model.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	iv, err := bounds.NewInterval(input, 0.05)
	if err != nil {
		t.Fatalf("NewInterval() error = %v", err)
	}
	out, err := model.PropagateBounds(iv)
	if err != nil {
		t.Fatalf("PropagateBounds() error = %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// The exact forward output must sit inside the propagated interval.
	lo, _ := out.Lower.GetFloat32Data()
	hi, _ := out.Upper.GetFloat32Data()
	logitData, _ := logits.GetFloat32Data()
	for i, v := range logitData {
		if v < lo[i]-1e-5 || v > hi[i]+1e-5 {
			t.Errorf("logit %d = %v escapes bounds [%v, %v]", i, v, lo[i], hi[i])
		}
	}
}

func TestMLPForwardFlattensImages(t *testing.T) {
	SetRandomSeed(6)
	model, _ := NewMLPClassifier(8, []int{4}, 2)

	// Image-shaped input [batch, channels, height, width].
	input, _ := tensor.Zeros([]int{3, 2, 2, 2}, tensor.Float32, tensor.CPU)
	out, err := model.Forward(input)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if out.Shape[0] != 3 || out.Shape[1] != 2 {
		t.Errorf("output shape = %v, want [3 2]", out.Shape)
	}
}
