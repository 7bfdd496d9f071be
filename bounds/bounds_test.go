package bounds

import (
	"math"
	"testing"

	"github.com/ModarTensai/ptb/tensor"
)

func floatsClose(a []float32, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-5 {
			return false
		}
	}
	return true
}

func TestNewInterval(t *testing.T) {
	x, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{0.5, -1})

	iv, err := NewInterval(x, 0.1)
	if err != nil {
		t.Fatalf("NewInterval() error = %v", err)
	}
	if err := iv.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	lo, _ := iv.Lower.GetFloat32Data()
	hi, _ := iv.Upper.GetFloat32Data()
	if !floatsClose(lo, []float32{0.4, -1.1}) {
		t.Errorf("lower = %v, want [0.4 -1.1]", lo)
	}
	if !floatsClose(hi, []float32{0.6, -0.9}) {
		t.Errorf("upper = %v, want [0.6 -0.9]", hi)
	}
}

func TestAffineBounds(t *testing.T) {
	// Input interval [[-1, 1]], weight [[2], [-3]], bias [1].
	// mid = 0, rad = 1 per coordinate.
	// mid' = 0*2 + 0*(-3) + 1 = 1; rad' = 1*|2| + 1*|-3| = 5.
	lo, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{-1, -1})
	hi, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{1, 1})
	w, _ := tensor.NewTensor([]int{2, 1}, tensor.Float32, tensor.CPU, []float32{2, -3})
	b, _ := tensor.NewTensor([]int{1, 1}, tensor.Float32, tensor.CPU, []float32{1})

	out, err := Affine(Interval{Lower: lo, Upper: hi}, w, b)
	if err != nil {
		t.Fatalf("Affine() error = %v", err)
	}
	outLo, _ := out.Lower.GetFloat32Data()
	outHi, _ := out.Upper.GetFloat32Data()
	if !floatsClose(outLo, []float32{-4}) {
		t.Errorf("affine lower = %v, want [-4]", outLo)
	}
	if !floatsClose(outHi, []float32{6}) {
		t.Errorf("affine upper = %v, want [6]", outHi)
	}
}

func TestAffineDegenerateMatchesForward(t *testing.T) {
	// A zero-width interval must stay zero width through an affine map.
	x, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{1, -2})
	w, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 4})

	out, err := Affine(Exact(x), w, nil)
	if err != nil {
		t.Fatalf("Affine() error = %v", err)
	}
	lo, _ := out.Lower.GetFloat32Data()
	hi, _ := out.Upper.GetFloat32Data()
	want := []float32{-5, -6}
	if !floatsClose(lo, want) || !floatsClose(hi, want) {
		t.Errorf("degenerate affine = [%v, %v], want both %v", lo, hi, want)
	}
}

func TestReLUBounds(t *testing.T) {
	lo, _ := tensor.NewTensor([]int{1, 3}, tensor.Float32, tensor.CPU, []float32{-2, -1, 1})
	hi, _ := tensor.NewTensor([]int{1, 3}, tensor.Float32, tensor.CPU, []float32{-1, 1, 2})

	out, err := ReLU(Interval{Lower: lo, Upper: hi})
	if err != nil {
		t.Fatalf("ReLU() error = %v", err)
	}
	outLo, _ := out.Lower.GetFloat32Data()
	outHi, _ := out.Upper.GetFloat32Data()
	if !floatsClose(outLo, []float32{0, 0, 1}) {
		t.Errorf("relu lower = %v, want [0 0 1]", outLo)
	}
	if !floatsClose(outHi, []float32{0, 1, 2}) {
		t.Errorf("relu upper = %v, want [0 1 2]", outHi)
	}
}

func TestTwoLayerPropagation(t *testing.T) {
	// x in [0.9, 1.1], first layer y = 2x, relu, second layer z = -y.
	// After layer 1: [1.8, 2.2]; relu keeps it; after layer 2: [-2.2, -1.8].
	x, _ := tensor.NewTensor([]int{1, 1}, tensor.Float32, tensor.CPU, []float32{1})
	w1, _ := tensor.NewTensor([]int{1, 1}, tensor.Float32, tensor.CPU, []float32{2})
	w2, _ := tensor.NewTensor([]int{1, 1}, tensor.Float32, tensor.CPU, []float32{-1})

	iv, err := NewInterval(x, 0.1)
	if err != nil {
		t.Fatalf("NewInterval() error = %v", err)
	}
	iv, err = Affine(iv, w1, nil)
	if err != nil {
		t.Fatalf("Affine(layer 1) error = %v", err)
	}
	iv, err = ReLU(iv)
	if err != nil {
		t.Fatalf("ReLU() error = %v", err)
	}
	iv, err = Affine(iv, w2, nil)
	if err != nil {
		t.Fatalf("Affine(layer 2) error = %v", err)
	}
	if err := iv.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	lo, _ := iv.Lower.GetFloat32Data()
	hi, _ := iv.Upper.GetFloat32Data()
	if !floatsClose(lo, []float32{-2.2}) {
		t.Errorf("final lower = %v, want [-2.2]", lo)
	}
	if !floatsClose(hi, []float32{-1.8}) {
		t.Errorf("final upper = %v, want [-1.8]", hi)
	}
}

func TestMarginLogits(t *testing.T) {
	lo, _ := tensor.NewTensor([]int{2, 3}, tensor.Float32, tensor.CPU, []float32{
		1, -1, 0,
		-2, 2, -3,
	})
	hi, _ := tensor.NewTensor([]int{2, 3}, tensor.Float32, tensor.CPU, []float32{
		3, 1, 2,
		0, 4, -1,
	})
	targets, _ := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{0, 1})

	margins, err := MarginLogits(Interval{Lower: lo, Upper: hi}, targets)
	if err != nil {
		t.Fatalf("MarginLogits() error = %v", err)
	}
	got, _ := margins.GetFloat32Data()
	// Row 0 target 0: [lower0, upper1, upper2] = [1, 1, 2].
	// Row 1 target 1: [upper0, lower1, upper2] = [0, 2, -1].
	want := []float32{1, 1, 2, 0, 2, -1}
	if !floatsClose(got, want) {
		t.Errorf("margins = %v, want %v", got, want)
	}
}

func TestMarginLogitsTargetRange(t *testing.T) {
	lo, _ := tensor.Zeros([]int{1, 2}, tensor.Float32, tensor.CPU)
	hi, _ := tensor.Zeros([]int{1, 2}, tensor.Float32, tensor.CPU)
	targets, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{5})
	if _, err := MarginLogits(Interval{Lower: lo, Upper: hi}, targets); err == nil {
		t.Error("expected error for out-of-range target")
	}
}

func TestValidateOrdering(t *testing.T) {
	lo, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{2})
	hi, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	if err := (Interval{Lower: lo, Upper: hi}).Validate(); err == nil {
		t.Error("expected error for inverted bounds")
	}
}
