package training

import (
	"math"
	"testing"
)

func TestStepLR(t *testing.T) {
	s := NewStepLR()
	base := 0.1

	tests := []struct {
		epoch int
		want  float64
	}{
		{0, 0.1},
		{29, 0.1},
		{30, 0.01},
		{59, 0.01},
		{60, 0.001},
		{90, 0.0001},
	}

	for _, tt := range tests {
		got := s.GetLR(tt.epoch, base)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("GetLR(%d) = %v, want %v", tt.epoch, got, tt.want)
		}
	}
}

func TestStepLRCustom(t *testing.T) {
	s := &StepLR{StepSize: 10, Gamma: 0.5}
	if got := s.GetLR(25, 1); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("GetLR(25) = %v, want 0.25", got)
	}
}

func TestExponentialLR(t *testing.T) {
	s := &ExponentialLR{Gamma: 0.9}
	if got := s.GetLR(0, 0.1); got != 0.1 {
		t.Errorf("GetLR(0) = %v, want 0.1", got)
	}
	if got := s.GetLR(2, 0.1); math.Abs(got-0.081) > 1e-12 {
		t.Errorf("GetLR(2) = %v, want 0.081", got)
	}
}

func TestCosineAnnealingLR(t *testing.T) {
	s := &CosineAnnealingLR{TMax: 100, MinLR: 0.001}
	base := 0.1

	if got := s.GetLR(0, base); math.Abs(got-base) > 1e-12 {
		t.Errorf("GetLR(0) = %v, want %v", got, base)
	}
	if got := s.GetLR(100, base); math.Abs(got-0.001) > 1e-12 {
		t.Errorf("GetLR(TMax) = %v, want 0.001", got)
	}
	mid := s.GetLR(50, base)
	want := (base + 0.001) / 2
	if math.Abs(mid-want) > 1e-12 {
		t.Errorf("GetLR(TMax/2) = %v, want %v", mid, want)
	}
}
