package training

import (
	"math"
)

// LRScheduler maps an epoch index to a learning rate.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	Name() string
}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float64
}

// NewStepLR uses the classifier defaults: a tenfold decay every 30
// epochs.
func NewStepLR() *StepLR {
	return &StepLR{StepSize: 30, Gamma: 0.1}
}

func (s *StepLR) Name() string { return "step" }

func (s *StepLR) GetLR(epoch int, baseLR float64) float64 {
	if s.StepSize <= 0 {
		return baseLR
	}
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	Gamma float64
}

func (e *ExponentialLR) Name() string { return "exponential" }

func (e *ExponentialLR) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(e.Gamma, float64(epoch))
}

// CosineAnnealingLR anneals from baseLR to MinLR over TMax epochs.
type CosineAnnealingLR struct {
	TMax  int
	MinLR float64
}

func (c *CosineAnnealingLR) Name() string { return "cosine" }

func (c *CosineAnnealingLR) GetLR(epoch int, baseLR float64) float64 {
	if c.TMax <= 0 {
		return baseLR
	}
	return c.MinLR + (baseLR-c.MinLR)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))/2
}
