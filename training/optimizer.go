package training

import (
	"fmt"
	"math"

	"github.com/ModarTensai/ptb/checkpoints"
)

// Closure re-evaluates the model on the current batch, backpropagates,
// and returns the loss. Optimizers may call it any number of times per
// step, so side effects inside a closure must guard against repeat
// invocations.
type Closure func() (float64, error)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	// Step runs the closure at least once and applies one update. It
	// returns the loss from the first closure invocation.
	Step(closure Closure) (float64, error)
	ZeroGrad()
	SetLearningRate(lr float64)
	LearningRate() float64
	StateDict() *checkpoints.OptimizerState
	LoadStateDict(state *checkpoints.OptimizerState) error
}

// SGDConfig holds stochastic gradient descent hyperparameters.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig mirrors the usual classifier settings.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.1,
		Momentum:     0.9,
		WeightDecay:  1e-4,
	}
}

// SGD implements stochastic gradient descent with momentum. It invokes
// the closure exactly once per step.
type SGD struct {
	params  []NamedParameter
	config  SGDConfig
	buffers map[string][]float32
}

// NewSGD validates the configuration and builds the optimizer.
func NewSGD(params []NamedParameter, config SGDConfig) (*SGD, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum must be non-negative, got %v", config.Momentum)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov requires momentum > 0 and zero dampening")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	return &SGD{
		params:  params,
		config:  config,
		buffers: make(map[string][]float32),
	}, nil
}

func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.Tensor.ZeroGrad()
	}
}

func (s *SGD) SetLearningRate(lr float64) { s.config.LearningRate = lr }
func (s *SGD) LearningRate() float64      { return s.config.LearningRate }

// applyUpdate performs one momentum SGD update from the current
// gradients.
func (s *SGD) applyUpdate() error {
	lr := float32(s.config.LearningRate)
	momentum := float32(s.config.Momentum)
	dampening := float32(s.config.Dampening)
	weightDecay := float32(s.config.WeightDecay)

	for _, p := range s.params {
		grad := p.Tensor.Grad()
		if grad == nil {
			continue
		}
		gData, err := grad.GetFloat32Data()
		if err != nil {
			return err
		}
		pData, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return err
		}

		var buf []float32
		firstStep := false
		if momentum != 0 {
			var ok bool
			buf, ok = s.buffers[p.Name]
			if !ok {
				buf = make([]float32, len(pData))
				s.buffers[p.Name] = buf
				firstStep = true
			}
		}

		for i := range pData {
			d := gData[i]
			if weightDecay != 0 {
				d += weightDecay * pData[i]
			}
			if momentum != 0 {
				if firstStep {
					buf[i] = d
				} else {
					buf[i] = momentum*buf[i] + (1-dampening)*d
				}
				if s.config.Nesterov {
					d += momentum * buf[i]
				} else {
					d = buf[i]
				}
			}
			pData[i] -= lr * d
		}
	}
	return nil
}

func (s *SGD) Step(closure Closure) (float64, error) {
	if closure == nil {
		return 0, fmt.Errorf("sgd step requires a closure")
	}
	loss, err := closure()
	if err != nil {
		return 0, err
	}
	if err := s.applyUpdate(); err != nil {
		return 0, err
	}
	return loss, nil
}

func (s *SGD) StateDict() *checkpoints.OptimizerState {
	nesterov := 0.0
	if s.config.Nesterov {
		nesterov = 1
	}
	buffers := make(map[string][]float32, len(s.buffers))
	for name, buf := range s.buffers {
		cp := make([]float32, len(buf))
		copy(cp, buf)
		buffers[name] = cp
	}
	return &checkpoints.OptimizerState{
		Type: "sgd",
		Parameters: map[string]float64{
			"lr":           s.config.LearningRate,
			"momentum":     s.config.Momentum,
			"dampening":    s.config.Dampening,
			"weight_decay": s.config.WeightDecay,
			"nesterov":     nesterov,
		},
		Buffers: buffers,
	}
}

func (s *SGD) LoadStateDict(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != "sgd" {
		return fmt.Errorf("cannot load %q state into sgd", state.Type)
	}
	if lr, ok := state.Parameters["lr"]; ok {
		s.config.LearningRate = lr
	}
	if m, ok := state.Parameters["momentum"]; ok {
		s.config.Momentum = m
	}
	if d, ok := state.Parameters["dampening"]; ok {
		s.config.Dampening = d
	}
	if wd, ok := state.Parameters["weight_decay"]; ok {
		s.config.WeightDecay = wd
	}
	s.config.Nesterov = state.Parameters["nesterov"] == 1

	s.buffers = make(map[string][]float32, len(state.Buffers))
	for name, buf := range state.Buffers {
		cp := make([]float32, len(buf))
		copy(cp, buf)
		s.buffers[name] = cp
	}
	return nil
}

// BacktrackingConfig holds line-search hyperparameters.
type BacktrackingConfig struct {
	LearningRate float64
	// C1 is the Armijo sufficient-decrease constant.
	C1 float64
	// Shrink multiplies the step size after each failed trial.
	Shrink float64
	// MaxLineSearch bounds how many times the closure is re-invoked.
	MaxLineSearch int
	WeightDecay   float64
}

// DefaultBacktrackingConfig gives a conservative Armijo search.
func DefaultBacktrackingConfig() BacktrackingConfig {
	return BacktrackingConfig{
		LearningRate:  0.1,
		C1:            1e-4,
		Shrink:        0.5,
		MaxLineSearch: 10,
	}
}

// BacktrackingSGD performs gradient descent with an Armijo backtracking
// line search. Each step re-invokes the closure once per trial point, so
// closures must tolerate repeat evaluation.
type BacktrackingSGD struct {
	params []NamedParameter
	config BacktrackingConfig
}

func NewBacktrackingSGD(params []NamedParameter, config BacktrackingConfig) (*BacktrackingSGD, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.C1 <= 0 || config.C1 >= 1 {
		return nil, fmt.Errorf("c1 must be in (0, 1), got %v", config.C1)
	}
	if config.Shrink <= 0 || config.Shrink >= 1 {
		return nil, fmt.Errorf("shrink must be in (0, 1), got %v", config.Shrink)
	}
	if config.MaxLineSearch <= 0 {
		return nil, fmt.Errorf("max line search must be positive, got %v", config.MaxLineSearch)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	return &BacktrackingSGD{params: params, config: config}, nil
}

func (b *BacktrackingSGD) ZeroGrad() {
	for _, p := range b.params {
		p.Tensor.ZeroGrad()
	}
}

func (b *BacktrackingSGD) SetLearningRate(lr float64) { b.config.LearningRate = lr }
func (b *BacktrackingSGD) LearningRate() float64      { return b.config.LearningRate }

func (b *BacktrackingSGD) Step(closure Closure) (float64, error) {
	if closure == nil {
		return 0, fmt.Errorf("backtracking step requires a closure")
	}
	loss0, err := closure()
	if err != nil {
		return 0, err
	}

	// Snapshot parameters and the descent direction before trial moves.
	snapshots := make([][]float32, len(b.params))
	directions := make([][]float32, len(b.params))
	gradNormSq := 0.0
	for i, p := range b.params {
		pData, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return 0, err
		}
		snap := make([]float32, len(pData))
		copy(snap, pData)
		snapshots[i] = snap

		grad := p.Tensor.Grad()
		if grad == nil {
			directions[i] = nil
			continue
		}
		gData, err := grad.GetFloat32Data()
		if err != nil {
			return 0, err
		}
		dir := make([]float32, len(gData))
		for j, g := range gData {
			d := g
			if b.config.WeightDecay != 0 {
				d += float32(b.config.WeightDecay) * pData[j]
			}
			dir[j] = d
			gradNormSq += float64(d) * float64(d)
		}
		directions[i] = dir
	}
	if gradNormSq == 0 {
		return loss0, nil
	}

	step := b.config.LearningRate
	for trial := 0; trial < b.config.MaxLineSearch; trial++ {
		for i, p := range b.params {
			if directions[i] == nil {
				continue
			}
			pData, _ := p.Tensor.GetFloat32Data()
			for j := range pData {
				pData[j] = snapshots[i][j] - float32(step)*directions[i][j]
			}
		}
		trialLoss, err := closure()
		if err != nil {
			return 0, err
		}
		if !math.IsNaN(trialLoss) && trialLoss <= loss0-b.config.C1*step*gradNormSq {
			return loss0, nil
		}
		step *= b.config.Shrink
	}

	// Search exhausted: keep the smallest trial step.
	for i, p := range b.params {
		if directions[i] == nil {
			continue
		}
		pData, _ := p.Tensor.GetFloat32Data()
		for j := range pData {
			pData[j] = snapshots[i][j] - float32(step)*directions[i][j]
		}
	}
	return loss0, nil
}

func (b *BacktrackingSGD) StateDict() *checkpoints.OptimizerState {
	return &checkpoints.OptimizerState{
		Type: "backtracking_sgd",
		Parameters: map[string]float64{
			"lr":              b.config.LearningRate,
			"c1":              b.config.C1,
			"shrink":          b.config.Shrink,
			"max_line_search": float64(b.config.MaxLineSearch),
			"weight_decay":    b.config.WeightDecay,
		},
	}
}

func (b *BacktrackingSGD) LoadStateDict(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != "backtracking_sgd" {
		return fmt.Errorf("cannot load %q state into backtracking_sgd", state.Type)
	}
	if lr, ok := state.Parameters["lr"]; ok {
		b.config.LearningRate = lr
	}
	if c1, ok := state.Parameters["c1"]; ok {
		b.config.C1 = c1
	}
	if sh, ok := state.Parameters["shrink"]; ok {
		b.config.Shrink = sh
	}
	if mls, ok := state.Parameters["max_line_search"]; ok {
		b.config.MaxLineSearch = int(mls)
	}
	if wd, ok := state.Parameters["weight_decay"]; ok {
		b.config.WeightDecay = wd
	}
	return nil
}
