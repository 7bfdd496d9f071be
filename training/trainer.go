package training

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ModarTensai/ptb/checkpoints"
	"github.com/ModarTensai/ptb/device"
	"github.com/ModarTensai/ptb/tensor"
)

// NormalizedDataset is implemented by datasets whose samples were
// standardized. InputRange reports the width of the valid pixel interval
// in normalized units, which rescales the perturbation radius.
type NormalizedDataset interface {
	InputRange() float64
}

// RunState tracks how a training run ended.
type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateExhausted
	StateDiverged
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateRunning:
		return "running"
	case StateExhausted:
		return "exhausted"
	case StateDiverged:
		return "diverged"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ClassifierConfig collects every knob of a robust classifier run.
type ClassifierConfig struct {
	Epochs    int
	BatchSize int
	// Workers is the number of data loading goroutines per loader.
	Workers int

	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	// Epsilon is the perturbation radius in raw pixel units; it is
	// rescaled by the dataset's input range before training.
	Epsilon     float64
	Factor      float64
	Temperature float64

	// LineSearch swaps plain SGD for Armijo backtracking.
	LineSearch bool

	EvaluateOnly  bool
	Resume        string
	CheckpointDir string
	LogDir        string
	Seed          int64
}

// DefaultClassifierConfig mirrors the usual robust training setup.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Epochs:       90,
		BatchSize:    256,
		Workers:      4,
		LearningRate: 0.1,
		Momentum:     0.9,
		WeightDecay:  1e-4,
		Epsilon:      1.58 / 255,
		Factor:       0,
		Temperature:  1,
		Seed:         42,
	}
}

// Trainer runs the full robust classification loop: baseline validation,
// epoch alternation with step-decayed learning rates, NaN divergence
// detection, and best-accuracy checkpointing.
type Trainer struct {
	config    ClassifierConfig
	model     Module
	criterion *RobustLoss
	opt       Optimizer
	scheduler LRScheduler
	saver     *checkpoints.Saver
	writer    SummaryWriter
	devices   device.RunContext

	trainLoader *DataLoader
	valLoader   *DataLoader

	state      RunState
	startEpoch int
	bestAcc1   float64
}

// NewTrainer wires a trainer from its parts. The robust epsilon is scaled
// by the training dataset's input range when the dataset reports one.
func NewTrainer(config ClassifierConfig, model Module, trainSet, valSet Dataset) (*Trainer, error) {
	if config.Epochs <= 0 && !config.EvaluateOnly {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}

	epsilon := config.Epsilon
	if nd, ok := trainSet.(NormalizedDataset); ok {
		epsilon *= nd.InputRange()
	}
	criterion, err := NewRobustLoss(epsilon, config.Factor, config.Temperature)
	if err != nil {
		return nil, err
	}

	var opt Optimizer
	if config.LineSearch {
		btCfg := DefaultBacktrackingConfig()
		btCfg.LearningRate = config.LearningRate
		btCfg.WeightDecay = config.WeightDecay
		opt, err = NewBacktrackingSGD(model.NamedParameters(), btCfg)
	} else {
		opt, err = NewSGD(model.NamedParameters(), SGDConfig{
			LearningRate: config.LearningRate,
			Momentum:     config.Momentum,
			WeightDecay:  config.WeightDecay,
		})
	}
	if err != nil {
		return nil, err
	}

	trainLoader, err := NewDataLoader(trainSet, DataLoaderConfig{
		BatchSize: config.BatchSize,
		Shuffle:   true,
		Workers:   config.Workers,
		Seed:      config.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("train loader: %v", err)
	}
	valLoader, err := NewDataLoader(valSet, DataLoaderConfig{
		BatchSize: config.BatchSize,
		Workers:   config.Workers,
		Seed:      config.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("val loader: %v", err)
	}

	var writer SummaryWriter = NopSummaryWriter{}
	if config.LogDir != "" {
		writer, err = NewFileSummaryWriter(config.LogDir)
		if err != nil {
			return nil, err
		}
	}

	devices := device.NewRunContext()
	runModel, err := wrapForDevices(model, devices)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		config:      config,
		model:       runModel,
		criterion:   criterion,
		opt:         opt,
		scheduler:   NewStepLR(),
		saver:       checkpoints.NewSaver(checkpoints.FormatJSON),
		writer:      writer,
		devices:     devices,
		trainLoader: trainLoader,
		valLoader:   valLoader,
		state:       StateNotStarted,
	}, nil
}

// wrapForDevices shards evaluation batches across the run's accelerators.
// A single device, or a model that does not opt in to sharding, runs the
// plain module.
func wrapForDevices(model Module, rc device.RunContext) (Module, error) {
	if n := rc.GPUCount(); n > 1 {
		return NewDataParallel(model, n)
	}
	return model, nil
}

// State reports how the run ended.
func (t *Trainer) State() RunState { return t.state }

// BestAcc1 returns the best validation top-1 accuracy seen.
func (t *Trainer) BestAcc1() float64 { return t.bestAcc1 }

// StateDict snapshots the model parameters for checkpointing.
func StateDict(model Module) ([]checkpoints.WeightTensor, error) {
	named := model.NamedParameters()
	dict := make([]checkpoints.WeightTensor, 0, len(named))
	for _, p := range named {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", p.Name, err)
		}
		cp := make([]float32, len(data))
		copy(cp, data)
		shape := make([]int, len(p.Tensor.Shape))
		copy(shape, p.Tensor.Shape)
		dict = append(dict, checkpoints.WeightTensor{Name: p.Name, Shape: shape, Data: cp})
	}
	return dict, nil
}

// LoadStateDict copies checkpointed weights into matching parameters.
// Every checkpoint entry must find a parameter of the same name and
// shape, and every parameter must be covered.
func LoadStateDict(model Module, dict []checkpoints.WeightTensor) error {
	named := model.NamedParameters()
	byName := make(map[string]*tensor.Tensor, len(named))
	for _, p := range named {
		byName[p.Name] = p.Tensor
	}

	loaded := make(map[string]bool, len(dict))
	for _, w := range dict {
		param, ok := byName[w.Name]
		if !ok {
			return fmt.Errorf("checkpoint entry %q has no matching parameter", w.Name)
		}
		if len(w.Shape) != len(param.Shape) {
			return fmt.Errorf("parameter %q shape mismatch: checkpoint %v, model %v", w.Name, w.Shape, param.Shape)
		}
		for i := range w.Shape {
			if w.Shape[i] != param.Shape[i] {
				return fmt.Errorf("parameter %q shape mismatch: checkpoint %v, model %v", w.Name, w.Shape, param.Shape)
			}
		}
		if err := param.SetData(w.Data); err != nil {
			return fmt.Errorf("parameter %q: %v", w.Name, err)
		}
		loaded[w.Name] = true
	}
	for name := range byName {
		if !loaded[name] {
			return fmt.Errorf("parameter %q missing from checkpoint", name)
		}
	}
	return nil
}

func (t *Trainer) resume() error {
	if _, err := os.Stat(t.config.Resume); os.IsNotExist(err) {
		fmt.Printf("=> no checkpoint found at %q, starting fresh\n", t.config.Resume)
		return nil
	}
	ckpt, err := t.saver.Load(t.config.Resume)
	if err != nil {
		return fmt.Errorf("failed to resume from %q: %v", t.config.Resume, err)
	}
	if err := LoadStateDict(t.model, ckpt.StateDict); err != nil {
		return err
	}
	if ckpt.Optimizer != nil {
		if err := t.opt.LoadStateDict(ckpt.Optimizer); err != nil {
			return err
		}
	}
	t.startEpoch = ckpt.Epoch
	t.bestAcc1 = ckpt.BestAcc1
	fmt.Printf("=> resumed from %s (epoch %d, best acc %.2f%%)\n", t.config.Resume, ckpt.Epoch, ckpt.BestAcc1)
	return nil
}

func (t *Trainer) saveCheckpoint(epoch int) error {
	dict, err := StateDict(t.model)
	if err != nil {
		return err
	}
	ckpt := checkpoints.NewCheckpoint(epoch, dict, t.bestAcc1, t.opt.StateDict())
	path := filepath.Join(t.config.CheckpointDir, "checkpoint.json")
	if err := t.saver.Save(ckpt, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}
	return nil
}

// traceGraph writes the model architecture once per run next to the
// scalar logs.
func (t *Trainer) traceGraph() error {
	f, err := os.Create(filepath.Join(t.config.LogDir, "model.dot"))
	if err != nil {
		return err
	}
	if err := ExportGraphDOT(t.model, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatTest(meters MeterSet) string {
	return fmt.Sprintf("Test[%.4e: %6.2f%%]", meters["Loss"].Average(), meters["Acc@1"].Average())
}

func formatTrain(meters MeterSet) string {
	return fmt.Sprintf("Train[%.4e: %6.2f%%]", meters["Loss"].Average(), meters["Acc@1"].Average())
}

func (t *Trainer) logMeters(prefix string, meters MeterSet, epoch int) {
	for _, name := range meters.Names() {
		t.writer.AddScalar(prefix+"/"+name, meters[name].Average(), epoch)
	}
}

// Run executes the training loop until the epoch budget is exhausted, the
// loss diverges, or evaluation finishes.
func (t *Trainer) Run() error {
	defer t.writer.Close()

	fmt.Println(t.devices.Describe())

	if t.config.LogDir != "" {
		if err := t.traceGraph(); err != nil {
			fmt.Printf("=> model graph not traced: %v\n", err)
		}
	}

	if t.config.Resume != "" {
		if err := t.resume(); err != nil {
			return err
		}
	}

	t.state = StateRunning

	// Validate once before any training to report the starting point.
	valMeters, err := RunEpoch(t.valLoader, t.model, t.criterion, nil)
	if err != nil {
		t.state = StateNotStarted
		return fmt.Errorf("baseline validation failed: %v", err)
	}
	// The baseline is a measurement only. The accuracy bar stays at zero
	// (or the resumed value) so the first trained epoch always checkpoints.
	fmt.Println(formatTest(valMeters))

	if t.config.EvaluateOnly {
		t.state = StateExhausted
		return nil
	}

	for epoch := t.startEpoch; epoch < t.config.Epochs; epoch++ {
		lr := t.scheduler.GetLR(epoch, t.config.LearningRate)
		t.opt.SetLearningRate(lr)
		t.writer.AddScalar("Train/LearningRate", lr, epoch)

		trainMeters, err := RunEpoch(t.trainLoader, t.model, t.criterion, t.opt)
		if err != nil {
			return fmt.Errorf("epoch %d failed: %v", epoch, err)
		}
		if math.IsNaN(trainMeters["Loss"].Average()) {
			fmt.Println("Training was stopped (reached NaN)!")
			t.state = StateDiverged
			return nil
		}

		valMeters, err := RunEpoch(t.valLoader, t.model, t.criterion, nil)
		if err != nil {
			return fmt.Errorf("validation after epoch %d failed: %v", epoch, err)
		}

		t.logMeters("Train", trainMeters, epoch)
		t.logMeters("Test", valMeters, epoch)
		fmt.Printf("[%d@%.4e] %s %s\n", epoch+1, lr, formatTrain(trainMeters), formatTest(valMeters))

		acc1 := valMeters["Acc@1"].Average()
		if acc1 >= t.bestAcc1 {
			t.bestAcc1 = acc1
			if t.config.CheckpointDir != "" {
				if err := t.saveCheckpoint(epoch + 1); err != nil {
					fmt.Printf("=> checkpoint not saved: %v\n", err)
				}
			}
		}
	}

	t.state = StateExhausted
	return nil
}
