// Package checkpoints persists and restores training state: model
// weights, the best validation accuracy seen so far, and optimizer
// state, so interrupted runs can resume without losing progress.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointFormat identifies the serialization format.
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatGob
)

func (f CheckpointFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatGob:
		return "gob"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// WeightTensor holds one named parameter of the model.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer,omitempty"`
}

// OptimizerState captures the optimizer so momentum buffers survive a
// restart.
type OptimizerState struct {
	Type       string               `json:"type"`
	Parameters map[string]float64   `json:"parameters"`
	Buffers    map[string][]float32 `json:"buffers,omitempty"`
}

// CheckpointMetadata records provenance.
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is the full training state written to disk.
type Checkpoint struct {
	Epoch     int                `json:"epoch"`
	StateDict []WeightTensor     `json:"state_dict"`
	BestAcc1  float64            `json:"best_acc1"`
	Optimizer *OptimizerState    `json:"optimizer,omitempty"`
	Metadata  CheckpointMetadata `json:"metadata"`
}

// NewCheckpoint stamps a checkpoint with current metadata.
func NewCheckpoint(epoch int, stateDict []WeightTensor, bestAcc1 float64, opt *OptimizerState) *Checkpoint {
	return &Checkpoint{
		Epoch:     epoch,
		StateDict: stateDict,
		BestAcc1:  bestAcc1,
		Optimizer: opt,
		Metadata: CheckpointMetadata{
			Version:   "1.0",
			Framework: "ptb",
			CreatedAt: time.Now().UTC(),
		},
	}
}

// Validate rejects checkpoints that cannot be loaded into a model.
func (c *Checkpoint) Validate() error {
	if c.Epoch < 0 {
		return fmt.Errorf("checkpoint epoch %d is negative", c.Epoch)
	}
	if len(c.StateDict) == 0 {
		return fmt.Errorf("checkpoint has an empty state dict")
	}
	seen := make(map[string]bool, len(c.StateDict))
	for _, w := range c.StateDict {
		if w.Name == "" {
			return fmt.Errorf("state dict entry has no name")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate state dict entry %q", w.Name)
		}
		seen[w.Name] = true
		elems := 1
		for _, d := range w.Shape {
			if d <= 0 {
				return fmt.Errorf("state dict entry %q has invalid shape %v", w.Name, w.Shape)
			}
			elems *= d
		}
		if elems != len(w.Data) {
			return fmt.Errorf("state dict entry %q: shape %v implies %d elements, data has %d",
				w.Name, w.Shape, elems, len(w.Data))
		}
	}
	return nil
}

// Saver writes and reads checkpoints in a chosen format.
type Saver struct {
	format CheckpointFormat
}

// NewSaver creates a saver for the given format.
func NewSaver(format CheckpointFormat) *Saver {
	return &Saver{format: format}
}

// Save writes the checkpoint atomically: the payload lands in a temp file
// in the target directory and is renamed into place, so a crash mid-write
// never corrupts an existing checkpoint.
func (s *Saver) Save(c *Checkpoint, path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid checkpoint: %v", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %v", err)
	}
	tmpName := tmp.Name()

	var encErr error
	switch s.format {
	case FormatJSON:
		enc := json.NewEncoder(tmp)
		enc.SetIndent("", "  ")
		encErr = enc.Encode(c)
	case FormatGob:
		encErr = gob.NewEncoder(tmp).Encode(c)
	default:
		encErr = fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
	if closeErr := tmp.Close(); encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode checkpoint: %v", encErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint back and validates it.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %v", err)
	}
	defer f.Close()

	var c Checkpoint
	switch s.format {
	case FormatJSON:
		err = json.NewDecoder(f).Decode(&c)
	case FormatGob:
		err = gob.NewDecoder(f).Decode(&c)
	default:
		err = fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint failed validation: %v", err)
	}
	return &c, nil
}
