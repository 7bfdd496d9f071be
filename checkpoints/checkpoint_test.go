package checkpoints

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleCheckpoint() *Checkpoint {
	return NewCheckpoint(5, []WeightTensor{
		{Name: "0.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}, Layer: "linear"},
		{Name: "0.bias", Shape: []int{3}, Data: []float32{0.1, 0.2, 0.3}, Layer: "linear"},
	}, 91.25, &OptimizerState{
		Type:       "sgd",
		Parameters: map[string]float64{"lr": 0.01, "momentum": 0.9},
		Buffers:    map[string][]float32{"0.weight": {0, 0, 0, 0, 0, 0}},
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatGob} {
		t.Run(format.String(), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "checkpoint."+format.String())
			saver := NewSaver(format)

			want := sampleCheckpoint()
			if err := saver.Save(want, path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := saver.Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if got.Epoch != want.Epoch {
				t.Errorf("Epoch = %d, want %d", got.Epoch, want.Epoch)
			}
			if got.BestAcc1 != want.BestAcc1 {
				t.Errorf("BestAcc1 = %v, want %v", got.BestAcc1, want.BestAcc1)
			}
			if len(got.StateDict) != 2 {
				t.Fatalf("StateDict length = %d, want 2", len(got.StateDict))
			}
			if got.StateDict[0].Name != "0.weight" {
				t.Errorf("StateDict[0].Name = %q, want \"0.weight\"", got.StateDict[0].Name)
			}
			for i, v := range want.StateDict[0].Data {
				if got.StateDict[0].Data[i] != v {
					t.Errorf("weight data[%d] = %v, want %v", i, got.StateDict[0].Data[i], v)
				}
			}
			if got.Optimizer == nil {
				t.Fatal("Optimizer state missing after round trip")
			}
			if got.Optimizer.Parameters["momentum"] != 0.9 {
				t.Errorf("momentum = %v, want 0.9", got.Optimizer.Parameters["momentum"])
			}
		})
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	saver := NewSaver(FormatJSON)

	first := sampleCheckpoint()
	if err := saver.Save(first, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second := sampleCheckpoint()
	second.Epoch = 6
	if err := saver.Save(second, path); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	got, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Epoch != 6 {
		t.Errorf("Epoch after overwrite = %d, want 6", got.Epoch)
	}

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want just the checkpoint", len(entries))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Checkpoint)
		wantErr bool
	}{
		{"valid", func(c *Checkpoint) {}, false},
		{"negative epoch", func(c *Checkpoint) { c.Epoch = -1 }, true},
		{"empty state dict", func(c *Checkpoint) { c.StateDict = nil }, true},
		{"unnamed entry", func(c *Checkpoint) { c.StateDict[0].Name = "" }, true},
		{"duplicate name", func(c *Checkpoint) { c.StateDict[1].Name = c.StateDict[0].Name }, true},
		{"shape data mismatch", func(c *Checkpoint) { c.StateDict[0].Shape = []int{2, 2} }, true},
		{"zero dim", func(c *Checkpoint) { c.StateDict[0].Shape = []int{0, 6} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleCheckpoint()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	saver := NewSaver(FormatJSON)
	if _, err := saver.Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error loading a missing checkpoint")
	}
}
