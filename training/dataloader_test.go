package training

import (
	"fmt"
	"testing"
)

// rampDataset yields sample i as a pair [i, i] labeled i modulo 3.
type rampDataset struct {
	n       int
	failAt  int
	hasFail bool
}

func (d *rampDataset) Len() int           { return d.n }
func (d *rampDataset) SampleShape() []int { return []int{2} }

func (d *rampDataset) Get(index int) ([]float32, int32, error) {
	if d.hasFail && index == d.failAt {
		return nil, 0, fmt.Errorf("sample %d is corrupt", index)
	}
	v := float32(index)
	return []float32{v, v}, int32(index % 3), nil
}

func TestDataLoaderBatching(t *testing.T) {
	dl, err := NewDataLoader(&rampDataset{n: 10}, DataLoaderConfig{BatchSize: 4})
	if err != nil {
		t.Fatalf("NewDataLoader() error = %v", err)
	}
	if dl.NumBatches() != 3 {
		t.Fatalf("NumBatches() = %d, want 3", dl.NumBatches())
	}

	sizes := []int{}
	seen := 0
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		sizes = append(sizes, batch.Size)
		if batch.Inputs.Shape[0] != batch.Size || batch.Inputs.Shape[1] != 2 {
			t.Errorf("batch input shape = %v, want [%d 2]", batch.Inputs.Shape, batch.Size)
		}
		seen += batch.Size
	}
	if seen != 10 {
		t.Errorf("consumed %d samples, want 10", seen)
	}
	if sizes[len(sizes)-1] != 2 {
		t.Errorf("final batch size = %d, want short batch of 2", sizes[len(sizes)-1])
	}
	if _, err := dl.Next(); err == nil {
		t.Error("expected error after epoch exhaustion")
	}
}

func TestDataLoaderOrderWithoutShuffle(t *testing.T) {
	dl, err := NewDataLoader(&rampDataset{n: 6}, DataLoaderConfig{BatchSize: 2, Workers: 3})
	if err != nil {
		t.Fatalf("NewDataLoader() error = %v", err)
	}

	var got []float32
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		data, _ := batch.Inputs.GetFloat32Data()
		for i := 0; i < batch.Size; i++ {
			got = append(got, data[i*2])
		}
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d has value %v, want %d: workers must preserve batch order", i, v, i)
		}
	}
}

func TestDataLoaderShuffleDeterminism(t *testing.T) {
	collect := func() []int32 {
		dl, err := NewDataLoader(&rampDataset{n: 12}, DataLoaderConfig{
			BatchSize: 4,
			Shuffle:   true,
			Seed:      9,
		})
		if err != nil {
			t.Fatalf("NewDataLoader() error = %v", err)
		}
		var labels []int32
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			data, _ := batch.Targets.GetInt32Data()
			labels = append(labels, data...)
		}
		return labels
	}

	a := collect()
	b := collect()
	if len(a) != 12 {
		t.Fatalf("collected %d labels, want 12", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed must produce the same shuffle")
		}
	}
}

func TestDataLoaderReshufflesBetweenEpochs(t *testing.T) {
	dl, err := NewDataLoader(&rampDataset{n: 32}, DataLoaderConfig{
		BatchSize: 32,
		Shuffle:   true,
		Seed:      1,
	})
	if err != nil {
		t.Fatalf("NewDataLoader() error = %v", err)
	}

	epoch := func() []float32 {
		var vals []float32
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			data, _ := batch.Inputs.GetFloat32Data()
			vals = append(vals, data...)
		}
		return vals
	}

	first := epoch()
	dl.Reset()
	second := epoch()

	same := true
	for i := range first {
		if first[i] != second[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("consecutive epochs produced identical order")
	}
}

func TestDataLoaderPropagatesErrors(t *testing.T) {
	dl, err := NewDataLoader(&rampDataset{n: 8, failAt: 5, hasFail: true}, DataLoaderConfig{BatchSize: 4})
	if err != nil {
		t.Fatalf("NewDataLoader() error = %v", err)
	}

	var sawErr bool
	for dl.HasNext() {
		if _, err := dl.Next(); err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("expected a batch error from the corrupt sample")
	}
}

func TestDataLoaderConfigValidation(t *testing.T) {
	if _, err := NewDataLoader(&rampDataset{n: 4}, DataLoaderConfig{BatchSize: 0}); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewDataLoader(&rampDataset{}, DataLoaderConfig{BatchSize: 2}); err == nil {
		t.Error("expected error for empty dataset")
	}
	if _, err := NewDataLoader(&rampDataset{n: 4}, DataLoaderConfig{BatchSize: 2, Workers: -1}); err == nil {
		t.Error("expected error for negative workers")
	}
}
