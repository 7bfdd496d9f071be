package dataset

import (
	"fmt"
	"math/rand"
)

// Synthetic generates Gaussian class blobs for tests and smoke runs. Each
// class gets a fixed random center; samples scatter around it with the
// given noise. Generation is deterministic for a seed.
type Synthetic struct {
	shape    []int
	classes  int
	features []float32
	labels   []int32
	stats    Stats
}

// NewSynthetic builds a dataset of n samples spread evenly over the
// classes.
func NewSynthetic(n int, shape []int, classes int, noise float64, seed int64) (*Synthetic, error) {
	if n <= 0 || classes <= 0 {
		return nil, fmt.Errorf("need positive sample and class counts, got %d and %d", n, classes)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("sample shape is empty")
	}
	elems := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid sample shape %v", shape)
		}
		elems *= d
	}

	rng := rand.New(rand.NewSource(seed))
	centers := make([][]float32, classes)
	for c := range centers {
		center := make([]float32, elems)
		for i := range center {
			center[i] = float32(rng.NormFloat64())
		}
		centers[c] = center
	}

	features := make([]float32, n*elems)
	labels := make([]int32, n)
	pixels := make([]float64, 0, n*elems)
	for s := 0; s < n; s++ {
		class := s % classes
		labels[s] = int32(class)
		for i := 0; i < elems; i++ {
			v := centers[class][i] + float32(rng.NormFloat64()*noise)
			features[s*elems+i] = v
			pixels = append(pixels, float64(v))
		}
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Synthetic{
		shape:    shapeCopy,
		classes:  classes,
		features: features,
		labels:   labels,
		stats:    EstimateStats(pixels),
	}, nil
}

func (s *Synthetic) Len() int {
	return len(s.labels)
}

func (s *Synthetic) SampleShape() []int {
	return s.shape
}

func (s *Synthetic) Classes() int {
	return s.classes
}

func (s *Synthetic) Get(index int) ([]float32, int32, error) {
	if index < 0 || index >= len(s.labels) {
		return nil, 0, fmt.Errorf("index %d out of range for %d samples", index, len(s.labels))
	}
	elems := len(s.features) / len(s.labels)
	sample := make([]float32, elems)
	copy(sample, s.features[index*elems:(index+1)*elems])
	return sample, s.labels[index], nil
}

// Stats exposes the empirical statistics of the generated pixels.
func (s *Synthetic) Stats() Stats {
	return s.stats
}

// InputRange for synthetic data is unit width: samples are already in
// model units rather than standardized pixels.
func (s *Synthetic) InputRange() float64 {
	return 1
}
