package dataset

import (
	"fmt"

	"github.com/petar/GoMNIST"
)

// MNISTStats are the conventional normalization statistics for MNIST.
var MNISTStats = Stats{Mean: []float64{0.1307}, Std: []float64{0.3081}}

// MNIST serves standardized MNIST digits from the IDX files under a data
// directory.
type MNIST struct {
	set   *GoMNIST.Set
	stats Stats
	rows  int
	cols  int
}

// LoadMNIST reads both splits from dir and wraps them as datasets.
func LoadMNIST(dir string) (train, test *MNIST, err error) {
	trainSet, testSet, err := GoMNIST.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load mnist from %q: %v", dir, err)
	}
	return newMNIST(trainSet), newMNIST(testSet), nil
}

func newMNIST(set *GoMNIST.Set) *MNIST {
	return &MNIST{
		set:   set,
		stats: MNISTStats,
		rows:  int(set.NRow),
		cols:  int(set.NCol),
	}
}

func (m *MNIST) Len() int {
	return len(m.set.Images)
}

func (m *MNIST) SampleShape() []int {
	return []int{1, m.rows, m.cols}
}

// Get returns the standardized pixels and label of one digit.
func (m *MNIST) Get(index int) ([]float32, int32, error) {
	if index < 0 || index >= len(m.set.Images) {
		return nil, 0, fmt.Errorf("index %d out of range for %d samples", index, len(m.set.Images))
	}
	raw := m.set.Images[index]
	features := make([]float32, len(raw))
	for i, p := range raw {
		features[i] = float32(m.stats.Normalize(float64(p)/255, 0))
	}
	return features, int32(m.set.Labels[index]), nil
}

// InputRange reports the standardized pixel interval width.
func (m *MNIST) InputRange() float64 {
	return m.stats.InputRange()
}
