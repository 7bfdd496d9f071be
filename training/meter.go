package training

import (
	"fmt"
	"sort"

	"github.com/ModarTensai/ptb/tensor"
)

// AverageMeter tracks a running statistic over an epoch: the most recent
// value and the weighted average of everything seen since the last reset.
type AverageMeter struct {
	Name   string
	format string

	val   float64
	sum   float64
	count int
}

// NewAverageMeter creates a meter. format is a Printf verb for one value,
// for example "%6.3f" or "%.4e".
func NewAverageMeter(name, format string) *AverageMeter {
	if format == "" {
		format = "%f"
	}
	return &AverageMeter{Name: name, format: format}
}

// Reset clears all accumulated state.
func (m *AverageMeter) Reset() {
	m.val = 0
	m.sum = 0
	m.count = 0
}

// Update records a value weighted by n observations.
func (m *AverageMeter) Update(val float64, n int) {
	m.val = val
	m.sum += val * float64(n)
	m.count += n
}

// Val returns the most recently recorded value.
func (m *AverageMeter) Val() float64 {
	return m.val
}

// Average returns the weighted mean of all recorded values, or zero when
// nothing has been recorded.
func (m *AverageMeter) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns the total observation weight.
func (m *AverageMeter) Count() int {
	return m.count
}

// String renders "Name val (avg)" using the meter's format.
func (m *AverageMeter) String() string {
	return fmt.Sprintf("%s "+m.format+" ("+m.format+")", m.Name, m.val, m.Average())
}

// MeterSet groups the meters of one epoch keyed by name.
type MeterSet map[string]*AverageMeter

// NewEpochMeters builds the standard meter set for one training or
// validation epoch.
func NewEpochMeters() MeterSet {
	meters := []*AverageMeter{
		NewAverageMeter("Time/BatchTotal", "%6.3f"),
		NewAverageMeter("Time/BatchData", "%6.3f"),
		NewAverageMeter("Loss", "%.4e"),
		NewAverageMeter("Acc@1", "%6.2f"),
		NewAverageMeter("Acc@5", "%6.2f"),
	}
	set := make(MeterSet, len(meters))
	for _, m := range meters {
		set[m.Name] = m
	}
	return set
}

// Names returns the meter names in sorted order for stable reporting.
func (s MeterSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Accuracy computes top-k accuracy percentages over a batch of logits for
// each requested k. A k larger than the class count is clamped so small
// classification heads still report every meter.
func Accuracy(output, target *tensor.Tensor, topk []int) ([]float64, error) {
	if len(output.Shape) != 2 {
		return nil, fmt.Errorf("accuracy requires 2D logits, got shape %v", output.Shape)
	}
	batch, classes := output.Shape[0], output.Shape[1]
	logits, err := output.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	targets, err := target.GetInt32Data()
	if err != nil {
		return nil, err
	}
	if len(targets) != batch {
		return nil, fmt.Errorf("targets length %d does not match batch size %d", len(targets), batch)
	}

	maxK := 0
	for _, k := range topk {
		if k <= 0 {
			return nil, fmt.Errorf("invalid k = %d", k)
		}
		if k > classes {
			k = classes
		}
		if k > maxK {
			maxK = k
		}
	}

	// rank[b] holds the position of the true class in the sorted logits.
	ranks := make([]int, batch)
	indices := make([]int, classes)
	for b := 0; b < batch; b++ {
		row := logits[b*classes : (b+1)*classes]
		for i := range indices {
			indices[i] = i
		}
		sort.SliceStable(indices, func(i, j int) bool {
			return row[indices[i]] > row[indices[j]]
		})
		ranks[b] = classes
		for pos := 0; pos < maxK; pos++ {
			if int32(indices[pos]) == targets[b] {
				ranks[b] = pos
				break
			}
		}
	}

	results := make([]float64, len(topk))
	for i, k := range topk {
		if k > classes {
			k = classes
		}
		correct := 0
		for _, r := range ranks {
			if r < k {
				correct++
			}
		}
		results[i] = 100 * float64(correct) / float64(batch)
	}
	return results, nil
}
