package training

import (
	"fmt"
	"sync"

	"github.com/ModarTensai/ptb/bounds"
	"github.com/ModarTensai/ptb/tensor"
)

// ParallelPolicy is implemented by modules that declare whether their
// forward pass may be evaluated independently on input shards.
type ParallelPolicy interface {
	SupportsSubmoduleParallel() bool
}

// DataParallel fans an inference batch out over worker goroutines. The
// wrapped module declares eligibility through ParallelPolicy; gradient
// tracking and training mode force a sequential pass because shards do
// not stitch their graphs back together.
type DataParallel struct {
	module Module
	shards int
}

// NewDataParallel wraps a module for sharded evaluation. Modules that do
// not opt in via ParallelPolicy run sequentially regardless of the shard
// count.
func NewDataParallel(module Module, shards int) (*DataParallel, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shards)
	}
	if policy, ok := module.(ParallelPolicy); !ok || !policy.SupportsSubmoduleParallel() {
		shards = 1
	}
	return &DataParallel{module: module, shards: shards}, nil
}

func (dp *DataParallel) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch := input.Shape[0]
	if dp.shards <= 1 || dp.module.IsTraining() || tensor.GradEnabled() || batch < dp.shards {
		return dp.module.Forward(input)
	}

	shardSize := (batch + dp.shards - 1) / dp.shards
	type shard struct {
		out *tensor.Tensor
		err error
	}
	var results []shard
	var ranges [][2]int
	for start := 0; start < batch; start += shardSize {
		end := start + shardSize
		if end > batch {
			end = batch
		}
		ranges = append(ranges, [2]int{start, end})
		results = append(results, shard{})
	}

	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func(i, start, end int) {
			defer wg.Done()
			part, err := tensor.SliceRows(input, start, end)
			if err != nil {
				results[i].err = err
				return
			}
			out, err := dp.module.Forward(part)
			if err != nil {
				results[i].err = err
				return
			}
			results[i].out = out
		}(i, r[0], r[1])
	}
	wg.Wait()

	outs := make([]*tensor.Tensor, len(results))
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("shard %d failed: %v", i, r.err)
		}
		outs[i] = r.out
	}
	return tensor.Concat(outs)
}

func (dp *DataParallel) Parameters() []*tensor.Tensor      { return dp.module.Parameters() }
func (dp *DataParallel) NamedParameters() []NamedParameter { return dp.module.NamedParameters() }
func (dp *DataParallel) Train()                            { dp.module.Train() }
func (dp *DataParallel) Eval()                             { dp.module.Eval() }
func (dp *DataParallel) IsTraining() bool                  { return dp.module.IsTraining() }

// PropagateBounds delegates to the wrapped module so the robust loss sees
// through the wrapper.
func (dp *DataParallel) PropagateBounds(in bounds.Interval) (bounds.Interval, error) {
	prop, ok := dp.module.(bounds.Propagator)
	if !ok {
		return bounds.Interval{}, fmt.Errorf("wrapped module %T cannot propagate bounds", dp.module)
	}
	return prop.PropagateBounds(in)
}
