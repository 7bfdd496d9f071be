package training

import (
	"fmt"
	"math/rand"

	"github.com/ModarTensai/ptb/tensor"
)

// Dataset supplies indexed samples. Get returns the flattened sample
// features and its class label; SampleShape describes one sample without
// the batch dimension.
type Dataset interface {
	Len() int
	SampleShape() []int
	Get(index int) ([]float32, int32, error)
}

// Batch is one collated mini-batch.
type Batch struct {
	Inputs  *tensor.Tensor
	Targets *tensor.Tensor
	Size    int
}

type batchResult struct {
	batch *Batch
	err   error
}

// DataLoaderConfig controls batching and prefetching.
type DataLoaderConfig struct {
	BatchSize int
	Shuffle   bool
	// Workers is the number of goroutines collating batches ahead of
	// consumption. Zero or one disables prefetch parallelism.
	Workers int
	Seed    int64
}

// DataLoader iterates a dataset in mini-batches, optionally shuffling
// between epochs and collating batches on worker goroutines.
type DataLoader struct {
	dataset Dataset
	config  DataLoaderConfig
	rng     *rand.Rand

	order   []int
	results []chan batchResult
	current int
}

// NewDataLoader validates the configuration and prepares the first epoch.
func NewDataLoader(dataset Dataset, config DataLoaderConfig) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Workers < 0 {
		return nil, fmt.Errorf("workers must be non-negative, got %d", config.Workers)
	}
	if config.Workers == 0 {
		config.Workers = 1
	}

	dl := &DataLoader{
		dataset: dataset,
		config:  config,
		rng:     rand.New(rand.NewSource(config.Seed)),
		order:   make([]int, dataset.Len()),
	}
	for i := range dl.order {
		dl.order[i] = i
	}
	dl.Reset()
	return dl, nil
}

// NumBatches reports how many batches one epoch yields. A short final
// batch counts.
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Reset reshuffles (when enabled) and restarts prefetching for a new
// epoch.
func (dl *DataLoader) Reset() {
	if dl.config.Shuffle {
		dl.rng.Shuffle(len(dl.order), func(i, j int) {
			dl.order[i], dl.order[j] = dl.order[j], dl.order[i]
		})
	}

	numBatches := dl.NumBatches()
	dl.current = 0
	results := make([]chan batchResult, numBatches)
	for i := range results {
		results[i] = make(chan batchResult, 1)
	}
	dl.results = results

	order := make([]int, len(dl.order))
	copy(order, dl.order)

	jobs := make(chan int, numBatches)
	for i := 0; i < numBatches; i++ {
		jobs <- i
	}
	close(jobs)

	for w := 0; w < dl.config.Workers; w++ {
		go func() {
			for idx := range jobs {
				batch, err := dl.collate(order, idx)
				results[idx] <- batchResult{batch: batch, err: err}
			}
		}()
	}
}

func (dl *DataLoader) collate(order []int, batchIdx int) (*Batch, error) {
	start := batchIdx * dl.config.BatchSize
	end := start + dl.config.BatchSize
	if end > len(order) {
		end = len(order)
	}
	size := end - start

	sampleShape := dl.dataset.SampleShape()
	sampleElems := 1
	for _, d := range sampleShape {
		sampleElems *= d
	}

	inputs := make([]float32, size*sampleElems)
	targets := make([]int32, size)
	for i := 0; i < size; i++ {
		features, label, err := dl.dataset.Get(order[start+i])
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", order[start+i], err)
		}
		if len(features) != sampleElems {
			return nil, fmt.Errorf("sample %d has %d features, want %d", order[start+i], len(features), sampleElems)
		}
		copy(inputs[i*sampleElems:], features)
		targets[i] = label
	}

	inputShape := append([]int{size}, sampleShape...)
	inputTensor, err := tensor.NewTensor(inputShape, tensor.Float32, tensor.CPU, inputs)
	if err != nil {
		return nil, err
	}
	targetTensor, err := tensor.NewTensor([]int{size}, tensor.Int32, tensor.CPU, targets)
	if err != nil {
		return nil, err
	}
	return &Batch{Inputs: inputTensor, Targets: targetTensor, Size: size}, nil
}

// HasNext reports whether the epoch has more batches.
func (dl *DataLoader) HasNext() bool {
	return dl.current < len(dl.results)
}

// Next returns the next batch, blocking until its worker has collated it.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("epoch exhausted, call Reset")
	}
	res := <-dl.results[dl.current]
	dl.current++
	if res.err != nil {
		return nil, res.err
	}
	return res.batch, nil
}
