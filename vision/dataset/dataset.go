// Package dataset provides image classification datasets in the form the
// training loop consumes: flattened float32 samples with integer labels,
// standardized by per-channel statistics.
package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Stats holds per-channel normalization statistics.
type Stats struct {
	Mean []float64
	Std  []float64
}

// Validate rejects degenerate statistics.
func (s Stats) Validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return fmt.Errorf("stats need matching mean/std channels, got %d/%d", len(s.Mean), len(s.Std))
	}
	for i, sd := range s.Std {
		if sd <= 0 {
			return fmt.Errorf("channel %d has non-positive std %v", i, sd)
		}
	}
	return nil
}

// InputRange is the width of the valid pixel interval after
// standardization, averaged over channels. Raw pixels live in [0, 1], so
// channel c spans (1-mean)/std - (0-mean)/std = 1/std normalized units.
func (s Stats) InputRange() float64 {
	total := 0.0
	for c := range s.Std {
		upper := (1 - s.Mean[c]) / s.Std[c]
		lower := (0 - s.Mean[c]) / s.Std[c]
		total += upper - lower
	}
	return total / float64(len(s.Std))
}

// Normalize standardizes one pixel value from [0, 1] for channel c.
func (s Stats) Normalize(value float64, c int) float64 {
	return (value - s.Mean[c]) / s.Std[c]
}

// EstimateStats computes single-channel statistics from a sample of
// pixel values.
func EstimateStats(pixels []float64) Stats {
	mean, std := stat.MeanStdDev(pixels, nil)
	return Stats{Mean: []float64{mean}, Std: []float64{std}}
}

// ImageShape describes the sample tensor layout of a named dataset.
type ImageShape struct {
	Channels int
	Height   int
	Width    int
	Classes  int
}

// Elements is the flattened feature count of one sample.
func (is ImageShape) Elements() int {
	return is.Channels * is.Height * is.Width
}

var imageShapes = map[string]ImageShape{
	"mnist":   {Channels: 1, Height: 28, Width: 28, Classes: 10},
	"cifar10": {Channels: 3, Height: 32, Width: 32, Classes: 10},
}

// ShapeFor looks up the layout of a named dataset.
func ShapeFor(name string) (ImageShape, error) {
	shape, ok := imageShapes[name]
	if !ok {
		return ImageShape{}, fmt.Errorf("unknown dataset %q", name)
	}
	return shape, nil
}
