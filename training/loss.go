package training

import (
	"fmt"

	"github.com/ModarTensai/ptb/tensor"
)

// Loss computes a scalar training objective from predictions and targets.
type Loss interface {
	Forward(predictions, targets *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// CrossEntropyLoss is softmax cross-entropy over class logits.
type CrossEntropyLoss struct{}

func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

func (c *CrossEntropyLoss) Name() string { return "cross_entropy" }

func (c *CrossEntropyLoss) Forward(predictions, targets *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.CrossEntropy(predictions, targets)
	if err != nil {
		return nil, fmt.Errorf("cross-entropy failed: %v", err)
	}
	return loss, nil
}
