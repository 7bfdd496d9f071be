package training

import (
	"fmt"
	"time"

	"github.com/ModarTensai/ptb/tensor"
)

// batchState guards per-batch bookkeeping against optimizers that invoke
// their closure more than once. Only the first invocation of a step may
// touch the epoch meters.
type batchState struct {
	counted bool
}

// RunEpoch drives the model through one full pass of the loader. With an
// optimizer the model trains; with a nil optimizer the pass validates
// with gradient tracking disabled. Every batch contributes to each meter
// exactly once regardless of how many times the optimizer re-evaluates
// its closure.
func RunEpoch(loader *DataLoader, model Module, criterion *RobustLoss, opt Optimizer) (MeterSet, error) {
	meters := NewEpochMeters()
	training := opt != nil

	if training {
		model.Train()
	} else {
		model.Eval()
		prev := tensor.SetGradEnabled(false)
		defer tensor.SetGradEnabled(prev)
	}

	loader.Reset()
	for loader.HasNext() {
		batchStart := time.Now()
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("batch load failed: %v", err)
		}
		meters["Time/BatchData"].Update(time.Since(batchStart).Seconds(), batch.Size)

		record := func(loss float64, logits *tensor.Tensor) error {
			accs, err := Accuracy(logits, batch.Targets, []int{1, 5})
			if err != nil {
				return err
			}
			meters["Loss"].Update(loss, batch.Size)
			meters["Acc@1"].Update(accs[0], batch.Size)
			meters["Acc@5"].Update(accs[1], batch.Size)
			return nil
		}

		if training {
			state := &batchState{}
			closure := func() (float64, error) {
				opt.ZeroGrad()
				logits, err := model.Forward(batch.Inputs)
				if err != nil {
					return 0, err
				}
				terms, err := criterion.Compute(model, batch.Inputs, batch.Targets, logits)
				if err != nil {
					return 0, err
				}
				lossVal, err := terms.Total.Item()
				if err != nil {
					return 0, err
				}
				if !state.counted {
					state.counted = true
					if err := record(float64(lossVal), logits); err != nil {
						return 0, err
					}
				}
				if err := tensor.Backward(terms.Total); err != nil {
					return 0, err
				}
				return float64(lossVal), nil
			}
			if _, err := opt.Step(closure); err != nil {
				return nil, fmt.Errorf("optimizer step failed: %v", err)
			}
		} else {
			logits, err := model.Forward(batch.Inputs)
			if err != nil {
				return nil, err
			}
			terms, err := criterion.Compute(model, batch.Inputs, batch.Targets, logits)
			if err != nil {
				return nil, err
			}
			lossVal, err := terms.Total.Item()
			if err != nil {
				return nil, err
			}
			if err := record(float64(lossVal), logits); err != nil {
				return nil, err
			}
		}

		meters["Time/BatchTotal"].Update(time.Since(batchStart).Seconds(), batch.Size)
	}
	return meters, nil
}
