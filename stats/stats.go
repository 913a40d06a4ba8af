// Package stats folds batches of waveforms into running averages and derives
// figures of merit from the averaged waveform.
package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/spinecho/waveform"
)

var (
	ErrEmptyAccumulator = errors.New("no batch folded yet")
	ErrEmptyBatch       = errors.New("batch has no experiments")
	ErrShapeMismatch    = errors.New("waveform length mismatch")
)

// Accumulator keeps one mean per folded batch and the grand mean over them.
// Raw rows are never retained, so memory grows with batches times L only.
type Accumulator struct {
	width       int
	experiments int
	means       []waveform.BatchMean
	grand       waveform.Waveform
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Fold adds the column-wise mean of b and recomputes the grand mean.
func (a *Accumulator) Fold(b waveform.Batch) error {
	if b.Len() == 0 {
		return fmt.Errorf("batch %d: %w", b.Index, ErrEmptyBatch)
	}
	width, err := b.Width()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrShapeMismatch, err)
	}
	if len(a.means) > 0 && width != a.width {
		return fmt.Errorf("%w: batch %d has %d samples per row, accumulator holds %d", ErrShapeMismatch, b.Index, width, a.width)
	}

	mean := make(waveform.Waveform, width)
	for _, row := range b.Rows {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(b.Len()), mean)

	a.width = width
	a.experiments += b.Len()
	a.means = append(a.means, waveform.BatchMean{
		Index: b.Index,
		Size:  b.Len(),
		Mean:  mean,
	})
	a.recompute()
	return nil
}

// recompute sets the grand mean to the unweighted mean of the batch means.
func (a *Accumulator) recompute() {
	grand := make(waveform.Waveform, a.width)
	for _, m := range a.means {
		floats.Add(grand, m.Mean)
	}
	floats.Scale(1/float64(len(a.means)), grand)
	a.grand = grand
}

// GrandAverage returns a copy of the current grand mean.
func (a *Accumulator) GrandAverage() (waveform.Waveform, error) {
	if len(a.means) == 0 {
		return nil, ErrEmptyAccumulator
	}
	out := make(waveform.Waveform, len(a.grand))
	copy(out, a.grand)
	return out, nil
}

// BatchMeans returns the stored means in fold order.
func (a *Accumulator) BatchMeans() []waveform.BatchMean {
	out := make([]waveform.BatchMean, len(a.means))
	copy(out, a.means)
	return out
}

// Len is the number of folded batches.
func (a *Accumulator) Len() int {
	return len(a.means)
}

// Experiments is the number of rows folded across all batches.
func (a *Accumulator) Experiments() int {
	return a.experiments
}
