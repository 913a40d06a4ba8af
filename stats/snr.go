package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hb9tf/spinecho/waveform"
)

var (
	ErrDegenerateNoiseRegion = errors.New("noise region has zero standard deviation")
	ErrRegionOutOfBounds     = errors.New("region outside waveform")
)

// Region selects samples [Start, End). End == 0 extends the region to the
// last sample of the waveform.
type Region struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

func (r Region) String() string {
	if r.End == 0 {
		return fmt.Sprintf("[%d:]", r.Start)
	}
	return fmt.Sprintf("[%d:%d]", r.Start, r.End)
}

// Spec renders the region as start:end, the form accepted on the command line.
func (r Region) Spec() string {
	if r.End == 0 {
		return fmt.Sprintf("%d:", r.Start)
	}
	return fmt.Sprintf("%d:%d", r.Start, r.End)
}

// Validate checks the region on its own, before any waveform length is known.
func (r Region) Validate() error {
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("region %s: negative index", r)
	}
	if r.End != 0 && r.End <= r.Start {
		return fmt.Errorf("region %s: end must be after start", r)
	}
	return nil
}

func (r Region) slice(w waveform.Waveform) ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	end := r.End
	if end == 0 {
		end = len(w)
	}
	if r.Start >= len(w) || end > len(w) || end <= r.Start {
		return nil, fmt.Errorf("%w: %s of %d samples", ErrRegionOutOfBounds, r, len(w))
	}
	return w[r.Start:end], nil
}

// SNR estimates the signal-to-noise ratio of w: the peak-to-peak amplitude in
// the pulse region over the population standard deviation in the noise region.
func SNR(w waveform.Waveform, pulse, noise Region) (waveform.SNR, error) {
	p, err := pulse.slice(w)
	if err != nil {
		return waveform.SNR{}, fmt.Errorf("pulse region: %w", err)
	}
	n, err := noise.slice(w)
	if err != nil {
		return waveform.SNR{}, fmt.Errorf("noise region: %w", err)
	}

	signal := floats.Max(p) - floats.Min(p)
	sd := stat.PopStdDev(n, nil)
	scale := math.Max(math.Abs(floats.Max(n)), math.Abs(floats.Min(n)))
	if !(sd > 1e-12*scale) {
		return waveform.SNR{}, fmt.Errorf("%w: %s", ErrDegenerateNoiseRegion, noise)
	}

	linear := signal / sd
	return waveform.SNR{
		Linear: linear,
		DB:     20 * math.Log10(linear),
	}, nil
}
