package waveform

import (
	"fmt"
	"time"
)

// Waveform is a sequence of samples of fixed length L.
type Waveform []float64

// TimeAxis holds the sample times of a Waveform in nanoseconds.
type TimeAxis []float64

// Batch is one remote acquisition: N experiment rows of equal length
// and the time axis they share.
type Batch struct {
	Index int
	Rows  [][]float64
	Time  TimeAxis
}

// Len returns the number of experiments in the batch.
func (b Batch) Len() int {
	return len(b.Rows)
}

// Width returns the common row length or an error if the rows differ.
func (b Batch) Width() (int, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	width := len(b.Rows[0])
	for i, row := range b.Rows {
		if len(row) != width {
			return 0, fmt.Errorf("batch %d: row %d has %d samples, want %d", b.Index, i, len(row), width)
		}
	}
	return width, nil
}

// SNR is the signal-to-noise estimate of an averaged waveform.
type SNR struct {
	Linear float64
	DB     float64
}

// BatchMean is the column-wise mean of one batch.
type BatchMean struct {
	Index int
	Size  int
	Mean  Waveform
}

// OscillatorState is the verified local oscillator state at the end of a session.
type OscillatorState struct {
	Device        string
	Frequency     float64 // Hz
	Power         float64 // dBm
	OutputEnabled bool
}

// Result is what a completed session hands back to its caller.
type Result struct {
	// Metadata
	ID       string
	Sample   string
	Note     string
	Started  time.Time
	Finished time.Time

	// Setpoints
	Current    float64 // A
	Oscillator OscillatorState
	PulseType  string
	PulseFreq  float64 // MHz
	PulseWidth float64 // generator units
	ReadFreq   float64 // MHz

	// SamplingFrequency of the conditioned waveforms in Hz and the notch
	// frequencies that were removed.
	SamplingFrequency float64
	Notches           []float64

	// Data
	Experiments  int
	BatchSize    int
	Time         TimeAxis
	BatchMeans   []BatchMean
	GrandAverage Waveform

	// SNR is nil when the estimate could not be computed; SNRError says why.
	SNR      *SNR
	SNRError string
}
