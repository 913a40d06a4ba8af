// Package capture requests batches of waveform captures from the remote
// acquisition board.
package capture

import (
	"context"
	"fmt"
)

// PulseType is the envelope of the generated pulse.
type PulseType string

const (
	Gaussian PulseType = "gaussian"
	FlatTop  PulseType = "flat_top"
	Const    PulseType = "const"
)

// Mode selects the capture script on the board.
type Mode string

const (
	Raw       Mode = "raw"
	Decimated Mode = "decimated"
)

const (
	// MaxBatchSize is the largest number of experiments the board runs per request.
	MaxBatchSize = 1000
	// MaxAmplitude is the full scale of the pulse DAC.
	MaxAmplitude = 32767
)

// PulseParams describe the pulse sequence of every experiment in a batch.
type PulseParams struct {
	Type PulseType `json:"type" yaml:"type"`
	// Frequency of the pulse carrier in MHz.
	Frequency float64 `json:"freq" yaml:"freq"`
	// Width in generator units (roughly 4 ns each).
	Width float64 `json:"width" yaml:"width"`
	// Amplitude in DAC units; zero leaves the board default.
	Amplitude int `json:"amplitude,omitempty" yaml:"amplitude"`
	// Count is the number of pulses per experiment.
	Count int `json:"pulse_count" yaml:"pulse_count"`
	// TriggerDelay is the ADC trigger offset in us.
	TriggerDelay float64 `json:"trigger_delay" yaml:"trigger_delay"`
	// ReadFrequency is the down-conversion frequency in MHz.
	ReadFrequency float64 `json:"read_freq" yaml:"read_freq"`
}

// Validate checks the parameters before anything is sent to the board.
func (p PulseParams) Validate() error {
	switch p.Type {
	case Gaussian, FlatTop, Const:
	default:
		return fmt.Errorf("pulse type %q is not supported, pick one of: %s, %s, %s", p.Type, Gaussian, FlatTop, Const)
	}
	if !(p.Frequency > 0) {
		return fmt.Errorf("pulse frequency must be positive, got %g MHz", p.Frequency)
	}
	if !(p.Width > 0) {
		return fmt.Errorf("pulse width must be positive, got %g", p.Width)
	}
	if p.Amplitude < 0 || p.Amplitude > MaxAmplitude {
		return fmt.Errorf("pulse amplitude must be within 0..%d, got %d", MaxAmplitude, p.Amplitude)
	}
	if p.Count < 1 {
		return fmt.Errorf("pulse count must be at least 1, got %d", p.Count)
	}
	if p.TriggerDelay < 0 {
		return fmt.Errorf("trigger delay must not be negative, got %g us", p.TriggerDelay)
	}
	if p.ReadFrequency < 0 {
		return fmt.Errorf("read frequency must not be negative, got %g MHz", p.ReadFrequency)
	}
	return nil
}

// Request is the body sent to the board for one batch.
type Request struct {
	Mode Mode `json:"mode"`
	PulseParams
	Experiments int `json:"number_of_expt"`
}

// Block is one decoded acquisition: one row per experiment and the shared
// time axis in nanoseconds.
type Block struct {
	Rows [][]float64
	Time []float64
}

// Client performs one remote acquisition of batchSize experiments.
// Implementations apply their own fixed timeout and never retry.
type Client interface {
	Post(ctx context.Context, batchSize int, pulse PulseParams) (*Block, error)
}

// AcquisitionFailed is returned for any failed remote acquisition: transport
// errors, timeouts, non-2xx responses and malformed bodies.
type AcquisitionFailed struct {
	StatusCode int
	Message    string
	Detail     string
	Err        error
}

func (e *AcquisitionFailed) Error() string {
	msg := "acquisition failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *AcquisitionFailed) Unwrap() error {
	return e.Err
}
