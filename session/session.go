// Package session runs one complete sweep: instrument setup, batched
// acquisition, averaging, SNR estimation and instrument shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/filter"
	"github.com/hb9tf/spinecho/instrument"
	"github.com/hb9tf/spinecho/metrics"
	"github.com/hb9tf/spinecho/scheduler"
	"github.com/hb9tf/spinecho/stats"
	"github.com/hb9tf/spinecho/waveform"
)

const (
	DefaultStabilization   = time.Second
	DefaultShutdownTimeout = 2 * time.Minute
)

// Config enumerates everything a sweep needs.
type Config struct {
	// Sample and Note label the result.
	Sample string
	Note   string

	// Current is the magnet current setpoint in A.
	Current float64
	// LOFrequency (Hz) and LOPower (dBm) of the local oscillator.
	LOFrequency float64
	LOPower     float64

	Pulse       capture.PulseParams
	Experiments int
	BatchSize   int

	// SamplingFrequency of the returned waveforms in Hz.
	SamplingFrequency float64
	PulseRegion       stats.Region
	NoiseRegion       stats.Region

	Cooldown        time.Duration
	Stabilization   time.Duration
	ShutdownTimeout time.Duration
}

// ValidationError reports a configuration problem found before any
// instrument or network action.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}

// Validate checks the configuration without touching any hardware.
func (c Config) Validate() error {
	if err := c.Pulse.Validate(); err != nil {
		return invalid("pulse", err)
	}
	if _, err := scheduler.Plan(c.Experiments, c.BatchSize); err != nil {
		return invalid("batch plan", err)
	}
	if math.IsNaN(c.Current) || math.IsInf(c.Current, 0) {
		return &ValidationError{Field: "current", Reason: fmt.Sprintf("%g is not a finite value", c.Current)}
	}
	if !(c.LOFrequency > 0) || math.IsInf(c.LOFrequency, 0) {
		return &ValidationError{Field: "lo frequency", Reason: fmt.Sprintf("must be positive, got %g Hz", c.LOFrequency)}
	}
	if math.IsNaN(c.LOPower) || math.IsInf(c.LOPower, 0) {
		return &ValidationError{Field: "lo power", Reason: fmt.Sprintf("%g is not a finite value", c.LOPower)}
	}
	if err := c.PulseRegion.Validate(); err != nil {
		return invalid("pulse region", err)
	}
	if err := c.NoiseRegion.Validate(); err != nil {
		return invalid("noise region", err)
	}
	for name, d := range map[string]time.Duration{
		"cooldown":         c.Cooldown,
		"stabilization":    c.Stabilization,
		"shutdown timeout": c.ShutdownTimeout,
	} {
		if d < 0 {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("must not be negative, got %s", d)}
		}
	}
	return nil
}

// Instruments is the part of the instrument coordinator a session drives.
type Instruments interface {
	Claim() (func(), error)
	SetCurrent(ctx context.Context, target float64) (float64, error)
	SetOscillator(ctx context.Context, frequency, power float64) error
	Verify(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Confirmed() (float64, instrument.Status)
	OscillatorName() string
}

// Deps are the collaborators of a session. Metrics is optional.
type Deps struct {
	Instruments Instruments
	Client      capture.Client
	Metrics     *metrics.Metrics
}

// Run executes one sweep. Instruments are shut down on every path once they
// have been claimed, including cancellation of ctx. The first fatal error is
// returned with any shutdown error joined behind it. If only the shutdown
// fails, the result is returned together with that error.
func Run(ctx context.Context, cfg Config, deps Deps) (res *waveform.Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Instruments == nil {
		return nil, &ValidationError{Field: "instruments", Reason: "no instrument coordinator"}
	}
	if deps.Client == nil {
		return nil, &ValidationError{Field: "client", Reason: "no acquisition client"}
	}
	spec, err := filter.Build(cfg.SamplingFrequency)
	if err != nil {
		return nil, invalid("sampling frequency", err)
	}

	release, err := deps.Instruments.Claim()
	if err != nil {
		return nil, err
	}
	defer release()

	result := &waveform.Result{
		ID:                uuid.NewString(),
		Sample:            cfg.Sample,
		Note:              cfg.Note,
		BatchSize:         cfg.BatchSize,
		Started:           time.Now(),
		PulseType:         string(cfg.Pulse.Type),
		PulseFreq:         cfg.Pulse.Frequency,
		PulseWidth:        cfg.Pulse.Width,
		ReadFreq:          cfg.Pulse.ReadFrequency,
		SamplingFrequency: spec.SamplingFrequency,
		Notches:           spec.Frequencies(),
	}
	glog.Infof("session %s: %d experiments at %.3f A, LO %s %.2f dBm\n", result.ID, cfg.Experiments, cfg.Current, waveform.ReadableFreq(cfg.LOFrequency), cfg.LOPower)

	defer func() {
		timeout := cfg.ShutdownTimeout
		if timeout == 0 {
			timeout = DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		serr := deps.Instruments.Shutdown(sctx)
		if serr == nil {
			return
		}
		glog.Errorf("session %s: shutdown failed: %s\n", result.ID, serr)
		deps.Metrics.RecordError("session", "shutdown")
		serr = fmt.Errorf("shutdown: %w", serr)
		if err != nil {
			err = errors.Join(err, serr)
			return
		}
		err = serr
	}()

	if err := run(ctx, cfg, deps, spec, result); err != nil {
		deps.Metrics.RecordError("session", "run")
		glog.Errorf("session %s: %s\n", result.ID, err)
		return nil, err
	}
	return result, nil
}

func run(ctx context.Context, cfg Config, deps Deps, spec *filter.Spec, result *waveform.Result) error {
	if _, err := deps.Instruments.SetCurrent(ctx, cfg.Current); err != nil {
		return err
	}
	if err := deps.Instruments.SetOscillator(ctx, cfg.LOFrequency, cfg.LOPower); err != nil {
		return err
	}
	if err := sleep(ctx, cfg.Stabilization); err != nil {
		return err
	}

	acc := stats.NewAccumulator()
	var timeAxis waveform.TimeAxis
	s := &scheduler.Scheduler{
		Client:   deps.Client,
		Pulse:    cfg.Pulse,
		Verifier: deps.Instruments,
		Filter:   spec,
		Cooldown: cfg.Cooldown,
		Metrics:  deps.Metrics,
	}
	err := s.Run(ctx, cfg.Experiments, cfg.BatchSize, func(ctx context.Context, b waveform.Batch) error {
		timeAxis = b.Time
		return acc.Fold(b)
	})
	if err != nil {
		return err
	}

	avg, err := acc.GrandAverage()
	if err != nil {
		return err
	}
	current, status := deps.Instruments.Confirmed()
	result.Finished = time.Now()
	result.Current = current
	result.Oscillator = waveform.OscillatorState{
		Device:        deps.Instruments.OscillatorName(),
		Frequency:     status.Frequency,
		Power:         status.Power,
		OutputEnabled: status.OutputEnabled,
	}
	result.Experiments = acc.Experiments()
	result.Time = timeAxis
	result.BatchMeans = acc.BatchMeans()
	result.GrandAverage = avg

	snr, err := stats.SNR(avg, cfg.PulseRegion, cfg.NoiseRegion)
	if err != nil {
		glog.Warningf("session %s: SNR undefined: %s\n", result.ID, err)
		result.SNRError = err.Error()
		return nil
	}
	result.SNR = &snr
	deps.Metrics.SetSNR(snr.DB)
	glog.Infof("session %s: %d experiments, SNR %.2f (%.2f dB)\n", result.ID, result.Experiments, snr.Linear, snr.DB)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
