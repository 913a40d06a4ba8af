// Package config loads sweep definitions from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/instrument"
	"github.com/hb9tf/spinecho/scheduler"
	"github.com/hb9tf/spinecho/session"
	"github.com/hb9tf/spinecho/stats"
)

// Sampling frequencies of the board's ADCs in Hz.
const (
	RawSamplingFrequency       = 4423.68e6
	DecimatedSamplingFrequency = 552.96e6
)

// Capture describes how to reach the relay on the acquisition board.
type Capture struct {
	Server string `yaml:"server"`
	// TokenFile holds the auth token sent with every request.
	TokenFile string        `yaml:"token_file"`
	Mode      capture.Mode  `yaml:"mode"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LO selects and configures the local oscillator.
type LO struct {
	// Device is one of: sc5511a, bnc855b.
	Device string `yaml:"device"`
	// Address is the SCPI endpoint (host:port) of a bnc855b.
	Address string `yaml:"address"`
	// Serial selects a sc5511a on the USB bus.
	Serial  string `yaml:"serial"`
	Channel int    `yaml:"channel"`

	Frequency float64       `yaml:"frequency"` // Hz
	Power     float64       `yaml:"power"`     // dBm
	Settle    time.Duration `yaml:"settle"`

	// ThermalThreshold in degrees Celsius.
	ThermalThreshold float64       `yaml:"thermal_threshold"`
	ThermalPoll      time.Duration `yaml:"thermal_poll"`
}

// Magnet configures the current source driving the magnet.
type Magnet struct {
	// Address is the SCPI endpoint (host:port) of the Kepco supply.
	Address string        `yaml:"address"`
	Current float64       `yaml:"current"` // A
	Settle  time.Duration `yaml:"settle"`
}

// Sweep is one complete measurement definition.
type Sweep struct {
	Sample string `yaml:"sample"`
	Note   string `yaml:"note"`

	Capture Capture `yaml:"capture"`
	LO      LO      `yaml:"lo"`
	Magnet  Magnet  `yaml:"magnet"`

	Pulse       capture.PulseParams `yaml:"pulse"`
	Experiments int                 `yaml:"experiments"`
	BatchSize   int                 `yaml:"batch_size"`
	// MaxAttempts bounds setpoint confirmation retries.
	MaxAttempts int `yaml:"max_attempts"`

	// SamplingFrequency in Hz; zero selects the rate of the capture mode.
	SamplingFrequency float64      `yaml:"sampling_frequency"`
	PulseRegion       stats.Region `yaml:"pulse_region"`
	NoiseRegion       stats.Region `yaml:"noise_region"`

	Cooldown        time.Duration `yaml:"cooldown"`
	Stabilization   time.Duration `yaml:"stabilization"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the bench defaults.
func Default() Sweep {
	opts := instrument.DefaultOptions()
	return Sweep{
		Capture: Capture{
			Mode:    capture.Raw,
			Timeout: capture.DefaultTimeout,
		},
		LO: LO{
			Device:           "sc5511a",
			Channel:          1,
			Frequency:        5.263e9,
			Settle:           opts.OscillatorSettle,
			ThermalThreshold: opts.ThermalThreshold,
			ThermalPoll:      opts.ThermalPoll,
		},
		Magnet: Magnet{
			Settle: opts.MagnetSettle,
		},
		Pulse: capture.PulseParams{
			Type:         capture.Gaussian,
			Frequency:    120,
			Width:        15,
			Count:        1,
			TriggerDelay: 0.2,
		},
		Experiments:     1000,
		BatchSize:       capture.MaxBatchSize,
		MaxAttempts:     opts.MaxAttempts,
		PulseRegion:     stats.Region{Start: 120, End: 160},
		NoiseRegion:     stats.Region{Start: 250},
		Cooldown:        scheduler.DefaultCooldown,
		Stabilization:   session.DefaultStabilization,
		ShutdownTimeout: session.DefaultShutdownTimeout,
	}
}

// Load reads a sweep file on top of the defaults. Unknown keys are an error.
func Load(path string) (Sweep, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sweep{}, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return Sweep{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode reads a sweep from r on top of the defaults.
func Decode(r io.Reader) (Sweep, error) {
	s := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Sweep{}, err
	}
	return s, nil
}

// Marshal renders the sweep as YAML, e.g. to store it next to the results.
func (s Sweep) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fs returns the sampling frequency of the conditioned waveforms.
func (s Sweep) Fs() float64 {
	if s.SamplingFrequency != 0 {
		return s.SamplingFrequency
	}
	if s.Capture.Mode == capture.Decimated {
		return DecimatedSamplingFrequency
	}
	return RawSamplingFrequency
}

// Session returns the session configuration of the sweep.
func (s Sweep) Session() session.Config {
	return session.Config{
		Sample:            s.Sample,
		Note:              s.Note,
		Current:           s.Magnet.Current,
		LOFrequency:       s.LO.Frequency,
		LOPower:           s.LO.Power,
		Pulse:             s.Pulse,
		Experiments:       s.Experiments,
		BatchSize:         s.BatchSize,
		SamplingFrequency: s.Fs(),
		PulseRegion:       s.PulseRegion,
		NoiseRegion:       s.NoiseRegion,
		Cooldown:          s.Cooldown,
		Stabilization:     s.Stabilization,
		ShutdownTimeout:   s.ShutdownTimeout,
	}
}

// Coordinator returns the instrument options of the sweep.
func (s Sweep) Coordinator() instrument.Options {
	opts := instrument.DefaultOptions()
	opts.MaxAttempts = s.MaxAttempts
	opts.MagnetSettle = s.Magnet.Settle
	opts.OscillatorSettle = s.LO.Settle
	opts.ThermalThreshold = s.LO.ThermalThreshold
	opts.ThermalPoll = s.LO.ThermalPoll
	return opts
}

// ReadSecret returns the trimmed content of a secret file. An empty path
// yields an empty secret.
func ReadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read secret file %q: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}
