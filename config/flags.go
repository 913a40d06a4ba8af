package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/stats"
)

// RegisterFlags adds command line overrides for every commonly tuned sweep
// setting to fs. Defaults shown in the usage are those of Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("sample", d.Sample, "Sample name, used to label the results.")
	fs.String("note", d.Note, "Free text note stored with the results.")

	fs.String("server", d.Capture.Server, "URL scheme, address and port of the capture relay on the board.")
	fs.String("tokenFile", d.Capture.TokenFile, "File to read the auth token for the capture relay from.")
	fs.String("mode", string(d.Capture.Mode), "Capture mode (one of: raw, decimated).")
	fs.Duration("captureTimeout", d.Capture.Timeout, "Upper bound for one remote acquisition.")

	fs.String("lo", d.LO.Device, "Local oscillator to use (one of: sc5511a, bnc855b).")
	fs.String("loAddress", d.LO.Address, "SCPI endpoint (host:port) of a bnc855b.")
	fs.String("loSerial", d.LO.Serial, "Serial number of a sc5511a.")
	fs.Int("loChannel", d.LO.Channel, "Output channel of a bnc855b.")
	fs.Float64("loFreq", d.LO.Frequency, "Local oscillator frequency in Hz.")
	fs.Float64("loPower", d.LO.Power, "Local oscillator power in dBm.")

	fs.String("magnetAddress", d.Magnet.Address, "SCPI endpoint (host:port) of the Kepco current source.")
	fs.Float64("current", d.Magnet.Current, "Magnet current in A.")

	fs.String("pulseType", string(d.Pulse.Type), "Pulse envelope (one of: gaussian, flat_top, const).")
	fs.Float64("pulseFreq", d.Pulse.Frequency, "Pulse frequency in MHz.")
	fs.Float64("pulseWidth", d.Pulse.Width, "Pulse width in generator units (about 4 ns each).")
	fs.Int("pulseAmplitude", d.Pulse.Amplitude, "Pulse amplitude in DAC units (0 keeps the board default).")
	fs.Int("pulseCount", d.Pulse.Count, "Number of pulses per experiment.")
	fs.Float64("triggerDelay", d.Pulse.TriggerDelay, "ADC trigger delay in us.")
	fs.Float64("readFreq", d.Pulse.ReadFrequency, "Down-conversion frequency in MHz.")

	fs.Int("experiments", d.Experiments, "Total number of experiments.")
	fs.Int("batchSize", d.BatchSize, "Maximum number of experiments per remote acquisition.")
	fs.Int("maxAttempts", d.MaxAttempts, "Setpoint confirmation attempts before giving up.")
	fs.Float64("fs", d.SamplingFrequency, "Sampling frequency in Hz (0 picks the rate of the capture mode).")
	fs.String("pulseRegion", d.PulseRegion.Spec(), "Sample range holding the pulse, as start:end.")
	fs.String("noiseRegion", d.NoiseRegion.Spec(), "Sample range holding only noise, as start:end (empty end runs to the last sample).")
	fs.Duration("cooldown", d.Cooldown, "Pause between batches.")
}

// ApplyFlags copies every flag that was set on the command line into s.
// Flags that were not set leave the value from the sweep file untouched.
func (s *Sweep) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if e := s.applyFlag(fs, f.Name); e != nil {
			err = fmt.Errorf("--%s: %w", f.Name, e)
		}
	})
	return err
}

func (s *Sweep) applyFlag(fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "sample":
		s.Sample, err = fs.GetString(name)
	case "note":
		s.Note, err = fs.GetString(name)
	case "server":
		s.Capture.Server, err = fs.GetString(name)
	case "tokenFile":
		s.Capture.TokenFile, err = fs.GetString(name)
	case "mode":
		var v string
		v, err = fs.GetString(name)
		s.Capture.Mode = capture.Mode(strings.ToLower(v))
	case "captureTimeout":
		s.Capture.Timeout, err = fs.GetDuration(name)
	case "lo":
		var v string
		v, err = fs.GetString(name)
		s.LO.Device = strings.ToLower(v)
	case "loAddress":
		s.LO.Address, err = fs.GetString(name)
	case "loSerial":
		s.LO.Serial, err = fs.GetString(name)
	case "loChannel":
		s.LO.Channel, err = fs.GetInt(name)
	case "loFreq":
		s.LO.Frequency, err = fs.GetFloat64(name)
	case "loPower":
		s.LO.Power, err = fs.GetFloat64(name)
	case "magnetAddress":
		s.Magnet.Address, err = fs.GetString(name)
	case "current":
		s.Magnet.Current, err = fs.GetFloat64(name)
	case "pulseType":
		var v string
		v, err = fs.GetString(name)
		s.Pulse.Type = capture.PulseType(strings.ToLower(v))
	case "pulseFreq":
		s.Pulse.Frequency, err = fs.GetFloat64(name)
	case "pulseWidth":
		s.Pulse.Width, err = fs.GetFloat64(name)
	case "pulseAmplitude":
		s.Pulse.Amplitude, err = fs.GetInt(name)
	case "pulseCount":
		s.Pulse.Count, err = fs.GetInt(name)
	case "triggerDelay":
		s.Pulse.TriggerDelay, err = fs.GetFloat64(name)
	case "readFreq":
		s.Pulse.ReadFrequency, err = fs.GetFloat64(name)
	case "experiments":
		s.Experiments, err = fs.GetInt(name)
	case "batchSize":
		s.BatchSize, err = fs.GetInt(name)
	case "maxAttempts":
		s.MaxAttempts, err = fs.GetInt(name)
	case "fs":
		s.SamplingFrequency, err = fs.GetFloat64(name)
	case "pulseRegion":
		var v string
		if v, err = fs.GetString(name); err == nil {
			s.PulseRegion, err = ParseRegion(v)
		}
	case "noiseRegion":
		var v string
		if v, err = fs.GetString(name); err == nil {
			s.NoiseRegion, err = ParseRegion(v)
		}
	case "cooldown":
		s.Cooldown, err = fs.GetDuration(name)
	}
	return err
}

// ParseRegion parses "start:end" or "start:" into a region.
func ParseRegion(v string) (stats.Region, error) {
	start, end, ok := strings.Cut(v, ":")
	if !ok {
		return stats.Region{}, fmt.Errorf("region %q is not of the form start:end", v)
	}
	var r stats.Region
	var err error
	if r.Start, err = strconv.Atoi(strings.TrimSpace(start)); err != nil {
		return stats.Region{}, fmt.Errorf("region %q: invalid start: %w", v, err)
	}
	if end = strings.TrimSpace(end); end != "" {
		if r.End, err = strconv.Atoi(end); err != nil {
			return stats.Region{}, fmt.Errorf("region %q: invalid end: %w", v, err)
		}
	}
	return r, r.Validate()
}
