package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/stats"
)

const testSweep = `
sample: 2024-Feb-Argn-YIG-2_5b-b1
note: upconverting outside the board
capture:
  server: http://10.0.0.5:5500
  mode: decimated
  timeout: 2m
lo:
  device: bnc855b
  address: 10.0.0.7:18
  frequency: 5.263e9
  power: 0
magnet:
  address: 10.0.0.8:5025
  current: -3.0
pulse:
  type: flat_top
  freq: 5383
  width: 10
  pulse_count: 1
  trigger_delay: 0.2
  read_freq: 5383
experiments: 300
noise_region:
  start: 200
cooldown: 500ms
`

func TestDecode(t *testing.T) {
	s, err := Decode(strings.NewReader(testSweep))
	require.NoError(t, err)

	assert.Equal(t, "2024-Feb-Argn-YIG-2_5b-b1", s.Sample)
	assert.Equal(t, capture.Decimated, s.Capture.Mode)
	assert.Equal(t, 2*time.Minute, s.Capture.Timeout)
	assert.Equal(t, "bnc855b", s.LO.Device)
	assert.Equal(t, 5.263e9, s.LO.Frequency)
	assert.Equal(t, -3.0, s.Magnet.Current)
	assert.Equal(t, capture.FlatTop, s.Pulse.Type)
	assert.Equal(t, 5383.0, s.Pulse.ReadFrequency)
	assert.Equal(t, 300, s.Experiments)
	assert.Equal(t, 500*time.Millisecond, s.Cooldown)
	assert.Equal(t, stats.Region{Start: 200}, s.NoiseRegion)

	// Untouched keys keep their defaults.
	assert.Equal(t, capture.MaxBatchSize, s.BatchSize)
	assert.Equal(t, stats.Region{Start: 120, End: 160}, s.PulseRegion)
	assert.Equal(t, 5*time.Second, s.Magnet.Settle)
	assert.Equal(t, 50.0, s.LO.ThermalThreshold)
}

func TestDecodeEmptyIsDefault(t *testing.T) {
	s, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestDecodeUnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader("experiment: 10\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSweep), 0o600))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, s.Experiments)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFs(t *testing.T) {
	s := Default()
	assert.Equal(t, RawSamplingFrequency, s.Fs())
	s.Capture.Mode = capture.Decimated
	assert.Equal(t, DecimatedSamplingFrequency, s.Fs())
	s.SamplingFrequency = 1e9
	assert.Equal(t, 1e9, s.Fs())
}

func TestSessionAndCoordinator(t *testing.T) {
	s, err := Decode(strings.NewReader(testSweep))
	require.NoError(t, err)

	cfg := s.Session()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, -3.0, cfg.Current)
	assert.Equal(t, DecimatedSamplingFrequency, cfg.SamplingFrequency)
	assert.Equal(t, "upconverting outside the board", cfg.Note)

	opts := s.Coordinator()
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, time.Second, opts.OscillatorSettle)
	assert.Equal(t, 5*time.Second, opts.ThermalPoll)
}

func TestMarshalDecodes(t *testing.T) {
	s, err := Decode(strings.NewReader(testSweep))
	require.NoError(t, err)
	b, err := s.Marshal()
	require.NoError(t, err)
	got, err := Decode(strings.NewReader(string(b)))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))
	got, err := ReadSecret(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	got, err = ReadSecret("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadSecret(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
