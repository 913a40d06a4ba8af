package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/stats"
)

func testFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestApplyFlagsOverridesOnlySetFlags(t *testing.T) {
	s, err := Decode(strings.NewReader(testSweep))
	require.NoError(t, err)
	fs := testFlagSet(t,
		"--current=1.5",
		"--mode=RAW",
		"--lo=SC5511A",
		"--pulseRegion=100:140",
		"--noiseRegion=300:",
		"--experiments=2500",
		"--cooldown=3s",
	)
	require.NoError(t, s.ApplyFlags(fs))

	assert.Equal(t, 1.5, s.Magnet.Current)
	assert.Equal(t, capture.Raw, s.Capture.Mode)
	assert.Equal(t, "sc5511a", s.LO.Device)
	assert.Equal(t, stats.Region{Start: 100, End: 140}, s.PulseRegion)
	assert.Equal(t, stats.Region{Start: 300}, s.NoiseRegion)
	assert.Equal(t, 2500, s.Experiments)
	assert.Equal(t, 3*time.Second, s.Cooldown)

	// Untouched values keep what the file said.
	assert.Equal(t, "2024-Feb-Argn-YIG-2_5b-b1", s.Sample)
	assert.Equal(t, capture.FlatTop, s.Pulse.Type)
	assert.Equal(t, "10.0.0.7:18", s.LO.Address)
}

func TestApplyFlagsBadRegion(t *testing.T) {
	s := Default()
	err := s.ApplyFlags(testFlagSet(t, "--pulseRegion=160:120"))
	assert.ErrorContains(t, err, "--pulseRegion")
}

func TestParseRegion(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    stats.Region
		wantErr bool
	}{
		{in: "120:160", want: stats.Region{Start: 120, End: 160}},
		{in: "250:", want: stats.Region{Start: 250}},
		{in: " 1 : 2 ", want: stats.Region{Start: 1, End: 2}},
		{in: "120", wantErr: true},
		{in: "a:2", wantErr: true},
		{in: "1:b", wantErr: true},
		{in: "-1:2", wantErr: true},
	} {
		got, err := ParseRegion(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, got, mustParse(t, got.Spec()))
	}
}

func mustParse(t *testing.T, v string) stats.Region {
	t.Helper()
	r, err := ParseRegion(v)
	require.NoError(t, err)
	return r
}
