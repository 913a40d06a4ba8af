package kepco

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/spinecho/instrument"
)

var _ instrument.CurrentSource = (*Source)(nil)

type recorder struct {
	cmds    []string
	current string
}

func (r *recorder) Write(ctx context.Context, cmd string) error {
	r.cmds = append(r.cmds, cmd)
	if strings.HasPrefix(cmd, "CURR ") {
		r.current = strings.TrimPrefix(cmd, "CURR ")
	}
	return nil
}

func (r *recorder) Query(ctx context.Context, cmd string) (string, error) {
	r.cmds = append(r.cmds, cmd)
	return r.current, nil
}

func TestSteps(t *testing.T) {
	var tt = []struct {
		from, to float64
		want     []float64
	}{
		{from: 0, to: 0.035, want: []float64{0.01, 0.02, 0.03, 0.035}},
		{from: 0, to: -0.03, want: []float64{-0.01, -0.02, -0.03}},
		{from: 1, to: 1, want: []float64{1}},
		{from: 0.02, to: 0, want: []float64{0.01, 0}},
		{from: 0.005, to: 0.03, want: []float64{0.01, 0.02, 0.03}},
		{from: 0.015, to: -0.01, want: []float64{0.01, 0, -0.01}},
		{from: -0.005, to: -0.025, want: []float64{-0.01, -0.02, -0.025}},
	}
	for _, tc := range tt {
		got, err := Steps(tc.from, tc.to, DefaultStep)
		require.NoError(t, err)
		assert.InDeltaSlice(t, tc.want, got, 1e-12, "%g -> %g", tc.from, tc.to)
	}
}

func TestStepsNeverExceedStep(t *testing.T) {
	for _, tc := range []struct{ from, to float64 }{
		{0.005, 1}, {0.29, -0.3}, {-2.997, 3.001}, {0.07, 0},
	} {
		got, err := Steps(tc.from, tc.to, DefaultStep)
		require.NoError(t, err)
		prev := tc.from
		for _, p := range got {
			assert.LessOrEqual(t, math.Abs(p-prev), DefaultStep+1e-12, "%g -> %g at %g", tc.from, tc.to, p)
			prev = p
		}
		assert.Equal(t, tc.to, got[len(got)-1])
	}
}

func TestStepsRejectsGarbage(t *testing.T) {
	for _, tc := range []struct{ from, to, step float64 }{
		{9.91e37, 0, DefaultStep},
		{math.NaN(), 0, DefaultStep},
		{math.Inf(-1), 0, DefaultStep},
		{0, math.NaN(), DefaultStep},
		{1e17, 0, DefaultStep},
		{1, 0, math.NaN()},
	} {
		_, err := Steps(tc.from, tc.to, tc.step)
		assert.Error(t, err, "%g -> %g", tc.from, tc.to)
	}
}

func TestRampEndsOnTarget(t *testing.T) {
	r := &recorder{}
	s := New(r)
	s.Dwell = 0
	require.NoError(t, s.Ramp(context.Background(), 0, -3))

	assert.Len(t, r.cmds, 300)
	assert.Equal(t, "CURR -3", r.cmds[len(r.cmds)-1])
	got, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -3.0, got)
}

func TestRampRejectsOverLimit(t *testing.T) {
	r := &recorder{}
	s := New(r)
	s.Dwell = 0
	for _, tc := range []struct{ from, to float64 }{
		{19.99, 21},
		{9.91e37, 0},
		{math.NaN(), 0},
		{0, math.Inf(1)},
	} {
		assert.Error(t, s.Ramp(context.Background(), tc.from, tc.to), "%g -> %g", tc.from, tc.to)
	}
	assert.Empty(t, r.cmds, "nothing is sent for a ramp with an illegal end")
}

func TestPowerCycle(t *testing.T) {
	r := &recorder{}
	s := New(r)
	require.NoError(t, s.PowerOn(context.Background()))
	assert.Equal(t, "OUTP ON", r.cmds[len(r.cmds)-1])
	assert.Contains(t, r.cmds, "FUNC:MODE CURR")

	require.NoError(t, s.PowerOff(context.Background()))
	assert.Equal(t, []string{"OUTP OFF", "CURR 0"}, r.cmds[len(r.cmds)-2:])
}
