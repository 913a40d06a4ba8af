package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/spinecho/metrics"
)

type stubSource struct {
	limit   float64
	current float64
	// offset is added to every read-back to simulate a source that never settles.
	offset float64
	// reading replaces the read-back when set.
	reading *float64

	ramps     int
	powerOns  int
	powerOffs int
	offErr    error
}

func (s *stubSource) Name() string   { return "stub-source" }
func (s *stubSource) Limit() float64 { return s.limit }
func (s *stubSource) PowerOn(ctx context.Context) error {
	s.powerOns++
	return nil
}
func (s *stubSource) PowerOff(ctx context.Context) error {
	s.powerOffs++
	return s.offErr
}
func (s *stubSource) Ramp(ctx context.Context, from, to float64) error {
	s.ramps++
	s.current = to
	return nil
}
func (s *stubSource) Current(ctx context.Context) (float64, error) {
	if s.reading != nil {
		return *s.reading, nil
	}
	return s.current + s.offset, nil
}

type stubOscillator struct {
	freq, power      float64
	enabled, standby bool
	freqSkew         float64
	stuckOn          bool

	temps   []float64
	tempErr error

	freqSets int
	outputs  []bool
}

func (o *stubOscillator) Name() string { return "stub-lo" }
func (o *stubOscillator) Limits() Limits {
	return Limits{
		Frequency: Range{Min: 0.15e9, Max: 20.5e9, Exclusive: true},
		Power:     Range{Min: -20, Max: 20, Exclusive: true},
	}
}
func (o *stubOscillator) SetFrequency(ctx context.Context, hz float64) error {
	o.freqSets++
	o.freq = hz
	return nil
}
func (o *stubOscillator) SetPower(ctx context.Context, dbm float64) error {
	o.power = dbm
	return nil
}
func (o *stubOscillator) SetOutput(ctx context.Context, on bool) error {
	o.outputs = append(o.outputs, on)
	if on || !o.stuckOn {
		o.enabled = on
	}
	return nil
}
func (o *stubOscillator) Status(ctx context.Context) (Status, error) {
	return Status{
		Frequency:     o.freq + o.freqSkew,
		Power:         o.power,
		OutputEnabled: o.enabled,
		Standby:       o.standby,
	}, nil
}
func (o *stubOscillator) Temperature(ctx context.Context) (float64, error) {
	if o.tempErr != nil {
		return 0, o.tempErr
	}
	if len(o.temps) == 0 {
		return 25, nil
	}
	t := o.temps[0]
	if len(o.temps) > 1 {
		o.temps = o.temps[1:]
	}
	return t, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MagnetSettle = 0
	opts.OscillatorSettle = 0
	opts.ThermalPoll = 0
	return opts
}

func newTestCoordinator() (*Coordinator, *stubSource, *stubOscillator) {
	src := &stubSource{limit: 20}
	lo := &stubOscillator{}
	return NewCoordinator(src, lo, testOptions()), src, lo
}

func TestSetCurrentConfirmedWithoutRetry(t *testing.T) {
	c, src, _ := newTestCoordinator()
	got, err := c.SetCurrent(context.Background(), -3.0)
	require.NoError(t, err)
	assert.Equal(t, -3.0, got)
	assert.Equal(t, 1, src.ramps)
	assert.Equal(t, 1, src.powerOns)
	cur, _ := c.States()
	assert.Equal(t, Verified, cur)
}

func TestSetCurrentRetriesThenFails(t *testing.T) {
	c, src, _ := newTestCoordinator()
	src.offset = 0.5

	_, err := c.SetCurrent(context.Background(), -3.0)
	var snc *SetpointNotConfirmed
	require.ErrorAs(t, err, &snc)
	assert.Equal(t, 3, snc.Attempts)
	assert.Equal(t, -3.0, snc.Want)
	assert.Equal(t, 3, src.ramps)
	cur, _ := c.States()
	assert.Equal(t, Fault, cur)

	_, err = c.SetCurrent(context.Background(), -3.0)
	assert.ErrorIs(t, err, ErrFault)
}

func TestSetCurrentOutOfRange(t *testing.T) {
	c, src, _ := newTestCoordinator()
	_, err := c.SetCurrent(context.Background(), 25)
	var oor *OutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, "current", oor.Quantity)
	assert.Zero(t, src.ramps)
	assert.Zero(t, src.powerOns)
}

func TestSetOscillatorOutOfRangeTouchesNothing(t *testing.T) {
	var tt = []struct {
		freq, power float64
		quantity    string
	}{
		{freq: 0.1e9, power: 0, quantity: "frequency"},
		{freq: 20.5e9, power: 0, quantity: "frequency"},
		{freq: 6e9, power: 20, quantity: "power"},
	}
	for _, tc := range tt {
		c, _, lo := newTestCoordinator()
		err := c.SetOscillator(context.Background(), tc.freq, tc.power)
		var oor *OutOfRange
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, tc.quantity, oor.Quantity)
		assert.Zero(t, lo.freqSets)
		assert.Empty(t, lo.outputs)
	}
}

func TestSetOscillatorConfirmed(t *testing.T) {
	c, _, lo := newTestCoordinator()
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))
	assert.True(t, lo.enabled)
	_, osc := c.States()
	assert.Equal(t, Verified, osc)
	_, st := c.Confirmed()
	assert.Equal(t, 6e9, st.Frequency)
}

func TestSetOscillatorMismatchDisablesOutput(t *testing.T) {
	c, _, lo := newTestCoordinator()
	lo.freqSkew = 10

	err := c.SetOscillator(context.Background(), 6e9, 5)
	var snc *SetpointNotConfirmed
	require.ErrorAs(t, err, &snc)
	assert.Equal(t, "frequency", snc.Quantity)
	assert.False(t, lo.enabled)
	_, osc := c.States()
	assert.Equal(t, Fault, osc)
}

func TestThermalGuardWaitsAndRestores(t *testing.T) {
	c, _, lo := newTestCoordinator()
	m := metrics.New(prometheus.NewRegistry())
	c.opts.Metrics = m
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))

	lo.temps = []float64{60, 55, 45}
	require.NoError(t, c.ThermalGuard(context.Background()))
	assert.Equal(t, []bool{true, false, true}, lo.outputs)
	_, osc := c.States()
	assert.Equal(t, Verified, osc)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThermalWaitsTotal))
	assert.Equal(t, 45.0, testutil.ToFloat64(m.Temperature))
}

func TestThermalGuardUnsupported(t *testing.T) {
	c, _, lo := newTestCoordinator()
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))
	lo.tempErr = fmt.Errorf("stub: %w", errors.ErrUnsupported)
	assert.NoError(t, c.ThermalGuard(context.Background()))
	assert.Equal(t, []bool{true}, lo.outputs)
}

func TestThermalGuardCancelled(t *testing.T) {
	c, _, lo := newTestCoordinator()
	c.opts.ThermalPoll = 5 * time.Millisecond
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))

	lo.temps = []float64{80}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.ThermalGuard(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, lo.enabled)
	_, osc := c.States()
	assert.Equal(t, Cooling, osc)
}

func TestVerifyReappliesDriftedOscillator(t *testing.T) {
	c, _, lo := newTestCoordinator()
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))
	lo.enabled = false

	require.NoError(t, c.Verify(context.Background()))
	assert.True(t, lo.enabled)
	assert.Equal(t, 2, lo.freqSets)
}

func TestVerifyRerampsDriftedCurrent(t *testing.T) {
	c, src, _ := newTestCoordinator()
	_, err := c.SetCurrent(context.Background(), -3.0)
	require.NoError(t, err)
	src.current = -2.9

	require.NoError(t, c.Verify(context.Background()))
	assert.Equal(t, 2, src.ramps)
	assert.Equal(t, 1, src.powerOns, "source must only be powered on once")
	assert.Equal(t, -3.0, src.current)
}

func TestVerifyRefusesFault(t *testing.T) {
	c, src, _ := newTestCoordinator()
	src.offset = 1
	_, err := c.SetCurrent(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, c.Verify(context.Background()), ErrFault)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c, src, lo := newTestCoordinator()
	_, err := c.SetCurrent(context.Background(), -3.0)
	require.NoError(t, err)
	require.NoError(t, c.SetOscillator(context.Background(), 6e9, 5))

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, 1, src.powerOffs)
	assert.Equal(t, 0.0, src.current)
	assert.False(t, lo.enabled)
	cur, osc := c.States()
	assert.Equal(t, ShutDown, cur)
	assert.Equal(t, ShutDown, osc)

	_, err = c.SetCurrent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrShutDown)
	assert.ErrorIs(t, c.Verify(context.Background()), ErrShutDown)
}

func TestShutdownJoinsErrors(t *testing.T) {
	c, src, lo := newTestCoordinator()
	src.offErr = errors.New("link down")
	lo.stuckOn = true
	lo.enabled = true

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "link down")
	var snc *SetpointNotConfirmed
	assert.ErrorAs(t, err, &snc)
	assert.Len(t, lo.outputs, 3, "disabling the output is retried up to MaxAttempts")
	cur, osc := c.States()
	assert.Equal(t, ShutDown, cur)
	assert.Equal(t, ShutDown, osc)
}

func TestShutdownWithImplausibleReadback(t *testing.T) {
	for _, reading := range []float64{math.NaN(), 9.91e37, 1e17, -21} {
		c, src, _ := newTestCoordinator()
		_, err := c.SetCurrent(context.Background(), -3.0)
		require.NoError(t, err)
		src.reading = &reading

		err = c.Shutdown(context.Background())
		var oor *OutOfRange
		require.ErrorAs(t, err, &oor, "%g", reading)
		assert.Equal(t, 2, src.ramps, "ramps down from the last target for %g", reading)
		assert.Equal(t, 0.0, src.current)
		assert.Equal(t, 1, src.powerOffs)
	}
}

func TestShutdownWithoutTargetSkipsRamp(t *testing.T) {
	c, src, _ := newTestCoordinator()
	reading := math.NaN()
	src.reading = &reading

	assert.Error(t, c.Shutdown(context.Background()))
	assert.Zero(t, src.ramps)
	assert.Equal(t, 1, src.powerOffs)
}

func TestSetCurrentImplausibleReadback(t *testing.T) {
	c, src, _ := newTestCoordinator()
	reading := 9.91e37
	src.reading = &reading

	_, err := c.SetCurrent(context.Background(), 1)
	var oor *OutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Zero(t, src.ramps)
	cur, _ := c.States()
	assert.Equal(t, Fault, cur)
}

func TestClaim(t *testing.T) {
	c, _, _ := newTestCoordinator()
	release, err := c.Claim()
	require.NoError(t, err)
	_, err = c.Claim()
	assert.ErrorIs(t, err, ErrBusy)
	release()
	release, err = c.Claim()
	require.NoError(t, err)
	release()
}
