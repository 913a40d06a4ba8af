package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/spinecho/metrics"
)

// ErrFault is returned for commands issued while an instrument is in Fault.
var ErrFault = errors.New("instrument is in fault state")

// Options tune setpoint verification and thermal protection.
type Options struct {
	// CurrentTolerance is the accepted read-back deviation in A.
	CurrentTolerance float64
	// MagnetSettle is the wait after a ramp before the current is read back.
	MagnetSettle time.Duration
	// MaxAttempts bounds the ramp-and-verify loop of SetCurrent.
	MaxAttempts int

	// FrequencyTolerance (Hz) and PowerTolerance (dBm) bound the oscillator read-back.
	FrequencyTolerance float64
	PowerTolerance     float64
	// OscillatorSettle is the wait after commanding the oscillator.
	OscillatorSettle time.Duration

	// ThermalThreshold is the oscillator temperature in degrees Celsius above
	// which the output is disabled until the device cools down.
	ThermalThreshold float64
	// ThermalPoll is the interval between temperature reads while cooling.
	ThermalPoll time.Duration

	Metrics *metrics.Metrics
}

// DefaultOptions returns the settings used on the bench.
func DefaultOptions() Options {
	return Options{
		CurrentTolerance:   0.001,
		MagnetSettle:       5 * time.Second,
		MaxAttempts:        3,
		FrequencyTolerance: 1,
		PowerTolerance:     0.001,
		OscillatorSettle:   time.Second,
		ThermalThreshold:   50,
		ThermalPoll:        5 * time.Second,
	}
}

type oscillatorTarget struct {
	frequency float64
	power     float64
}

// Coordinator owns one current source and one oscillator for the duration of
// a session. All methods are safe for concurrent use but are serialized.
type Coordinator struct {
	source CurrentSource
	osc    Oscillator
	opts   Options

	claimed atomic.Bool

	mu            sync.Mutex
	current       *Machine
	lo            *Machine
	currentTarget *float64
	loTarget      *oscillatorTarget
	confirmed     float64
	lastStatus    Status
}

func NewCoordinator(source CurrentSource, osc Oscillator, opts Options) *Coordinator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Coordinator{
		source:  source,
		osc:     osc,
		opts:    opts,
		current: currentSourceMachine(source.Name()),
		lo:      oscillatorMachine(osc.Name()),
	}
}

// Claim reserves the coordinator for one session. The returned function
// releases it again.
func (c *Coordinator) Claim() (func(), error) {
	if !c.claimed.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { c.claimed.Store(false) }, nil
}

// States returns the states of the current source and the oscillator.
func (c *Coordinator) States() (current, oscillator State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.State(), c.lo.State()
}

// Confirmed returns the last confirmed current and oscillator status.
func (c *Coordinator) Confirmed() (float64, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed, c.lastStatus
}

// OscillatorName returns the name of the oscillator in use.
func (c *Coordinator) OscillatorName() string {
	return c.osc.Name()
}

// SetCurrent ramps the current source to target and confirms the read-back,
// re-ramping up to MaxAttempts times. It returns the confirmed current.
func (c *Coordinator) SetCurrent(ctx context.Context, target float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCurrent(ctx, target)
}

func (c *Coordinator) setCurrent(ctx context.Context, target float64) (float64, error) {
	switch c.current.State() {
	case ShutDown:
		return 0, ErrShutDown
	case Fault:
		return 0, fmt.Errorf("%s: %w", c.source.Name(), ErrFault)
	}
	limit := c.source.Limit()
	if r := (Range{Min: -limit, Max: limit}); !r.Contains(target) {
		return 0, &OutOfRange{Instrument: c.source.Name(), Quantity: "current", Value: target, Range: r}
	}
	if err := c.current.Transition(Configuring); err != nil {
		return 0, err
	}
	if c.currentTarget == nil {
		if err := c.source.PowerOn(ctx); err != nil {
			c.current.fail()
			return 0, fmt.Errorf("%s: unable to power on: %w", c.source.Name(), err)
		}
	}
	c.currentTarget = &target

	var got float64
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		c.opts.Metrics.RecordSetpointAttempt(c.source.Name())
		from, err := c.readCurrent(ctx)
		if err != nil {
			c.current.fail()
			return 0, err
		}
		if err := c.source.Ramp(ctx, from, target); err != nil {
			c.current.fail()
			return 0, fmt.Errorf("%s: ramp %.3f A -> %.3f A failed: %w", c.source.Name(), from, target, err)
		}
		if err := sleep(ctx, c.opts.MagnetSettle); err != nil {
			return 0, err
		}
		got, err = c.readCurrent(ctx)
		if err != nil {
			c.current.fail()
			return 0, err
		}
		if math.Abs(got-target) <= c.opts.CurrentTolerance {
			c.confirmed = got
			glog.Infof("%s: current confirmed at %.4f A\n", c.source.Name(), got)
			return got, c.current.Transition(Verified)
		}
		glog.Warningf("%s: current is %.4f A after attempt %d/%d, want %.4f A\n", c.source.Name(), got, attempt, c.opts.MaxAttempts, target)
	}

	c.current.fail()
	return got, &SetpointNotConfirmed{
		Instrument: c.source.Name(),
		Quantity:   "current",
		Want:       target,
		Got:        got,
		Attempts:   c.opts.MaxAttempts,
	}
}

// SetOscillator programs frequency (Hz) and power (dBm), enables the output
// and confirms the read-back. On mismatch the output is disabled again.
func (c *Coordinator) SetOscillator(ctx context.Context, frequency, power float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setOscillator(ctx, frequency, power)
}

func (c *Coordinator) setOscillator(ctx context.Context, frequency, power float64) error {
	switch c.lo.State() {
	case ShutDown:
		return ErrShutDown
	case Fault:
		return fmt.Errorf("%s: %w", c.osc.Name(), ErrFault)
	}
	limits := c.osc.Limits()
	if !limits.Frequency.Contains(frequency) {
		return &OutOfRange{Instrument: c.osc.Name(), Quantity: "frequency", Value: frequency, Range: limits.Frequency}
	}
	if !limits.Power.Contains(power) {
		return &OutOfRange{Instrument: c.osc.Name(), Quantity: "power", Value: power, Range: limits.Power}
	}
	if err := c.lo.Transition(Configuring); err != nil {
		return err
	}
	c.loTarget = &oscillatorTarget{frequency: frequency, power: power}
	c.opts.Metrics.RecordSetpointAttempt(c.osc.Name())

	if err := c.applyOscillator(ctx); err != nil {
		c.lo.fail()
		return err
	}
	if err := sleep(ctx, c.opts.OscillatorSettle); err != nil {
		return err
	}
	if err := c.confirmOscillator(ctx); err != nil {
		if offErr := c.osc.SetOutput(ctx, false); offErr != nil {
			glog.Errorf("%s: unable to disable output after failed verification: %s\n", c.osc.Name(), offErr)
		}
		c.lo.fail()
		return err
	}
	glog.Infof("%s: output confirmed at %.6f GHz, %.3f dBm\n", c.osc.Name(), frequency/1e9, power)
	return c.lo.Transition(Verified)
}

func (c *Coordinator) applyOscillator(ctx context.Context) error {
	if err := c.osc.SetFrequency(ctx, c.loTarget.frequency); err != nil {
		return fmt.Errorf("%s: unable to set frequency: %w", c.osc.Name(), err)
	}
	if err := c.osc.SetPower(ctx, c.loTarget.power); err != nil {
		return fmt.Errorf("%s: unable to set power: %w", c.osc.Name(), err)
	}
	if err := c.osc.SetOutput(ctx, true); err != nil {
		return fmt.Errorf("%s: unable to enable output: %w", c.osc.Name(), err)
	}
	return nil
}

// confirmOscillator compares the read-back status with the commanded target.
func (c *Coordinator) confirmOscillator(ctx context.Context) error {
	st, err := c.osc.Status(ctx)
	if err != nil {
		return fmt.Errorf("%s: unable to read status: %w", c.osc.Name(), err)
	}
	mismatch := func(quantity string, want, got float64) error {
		return &SetpointNotConfirmed{Instrument: c.osc.Name(), Quantity: quantity, Want: want, Got: got, Attempts: 1}
	}
	switch {
	case math.Abs(st.Frequency-c.loTarget.frequency) > c.opts.FrequencyTolerance:
		return mismatch("frequency", c.loTarget.frequency, st.Frequency)
	case math.Abs(st.Power-c.loTarget.power) > c.opts.PowerTolerance:
		return mismatch("power", c.loTarget.power, st.Power)
	case !st.OutputEnabled:
		return mismatch("output", 1, 0)
	case st.Standby:
		return mismatch("standby", 0, 1)
	}
	c.lastStatus = st
	return nil
}

// ThermalGuard disables the oscillator output while its temperature is above
// the threshold and restores the commanded state once it has cooled down.
// The wait has no ceiling; it ends when the device cools or ctx is done.
func (c *Coordinator) ThermalGuard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thermalGuard(ctx)
}

func (c *Coordinator) thermalGuard(ctx context.Context) error {
	if c.loTarget == nil {
		return nil
	}
	temp, err := c.osc.Temperature(ctx)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: unable to read temperature: %w", c.osc.Name(), err)
	}
	c.opts.Metrics.SetTemperature(temp)
	if temp <= c.opts.ThermalThreshold {
		return nil
	}

	glog.Warningf("%s: temperature %.1f C is above %.1f C, disabling output until it cools down\n", c.osc.Name(), temp, c.opts.ThermalThreshold)
	c.opts.Metrics.RecordThermalWait()
	if err := c.lo.Transition(Cooling); err != nil {
		return err
	}
	if err := c.osc.SetOutput(ctx, false); err != nil {
		c.lo.fail()
		return fmt.Errorf("%s: unable to disable output for cooling: %w", c.osc.Name(), err)
	}
	start := time.Now()
	for temp > c.opts.ThermalThreshold {
		if err := sleep(ctx, c.opts.ThermalPoll); err != nil {
			return err
		}
		if temp, err = c.osc.Temperature(ctx); err != nil {
			c.lo.fail()
			return fmt.Errorf("%s: unable to read temperature while cooling: %w", c.osc.Name(), err)
		}
		c.opts.Metrics.SetTemperature(temp)
		glog.V(1).Infof("%s: temperature %.1f C\n", c.osc.Name(), temp)
	}
	glog.Infof("%s: cooled down to %.1f C after %s, restoring output\n", c.osc.Name(), temp, time.Since(start).Round(time.Second))
	return c.setOscillator(ctx, c.loTarget.frequency, c.loTarget.power)
}

// Verify re-checks both instruments before a batch: thermal guard, then the
// oscillator (re-applied once on drift), then the current (re-ramped with the
// bounded SetCurrent loop on drift).
func (c *Coordinator) Verify(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range []*Machine{c.current, c.lo} {
		switch m.State() {
		case ShutDown:
			return ErrShutDown
		case Fault:
			return fmt.Errorf("%s: %w", m.name, ErrFault)
		}
	}

	if c.loTarget != nil {
		if err := c.thermalGuard(ctx); err != nil {
			return err
		}
		if err := c.confirmOscillator(ctx); err != nil {
			var snc *SetpointNotConfirmed
			if !errors.As(err, &snc) {
				c.lo.fail()
				return err
			}
			glog.Warningf("%s, re-applying oscillator settings\n", err)
			if err := c.osc.SetOutput(ctx, false); err != nil {
				c.lo.fail()
				return fmt.Errorf("%s: unable to disable output: %w", c.osc.Name(), err)
			}
			if err := c.setOscillator(ctx, c.loTarget.frequency, c.loTarget.power); err != nil {
				return err
			}
		}
	}

	if c.currentTarget != nil {
		got, err := c.readCurrent(ctx)
		if err != nil {
			c.current.fail()
			return err
		}
		if math.Abs(got-*c.currentTarget) > c.opts.CurrentTolerance {
			glog.Warningf("%s: current drifted to %.4f A, want %.4f A\n", c.source.Name(), got, *c.currentTarget)
			if _, err := c.setCurrent(ctx, *c.currentTarget); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown ramps the current to zero, powers the source off and disables the
// oscillator output. It runs from any state, attempts every step even if an
// earlier one fails, and is a no-op once it has completed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.current.State() != ShutDown {
		from, err := c.readCurrent(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		switch {
		case err == nil:
		case c.currentTarget != nil:
			glog.Warningf("%s: ramping down from the last target %.4f A\n", c.source.Name(), *c.currentTarget)
			from = *c.currentTarget
		default:
			glog.Warningf("%s: current unknown, powering off without ramp\n", c.source.Name())
		}
		if err == nil || c.currentTarget != nil {
			if err := c.source.Ramp(ctx, from, 0); err != nil {
				errs = append(errs, fmt.Errorf("%s: ramp to zero failed: %w", c.source.Name(), err))
			}
		}
		if err := c.source.PowerOff(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: unable to power off: %w", c.source.Name(), err))
		}
		c.current.current = ShutDown
		glog.Infof("%s: shut down\n", c.source.Name())
	}
	if c.lo.State() != ShutDown {
		if err := c.disableOscillator(ctx); err != nil {
			errs = append(errs, err)
		}
		c.lo.current = ShutDown
		glog.Infof("%s: shut down\n", c.osc.Name())
	}
	return errors.Join(errs...)
}

// readCurrent reads back the source current and rejects values outside the
// source's limit, which only a faulty read-back can produce.
func (c *Coordinator) readCurrent(ctx context.Context) (float64, error) {
	v, err := c.source.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to read current: %w", c.source.Name(), err)
	}
	limit := c.source.Limit()
	if r := (Range{Min: -limit, Max: limit}); !r.Contains(v) {
		return 0, fmt.Errorf("%s: implausible current read-back: %w", c.source.Name(), &OutOfRange{Instrument: c.source.Name(), Quantity: "current", Value: v, Range: r})
	}
	return v, nil
}

// disableOscillator turns the output off and confirms it, retrying up to MaxAttempts.
func (c *Coordinator) disableOscillator(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.osc.SetOutput(ctx, false); err != nil {
			lastErr = fmt.Errorf("%s: unable to disable output: %w", c.osc.Name(), err)
			continue
		}
		st, err := c.osc.Status(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s: unable to read status: %w", c.osc.Name(), err)
			continue
		}
		if !st.OutputEnabled {
			return nil
		}
		lastErr = &SetpointNotConfirmed{Instrument: c.osc.Name(), Quantity: "output", Want: 0, Got: boolf(st.OutputEnabled), Attempts: attempt}
	}
	return lastErr
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
