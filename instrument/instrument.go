// Package instrument keeps the auxiliary instruments of a sweep (a current
// source driving the magnet and a local oscillator) in a commanded, verified
// and safe state.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrBusy is returned when a second session tries to claim a coordinator.
	ErrBusy = errors.New("instruments are in use by another session")
	// ErrShutDown is returned for commands issued after Shutdown.
	ErrShutDown = errors.New("instruments are shut down")
)

// CurrentSource is a programmable DC current source.
type CurrentSource interface {
	Name() string
	// Limit is the largest current magnitude the source accepts, in A.
	Limit() float64
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	// Ramp walks the output from one current to another in small steps.
	Ramp(ctx context.Context, from, to float64) error
	// Current reads back the output current in A.
	Current(ctx context.Context) (float64, error)
}

// Oscillator is a local oscillator. Devices differ in ranges, channels and
// whether they report temperature; callers only see this surface.
type Oscillator interface {
	Name() string
	Limits() Limits
	SetFrequency(ctx context.Context, hz float64) error
	SetPower(ctx context.Context, dbm float64) error
	// SetOutput enables or disables the RF output, leaving standby on disable
	// where the device has one.
	SetOutput(ctx context.Context, on bool) error
	Status(ctx context.Context) (Status, error)
	// Temperature returns the device temperature in degrees Celsius or an
	// error wrapping errors.ErrUnsupported if the device has no sensor.
	Temperature(ctx context.Context) (float64, error)
}

// Range is a closed or open interval of accepted values.
type Range struct {
	Min       float64
	Max       float64
	Exclusive bool
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Exclusive {
		return v > r.Min && v < r.Max
	}
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	if r.Exclusive {
		return fmt.Sprintf("(%g, %g)", r.Min, r.Max)
	}
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Limits are the accepted oscillator settings.
type Limits struct {
	Frequency Range // Hz
	Power     Range // dBm
}

// Status is the read-back oscillator state.
type Status struct {
	Frequency     float64 // Hz
	Power         float64 // dBm
	OutputEnabled bool
	Standby       bool
}

// OutOfRange is returned when a requested setpoint violates device limits.
// No instrument command is issued in that case.
type OutOfRange struct {
	Instrument string
	Quantity   string
	Value      float64
	Range      Range
}

func (e *OutOfRange) Error() string {
	return fmt.Sprintf("%s: %s %g outside %s", e.Instrument, e.Quantity, e.Value, e.Range)
}

// SetpointNotConfirmed is returned when the read-back state of an instrument
// does not match the commanded state.
type SetpointNotConfirmed struct {
	Instrument string
	Quantity   string
	Want       float64
	Got        float64
	Attempts   int
}

func (e *SetpointNotConfirmed) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s not confirmed after %d attempts: want %g, got %g", e.Instrument, e.Quantity, e.Attempts, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: %s not confirmed: want %g, got %g", e.Instrument, e.Quantity, e.Want, e.Got)
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
