// Package sc5511a adapts a SignalCore SC5511A synthesizer to the oscillator
// interface. The vendor library is reached through Device; a cgo binding is
// available with the sc5511a build tag.
package sc5511a

import (
	"context"
	"fmt"
	"math"

	"github.com/hb9tf/spinecho/instrument"
)

const DeviceName = "sc5511a"

var limits = instrument.Limits{
	Frequency: instrument.Range{Min: 0.15e9, Max: 20.5e9, Exclusive: true},
	Power:     instrument.Range{Min: -20, Max: 20, Exclusive: true},
}

// RFParams is the part of the RF parameter block the oscillator reads.
type RFParams struct {
	Frequency uint64  // Hz
	Level     float32 // dBm
}

// OperateStatus is the part of the operate status block the oscillator reads.
type OperateStatus struct {
	OutputEnabled bool
	Standby       bool
	OverTemp      bool
}

// Device is the subset of the vendor library used here.
type Device interface {
	SetFrequency(hz uint64) error
	SetLevel(dbm float32) error
	SetOutput(on bool) error
	SetStandby(on bool) error
	Temperature() (float32, error)
	RFParameters() (RFParams, error)
	OperateStatus() (OperateStatus, error)
	Close() error
}

// Oscillator is an SC5511A RF1 output.
type Oscillator struct {
	Dev Device
}

func New(dev Device) *Oscillator {
	return &Oscillator{Dev: dev}
}

func (o *Oscillator) Name() string {
	return DeviceName
}

func (o *Oscillator) Limits() instrument.Limits {
	return limits
}

func (o *Oscillator) SetFrequency(ctx context.Context, hz float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hz < 0 || math.IsNaN(hz) {
		return fmt.Errorf("%s: invalid frequency %g", DeviceName, hz)
	}
	return o.Dev.SetFrequency(uint64(math.Round(hz)))
}

func (o *Oscillator) SetPower(ctx context.Context, dbm float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.Dev.SetLevel(float32(dbm))
}

// SetOutput leaves standby and enables RF1, or disables RF1 and enters standby.
func (o *Oscillator) SetOutput(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if on {
		if err := o.Dev.SetStandby(false); err != nil {
			return err
		}
		return o.Dev.SetOutput(true)
	}
	if err := o.Dev.SetOutput(false); err != nil {
		return err
	}
	return o.Dev.SetStandby(true)
}

func (o *Oscillator) Status(ctx context.Context) (instrument.Status, error) {
	if err := ctx.Err(); err != nil {
		return instrument.Status{}, err
	}
	params, err := o.Dev.RFParameters()
	if err != nil {
		return instrument.Status{}, err
	}
	st, err := o.Dev.OperateStatus()
	if err != nil {
		return instrument.Status{}, err
	}
	return instrument.Status{
		Frequency:     float64(params.Frequency),
		Power:         float64(params.Level),
		OutputEnabled: st.OutputEnabled,
		Standby:       st.Standby,
	}, nil
}

func (o *Oscillator) Temperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := o.Dev.Temperature()
	return float64(t), err
}

// Close releases the device handle.
func (o *Oscillator) Close() error {
	return o.Dev.Close()
}

// StatusError is a non-zero return code of the vendor library.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s failed: error code %d", DeviceName, e.Op, e.Code)
}
