// Package bnc855b drives one channel of a Berkeley Nucleonics 855B signal
// generator as a local oscillator over SCPI.
package bnc855b

import (
	"context"
	"errors"
	"fmt"

	"github.com/hb9tf/spinecho/instrument"
	"github.com/hb9tf/spinecho/scpi"
)

const (
	DeviceName = "bnc855b"
	// Channels is the number of RF outputs.
	Channels = 2
)

var limits = instrument.Limits{
	Frequency: instrument.Range{Min: 300e3, Max: 40e9},
	Power:     instrument.Range{Min: -20, Max: 25},
}

// Oscillator is one channel of the generator. The device has no temperature
// sensor and no standby mode.
type Oscillator struct {
	Conn    scpi.Transport
	Channel int
}

// New returns an oscillator on channel ch (1 or 2).
func New(conn scpi.Transport, ch int) (*Oscillator, error) {
	if ch < 1 || ch > Channels {
		return nil, fmt.Errorf("%s: channel %d does not exist, pick 1..%d", DeviceName, ch, Channels)
	}
	return &Oscillator{Conn: conn, Channel: ch}, nil
}

func (o *Oscillator) Name() string {
	return fmt.Sprintf("%s/ch%d", DeviceName, o.Channel)
}

func (o *Oscillator) Limits() instrument.Limits {
	return limits
}

func (o *Oscillator) SetFrequency(ctx context.Context, hz float64) error {
	return o.Conn.Write(ctx, fmt.Sprintf(":SOURce%d:FREQuency:CW %s", o.Channel, scpi.FormatFloat(hz)))
}

func (o *Oscillator) SetPower(ctx context.Context, dbm float64) error {
	return o.Conn.Write(ctx, fmt.Sprintf(":SOURce%d:POWer:AMPLitude %s", o.Channel, scpi.FormatFloat(dbm)))
}

func (o *Oscillator) SetOutput(ctx context.Context, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return o.Conn.Write(ctx, fmt.Sprintf(":OUTPut%d:STATe %s", o.Channel, state))
}

func (o *Oscillator) Status(ctx context.Context) (instrument.Status, error) {
	freq, err := scpi.QueryFloat(ctx, o.Conn, fmt.Sprintf(":SOURce%d:FREQuency:CW?", o.Channel))
	if err != nil {
		return instrument.Status{}, err
	}
	power, err := scpi.QueryFloat(ctx, o.Conn, fmt.Sprintf(":SOURce%d:POWer:AMPLitude?", o.Channel))
	if err != nil {
		return instrument.Status{}, err
	}
	on, err := scpi.QueryBool(ctx, o.Conn, fmt.Sprintf(":OUTPut%d:STATe?", o.Channel))
	if err != nil {
		return instrument.Status{}, err
	}
	return instrument.Status{
		Frequency:     freq,
		Power:         power,
		OutputEnabled: on,
	}, nil
}

func (o *Oscillator) Temperature(ctx context.Context) (float64, error) {
	return 0, fmt.Errorf("%s: temperature: %w", DeviceName, errors.ErrUnsupported)
}
