// Package kepco drives a Kepco bipolar power supply in current mode over SCPI.
package kepco

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/spinecho/scpi"
)

const (
	SourceName = "kepco"

	// MaxCurrent is the output limit of the supply in A.
	MaxCurrent = 20.0
	// ComplianceVoltage is set while in current mode, in V.
	ComplianceVoltage = 20.0

	DefaultStep  = 0.01 // A
	DefaultDwell = 50 * time.Millisecond

	maxSteps      = 1 << 20
	gridTolerance = 1e-9
)

// Source is a Kepco supply used as a current source.
type Source struct {
	Conn scpi.Transport

	// Step is the current increment per ramp step in A.
	Step float64
	// Dwell is the wait after each ramp step.
	Dwell time.Duration
}

func New(conn scpi.Transport) *Source {
	return &Source{
		Conn:  conn,
		Step:  DefaultStep,
		Dwell: DefaultDwell,
	}
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) Limit() float64 {
	return MaxCurrent
}

// PowerOn resets the supply, selects full range current mode at 0 A and
// enables the output.
func (s *Source) PowerOn(ctx context.Context) error {
	for _, cmd := range []string{
		"*RST; STATUS:PRESET; *CLS",
		"CURR:RANG 1",
		"VOLT:RANG 1",
		"CURR 0",
		"FUNC:MODE CURR",
		fmt.Sprintf("VOLT %s", scpi.FormatFloat(ComplianceVoltage)),
		"OUTP ON",
	} {
		if err := s.Conn.Write(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// PowerOff disables the output and zeroes the setpoint.
func (s *Source) PowerOff(ctx context.Context) error {
	if err := s.Conn.Write(ctx, "OUTP OFF"); err != nil {
		return err
	}
	return s.Conn.Write(ctx, "CURR 0")
}

func (s *Source) set(ctx context.Context, amps float64) error {
	if math.Abs(amps) > MaxCurrent {
		return fmt.Errorf("%s: %g A exceeds +/-%g A", SourceName, amps, MaxCurrent)
	}
	return s.Conn.Write(ctx, fmt.Sprintf("CURR %s", scpi.FormatFloat(amps)))
}

// Steps returns the setpoints a ramp from -> to passes through, ending on to.
// Intermediate setpoints lie on multiples of step, so no step is larger than
// step even when from is off the grid.
func Steps(from, to, step float64) ([]float64, error) {
	step = math.Abs(step)
	for _, v := range []float64{from, to, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s: ramp %g A -> %g A in %g A steps: non-finite value", SourceName, from, to, step)
		}
	}
	if step == 0 || from == to {
		return []float64{to}, nil
	}
	n := math.Abs(to-from) / step
	if n > maxSteps {
		return nil, fmt.Errorf("%s: ramp %g A -> %g A needs more than %d steps", SourceName, from, to, maxSteps)
	}

	// Snap from onto the grid when it is only off by float error.
	q := from / step
	if r := math.Round(q); math.Abs(q-r) < gridTolerance {
		q = r
	}
	k, dir := math.Floor(q)+1, 1.0
	if to < from {
		k, dir = math.Ceil(q)-1, -1.0
	}
	points := make([]float64, 0, int(n)+1)
	for ; ; k += dir {
		p := k * step
		if dir*(to-p) < gridTolerance*step {
			break
		}
		points = append(points, p)
	}
	return append(points, to), nil
}

// Ramp walks the setpoint from -> to in Step increments, waiting Dwell after
// each. Both ends must be finite and within the output limit; nothing is sent
// otherwise.
func (s *Source) Ramp(ctx context.Context, from, to float64) error {
	for _, v := range []float64{from, to} {
		if !(math.Abs(v) <= MaxCurrent) {
			return fmt.Errorf("%s: ramp %g A -> %g A: %g A is outside +/-%g A", SourceName, from, to, v, MaxCurrent)
		}
	}
	steps, err := Steps(from, to, s.Step)
	if err != nil {
		return err
	}
	glog.V(1).Infof("%s: ramping %.3f A -> %.3f A in %d steps\n", SourceName, from, to, len(steps))
	for _, amps := range steps {
		if err := s.set(ctx, amps); err != nil {
			return err
		}
		if err := sleep(ctx, s.Dwell); err != nil {
			return err
		}
	}
	return nil
}

// Current reads back the output current in A.
func (s *Source) Current(ctx context.Context) (float64, error) {
	return scpi.QueryFloat(ctx, s.Conn, "CURR?")
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
