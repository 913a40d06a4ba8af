// Package filter removes fixed-frequency interference from captured waveforms
// with a cascade of zero-phase second-order notch sections.
package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/mat"

	"github.com/hb9tf/spinecho/waveform"
)

const (
	// DefaultQ is the quality factor of every notch in a bank.
	DefaultQ = 30.0
	// Harmonics is the number of multiples of the fundamental that get a notch.
	Harmonics = 4
	// FundamentalDivisor places the fundamental at fs/8.
	FundamentalDivisor = 8

	// padLen is the odd-extension length used by the forward-backward pass,
	// three times the number of coefficients of a second-order section.
	padLen = 3 * 3
)

var (
	ErrInvalidFilterFrequency = errors.New("invalid filter frequency")
	ErrWaveformTooShort       = errors.New("waveform too short to filter")
)

// Spurs are interference lines that do not depend on the sampling rate.
var Spurs = []float64{
	984.96e6,
	1.47744e9,
	1.96992e9,
	838.08e6,
}

// Section is a single second-order notch with normalized coefficients (A[0] == 1).
type Section struct {
	Frequency float64 // Hz
	Q         float64

	B [3]float64
	A [3]float64

	// zi is the steady-state of the delay line for a unit step input.
	zi [2]float64
}

// NewSection designs a notch at freq for sampling frequency fs.
// freq must lie strictly between 0 and fs/2.
func NewSection(freq, q, fs float64) (Section, error) {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return Section{}, fmt.Errorf("%w: sampling frequency %g Hz", ErrInvalidFilterFrequency, fs)
	}
	nyquist := fs / 2
	if !(freq > 0 && freq < nyquist) {
		return Section{}, fmt.Errorf("%w: %s is outside (0, %s)", ErrInvalidFilterFrequency, waveform.ReadableFreq(freq), waveform.ReadableFreq(nyquist))
	}
	if !(q > 0) {
		return Section{}, fmt.Errorf("quality factor must be positive, got %g", q)
	}

	w0 := freq / nyquist
	bw := w0 / q
	w0 *= math.Pi
	bw *= math.Pi

	// -3 dB attenuation bandwidth.
	beta := math.Tan(bw / 2)
	gain := 1 / (1 + beta)
	cos := math.Cos(w0)

	s := Section{
		Frequency: freq,
		Q:         q,
		B:         [3]float64{gain, -2 * gain * cos, gain},
		A:         [3]float64{1, -2 * gain * cos, 2*gain - 1},
	}
	zi, err := steadyState(s.B, s.A)
	if err != nil {
		return Section{}, fmt.Errorf("notch at %s: %w", waveform.ReadableFreq(freq), err)
	}
	s.zi = zi
	return s, nil
}

// steadyState solves (I - companion(a)^T) zi = b[1:] - a[1:]*b[0] for the
// delay line state that a constant input settles into.
func steadyState(b, a [3]float64) ([2]float64, error) {
	lhs := mat.NewDense(2, 2, []float64{
		1 + a[1], -1,
		a[2], 1,
	})
	rhs := mat.NewVecDense(2, []float64{
		b[1] - a[1]*b[0],
		b[2] - a[2]*b[0],
	})
	var zi mat.VecDense
	if err := zi.SolveVec(lhs, rhs); err != nil {
		return [2]float64{}, fmt.Errorf("unable to solve initial conditions: %w", err)
	}
	return [2]float64{zi.AtVec(0), zi.AtVec(1)}, nil
}

// lfilter runs the section over x in place (direct form II transposed),
// starting from the steady state scaled by x0.
func (s *Section) lfilter(x []float64, x0 float64) {
	z0, z1 := s.zi[0]*x0, s.zi[1]*x0
	for i, v := range x {
		y := s.B[0]*v + z0
		z0 = s.B[1]*v - s.A[1]*y + z1
		z1 = s.B[2]*v - s.A[2]*y
		x[i] = y
	}
}

// filtfilt applies the section forward and backward over an odd extension of x.
func (s *Section) filtfilt(x []float64) []float64 {
	n := len(x)
	ext := make([]float64, n+2*padLen)
	for i := 0; i < padLen; i++ {
		ext[i] = 2*x[0] - x[padLen-i]
		ext[padLen+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[padLen:], x)

	s.lfilter(ext, ext[0])
	reverse(ext)
	s.lfilter(ext, ext[0])
	reverse(ext)

	return ext[padLen : padLen+n]
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// Spec is an immutable cascade of notch sections for one sampling frequency.
type Spec struct {
	SamplingFrequency float64
	Sections          []Section
}

// Targets returns the candidate notch frequencies for fs: the first Harmonics
// multiples of fs/FundamentalDivisor followed by the fixed Spurs.
func Targets(fs float64) []float64 {
	f0 := fs / FundamentalDivisor
	targets := make([]float64, 0, Harmonics+len(Spurs))
	for k := 1; k <= Harmonics; k++ {
		targets = append(targets, f0*float64(k))
	}
	return append(targets, Spurs...)
}

// Build designs the notch bank for sampling frequency fs. Targets that do not
// lie strictly inside (0, fs/2) cannot be notched at this rate and are left out.
func Build(fs float64) (*Spec, error) {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, fmt.Errorf("%w: sampling frequency %g Hz", ErrInvalidFilterFrequency, fs)
	}

	spec := &Spec{SamplingFrequency: fs}
	for _, f := range Targets(fs) {
		s, err := NewSection(f, DefaultQ, fs)
		if errors.Is(err, ErrInvalidFilterFrequency) {
			glog.V(1).Infof("no notch at %s: %s\n", waveform.ReadableFreq(f), err)
			continue
		}
		if err != nil {
			return nil, err
		}
		spec.Sections = append(spec.Sections, s)
	}
	if len(spec.Sections) == 0 {
		return nil, fmt.Errorf("%w: no target inside the band of %s", ErrInvalidFilterFrequency, waveform.ReadableFreq(fs))
	}
	glog.V(2).Infof("notch bank for fs=%s: %v\n", waveform.ReadableFreq(fs), spec.Frequencies())
	return spec, nil
}

// Frequencies lists the notch centers of the bank in cascade order.
func (s *Spec) Frequencies() []float64 {
	freqs := make([]float64, len(s.Sections))
	for i, sec := range s.Sections {
		freqs[i] = sec.Frequency
	}
	return freqs
}

// MinLength is the shortest waveform Apply accepts.
func (s *Spec) MinLength() int {
	return padLen + 1
}

// Apply runs every section in sequence, each as a zero-phase forward-backward
// pass. The input is not modified.
func (s *Spec) Apply(w waveform.Waveform) (waveform.Waveform, error) {
	if len(w) < s.MinLength() {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrWaveformTooShort, len(w), s.MinLength())
	}
	out := make(waveform.Waveform, len(w))
	copy(out, w)
	for i := range s.Sections {
		out = s.Sections[i].filtfilt(out)
	}
	return out, nil
}

// ApplyBatch filters every row independently and keeps the batch dimension.
func (s *Spec) ApplyBatch(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		filtered, err := s.Apply(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = filtered
	}
	return out, nil
}
