package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/spinecho/waveform"
)

func constRows(n, width int, v float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, width)
		for j := range rows[i] {
			rows[i][j] = v
		}
	}
	return rows
}

func TestGrandAverageEmpty(t *testing.T) {
	a := NewAccumulator()
	_, err := a.GrandAverage()
	assert.ErrorIs(t, err, ErrEmptyAccumulator)
}

func TestFoldColumnMean(t *testing.T) {
	a := NewAccumulator()
	require.NoError(t, a.Fold(waveform.Batch{
		Index: 0,
		Rows: [][]float64{
			{1, 2, 3},
			{3, 4, 5},
		},
	}))
	got, err := a.GrandAverage()
	require.NoError(t, err)
	assert.Equal(t, waveform.Waveform{2, 3, 4}, got)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, a.Experiments())
}

func TestGrandAverageIsUnweightedMeanOfMeans(t *testing.T) {
	a := NewAccumulator()
	require.NoError(t, a.Fold(waveform.Batch{Index: 0, Rows: constRows(3, 4, 1)}))
	require.NoError(t, a.Fold(waveform.Batch{Index: 1, Rows: constRows(1, 4, 4)}))

	got, err := a.GrandAverage()
	require.NoError(t, err)
	assert.Equal(t, waveform.Waveform{2.5, 2.5, 2.5, 2.5}, got)

	means := a.BatchMeans()
	require.Len(t, means, 2)
	assert.Equal(t, 0, means[0].Index)
	assert.Equal(t, 3, means[0].Size)
	assert.Equal(t, 1, means[1].Index)
	assert.Equal(t, 4, a.Experiments())
}

func TestGrandAverageTracksEveryFold(t *testing.T) {
	a := NewAccumulator()
	rows := [][][]float64{
		{{0.5, -1}, {1.5, 3}},
		{{7, 7}},
		{{-2, 0}, {2, 0}, {3, 3}},
	}
	for i, r := range rows {
		require.NoError(t, a.Fold(waveform.Batch{Index: i, Rows: r}))
		want := make([]float64, 2)
		for _, m := range a.BatchMeans() {
			floats.Add(want, m.Mean)
		}
		floats.Scale(1/float64(a.Len()), want)
		got, err := a.GrandAverage()
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, []float64(got), 1e-12)
	}
}

func TestFoldRejectsBadShapes(t *testing.T) {
	a := NewAccumulator()
	assert.ErrorIs(t, a.Fold(waveform.Batch{Index: 0}), ErrEmptyBatch)
	assert.ErrorIs(t, a.Fold(waveform.Batch{Index: 0, Rows: [][]float64{{1, 2}, {1}}}), ErrShapeMismatch)

	require.NoError(t, a.Fold(waveform.Batch{Index: 0, Rows: constRows(2, 3, 1)}))
	assert.ErrorIs(t, a.Fold(waveform.Batch{Index: 1, Rows: constRows(2, 4, 1)}), ErrShapeMismatch)
	assert.Equal(t, 1, a.Len(), "rejected batch must not be folded")
}

func TestGrandAverageReturnsCopy(t *testing.T) {
	a := NewAccumulator()
	require.NoError(t, a.Fold(waveform.Batch{Rows: constRows(1, 2, 1)}))
	got, err := a.GrandAverage()
	require.NoError(t, err)
	got[0] = 100
	again, err := a.GrandAverage()
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0])
}

func TestSNR(t *testing.T) {
	var tt = []struct {
		name         string
		w            waveform.Waveform
		pulse, noise Region
		linear, db   float64
	}{
		{
			name:   "peak-to-peak 20 over std 2",
			w:      waveform.Waveform{10, 10, -10, -10, 2, -2, 2, -2},
			pulse:  Region{Start: 0, End: 4},
			noise:  Region{Start: 4},
			linear: 10,
			db:     20,
		},
		{
			name:   "peak-to-peak 10 over std 1",
			w:      waveform.Waveform{0, 10, 5, 2, 1, -1, 1, -1},
			pulse:  Region{Start: 0, End: 4},
			noise:  Region{Start: 4},
			linear: 10,
			db:     20,
		},
		{
			name:   "noise with offset",
			w:      waveform.Waveform{0, 4, 9, 11, 9, 11, 9},
			pulse:  Region{Start: 0, End: 3},
			noise:  Region{Start: 3},
			linear: 9,
			db:     20 * math.Log10(9),
		},
	}
	for _, tc := range tt {
		snr, err := SNR(tc.w, tc.pulse, tc.noise)
		require.NoError(t, err, tc.name)
		assert.InDelta(t, tc.linear, snr.Linear, 1e-12, tc.name)
		assert.InDelta(t, tc.db, snr.DB, 1e-12, tc.name)
	}
}

func TestSNRDegenerateNoise(t *testing.T) {
	var tt = []waveform.Waveform{
		{0, 10, 0, 0, 0, 0},
		{0, 10, 3, 3, 3, 3},
	}
	for _, w := range tt {
		_, err := SNR(w, Region{Start: 0, End: 2}, Region{Start: 2})
		assert.ErrorIs(t, err, ErrDegenerateNoiseRegion)
	}
}

func TestSNRRegionOutOfBounds(t *testing.T) {
	w := make(waveform.Waveform, 100)
	w[10] = 1
	w[50] = 1
	_, err := SNR(w, Region{Start: 120, End: 160}, Region{Start: 0, End: 100})
	assert.ErrorIs(t, err, ErrRegionOutOfBounds)
	_, err = SNR(w, Region{Start: 0, End: 20}, Region{Start: 250})
	assert.ErrorIs(t, err, ErrRegionOutOfBounds)
}

func TestRegionValidate(t *testing.T) {
	var tt = []struct {
		r     Region
		valid bool
	}{
		{r: Region{Start: 120, End: 160}, valid: true},
		{r: Region{Start: 250}, valid: true},
		{r: Region{Start: 160, End: 120}, valid: false},
		{r: Region{Start: 10, End: 10}, valid: false},
		{r: Region{Start: -1, End: 10}, valid: false},
	}
	for _, tc := range tt {
		err := tc.r.Validate()
		if tc.valid {
			assert.NoError(t, err, tc.r.String())
		} else {
			assert.Error(t, err, tc.r.String())
		}
	}
}

func TestPSDPeakAtTone(t *testing.T) {
	const fs = 552.96e6
	const f = fs / 8
	w := make(waveform.Waveform, 4096)
	for i := range w {
		w[i] = math.Sin(2 * math.Pi * f * float64(i) / fs)
	}
	pxx, freqs := PSD(w, fs)
	require.Len(t, pxx, WelchSegment/2+1)
	require.Len(t, freqs, len(pxx))
	assert.InDelta(t, f, freqs[floats.MaxIdx(pxx)], fs/WelchSegment)
	assert.InDelta(t, fs/2, freqs[len(freqs)-1], 1e-3)
}

func TestPSDShortWaveform(t *testing.T) {
	pxx, freqs := PSD(make(waveform.Waveform, 101), 1000)
	assert.Len(t, pxx, 51)
	assert.Len(t, freqs, 51)

	pxx, _ = PSD(waveform.Waveform{1}, 1000)
	assert.Empty(t, pxx)
}
