package stats

import (
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"

	"github.com/hb9tf/spinecho/waveform"
)

// WelchSegment is the number of samples per Welch segment.
const WelchSegment = 512

// PSD estimates the one-sided power spectral density of w with Welch's
// method (Hann window, 50% overlap). Waveforms shorter than WelchSegment use
// a single segment of their own (even) length.
func PSD(w waveform.Waveform, fs float64) (pxx, freqs []float64) {
	nfft := WelchSegment
	if len(w) < nfft {
		nfft = len(w) &^ 1
	}
	if nfft < 2 {
		return []float64{}, []float64{}
	}
	return spectral.Pwelch(w, fs, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hann,
	})
}
