package waveform

import (
	"fmt"
	"math"
)

var (
	freqSuffixLookup = map[int]string{
		0: "Hz",  // 10^0
		1: "kHz", // 10^3
		2: "MHz", // 10^6
		3: "GHz", // 10^9
		4: "THz", // 10^12
	}
	timeSuffixLookup = map[int]string{
		0: "ns",
		1: "us",
		2: "ms",
		3: "s",
	}
)

// ReadableFreq formats a frequency in Hz with an SI suffix, e.g. "552.96 MHz".
func ReadableFreq(freq float64) string {
	return readable(freq, freqSuffixLookup, "Hz")
}

// ReadableTime formats a duration given in nanoseconds, e.g. "1.25 us".
func ReadableTime(ns float64) string {
	return readable(ns, timeSuffixLookup, "ns")
}

func readable(v float64, suffixes map[int]string, base string) string {
	exp := 0
	for f := math.Abs(v); f >= 1000 && exp < len(suffixes)-1; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := suffixes[exp]
	if !ok {
		return fmt.Sprintf("%g %s", v, base)
	}
	return fmt.Sprintf("%.2f %s", v/math.Pow(1000, float64(exp)), suffix)
}
