package dsp

import (
	"fmt"
	"math"
)

// Peak returns the maximum absolute sample value.
func Peak(x []float64) float64 {
	peak := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize scales x so its peak equals target. Silent input is returned as-is.
func Normalize(x []float64, target float64) []float64 {
	out := make([]float64, len(x))
	peak := Peak(x)
	if peak == 0 {
		copy(out, x)
		return out
	}
	gain := target / peak
	for i, v := range x {
		out[i] = v * gain
	}
	return out
}

// SoftLimit compresses the part of each sample's magnitude above threshold to ratio
// of its original excess, preserving sign.
func SoftLimit(x []float64, threshold, ratio float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		a := math.Abs(v)
		if a <= threshold {
			out[i] = v
			continue
		}
		out[i] = math.Copysign(threshold+(a-threshold)*ratio, v)
	}
	return out
}

// Downmix averages interleaved frames of the given channel count into mono.
func Downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		out := make([]float64, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	for f := 0; f < frames; f++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum / float64(channels)
	}
	return out
}

// Mix returns wa*a + wb*b sample-wise. Both inputs must have the same length.
func Mix(a []float64, wa float64, b []float64, wb float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("mix length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out, nil
}

// VoiceEmphasis combines a wide voice band-pass (300-3400 Hz, order 4) at 70% with a
// narrow presence band-pass (1000-2000 Hz, order 2) at 30%.
func VoiceEmphasis(x []float64, sampleRate float64) ([]float64, error) {
	wide, err := BandPass(4, 300, 3400, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("voice band: %w", err)
	}
	narrow, err := BandPass(2, 1000, 2000, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("presence band: %w", err)
	}
	return Mix(wide.Filter(x), 0.7, narrow.Filter(x), 0.3)
}
