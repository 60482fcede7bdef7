package dsp

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	noiseFrameSize       = 2048
	noiseHop             = noiseFrameSize / 4
	noiseProfileQuantile = 0.10
	noiseOverSubtraction = 1.5
	noiseSpectralFloor   = 0.05
)

// ReduceNoise attenuates the stationary noise floor of x using a noise profile
// estimated from the signal's own quietest frames.
//
// The signal is analysed with a Hann-windowed STFT, the mean magnitude spectrum of the
// quietest frames is subtracted from every frame (with over-subtraction and a
// spectral floor), and the result is resynthesized with weighted overlap-add.
// Signals shorter than one analysis frame are returned unchanged.
func ReduceNoise(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) < noiseFrameSize {
		copy(out, x)
		return out
	}

	pad := noiseFrameSize / 2
	frames := 1 + int(math.Ceil(float64(len(x)+2*pad-noiseFrameSize)/float64(noiseHop)))
	padded := make([]float64, (frames-1)*noiseHop+noiseFrameSize)
	copy(padded[pad:], x)

	window := hann(noiseFrameSize)
	fft := fourier.NewFFT(noiseFrameSize)
	frame := make([]float64, noiseFrameSize)

	spectra := make([][]complex128, frames)
	energy := make([]float64, frames)
	for f := 0; f < frames; f++ {
		start := f * noiseHop
		for i := range frame {
			frame[i] = padded[start+i] * window[i]
		}
		spectra[f] = fft.Coefficients(nil, frame)
		for _, c := range spectra[f] {
			energy[f] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	profile := noiseProfile(spectra, energy)

	synth := make([]float64, len(padded))
	norm := make([]float64, len(padded))
	for f, spectrum := range spectra {
		for b, c := range spectrum {
			mag := cmplx.Abs(c)
			if mag == 0 {
				continue
			}
			clean := mag - noiseOverSubtraction*profile[b]
			if floor := noiseSpectralFloor * mag; clean < floor {
				clean = floor
			}
			spectrum[b] = c * complex(clean/mag, 0)
		}

		seq := fft.Sequence(frame, spectrum)
		start := f * noiseHop
		for i, v := range seq {
			synth[start+i] += v / noiseFrameSize * window[i]
			norm[start+i] += window[i] * window[i]
		}
	}

	for i := range x {
		n := norm[pad+i]
		if n > 1e-8 {
			out[i] = synth[pad+i] / n
		}
	}
	return out
}

// noiseProfile averages magnitude spectra over the lowest-energy frames.
func noiseProfile(spectra [][]complex128, energy []float64) []float64 {
	order := make([]int, len(energy))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return energy[order[i]] < energy[order[j]] })

	count := int(float64(len(order)) * noiseProfileQuantile)
	if count < 1 {
		count = 1
	}

	profile := make([]float64, len(spectra[0]))
	for _, idx := range order[:count] {
		for b, c := range spectra[idx] {
			profile[b] += cmplx.Abs(c)
		}
	}
	for b := range profile {
		profile[b] /= float64(count)
	}
	return profile
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
