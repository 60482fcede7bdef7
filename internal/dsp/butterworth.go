// Package dsp holds the signal primitives used to enhance finished recordings.
//
// Samples are float64 in normalized full scale ([-1, 1]). Every function returns a
// new slice and leaves its input untouched.
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Section is one second-order IIR stage. A[0] is always 1.
type Section struct {
	B [3]float64
	A [3]float64
}

// Cascade is a filter realized as second-order sections applied in sequence.
type Cascade []Section

// BandPass designs a digital Butterworth band-pass filter.
//
// order is the order of the low-pass prototype (scipy's butter(N, [lo, hi], 'band')
// convention), so the resulting filter has 2*order poles and order sections. Band
// edges are pre-warped for the bilinear transform and the cascade is scaled to unity
// gain at the geometric band centre.
func BandPass(order int, lowHz, highHz, sampleRate float64) (Cascade, error) {
	if order < 1 {
		return nil, fmt.Errorf("band-pass order must be >= 1, got %d", order)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	nyquist := sampleRate / 2
	if lowHz <= 0 || highHz <= lowHz || highHz >= nyquist {
		return nil, fmt.Errorf("band %g-%g Hz is invalid for sample rate %g Hz", lowHz, highHz, sampleRate)
	}

	fs2 := 2 * sampleRate
	w1 := fs2 * math.Tan(math.Pi*lowHz/sampleRate)
	w2 := fs2 * math.Tan(math.Pi*highHz/sampleRate)
	bandwidth := w2 - w1
	centreSq := w1 * w2

	poles := make([]complex128, 0, 2*order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		half := cmplx.Rect(1, theta) * complex(bandwidth/2, 0)
		root := cmplx.Sqrt(half*half - complex(centreSq, 0))
		for _, s := range []complex128{half + root, half - root} {
			poles = append(poles, (complex(fs2, 0)+s)/(complex(fs2, 0)-s))
		}
	}

	cascade, err := pairPoles(poles)
	if err != nil {
		return nil, err
	}

	centre := 2 * math.Atan(math.Sqrt(centreSq)/fs2)
	gain := cmplx.Abs(cascade.response(centre))
	if gain == 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, fmt.Errorf("band-pass %g-%g Hz has degenerate gain", lowHz, highHz)
	}
	for i := range cascade[0].B {
		cascade[0].B[i] /= gain
	}
	return cascade, nil
}

// pairPoles groups digital poles into sections with zeros at z=1 and z=-1.
func pairPoles(poles []complex128) (Cascade, error) {
	const eps = 1e-10

	var (
		cascade Cascade
		reals   []float64
	)
	for _, p := range poles {
		switch {
		case imag(p) > eps:
			cascade = append(cascade, Section{
				B: [3]float64{1, 0, -1},
				A: [3]float64{1, -2 * real(p), real(p)*real(p) + imag(p)*imag(p)},
			})
		case math.Abs(imag(p)) <= eps:
			reals = append(reals, real(p))
		}
	}
	if len(reals)%2 != 0 {
		return nil, fmt.Errorf("unpaired real pole in band-pass design")
	}
	for i := 0; i < len(reals); i += 2 {
		cascade = append(cascade, Section{
			B: [3]float64{1, 0, -1},
			A: [3]float64{1, -(reals[i] + reals[i+1]), reals[i] * reals[i+1]},
		})
	}
	if len(cascade) == 0 {
		return nil, fmt.Errorf("band-pass design produced no sections")
	}
	return cascade, nil
}

// response evaluates the complex frequency response at normalized angle omega (rad/sample).
func (c Cascade) response(omega float64) complex128 {
	z1 := cmplx.Rect(1, -omega)
	z2 := z1 * z1
	h := complex(1, 0)
	for _, s := range c {
		num := complex(s.B[0], 0) + complex(s.B[1], 0)*z1 + complex(s.B[2], 0)*z2
		den := complex(1, 0) + complex(s.A[1], 0)*z1 + complex(s.A[2], 0)*z2
		h *= num / den
	}
	return h
}

// Magnitude returns |H| at freqHz for a cascade designed at sampleRate.
func (c Cascade) Magnitude(freqHz, sampleRate float64) float64 {
	return cmplx.Abs(c.response(2 * math.Pi * freqHz / sampleRate))
}

// Filter runs x through every section (transposed direct form II, zero initial state).
func (c Cascade) Filter(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, s := range c {
		var z1, z2 float64
		for i, in := range out {
			y := s.B[0]*in + z1
			z1 = s.B[1]*in - s.A[1]*y + z2
			z2 = s.B[2]*in - s.A[2]*y
			out[i] = y
		}
	}
	return out
}
