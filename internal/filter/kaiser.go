package filter

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/tphakala/go-sensor-playback/internal/mathutil"
	"github.com/tphakala/simd/f64"
)

const (
	minFilterTaps = 3
	maxFilterTaps = 4095

	sincZeroThreshold = 1e-10
)

// KaiserWindow generates a symmetric Kaiser window of the given length and β.
//
//	w[n] = I₀(β·√(1 − ((n − α)/α)²)) / I₀(β),  α = (N−1)/2
func KaiserWindow(length int, beta float64) []float64 {
	if length < 1 {
		return []float64{}
	}

	window := make([]float64, length)
	if length == 1 {
		window[0] = 1
		return window
	}

	alpha := float64(length-1) / 2
	i0Beta := mathutil.BesselI0(beta)

	for n := range length {
		x := (float64(n) - alpha) / alpha
		window[n] = mathutil.BesselI0(beta*math.Sqrt(1-x*x)) / i0Beta
	}

	return window
}

// FIRParams holds parameters for windowed-sinc low-pass design.
type FIRParams struct {
	// NumTaps is the filter length. Odd lengths give an integer group delay.
	NumTaps int

	// Cutoff is the normalized cutoff frequency in (0, 0.5).
	Cutoff float64

	// Attenuation is the stopband attenuation in dB.
	Attenuation float64
}

// Validate checks the design parameters.
func (p *FIRParams) Validate() error {
	if p.NumTaps < minFilterTaps || p.NumTaps > maxFilterTaps {
		return fmt.Errorf("%w: %d taps (must be %d-%d)", ErrInvalidSpec, p.NumTaps, minFilterTaps, maxFilterTaps)
	}
	if p.Cutoff <= 0 || p.Cutoff >= 0.5 {
		return fmt.Errorf("%w: normalized cutoff %f not in (0, 0.5)", ErrInvalidCutoff, p.Cutoff)
	}
	if p.Attenuation < 0 {
		return fmt.Errorf("%w: attenuation %f dB", ErrInvalidSpec, p.Attenuation)
	}
	return nil
}

// DesignLowPass designs unity-DC-gain windowed-sinc coefficients.
func DesignLowPass(p FIRParams) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	window := KaiserWindow(p.NumTaps, mathutil.KaiserBeta(p.Attenuation))
	coeffs := make([]float64, p.NumTaps)
	center := float64(p.NumTaps-1) / 2

	for n := range p.NumTaps {
		x := float64(n) - center

		// sin(2πfc·x)/(πx), with limit 2fc at x = 0
		var sinc float64
		if math.Abs(x) < sincZeroThreshold {
			sinc = 2 * p.Cutoff
		} else {
			sinc = math.Sin(2*math.Pi*p.Cutoff*x) / (math.Pi * x)
		}
		coeffs[n] = sinc * window[n]
	}

	if sum := f64.Sum(coeffs); math.Abs(sum) > sincZeroThreshold {
		f64.Scale(coeffs, coeffs, 1/sum)
	}

	return coeffs, nil
}

// FIR is a streaming linear-phase low-pass filter. History is kept twice in
// a buffer of length 2N so every output is one contiguous dot product.
type FIR struct {
	coeffs     []float64
	history    []float64
	pos        int
	sampleRate float64
	cutoff     float64
}

// NewFIRLowPass designs a Kaiser FIR for sampleRate with cutoff and
// transition width in Hz and the given stopband attenuation in dB.
func NewFIRLowPass(sampleRate, cutoff, transition, attenuation float64) (*FIR, error) {
	if sampleRate <= 0 || cutoff <= 0 || cutoff >= sampleRate/2 {
		return nil, fmt.Errorf("%w: %v Hz at %v Hz", ErrInvalidCutoff, cutoff, sampleRate)
	}

	taps := mathutil.EstimateFilterLength(attenuation, transition/sampleRate)
	coeffs, err := DesignLowPass(FIRParams{
		NumTaps:     taps,
		Cutoff:      cutoff / sampleRate,
		Attenuation: attenuation,
	})
	if err != nil {
		return nil, err
	}

	return &FIR{
		coeffs:     coeffs,
		history:    make([]float64, 2*len(coeffs)),
		sampleRate: sampleRate,
		cutoff:     cutoff,
	}, nil
}

// Process filters one sample.
func (f *FIR) Process(x float64) float64 {
	n := len(f.coeffs)
	f.pos--
	if f.pos < 0 {
		f.pos = n - 1
	}
	f.history[f.pos] = x
	f.history[f.pos+n] = x
	// history[pos+k] holds x[t-k]
	return f64.DotProductUnsafe(f.coeffs, f.history[f.pos:f.pos+n])
}

// Reset clears the delay line.
func (f *FIR) Reset() {
	clear(f.history)
	f.pos = 0
}

// Taps returns the coefficients.
func (f *FIR) Taps() []float64 { return f.coeffs }

// Cutoff returns the design cutoff in Hz.
func (f *FIR) Cutoff() float64 { return f.cutoff }

// SampleRate returns the rate the filter was designed for.
func (f *FIR) SampleRate() float64 { return f.sampleRate }

// Response returns H(e^jω) at freq Hz.
func (f *FIR) Response(freq float64) complex128 {
	omega := 2 * math.Pi * freq / f.sampleRate
	var h complex128
	for n, c := range f.coeffs {
		h += complex(c, 0) * cmplx.Exp(complex(0, -omega*float64(n)))
	}
	return h
}

// Responder is implemented by filters with a known frequency response.
type Responder interface {
	Response(freq float64) complex128
}

// CascadeResponse multiplies the responses of all stages in c. Stages that
// do not implement Responder are treated as unity.
func CascadeResponse(c Cascade, freq float64) complex128 {
	h := complex(1, 0)
	for _, f := range c {
		if r, ok := f.(Responder); ok {
			h *= r.Response(freq)
		}
	}
	return h
}

// MagnitudeDB converts a linear magnitude to decibels.
func MagnitudeDB(magnitude float64) float64 {
	const minMagnitude = 1e-10
	if magnitude < minMagnitude {
		magnitude = minMagnitude
	}
	return 20 * math.Log10(magnitude)
}

// ResponseDB returns the magnitude response of f at freq in dB. NoOp is 0 dB.
func ResponseDB(f Filter, freq float64) float64 {
	switch v := f.(type) {
	case Cascade:
		return MagnitudeDB(cmplx.Abs(CascadeResponse(v, freq)))
	case Responder:
		return MagnitudeDB(cmplx.Abs(v.Response(freq)))
	default:
		return 0
	}
}
