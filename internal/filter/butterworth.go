package filter

import (
	"fmt"
	"math"
	"math/cmplx"
)

// butterworthQ is the quality factor of a maximally flat 2nd-order section.
const butterworthQ = math.Sqrt2 / 2

// Coefficients are the a0-normalized taps of a biquad section:
//
//	y[n] = B0·x[n] + B1·x[n-1] + B2·x[n-2] - A1·y[n-1] - A2·y[n-2]
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// LowPassCoefficients designs a Butterworth low-pass biquad with the
// bilinear transform (RBJ cookbook form).
func LowPassCoefficients(sampleRate, cutoff float64) (Coefficients, error) {
	if sampleRate <= 0 {
		return Coefficients{}, fmt.Errorf("%w: sample rate %v", ErrInvalidCutoff, sampleRate)
	}
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		return Coefficients{}, fmt.Errorf("%w: %v Hz not in (0, %v)", ErrInvalidCutoff, cutoff, sampleRate/2)
	}

	omega := 2 * math.Pi * cutoff / sampleRate
	sin, cos := math.Sincos(omega)
	alpha := sin / (2 * butterworthQ)

	a0 := 1 + alpha
	return Coefficients{
		B0: (1 - cos) / 2 / a0,
		B1: (1 - cos) / a0,
		B2: (1 - cos) / 2 / a0,
		A1: -2 * cos / a0,
		A2: (1 - alpha) / a0,
	}, nil
}

// biquadState is the direct form I history of one section.
type biquadState struct {
	x1, x2 float64
	y1, y2 float64
}

func (c *Coefficients) step(s *biquadState, x float64) float64 {
	y := c.B0*x + c.B1*s.x1 + c.B2*s.x2 - c.A1*s.y1 - c.A2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// Response evaluates H(e^jω) at freq Hz for the given sample rate.
func (c *Coefficients) Response(freq, sampleRate float64) complex128 {
	z1 := cmplx.Exp(complex(0, -2*math.Pi*freq/sampleRate))
	z2 := z1 * z1
	num := complex(c.B0, 0) + complex(c.B1, 0)*z1 + complex(c.B2, 0)*z2
	den := 1 + complex(c.A1, 0)*z1 + complex(c.A2, 0)*z2
	return num / den
}

// Butterworth is a streaming 2nd-order Butterworth low-pass filter.
type Butterworth struct {
	coeffs     Coefficients
	state      biquadState
	sampleRate float64
	cutoff     float64
}

// NewButterworthLowPass creates a low-pass filter with the given cutoff in Hz.
func NewButterworthLowPass(sampleRate, cutoff float64) (*Butterworth, error) {
	c, err := LowPassCoefficients(sampleRate, cutoff)
	if err != nil {
		return nil, err
	}
	return &Butterworth{coeffs: c, sampleRate: sampleRate, cutoff: cutoff}, nil
}

// Process filters one sample.
func (b *Butterworth) Process(x float64) float64 {
	return b.coeffs.step(&b.state, x)
}

// Reset clears the filter history.
func (b *Butterworth) Reset() {
	b.state = biquadState{}
}

// Coefficients returns the normalized biquad taps.
func (b *Butterworth) Coefficients() Coefficients { return b.coeffs }

// Cutoff returns the -3 dB frequency in Hz.
func (b *Butterworth) Cutoff() float64 { return b.cutoff }

// SampleRate returns the rate the filter was designed for.
func (b *Butterworth) SampleRate() float64 { return b.sampleRate }

// Response returns the complex frequency response at freq Hz.
func (b *Butterworth) Response(freq float64) complex128 {
	return b.coeffs.Response(freq, b.sampleRate)
}
