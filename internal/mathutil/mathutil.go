// Package mathutil provides small numeric helpers shared by the filter and
// resampling packages.
package mathutil

import (
	"math"
)

// Kaiser window formula constants (Kaiser & Schafer).
const (
	kaiserAttHigh   = 50.0 // dB
	kaiserAttMedium = 21.0 // dB

	kaiserBetaHighCoeff   = 0.1102
	kaiserBetaHighOffset  = 8.7
	kaiserBetaMediumCoeff = 0.5842
	kaiserBetaMediumPower = 0.4
	kaiserBetaMediumLin   = 0.07886

	// N ≈ (att - 8) / (2.285 · 2π · Δf)
	kaiserLengthOffset     = 8.0
	kaiserLengthMultiplier = 2.285

	minFilterLength     = 3
	maxFilterLength     = 4095
	defaultTransitionBW = 0.01
)

// Series evaluation limits for BesselI0.
const (
	besselMaxTerms  = 64
	besselTolerance = 1e-16
)

// BesselI0 computes the modified Bessel function of the first kind, order zero.
// It sums the power series Σ ((x/2)^k / k!)² until terms fall below machine precision,
// which converges quickly for the β values used by Kaiser windows.
func BesselI0(x float64) float64 {
	half := x / 2
	sum := 1.0
	term := 1.0
	for k := 1; k < besselMaxTerms; k++ {
		f := half / float64(k)
		term *= f * f
		sum += term
		if term < besselTolerance*sum {
			break
		}
	}
	return sum
}

// KaiserBeta returns the Kaiser window β for the desired stopband attenuation in dB.
func KaiserBeta(attenuation float64) float64 {
	switch {
	case attenuation > kaiserAttHigh:
		return kaiserBetaHighCoeff * (attenuation - kaiserBetaHighOffset)
	case attenuation >= kaiserAttMedium:
		delta := attenuation - kaiserAttMedium
		return kaiserBetaMediumCoeff*math.Pow(delta, kaiserBetaMediumPower) + kaiserBetaMediumLin*delta
	default:
		return 0
	}
}

// EstimateFilterLength estimates the odd FIR length needed for the given
// attenuation (dB) and transition bandwidth (fraction of the sample rate).
func EstimateFilterLength(attenuation, transitionBW float64) int {
	if transitionBW <= 0 {
		transitionBW = defaultTransitionBW
	}

	n := (attenuation - kaiserLengthOffset) / (kaiserLengthMultiplier * 2 * math.Pi * transitionBW)
	taps := int(math.Ceil(n))
	if taps%2 == 0 {
		taps++
	}
	return min(max(taps, minFilterLength), maxFilterLength)
}

// Lerp returns a·(1-t) + b·t. Unlike a + (b-a)·t, this form yields a and b
// exactly at t=0 and t=1.
func Lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

// PositiveMod returns x mod m in [0, m) for m > 0, regardless of the sign of x.
func PositiveMod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	// math.Mod can return m after the correction for tiny negative inputs
	if r >= m {
		r = 0
	}
	return r
}

// RelativeDeviation returns |a-b| / |b|, or |a-b| when b is zero.
func RelativeDeviation(a, b float64) float64 {
	d := math.Abs(a - b)
	if b == 0 {
		return d
	}
	return d / math.Abs(b)
}
