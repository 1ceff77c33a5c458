// Package engine implements the rate and phase conversion used to map a
// fixed-cadence sensor stream onto an arbitrary display grid.
package engine

import "fmt"

// Interpolation selects how output samples are computed between inputs.
type Interpolation int

const (
	// InterpLinear interpolates between the previous and current filtered samples.
	InterpLinear Interpolation = iota

	// InterpCatmullRom uses a 4-point cubic Hermite spline. It trails the
	// input by one extra source interval because it needs a sample on each
	// side of the interpolated segment.
	InterpCatmullRom
)

// String returns the interpolation name.
func (i Interpolation) String() string {
	switch i {
	case InterpLinear:
		return "linear"
	case InterpCatmullRom:
		return "catmull-rom"
	default:
		return fmt.Sprintf("interpolation(%d)", int(i))
	}
}

// ParseInterpolation maps a configuration name onto an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "", "linear":
		return InterpLinear, nil
	case "cubic", "catmull-rom":
		return InterpCatmullRom, nil
	default:
		return 0, fmt.Errorf("%w: unknown interpolation %q", ErrInvalidConfig, s)
	}
}

// span returns how many source intervals the interpolated segment lags
// behind the newest sample.
func (i Interpolation) span() int {
	if i == InterpCatmullRom {
		return 2
	}
	return 1
}

// hermite evaluates the Catmull-Rom spline through y0..y3 at x in [0, 1],
// interpolating between y1 and y2:
//
//	y = ((a·x + b)·x + c)·x + d
func hermite(y0, y1, y2, y3, x float64) float64 {
	coefA := -hermiteCoeff0_5*y0 + hermiteCoeff1_5*y1 - hermiteCoeff1_5*y2 + hermiteCoeff0_5*y3
	coefB := y0 - hermiteCoeff2_5*y1 + 2*y2 - hermiteCoeff0_5*y3
	coefC := -hermiteCoeff0_5*y0 + hermiteCoeff0_5*y2
	coefD := y1

	return ((coefA*x+coefB)*x+coefC)*x + coefD
}
