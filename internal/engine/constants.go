package engine

// Catmull-Rom (cubic Hermite) basis coefficients.
const (
	hermiteCoeff0_5 = 0.5
	hermiteCoeff1_5 = 1.5
	hermiteCoeff2_5 = 2.5
)

// cubicInterpolationPoints is the history length of the Catmull-Rom kernel.
const cubicInterpolationPoints = 4

// Filter warm-up on the first sample.
const (
	// primeTolerance is the relative deviation from the raw input at which
	// the filter is considered settled.
	primeTolerance = 0.01

	// primeMaxIterations bounds warm-up for slowly converging filters.
	primeMaxIterations = 100000
)

// msPerSecond converts rates in Hz to sample durations in milliseconds.
const msPerSecond = 1000.0
