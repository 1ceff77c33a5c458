package filter

import (
	"fmt"
)

// Bank filters every component of a fixed-width vector stream with its own
// chain of identical Butterworth sections. State lives in one flat slice
// indexed by component*stages + stage so a 560-wide spectrum costs a single
// allocation.
type Bank struct {
	coeffs      Coefficients
	states      []biquadState
	width       int
	stages      int
	passthrough bool
}

// NewBank creates a bank for vectors of the given width converted from
// sourceRate to targetRate. Upsampling yields a passthrough bank.
func NewBank(width int, sourceRate, targetRate float64, stages int) (*Bank, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: bank width must be positive, got %d", ErrInvalidSpec, width)
	}
	if stages <= 0 || stages > maxStages {
		return nil, fmt.Errorf("%w: stages must be in [1, %d], got %d", ErrInvalidSpec, maxStages, stages)
	}

	b := &Bank{width: width, stages: stages}
	if !NeedsFilter(sourceRate, targetRate) {
		b.passthrough = true
		return b, nil
	}

	c, err := LowPassCoefficients(sourceRate, CutoffFor(targetRate))
	if err != nil {
		return nil, err
	}
	b.coeffs = c
	b.states = make([]biquadState, width*stages)
	return b, nil
}

// ProcessComponent filters sample x of component i.
func (b *Bank) ProcessComponent(i int, x float64) float64 {
	if b.passthrough {
		return x
	}
	chain := b.states[i*b.stages : (i+1)*b.stages]
	for s := range chain {
		x = b.coeffs.step(&chain[s], x)
	}
	return x
}

// Process filters src into dst component-wise. Both must have Width() elements.
func (b *Bank) Process(dst, src []float64) {
	if b.passthrough {
		copy(dst, src)
		return
	}
	for i, x := range src[:b.width] {
		dst[i] = b.ProcessComponent(i, x)
	}
}

// Reset clears every component's history.
func (b *Bank) Reset() {
	clear(b.states)
}

// Width returns the vector width.
func (b *Bank) Width() int { return b.width }

// Stages returns the number of sections per component.
func (b *Bank) Stages() int { return b.stages }

// Passthrough reports whether the bank leaves samples unchanged.
func (b *Bank) Passthrough() bool { return b.passthrough }
