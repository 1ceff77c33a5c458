// Package filter provides the streaming low-pass filters used to band-limit
// sensor streams before they are decimated for display.
package filter

import (
	"errors"
	"fmt"
)

// Errors returned by filter constructors.
var (
	// ErrInvalidCutoff indicates a cutoff outside (0, sampleRate/2).
	ErrInvalidCutoff = errors.New("invalid filter cutoff")

	// ErrInvalidSpec indicates an unusable filter specification.
	ErrInvalidSpec = errors.New("invalid filter specification")
)

// Filter processes one sample at a time, keeping whatever history it needs.
type Filter interface {
	// Process filters x and returns the output sample.
	Process(x float64) float64

	// Reset clears the filter history.
	Reset()
}

// NoOp passes samples through unchanged.
type NoOp struct{}

// Process returns x.
func (NoOp) Process(x float64) float64 { return x }

// Reset does nothing.
func (NoOp) Reset() {}

// Cascade applies filters in order, feeding each output into the next.
type Cascade []Filter

// Process runs x through every stage.
func (c Cascade) Process(x float64) float64 {
	for _, f := range c {
		x = f.Process(x)
	}
	return x
}

// Reset resets every stage.
func (c Cascade) Reset() {
	for _, f := range c {
		f.Reset()
	}
}

// Kind selects the anti-aliasing filter family.
type Kind int

const (
	// KindButterworth is a 2nd-order IIR Butterworth low-pass (the default).
	KindButterworth Kind = iota

	// KindFIR is a linear-phase Kaiser windowed-sinc low-pass.
	KindFIR
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindButterworth:
		return "butterworth"
	case KindFIR:
		return "fir"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "butterworth", "iir":
		return KindButterworth, nil
	case "fir", "kaiser":
		return KindFIR, nil
	default:
		return 0, fmt.Errorf("%w: unknown filter kind %q", ErrInvalidSpec, s)
	}
}

// Default design parameters.
const (
	// Cutoff is placed at a quarter of the target rate, well inside its Nyquist band.
	cutoffDivisor = 4.0

	defaultStages         = 1
	defaultFIRAttenuation = 60.0 // dB
	firTransitionFraction = 0.5  // transition width relative to cutoff
	maxStages             = 8
)

// Spec describes the anti-aliasing filter to build for a rate conversion.
type Spec struct {
	// Kind selects the filter family.
	Kind Kind

	// Stages is the number of cascaded biquads (Butterworth only). Zero means 1.
	Stages int

	// Attenuation is the FIR stopband attenuation in dB. Zero means 60 dB.
	Attenuation float64
}

// Validate rejects negative stage counts and unknown kinds.
func (s Spec) Validate() error {
	if s.Stages < 0 || s.Stages > maxStages {
		return fmt.Errorf("%w: stages must be in [0, %d], got %d", ErrInvalidSpec, maxStages, s.Stages)
	}
	if s.Attenuation < 0 {
		return fmt.Errorf("%w: attenuation must be non-negative", ErrInvalidSpec)
	}
	if s.Kind != KindButterworth && s.Kind != KindFIR {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, s.Kind)
	}
	return nil
}

func (s Spec) stages() int {
	if s.Stages == 0 {
		return defaultStages
	}
	return s.Stages
}

// NeedsFilter reports whether converting sourceRate to targetRate requires
// anti-aliasing. Only downsampling does.
func NeedsFilter(sourceRate, targetRate float64) bool {
	return sourceRate > targetRate
}

// CutoffFor returns the anti-aliasing cutoff used for targetRate.
func CutoffFor(targetRate float64) float64 {
	return targetRate / cutoffDivisor
}

// Design builds the filter for converting sourceRate to targetRate.
// Upsampling and equal rates get a NoOp.
func Design(sourceRate, targetRate float64, spec Spec) (Filter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !NeedsFilter(sourceRate, targetRate) {
		return NoOp{}, nil
	}

	cutoff := CutoffFor(targetRate)

	switch spec.Kind {
	case KindFIR:
		att := spec.Attenuation
		if att == 0 {
			att = defaultFIRAttenuation
		}
		return NewFIRLowPass(sourceRate, cutoff, cutoff*firTransitionFraction, att)
	default:
		n := spec.stages()
		if n == 1 {
			return NewButterworthLowPass(sourceRate, cutoff)
		}
		c := make(Cascade, 0, n)
		for range n {
			bw, err := NewButterworthLowPass(sourceRate, cutoff)
			if err != nil {
				return nil, err
			}
			c = append(c, bw)
		}
		return c, nil
	}
}
