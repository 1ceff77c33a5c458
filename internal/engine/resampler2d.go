package engine

import (
	"fmt"

	"github.com/tphakala/go-sensor-playback/internal/filter"
	"gonum.org/v1/gonum/floats"
)

// defaultVectorStages is the number of Butterworth sections per component
// used when downsampling vector streams.
const defaultVectorStages = 2

// VectorPoint is one resampled output vector.
type VectorPoint struct {
	Timestamp float64
	Values    []float64
}

// Resampler2D converts a stream of fixed-width vectors, filtering every
// component independently and interpolating linearly across the vector.
type Resampler2D struct {
	cfg   Config
	bank  *filter.Bank
	clk   clock
	width int
	prev  []float64
	cur   []float64
}

// NewResampler2D creates a vector resampler. Only linear interpolation and
// Butterworth filtering are supported; Filter.Stages defaults to 2.
func NewResampler2D(width int, cfg Config) (*Resampler2D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: width must be positive, got %d", ErrInvalidConfig, width)
	}
	if cfg.Interpolation != InterpLinear {
		return nil, fmt.Errorf("%w: vector resampling supports linear interpolation only", ErrInvalidConfig)
	}
	if cfg.Filter.Kind != filter.KindButterworth {
		return nil, fmt.Errorf("%w: vector resampling supports butterworth filters only", ErrInvalidConfig)
	}

	stages := cfg.Filter.Stages
	if stages == 0 {
		stages = defaultVectorStages
	}
	bank, err := filter.NewBank(width, cfg.SourceRate, cfg.TargetRate, stages)
	if err != nil {
		return nil, fmt.Errorf("anti-aliasing bank: %w", err)
	}

	return &Resampler2D{
		cfg:   cfg,
		bank:  bank,
		clk:   newClock(&cfg),
		width: width,
		prev:  make([]float64, width),
		cur:   make([]float64, width),
	}, nil
}

// Next consumes one input vector and returns the outputs it completes.
// Returned vectors are freshly allocated and owned by the caller.
func (r *Resampler2D) Next(x []float64) ([]VectorPoint, error) {
	if len(x) != r.width {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(x), r.width)
	}

	r.prev, r.cur = r.cur, r.prev
	r.bank.Process(r.cur, x)

	if r.clk.consumed == 0 {
		for i, raw := range x {
			r.cur[i] = settle(func(v float64) float64 {
				return r.bank.ProcessComponent(i, v)
			}, raw, r.cur[i])
		}
		r.clk.consumed = 1
		return nil, nil
	}
	r.clk.consumed++

	lo, hi := r.clk.window(1)

	var out []VectorPoint
	for p := r.clk.position(); p <= hi; p = r.clk.position() {
		t := p - lo
		values := make([]float64, r.width)
		floats.ScaleTo(values, 1-t, r.prev)
		floats.AddScaled(values, t, r.cur)
		out = append(out, VectorPoint{Timestamp: r.clk.timestamp(), Values: values})
		r.clk.next++
	}

	return out, nil
}

// Width returns the vector width.
func (r *Resampler2D) Width() int { return r.width }

// Bank returns the per-component filter bank.
func (r *Resampler2D) Bank() *filter.Bank { return r.bank }

// TargetDuration returns the output interval in milliseconds.
func (r *Resampler2D) TargetDuration() float64 { return r.clk.targetDuration }
