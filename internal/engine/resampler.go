package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/tphakala/go-sensor-playback/internal/filter"
	"github.com/tphakala/go-sensor-playback/internal/mathutil"
)

// Common errors returned by resampler constructors.
var (
	// ErrInvalidConfig indicates invalid resampler configuration.
	ErrInvalidConfig = errors.New("invalid resampler configuration")

	// ErrInvalidRate indicates a non-positive or non-finite sample rate.
	ErrInvalidRate = errors.New("invalid sample rate")

	// ErrWidthMismatch indicates an input vector of the wrong width.
	ErrWidthMismatch = errors.New("vector width mismatch")
)

// Config describes a rate and phase conversion. All times are in milliseconds.
type Config struct {
	// SourceStart is the timestamp of the first input sample.
	SourceStart float64

	// SourceRate is the input sample rate in Hz.
	SourceRate float64

	// TargetRate is the output sample rate in Hz.
	TargetRate float64

	// TargetOffset shifts the output grid relative to SourceStart. It is
	// normalized into [0, target duration), so any value is accepted.
	TargetOffset float64

	// Interpolation selects the interpolation kernel.
	Interpolation Interpolation

	// Filter selects the anti-aliasing filter used when downsampling.
	Filter filter.Spec
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for _, rate := range []float64{c.SourceRate, c.TargetRate} {
		if !(rate > 0) || math.IsInf(rate, 0) {
			return fmt.Errorf("%w: %v Hz", ErrInvalidRate, rate)
		}
	}
	if math.IsNaN(c.SourceStart) || math.IsNaN(c.TargetOffset) {
		return fmt.Errorf("%w: NaN start or offset", ErrInvalidConfig)
	}
	if c.Interpolation != InterpLinear && c.Interpolation != InterpCatmullRom {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Interpolation)
	}
	return c.Filter.Validate()
}

// Point is one resampled output sample.
type Point struct {
	Timestamp float64
	Value     float64
}

// clock tracks input progress and the candidate output grid. Positions are
// kept in source-interval units so equal rates land exactly on input samples.
type clock struct {
	origin         float64 // SourceStart + normalized offset
	sourceDuration float64
	targetDuration float64
	offsetIdx      float64 // normalized offset / sourceDuration
	ratio          float64 // targetDuration / sourceDuration
	consumed       int     // input samples seen
	next           int     // index of the next candidate output
}

func newClock(c *Config) clock {
	sd := msPerSecond / c.SourceRate
	td := msPerSecond / c.TargetRate
	offset := mathutil.PositiveMod(c.TargetOffset, td)
	return clock{
		origin:         c.SourceStart + offset,
		sourceDuration: sd,
		targetDuration: td,
		offsetIdx:      offset / sd,
		ratio:          td / sd,
	}
}

// position is the next candidate's location in source-interval units.
func (c *clock) position() float64 {
	return c.offsetIdx + float64(c.next)*c.ratio
}

// timestamp is the next candidate's absolute time.
func (c *clock) timestamp() float64 {
	return c.origin + float64(c.next)*c.targetDuration
}

// window returns the segment [lo, hi] that the latest input sample opens,
// given that the kernel lags span intervals behind it.
func (c *clock) window(span int) (lo, hi float64) {
	hi = float64(c.consumed - span)
	return hi - 1, hi
}

// Resampler converts a scalar stream at a fixed source rate to a target
// grid. Feed samples in order with Next; a timing gap requires a new Resampler.
type Resampler struct {
	cfg     Config
	filter  filter.Filter
	clk     clock
	history [cubicInterpolationPoints]float64 // newest first
}

// NewResampler creates a resampler for the given configuration.
func NewResampler(cfg Config) (*Resampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := filter.Design(cfg.SourceRate, cfg.TargetRate, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("anti-aliasing filter: %w", err)
	}

	return &Resampler{
		cfg:    cfg,
		filter: f,
		clk:    newClock(&cfg),
	}, nil
}

// Next consumes one input sample and returns the outputs it completes.
func (r *Resampler) Next(x float64) []Point {
	return r.AppendNext(nil, x)
}

// AppendNext is like Next but appends to dst.
func (r *Resampler) AppendNext(dst []Point, x float64) []Point {
	y := r.filter.Process(x)

	if r.clk.consumed == 0 {
		y = settle(r.filter.Process, x, y)
		for i := range r.history {
			r.history[i] = y
		}
		r.clk.consumed = 1
		return dst
	}

	copy(r.history[1:], r.history[:len(r.history)-1])
	r.history[0] = y
	r.clk.consumed++

	span := r.cfg.Interpolation.span()
	lo, hi := r.clk.window(span)

	for p := r.clk.position(); p <= hi; p = r.clk.position() {
		t := p - lo
		var v float64
		if span == 1 {
			v = mathutil.Lerp(r.history[1], r.history[0], t)
		} else {
			v = hermite(r.history[3], r.history[2], r.history[1], r.history[0], t)
		}
		dst = append(dst, Point{Timestamp: r.clk.timestamp(), Value: v})
		r.clk.next++
	}

	return dst
}

// settle runs process on x until its output is within primeTolerance of x.
func settle(process func(float64) float64, x, y float64) float64 {
	for i := 0; i < primeMaxIterations && mathutil.RelativeDeviation(y, x) > primeTolerance; i++ {
		y = process(x)
	}
	return y
}

// Config returns the configuration the resampler was built with.
func (r *Resampler) Config() Config { return r.cfg }

// Filter returns the anti-aliasing filter in use.
func (r *Resampler) Filter() filter.Filter { return r.filter }

// SourceDuration returns the input interval in milliseconds.
func (r *Resampler) SourceDuration() float64 { return r.clk.sourceDuration }

// TargetDuration returns the output interval in milliseconds.
func (r *Resampler) TargetDuration() float64 { return r.clk.targetDuration }

// Consumed returns the number of input samples seen.
func (r *Resampler) Consumed() int { return r.clk.consumed }
