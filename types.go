package playback

import (
	"errors"
	"fmt"
	"math"

	"github.com/tphakala/go-sensor-playback/internal/engine"
	"github.com/tphakala/go-sensor-playback/internal/filter"
	"github.com/tphakala/go-sensor-playback/internal/mathutil"
	"github.com/tphakala/go-sensor-playback/internal/ringbuf"
)

// Common errors.
var (
	// ErrInvalidWindow indicates a WindowSpec with a non-positive duration or sample count.
	ErrInvalidWindow = errors.New("invalid window spec")

	// ErrInvalidConfig indicates invalid worker, orchestrator or player configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidChannel indicates an empty channel ID.
	ErrInvalidChannel = errors.New("invalid channel id")

	// ErrClosed is returned by a closed worker or orchestrator.
	ErrClosed = errors.New("closed")

	// ErrInvalidCapacity is returned by NewRingBuffer for a non-positive capacity.
	ErrInvalidCapacity = ringbuf.ErrInvalidCapacity
)

// RingBuffer is a fixed-capacity deque; see [ringbuf.Ring].
type RingBuffer[T any] = ringbuf.Ring[T]

// NewRingBuffer creates a ring buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) (*RingBuffer[T], error) {
	return ringbuf.New[T](capacity)
}

// Interpolation selects the kernel used by readings players.
type Interpolation = engine.Interpolation

// Interpolation kernels.
const (
	InterpLinear     = engine.InterpLinear
	InterpCatmullRom = engine.InterpCatmullRom
)

// FilterSpec selects the anti-aliasing filter used when downsampling.
type FilterSpec = filter.Spec

// FilterKind selects the anti-aliasing filter family.
type FilterKind = filter.Kind

// Filter families.
const (
	FilterButterworth = filter.KindButterworth
	FilterFIR         = filter.KindFIR
)

// ReadingsFrame is one 10 ms batch of strain readings. Reading j lies at
// Timestamp + j·0.5 ms. Noises holds the per-reading noise estimate and may
// be empty.
type ReadingsFrame struct {
	Timestamp int64
	Readings  []float32
	Noises    []float32
}

// Valid reports whether the frame has the expected vector lengths.
func (f ReadingsFrame) Valid() bool {
	return len(f.Readings) == ReadingsPerFrame &&
		(len(f.Noises) == 0 || len(f.Noises) == ReadingsPerFrame)
}

// SpectralFrame is one 100 ms FFT magnitude frame: LowBand covers 0-2 kHz
// in 10 Hz bins and HighBand covers 2-20 kHz in 50 Hz bins.
type SpectralFrame struct {
	Timestamp int64
	LowBand   []float32
	HighBand  []float32
}

// Valid reports whether the frame has the expected band widths.
func (f SpectralFrame) Valid() bool {
	return len(f.LowBand) == LowBandBins && len(f.HighBand) == HighBandBins
}

// WindowSpec describes one player's output grid: SampleCount samples
// spread over DurationMs, phase-aligned to StartTimestampMs.
type WindowSpec struct {
	DurationMs       float64
	SampleCount      int
	StartTimestampMs int64
}

// Validate rejects non-positive durations and sample counts.
func (w WindowSpec) Validate() error {
	if w.SampleCount <= 0 {
		return fmt.Errorf("%w: sample count %d", ErrInvalidWindow, w.SampleCount)
	}
	if !(w.DurationMs > 0) || math.IsInf(w.DurationMs, 0) {
		return fmt.Errorf("%w: duration %v ms", ErrInvalidWindow, w.DurationMs)
	}
	return nil
}

// TargetRate returns the output sample rate in Hz.
func (w WindowSpec) TargetRate() float64 {
	return float64(w.SampleCount) / (w.DurationMs / msPerSecond)
}

// TargetDuration returns the output sample interval in ms.
func (w WindowSpec) TargetDuration() float64 {
	return w.DurationMs / float64(w.SampleCount)
}

// Phase returns StartTimestampMs mod TargetDuration, in [0, TargetDuration).
func (w WindowSpec) Phase() float64 {
	return mathutil.PositiveMod(float64(w.StartTimestampMs), w.TargetDuration())
}

// EndTimestampMs returns the end of the window.
func (w WindowSpec) EndTimestampMs() int64 {
	return w.StartTimestampMs + int64(math.Ceil(w.DurationMs))
}

// Sample is one resampled reading, or a gap marker when Gap is set.
type Sample struct {
	Timestamp float64
	Value     float64
	Gap       bool
}

// GapSample returns a gap marker.
func GapSample() Sample { return Sample{Gap: true} }

// SpectralSample is one resampled spectral column, or a gap marker when Gap
// is set. Column holds the frequency-axis resampled values when the player
// has a FrequencyAxis configured.
type SpectralSample struct {
	Timestamp float64
	LowBand   []float64
	HighBand  []float64
	Column    []float64
	Gap       bool
}

// GapSpectralSample returns a gap marker.
func GapSpectralSample() SpectralSample { return SpectralSample{Gap: true} }

// Channel identifies one displayed sensor channel. Only ID participates in
// reconciliation; the rest is carried for the renderer.
type Channel struct {
	ID    string
	Label string
	Color string
}

// Player is a windowed view of one channel's stream.
type Player[T any] interface {
	// ID returns the player's unique identifier.
	ID() string

	// ChannelID returns the channel the player is bound to.
	ChannelID() string

	// Spec returns the player's window.
	Spec() WindowSpec

	// GetNewData returns everything produced since the previous call and
	// empties the output window.
	GetNewData() []T

	// Dispose detaches the player. It is idempotent.
	Dispose()
}

// ReadingsSink receives readings frames.
type ReadingsSink interface {
	OnRealtimeReadings(channelID string, frame ReadingsFrame)
}

// SpectralSink receives spectral frames.
type SpectralSink interface {
	OnRealtimeFrame(channelID string, frame SpectralFrame)
}
