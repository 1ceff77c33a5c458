package playback

import (
	"fmt"

	"github.com/tphakala/go-sensor-playback/internal/engine"
)

// readingsPlayer resamples the 2 kHz readings stream onto the window grid.
type readingsPlayer struct {
	*windowedPlayer[Sample]
	opts      PlayerOptions
	resampler *engine.Resampler
	points    []engine.Point
	trim      bool
}

func newReadingsPlayer(kind, channelID string, spec WindowSpec, opts PlayerOptions, trim bool) (*readingsPlayer, error) {
	core, err := newWindowedPlayer(kind, channelID, spec, ReadingFrameMs, GapSample(), &opts)
	if err != nil {
		return nil, err
	}

	p := &readingsPlayer{windowedPlayer: core, opts: opts, trim: trim}

	// validate the filter and kernel before any frame arrives
	if _, err := engine.NewResampler(p.resamplerConfig(spec.StartTimestampMs, ReadingsRate, &p.opts)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// OnRealtimeReadings feeds one frame. Frames for other channels, malformed
// frames and frames after Dispose are ignored.
func (p *readingsPlayer) OnRealtimeReadings(channelID string, frame ReadingsFrame) {
	if !frame.Valid() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ok, rebuild := p.admit(channelID, frame.Timestamp)
	if !ok {
		return
	}
	if rebuild {
		r, err := engine.NewResampler(p.resamplerConfig(frame.Timestamp, ReadingsRate, &p.opts))
		if err != nil {
			p.logger.Error("failed to create resampler", "timestamp", frame.Timestamp, "err", err)
			return
		}
		p.resampler = r
	}

	p.points = p.points[:0]
	for _, v := range frame.Readings {
		p.points = p.resampler.AppendNext(p.points, float64(v))
	}
	for _, pt := range p.points {
		p.output.AddLast(Sample{Timestamp: pt.Timestamp, Value: pt.Value})
	}

	if p.trim {
		p.trimToDuration()
	}
}

// trimToDuration drops leading entries older than DurationMs relative to
// the newest sample, along with any gap markers left at the front.
func (p *readingsPlayer) trimToDuration() {
	last, ok := p.output.Last()
	if !ok || last.Gap {
		return
	}
	cutoff := last.Timestamp - p.spec.DurationMs
	for {
		first, ok := p.output.First()
		if !ok || (!first.Gap && first.Timestamp >= cutoff) {
			return
		}
		p.output.RemoveFirst()
	}
}

// StrainGraphPlayer renders the readings stream as a strain-versus-time
// graph with one sample per pixel column.
type StrainGraphPlayer struct {
	*readingsPlayer
}

// NewStrainGraphPlayer creates a strain graph player for channelID.
func NewStrainGraphPlayer(channelID string, spec WindowSpec, opts PlayerOptions) (*StrainGraphPlayer, error) {
	p, err := newReadingsPlayer("strain_graph", channelID, spec, opts, false)
	if err != nil {
		return nil, err
	}
	return &StrainGraphPlayer{readingsPlayer: p}, nil
}

// ReadingsPlayer is the duration-trimmed readings view. In addition to the window
// ring it keeps only samples within DurationMs of the newest one, so a
// drain never returns stale history after a long gap.
type ReadingsPlayer struct {
	*readingsPlayer
}

// NewReadingsPlayer creates a duration-trimmed readings player for channelID.
func NewReadingsPlayer(channelID string, spec WindowSpec, opts PlayerOptions) (*ReadingsPlayer, error) {
	p, err := newReadingsPlayer("readings", channelID, spec, opts, true)
	if err != nil {
		return nil, err
	}
	return &ReadingsPlayer{readingsPlayer: p}, nil
}
