package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tphakala/go-sensor-playback/internal/engine"
	"github.com/tphakala/go-sensor-playback/internal/ringbuf"
)

// PlayerOptions configures a player.
type PlayerOptions struct {
	// ID is the player's identifier. A random UUID is used when empty.
	ID string

	// OnDispose is called once, without any player lock held, when the
	// player is disposed.
	OnDispose func()

	// Logger receives gap and lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// Interpolation selects the readings interpolation kernel.
	// Spectral players always interpolate linearly.
	Interpolation Interpolation

	// Filter selects the anti-aliasing filter. Spectral players only
	// support Butterworth sections and default to a two-stage cascade.
	Filter FilterSpec
}

type playerState int

const (
	stateUninitialized playerState = iota
	stateStreaming
	stateDisposed
)

func (s playerState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateStreaming:
		return "streaming"
	case stateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// windowedPlayer is the state machine shared by every player flavor:
// Uninitialized -> Streaming -> Disposed. The flavor owns the resampler and
// decides what to rebuild when admit reports a discontinuity.
type windowedPlayer[Out any] struct {
	mu            sync.Mutex
	id            string
	channelID     string
	spec          WindowSpec
	cadenceMs     int64
	state         playerState
	lastTimestamp int64
	output        *ringbuf.Ring[Out]
	gap           Out
	gaps          int
	onDispose     func()
	logger        *slog.Logger
}

func newWindowedPlayer[Out any](kind, channelID string, spec WindowSpec, cadenceMs int64, gap Out, opts *PlayerOptions) (*windowedPlayer[Out], error) {
	if channelID == "" {
		return nil, ErrInvalidChannel
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	output, err := ringbuf.New[Out](spec.SampleCount)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &windowedPlayer[Out]{
		id:        id,
		channelID: channelID,
		spec:      spec,
		cadenceMs: cadenceMs,
		output:    output,
		gap:       gap,
		onDispose: opts.OnDispose,
		logger:    logger.With("player", kind, "id", id, "channel", channelID),
	}, nil
}

// admit advances the state machine for a frame at ts. It reports whether
// the frame should be processed and whether the resampler must be rebuilt
// aligned to ts. A cadence violation appends one gap marker. Callers hold mu.
func (p *windowedPlayer[Out]) admit(channelID string, ts int64) (ok, rebuild bool) {
	if p.state == stateDisposed || channelID != p.channelID {
		return false, false
	}

	switch {
	case p.state == stateUninitialized:
		p.state = stateStreaming
		rebuild = true
	case ts != p.lastTimestamp+p.cadenceMs:
		p.logger.Debug("frame cadence broken, inserting gap",
			"last_timestamp", p.lastTimestamp,
			"timestamp", ts,
			"expected_ms", p.cadenceMs)
		p.output.AddLast(p.gap)
		p.gaps++
		rebuild = true
	}

	p.lastTimestamp = ts
	return true, rebuild
}

// resamplerConfig aligns a fresh resampler to a source starting at ts so
// that outputs land on StartTimestampMs + n·TargetDuration.
func (p *windowedPlayer[Out]) resamplerConfig(ts int64, sourceRate float64, opts *PlayerOptions) engine.Config {
	return engine.Config{
		SourceStart:   float64(ts),
		SourceRate:    sourceRate,
		TargetRate:    p.spec.TargetRate(),
		TargetOffset:  float64(p.spec.StartTimestampMs - ts),
		Interpolation: opts.Interpolation,
		Filter:        opts.Filter,
	}
}

// ID returns the player's identifier.
func (p *windowedPlayer[Out]) ID() string { return p.id }

// ChannelID returns the bound channel.
func (p *windowedPlayer[Out]) ChannelID() string { return p.channelID }

// Spec returns the player's window.
func (p *windowedPlayer[Out]) Spec() WindowSpec { return p.spec }

// GetNewData drains the output window.
func (p *windowedPlayer[Out]) GetNewData() []Out {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.output.ToSlice()
	p.output.Clear()
	return out
}

// Pending returns the number of buffered outputs without draining them.
func (p *windowedPlayer[Out]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.Len()
}

// Gaps returns the number of gap markers inserted so far.
func (p *windowedPlayer[Out]) Gaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gaps
}

// Disposed reports whether Dispose has been called.
func (p *windowedPlayer[Out]) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateDisposed
}

// Dispose stops the player and runs the dispose callback once.
func (p *windowedPlayer[Out]) Dispose() {
	p.mu.Lock()
	if p.state == stateDisposed {
		p.mu.Unlock()
		return
	}
	p.state = stateDisposed
	p.output.Clear()
	cb := p.onDispose
	p.onDispose = nil
	p.mu.Unlock()

	p.logger.Debug("player disposed")
	if cb != nil {
		cb()
	}
}
