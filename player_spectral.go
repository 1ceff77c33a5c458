package playback

import (
	"fmt"

	"github.com/tphakala/go-sensor-playback/internal/engine"
)

// FrequencyAxis maps spectral frames onto Bins evenly spaced frequencies
// in [MinFrequency, MaxFrequency) for spectrogram rendering.
type FrequencyAxis struct {
	MinFrequency float64
	MaxFrequency float64
	Bins         int
}

// Validate checks the axis.
func (a FrequencyAxis) Validate() error {
	if a.Bins <= 0 {
		return fmt.Errorf("%w: frequency bins %d", ErrInvalidConfig, a.Bins)
	}
	if a.MinFrequency < 0 || a.MaxFrequency > MaxFrequencyHz || a.MinFrequency >= a.MaxFrequency {
		return fmt.Errorf("%w: frequency range [%v, %v) outside [0, %v]",
			ErrInvalidConfig, a.MinFrequency, a.MaxFrequency, MaxFrequencyHz)
	}
	return nil
}

// ResampleFrequencyAxis picks, for every axis bin, the nearest FFT bin at or below its
// frequency: low-band bins below 2 kHz, high-band bins above. Indices are
// clamped to the band edges.
func ResampleFrequencyAxis[F float32 | float64](a FrequencyAxis, low, high []F) []float64 {
	out := make([]float64, a.Bins)
	step := (a.MaxFrequency - a.MinFrequency) / float64(a.Bins)
	for i := range out {
		f := a.MinFrequency + float64(i)*step
		if f < HighBandStartHz {
			out[i] = float64(low[clampIndex(int(f/LowBandResolutionHz), len(low))])
		} else {
			out[i] = float64(high[clampIndex(int((f-HighBandStartHz)/HighBandResolutionHz), len(high))])
		}
	}
	return out
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n-1)
}

// spectralPlayer resamples the 10 Hz spectral stream onto the window grid,
// treating both bands as one 560-wide vector.
type spectralPlayer struct {
	*windowedPlayer[SpectralSample]
	opts      PlayerOptions
	axis      *FrequencyAxis
	resampler *engine.Resampler2D
	vector    []float64
}

func newSpectralPlayer(kind, channelID string, spec WindowSpec, opts PlayerOptions, axis *FrequencyAxis) (*spectralPlayer, error) {
	if axis != nil {
		if err := axis.Validate(); err != nil {
			return nil, err
		}
	}

	core, err := newWindowedPlayer(kind, channelID, spec, SpectralFrameMs, GapSpectralSample(), &opts)
	if err != nil {
		return nil, err
	}

	// spectral columns are always interpolated linearly
	opts.Interpolation = InterpLinear
	p := &spectralPlayer{
		windowedPlayer: core,
		opts:           opts,
		axis:           axis,
		vector:         make([]float64, SpectralBins),
	}

	if _, err := engine.NewResampler2D(SpectralBins, p.resamplerConfig(spec.StartTimestampMs, SpectralRate, &p.opts)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// OnRealtimeFrame feeds one spectral frame. Frames for other channels,
// malformed frames and frames after Dispose are ignored.
func (p *spectralPlayer) OnRealtimeFrame(channelID string, frame SpectralFrame) {
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
		r, err := engine.NewResampler2D(SpectralBins, p.resamplerConfig(frame.Timestamp, SpectralRate, &p.opts))
		if err != nil {
			p.logger.Error("failed to create resampler", "timestamp", frame.Timestamp, "err", err)
			return
		}
		p.resampler = r
	}

	for i, v := range frame.LowBand {
		p.vector[i] = float64(v)
	}
	for i, v := range frame.HighBand {
		p.vector[LowBandBins+i] = float64(v)
	}

	points, err := p.resampler.Next(p.vector)
	if err != nil {
		p.logger.Error("spectral resampling failed", "timestamp", frame.Timestamp, "err", err)
		return
	}

	for _, pt := range points {
		s := SpectralSample{
			Timestamp: pt.Timestamp,
			LowBand:   pt.Values[:LowBandBins:LowBandBins],
			HighBand:  pt.Values[LowBandBins:],
		}
		if p.axis != nil {
			s.Column = ResampleFrequencyAxis(*p.axis, s.LowBand, s.HighBand)
		}
		p.output.AddLast(s)
	}
}

// SpectrogramPlayer renders the spectral stream as a scrolling spectrogram.
// With a FrequencyAxis every output also carries a Column resampled onto
// the display's vertical pixel grid.
type SpectrogramPlayer struct {
	*spectralPlayer
}

// NewSpectrogramPlayer creates a spectrogram player for channelID. axis may be nil.
func NewSpectrogramPlayer(channelID string, spec WindowSpec, axis *FrequencyAxis, opts PlayerOptions) (*SpectrogramPlayer, error) {
	p, err := newSpectralPlayer("spectrogram", channelID, spec, opts, axis)
	if err != nil {
		return nil, err
	}
	return &SpectrogramPlayer{spectralPlayer: p}, nil
}

// Axis returns the configured frequency axis, or nil.
func (p *SpectrogramPlayer) Axis() *FrequencyAxis { return p.axis }

// ResampleFrequencyAxis maps a raw frame onto the player's frequency axis.
// It returns nil when no axis is configured.
func (p *SpectrogramPlayer) ResampleFrequencyAxis(frame SpectralFrame) []float64 {
	if p.axis == nil || !frame.Valid() {
		return nil
	}
	return ResampleFrequencyAxis(*p.axis, frame.LowBand, frame.HighBand)
}

// FFTPlayer is the plain spectral view producing both bands per output
// sample without frequency-axis mapping.
type FFTPlayer struct {
	*spectralPlayer
}

// NewFFTPlayer creates an FFT player for channelID.
func NewFFTPlayer(channelID string, spec WindowSpec, opts PlayerOptions) (*FFTPlayer, error) {
	p, err := newSpectralPlayer("fft", channelID, spec, opts, nil)
	if err != nil {
		return nil, err
	}
	return &FFTPlayer{spectralPlayer: p}, nil
}
