package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	playback "github.com/tphakala/go-sensor-playback"
)

// Spectral simulation parameters. A 100 ms block at 40 kHz gives 10 Hz bins
// up to the 20 kHz Nyquist limit, matching the low-band resolution.
const (
	spectralSampleRate = 40000.0
	spectralBlockSize  = 4000
	highBandGroup      = 5 // 10 Hz bins averaged per 50 Hz high-band bin
	lowBandFirstBin    = 0
	highBandFirstBin   = 200
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	// Channels lists the channel IDs to produce.
	Channels []string

	// StartMs is the timestamp of the first frame. It is rounded down to a
	// multiple of the readings cadence.
	StartMs int64

	// FrequencyHz and Amplitude shape the strain readings sine.
	FrequencyHz float64
	Amplitude   float64

	// NoiseLevel adds uniform noise of this peak amplitude to readings and
	// reports it in the frame's noise vector.
	NoiseLevel float64

	// Tones are the vibration frequencies rendered into spectral frames.
	// Defaults to 120 Hz and 4.5 kHz.
	Tones []float64

	// DropEvery skips one readings frame in every DropEvery. Zero disables.
	DropEvery int

	// Seed makes the noise reproducible.
	Seed uint64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *SyntheticConfig) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidConfig)
	}
	for _, id := range c.Channels {
		if id == "" {
			return fmt.Errorf("%w: empty channel id", ErrInvalidConfig)
		}
	}
	if c.FrequencyHz < 0 || c.NoiseLevel < 0 || c.DropEvery < 0 {
		return fmt.Errorf("%w: frequency, noise and drop_every must be non-negative", ErrInvalidConfig)
	}
	for _, f := range c.Tones {
		if f < 0 || f >= playback.MaxFrequencyHz {
			return fmt.Errorf("%w: tone %v Hz outside [0, %v)", ErrInvalidConfig, f, playback.MaxFrequencyHz)
		}
	}
	return nil
}

// Synthetic generates deterministic sine readings and FFT-derived spectral
// frames for every configured channel.
type Synthetic struct {
	cfg    SyntheticConfig
	logger *slog.Logger
	rng    *rand.Rand
	fft    *fourier.FFT
	block  []float64
	coeffs []complex128
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tones == nil {
		cfg.Tones = []float64{120, 4500}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.StartMs -= positiveMod(cfg.StartMs, playback.ReadingFrameMs)

	return &Synthetic{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "synthetic_source"),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		fft:    fourier.NewFFT(spectralBlockSize),
		block:  make([]float64, spectralBlockSize),
	}, nil
}

func positiveMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// ReadingsFrame returns the readings frame at ts. The channel index shifts
// the sine phase so channels are distinguishable.
func (s *Synthetic) ReadingsFrame(channel int, ts int64) playback.ReadingsFrame {
	f := playback.ReadingsFrame{
		Timestamp: ts,
		Readings:  make([]float32, playback.ReadingsPerFrame),
	}
	if s.cfg.NoiseLevel > 0 {
		f.Noises = make([]float32, playback.ReadingsPerFrame)
	}

	phase := float64(channel) * math.Pi / 4
	for j := range f.Readings {
		tMs := float64(ts) + float64(j)*(playback.ReadingFrameMs/float64(playback.ReadingsPerFrame))
		v := s.cfg.Amplitude * math.Sin(2*math.Pi*s.cfg.FrequencyHz*tMs/1000+phase)
		if f.Noises != nil {
			n := s.cfg.NoiseLevel * (2*s.rng.Float64() - 1)
			v += n
			f.Noises[j] = float32(math.Abs(n))
		}
		f.Readings[j] = float32(v)
	}
	return f
}

// SpectralFrame returns the spectral frame at ts: the magnitude spectrum of
// a simulated 100 ms vibration block, split into the two bands.
func (s *Synthetic) SpectralFrame(ts int64) playback.SpectralFrame {
	t0 := float64(ts) / 1000
	for i := range s.block {
		t := t0 + float64(i)/spectralSampleRate
		var v float64
		for k, f := range s.cfg.Tones {
			v += s.cfg.Amplitude / float64(k+1) * math.Sin(2*math.Pi*f*t)
		}
		if s.cfg.NoiseLevel > 0 {
			v += s.cfg.NoiseLevel * (2*s.rng.Float64() - 1)
		}
		s.block[i] = v
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.block)

	scale := 2.0 / spectralBlockSize
	frame := playback.SpectralFrame{
		Timestamp: ts,
		LowBand:   make([]float32, playback.LowBandBins),
		HighBand:  make([]float32, playback.HighBandBins),
	}
	for i := range frame.LowBand {
		frame.LowBand[i] = float32(cmplx.Abs(s.coeffs[lowBandFirstBin+i]) * scale)
	}
	for i := range frame.HighBand {
		var sum float64
		first := highBandFirstBin + i*highBandGroup
		for _, c := range s.coeffs[first : first+highBandGroup] {
			sum += cmplx.Abs(c)
		}
		frame.HighBand[i] = float32(sum / highBandGroup * scale)
	}
	return frame
}

// Run emits frames covering span, starting at StartMs, into sink. With
// realtime set frames are paced at wall-clock rate; otherwise they are
// emitted as fast as the sink accepts them.
func (s *Synthetic) Run(ctx context.Context, sink Sink, span time.Duration, realtime bool) (Stats, error) {
	var stats Stats
	frames := int(span.Milliseconds() / playback.ReadingFrameMs)

	var tick <-chan time.Time
	if realtime {
		ticker := time.NewTicker(playback.ReadingFrameMs * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("synthetic source started",
		"channels", len(s.cfg.Channels),
		"frames", frames,
		"start_ms", s.cfg.StartMs,
		"realtime", realtime)

	for k := range frames {
		if tick != nil {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}

		ts := s.cfg.StartMs + int64(k*playback.ReadingFrameMs)
		drop := s.cfg.DropEvery > 0 && k%s.cfg.DropEvery == s.cfg.DropEvery-1
		spectral := positiveMod(ts, playback.SpectralFrameMs) == 0

		var sf playback.SpectralFrame
		if spectral {
			sf = s.SpectralFrame(ts)
		}
		for ch, id := range s.cfg.Channels {
			if drop {
				stats.Dropped++
			} else {
				sink.OnRealtimeReadings(id, s.ReadingsFrame(ch, ts))
				stats.ReadingsFrames++
			}
			if spectral {
				sink.OnRealtimeFrame(id, sf)
				stats.SpectralFrames++
			}
		}
		if drop {
			s.logger.Debug("dropped readings frame", "timestamp", ts)
		}
	}

	s.logger.Info("synthetic source finished",
		"readings_frames", stats.ReadingsFrames,
		"spectral_frames", stats.SpectralFrames,
		"dropped", stats.Dropped)
	return stats, nil
}
