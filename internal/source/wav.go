package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	playback "github.com/tphakala/go-sensor-playback"
	"github.com/tphakala/go-sensor-playback/internal/engine"
	"github.com/tphakala/go-sensor-playback/internal/filter"
)

// wavChunkFrames is the number of PCM frames decoded per read.
const wavChunkFrames = 4096

// WAVConfig configures a WAV source.
type WAVConfig struct {
	// Path is the WAV file to replay.
	Path string

	// ChannelID is the sensor channel the readings are attributed to.
	ChannelID string

	// AudioChannel selects which interleaved WAV channel to read.
	AudioChannel int

	// StartMs is the timestamp of the first reading.
	StartMs int64

	// Filter is the anti-aliasing filter used when the file rate exceeds 2 kHz.
	Filter filter.Spec

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// WAV replays one channel of a WAV recording as a 2 kHz readings stream.
type WAV struct {
	cfg      WAVConfig
	logger   *slog.Logger
	file     *os.File
	decoder  *wav.Decoder
	rate     int
	channels int
	bitDepth int
}

// OpenWAV opens and validates the file.
func OpenWAV(cfg WAVConfig) (*WAV, error) {
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("%w: empty channel id", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: invalid WAV file: %s", ErrInvalidConfig, cfg.Path)
	}

	format := decoder.Format()
	w := &WAV{
		cfg:      cfg,
		file:     f,
		decoder:  decoder,
		rate:     format.SampleRate,
		channels: format.NumChannels,
		bitDepth: int(decoder.BitDepth),
	}
	if cfg.AudioChannel < 0 || cfg.AudioChannel >= w.channels {
		_ = f.Close()
		return nil, fmt.Errorf("%w: audio channel %d of %d", ErrInvalidConfig, cfg.AudioChannel, w.channels)
	}

	w.logger = cfg.Logger.With("component", "wav_source", "path", cfg.Path, "channel", cfg.ChannelID)
	w.logger.Info("wav input opened",
		"sample_rate", w.rate,
		"channels", w.channels,
		"bit_depth", w.bitDepth)
	return w, nil
}

// SampleRate returns the file's sample rate in Hz.
func (w *WAV) SampleRate() int { return w.rate }

// Close closes the file.
func (w *WAV) Close() error {
	return w.file.Close()
}

// Run decodes the whole file, converts it to the readings rate and emits
// one ReadingsFrame per 20 readings. A trailing partial frame is dropped.
func (w *WAV) Run(ctx context.Context, sink Sink) (Stats, error) {
	var stats Stats

	r, err := engine.NewResampler(engine.Config{
		SourceStart: float64(w.cfg.StartMs),
		SourceRate:  float64(w.rate),
		TargetRate:  playback.ReadingsRate,
		Filter:      w.cfg.Filter,
	})
	if err != nil {
		return stats, fmt.Errorf("failed to create resampler: %w", err)
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, wavChunkFrames*w.channels),
		Format: w.decoder.Format(),
	}
	invScale := 1 / fullScale(w.bitDepth)

	var (
		points  []engine.Point
		pending = make([]float32, 0, playback.ReadingsPerFrame)
		nextTs  = w.cfg.StartMs
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		buf.Data = buf.Data[:cap(buf.Data)]
		n, err := w.decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("failed to read audio data: %w", err)
		}
		if n == 0 {
			break
		}

		frames := n / w.channels
		points = points[:0]
		for i := range frames {
			x := float64(buf.Data[i*w.channels+w.cfg.AudioChannel]) * invScale
			points = r.AppendNext(points, x)
		}

		for _, pt := range points {
			pending = append(pending, float32(pt.Value))
			if len(pending) < playback.ReadingsPerFrame {
				continue
			}
			sink.OnRealtimeReadings(w.cfg.ChannelID, playback.ReadingsFrame{
				Timestamp: nextTs,
				Readings:  pending,
			})
			stats.ReadingsFrames++
			nextTs += playback.ReadingFrameMs
			pending = make([]float32, 0, playback.ReadingsPerFrame)
		}
	}

	w.logger.Info("wav input replayed",
		"readings_frames", stats.ReadingsFrames,
		"input_samples", r.Consumed())
	return stats, nil
}
