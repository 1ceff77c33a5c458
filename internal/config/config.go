// Package config loads the YAML configuration of the playback tools.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/go-sensor-playback/internal/engine"
	"github.com/tphakala/go-sensor-playback/internal/filter"
)

// ErrInvalid indicates a configuration value that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Store kinds.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceWAV       = "wav"
)

// Player kinds driven by the simulator.
const (
	PlayerStrainGraph = "strain_graph"
	PlayerReadings    = "readings"
	PlayerSpectrogram = "spectrogram"
	PlayerFFT         = "fft"
)

// Duration is a time.Duration that unmarshals from Go syntax ("1.5s") or
// ISO 8601 ("PT1.5S").
type Duration time.Duration

// String formats the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText marshals the duration to ISO 8601.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(duration.Format(time.Duration(d))), nil
}

// UnmarshalText accepts Go duration syntax first, then ISO 8601.
func (d *Duration) UnmarshalText(b []byte) error {
	s := string(b)
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	parsed, err := duration.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalid, s)
	}
	*d = Duration(parsed.ToTimeDuration())
	return nil
}

// Config is the complete simulator configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug, info, warn, error
	Store    StoreConfig   `yaml:"store"`
	Worker   WorkerConfig  `yaml:"worker"`
	Display  DisplayConfig `yaml:"display"`
	Source   SourceConfig  `yaml:"source"`
}

// StoreConfig selects the row store.
type StoreConfig struct {
	Kind string `yaml:"kind"` // memory, bolt
	Path string `yaml:"path"` // bolt database file
}

// WorkerConfig mirrors playback.WorkerConfig.
type WorkerConfig struct {
	ReadingsTailFrames   int          `yaml:"readings_tail_frames"`
	SpectralTailFrames   int          `yaml:"spectral_tail_frames"`
	Interpolation        string       `yaml:"interpolation"` // linear, catmull-rom
	Filter               FilterConfig `yaml:"filter"`
	SpectralFilterStages int          `yaml:"spectral_filter_stages"`
}

// FilterConfig describes the readings anti-aliasing filter.
type FilterConfig struct {
	Kind          string  `yaml:"kind"` // butterworth, fir
	Stages        int     `yaml:"stages"`
	AttenuationDB float64 `yaml:"attenuation_db"` // fir only
}

// DisplayConfig describes the simulated plot.
type DisplayConfig struct {
	Player         string   `yaml:"player"` // strain_graph, readings, spectrogram, fft
	Window         Duration `yaml:"window"`
	Width          int      `yaml:"width"`
	FrequencyBins  int      `yaml:"frequency_bins"` // spectrogram axis, 0 disables
	DrawInterval   Duration `yaml:"draw_interval"`
	ResizeDebounce Duration `yaml:"resize_debounce"`
}

// SourceConfig describes the frame producer.
type SourceConfig struct {
	Kind        string   `yaml:"kind"` // synthetic, wav
	Channels    []string `yaml:"channels"`
	WAVPath     string   `yaml:"wav_path"`
	FrequencyHz float64  `yaml:"frequency_hz"`
	Amplitude   float64  `yaml:"amplitude"`
	NoiseLevel  float64  `yaml:"noise_level"`
	DropEvery   int      `yaml:"drop_every"` // drop one frame in N, 0 disables
	Duration    Duration `yaml:"duration"`   // simulated stream length
	Realtime    bool     `yaml:"realtime"`   // pace frames at wall-clock rate
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store:    StoreConfig{Kind: StoreMemory},
		Worker: WorkerConfig{
			ReadingsTailFrames: 50,
			SpectralTailFrames: 5,
			Interpolation:      "linear",
			Filter:             FilterConfig{Kind: "butterworth"},
		},
		Display: DisplayConfig{
			Player:         PlayerStrainGraph,
			Window:         Duration(10 * time.Second),
			Width:          800,
			DrawInterval:   Duration(time.Second / 60),
			ResizeDebounce: Duration(200 * time.Millisecond),
		},
		Source: SourceConfig{
			Kind:        SourceSynthetic,
			Channels:    []string{"strain-0"},
			FrequencyHz: 5,
			Amplitude:   1,
			Duration:    Duration(30 * time.Second),
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: bolt store requires a path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalid, c.Store.Kind)
	}

	if _, err := c.Worker.InterpolationKind(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := c.Worker.FilterSpec(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	switch c.Display.Player {
	case PlayerStrainGraph, PlayerReadings, PlayerSpectrogram, PlayerFFT:
	default:
		return fmt.Errorf("%w: unknown player %q", ErrInvalid, c.Display.Player)
	}
	if c.Display.Width <= 0 || c.Display.Window <= 0 {
		return fmt.Errorf("%w: display needs a positive width and window", ErrInvalid)
	}
	if c.Display.DrawInterval <= 0 || c.Display.FrequencyBins < 0 || c.Display.ResizeDebounce < 0 {
		return fmt.Errorf("%w: display intervals and bins must be non-negative", ErrInvalid)
	}

	switch c.Source.Kind {
	case SourceSynthetic:
	case SourceWAV:
		if c.Source.WAVPath == "" {
			return fmt.Errorf("%w: wav source requires wav_path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalid, c.Source.Kind)
	}
	if len(c.Source.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalid)
	}
	if c.Source.DropEvery < 0 || c.Source.Duration <= 0 {
		return fmt.Errorf("%w: source needs a positive duration and non-negative drop_every", ErrInvalid)
	}

	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// InterpolationKind parses Interpolation.
func (w *WorkerConfig) InterpolationKind() (engine.Interpolation, error) {
	return engine.ParseInterpolation(w.Interpolation)
}

// FilterSpec parses Filter.
func (w *WorkerConfig) FilterSpec() (filter.Spec, error) {
	kind, err := filter.ParseKind(w.Filter.Kind)
	if err != nil {
		return filter.Spec{}, err
	}
	spec := filter.Spec{Kind: kind, Stages: w.Filter.Stages, Attenuation: w.Filter.AttenuationDB}
	return spec, spec.Validate()
}
