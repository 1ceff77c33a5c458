// Command playback-sim streams simulated or recorded sensor frames through
// the persistence worker and a draw-loop orchestrator, then reports what the
// players rendered.
//
// Usage:
//
//	playback-sim                                   # synthetic source, in-memory store
//	playback-sim -config playback.yaml
//	playback-sim -store bolt -db rows.db -duration 1m -drop-every 40
//	playback-sim -wav strain.wav -player readings -width 1200
//	playback-sim -player spectrogram -bins 256 -realtime
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/tphakala/simd/cpu"

	"github.com/tphakala/go-sensor-playback/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	storeKind := flag.String("store", "", "Row store: memory, bolt")
	dbPath := flag.String("db", "", "Bolt database path")
	channels := flag.String("channels", "", "Comma-separated channel IDs")
	player := flag.String("player", "", "Player: strain_graph, readings, spectrogram, fft")
	width := flag.Int("width", 0, "Plot width in samples")
	window := flag.Duration("window", 0, "Visible time window")
	bins := flag.Int("bins", 0, "Spectrogram frequency bins")
	span := flag.Duration("duration", 0, "Length of the simulated stream")
	wavPath := flag.String("wav", "", "Replay a WAV file instead of the synthetic source")
	dropEvery := flag.Int("drop-every", -1, "Drop one readings frame in N (0 disables)")
	realtime := flag.Bool("realtime", false, "Pace frames at wall-clock rate")
	cpuprofile := flag.String("cpuprofile", "", "Write CPU profile to file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// flags override the file only when given
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "store":
			cfg.Store.Kind = *storeKind
		case "db":
			cfg.Store.Path = *dbPath
		case "channels":
			cfg.Source.Channels = strings.Split(*channels, ",")
		case "player":
			cfg.Display.Player = *player
		case "width":
			cfg.Display.Width = *width
		case "window":
			cfg.Display.Window = config.Duration(*window)
		case "bins":
			cfg.Display.FrequencyBins = *bins
		case "duration":
			cfg.Source.Duration = config.Duration(*span)
		case "wav":
			cfg.Source.Kind = config.SourceWAV
			cfg.Source.WAVPath = *wavPath
		case "drop-every":
			cfg.Source.DropEvery = *dropEvery
		case "realtime":
			cfg.Source.Realtime = *realtime
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	slog.SetDefault(logger)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	logger.Info("starting playback simulation",
		"simd", cpu.Info(),
		"player", cfg.Display.Player,
		"source", cfg.Source.Kind,
		"store", cfg.Store.Kind,
		"channels", cfg.Source.Channels)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := simulate(ctx, cfg, logger)
	if err != nil {
		return err
	}
	report.print(os.Stdout)
	return nil
}
