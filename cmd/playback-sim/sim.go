package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	playback "github.com/tphakala/go-sensor-playback"
	"github.com/tphakala/go-sensor-playback/internal/config"
	"github.com/tphakala/go-sensor-playback/internal/source"
	"github.com/tphakala/go-sensor-playback/internal/store"
)

// producer streams frames into sink until the source is exhausted.
type producer func(ctx context.Context, sink source.Sink) (source.Stats, error)

// report summarizes one simulation run.
type report struct {
	player       string
	elapsed      time.Duration
	source       source.Stats
	worker       playback.WorkerStats
	orchestrator playback.OrchestratorStats
	samples      map[string]int
	gaps         map[string]int
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "\nPlayback summary (%s, %v)\n", r.player, r.elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Source:       %d readings frames, %d spectral frames, %d dropped\n",
		r.source.ReadingsFrames, r.source.SpectralFrames, r.source.Dropped)
	fmt.Fprintf(w, "  Worker:       %d rows written, %d partial batches, %d duplicates, %d store errors\n",
		r.worker.RowsWritten, r.worker.PartialBatches, r.worker.DuplicateRows, r.worker.StoreErrors)
	fmt.Fprintf(w, "  Orchestrator: %d draws, %d skipped, %d players created, %d create errors\n",
		r.orchestrator.Draws, r.orchestrator.SkippedDraws, r.orchestrator.PlayersCreated, r.orchestrator.CreateErrors)

	ids := make([]string, 0, len(r.samples))
	for id := range r.samples {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-12s  %d samples, %d gaps\n", id+":", r.samples[id], r.gaps[id])
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreBolt:
		return store.OpenBolt(cfg.Store.Path)
	default:
		return store.NewMemory(), nil
	}
}

// newProducer builds the configured source. The returned closer releases
// any file it holds.
func newProducer(cfg *config.Config, spec playback.FilterSpec, startMs int64, logger *slog.Logger) (producer, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Source.Kind {
	case config.SourceWAV:
		w, err := source.OpenWAV(source.WAVConfig{
			Path:      cfg.Source.WAVPath,
			ChannelID: cfg.Source.Channels[0],
			StartMs:   startMs,
			Filter:    spec,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return w.Run, w.Close, nil

	default:
		s, err := source.NewSynthetic(source.SyntheticConfig{
			Channels:    cfg.Source.Channels,
			StartMs:     startMs,
			FrequencyHz: cfg.Source.FrequencyHz,
			Amplitude:   cfg.Source.Amplitude,
			NoiseLevel:  cfg.Source.NoiseLevel,
			DropEvery:   cfg.Source.DropEvery,
			Seed:        uint64(startMs),
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		span := time.Duration(cfg.Source.Duration)
		run := func(ctx context.Context, sink source.Sink) (source.Stats, error) {
			return s.Run(ctx, sink, span, cfg.Source.Realtime)
		}
		return run, noop, nil
	}
}

func simulate(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*report, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	interp, err := cfg.Worker.InterpolationKind()
	if err != nil {
		return nil, err
	}
	filterSpec, err := cfg.Worker.FilterSpec()
	if err != nil {
		return nil, err
	}

	w, err := playback.NewWorker(st, playback.WorkerConfig{
		ReadingsTailFrames:   cfg.Worker.ReadingsTailFrames,
		SpectralTailFrames:   cfg.Worker.SpectralTailFrames,
		Interpolation:        interp,
		Filter:               filterSpec,
		SpectralFilterStages: cfg.Worker.SpectralFilterStages,
		Logger:               logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Error("failed to close worker", "err", err)
		}
	}()

	produce, closeSource, err := newProducer(cfg, filterSpec, time.Now().UnixMilli(), logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeSource() }()

	ocfg := playback.OrchestratorConfig{
		DurationMs:     float64(time.Duration(cfg.Display.Window).Milliseconds()),
		Width:          cfg.Display.Width,
		ResizeDebounce: time.Duration(cfg.Display.ResizeDebounce),
		Logger:         logger,
	}
	d := driver{
		cfg:      cfg,
		worker:   w,
		produce:  produce,
		interval: time.Duration(cfg.Display.DrawInterval),
	}

	switch cfg.Display.Player {
	case config.PlayerReadings:
		return drive(ctx, d, w.ReadingsFactory(), ocfg, func(s playback.Sample) bool { return s.Gap })
	case config.PlayerSpectrogram:
		var axis *playback.FrequencyAxis
		if cfg.Display.FrequencyBins > 0 {
			axis = &playback.FrequencyAxis{MaxFrequency: playback.MaxFrequencyHz, Bins: cfg.Display.FrequencyBins}
		}
		return drive(ctx, d, w.SpectrogramFactory(axis), ocfg, func(s playback.SpectralSample) bool { return s.Gap })
	case config.PlayerFFT:
		return drive(ctx, d, w.FFTFactory(), ocfg, func(s playback.SpectralSample) bool { return s.Gap })
	default:
		return drive(ctx, d, w.StrainGraphFactory(), ocfg, func(s playback.Sample) bool { return s.Gap })
	}
}

type driver struct {
	cfg      *config.Config
	worker   *playback.Worker
	produce  producer
	interval time.Duration
}

type produced struct {
	stats source.Stats
	err   error
}

// drive runs the producer in the background and draws on every tick until
// the producer finishes.
func drive[T any](ctx context.Context, d driver, factory playback.PlayerFactory[T], ocfg playback.OrchestratorConfig, isGap func(T) bool) (*report, error) {
	o, err := playback.NewOrchestrator(factory, ocfg)
	if err != nil {
		return nil, err
	}
	defer o.Close()

	channels := make([]playback.Channel, len(d.cfg.Source.Channels))
	for i, id := range d.cfg.Source.Channels {
		channels[i] = playback.Channel{ID: id, Label: id}
	}

	rep := &report{
		player:  d.cfg.Display.Player,
		samples: make(map[string]int),
		gaps:    make(map[string]int),
	}
	draw := func() {
		out, ok := o.Draw(ctx, channels)
		if !ok {
			return
		}
		for id, data := range out {
			for _, v := range data {
				if isGap(v) {
					rep.gaps[id]++
				} else {
					rep.samples[id]++
				}
			}
		}
	}

	start := time.Now()
	// players exist before the first frame arrives
	draw()
	o.WaitIdle()

	done := make(chan produced, 1)
	go func() {
		stats, err := d.produce(ctx, d.worker)
		done <- produced{stats: stats, err: err}
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			draw()
		case res := <-done:
			draw()
			rep.elapsed = time.Since(start)
			rep.source = res.stats
			rep.worker = d.worker.Stats()
			rep.orchestrator = o.Stats()
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				return nil, res.err
			}
			return rep, nil
		}
	}
}
