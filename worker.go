package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tphakala/go-sensor-playback/internal/ringbuf"
	"github.com/tphakala/go-sensor-playback/internal/store"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// ReadingsTailFrames is the per-channel readings tail cache size. Zero means 50.
	ReadingsTailFrames int

	// SpectralTailFrames is the per-channel spectral tail cache size. Zero means 5.
	SpectralTailFrames int

	// Interpolation is used by readings players.
	Interpolation Interpolation

	// Filter is the anti-aliasing filter of readings players.
	Filter FilterSpec

	// SpectralFilterStages is the Butterworth cascade depth of spectral
	// players. Zero means 2.
	SpectralFilterStages int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *WorkerConfig) Validate() error {
	if c.ReadingsTailFrames < 0 || (c.ReadingsTailFrames > 0 && c.ReadingsTailFrames < RowFrames) {
		return fmt.Errorf("%w: readings tail must hold at least %d frames, got %d", ErrInvalidConfig, RowFrames, c.ReadingsTailFrames)
	}
	if c.SpectralTailFrames < 0 {
		return fmt.Errorf("%w: spectral tail frames %d", ErrInvalidConfig, c.SpectralTailFrames)
	}
	if c.SpectralFilterStages < 0 {
		return fmt.Errorf("%w: spectral filter stages %d", ErrInvalidConfig, c.SpectralFilterStages)
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *WorkerConfig) applyDefaults() {
	if c.ReadingsTailFrames == 0 {
		c.ReadingsTailFrames = DefaultReadingsTailFrames
	}
	if c.SpectralTailFrames == 0 {
		c.SpectralTailFrames = DefaultSpectralTailFrames
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	ReadingsFrames  int64 // readings frames ingested
	SpectralFrames  int64 // spectral frames ingested
	MalformedFrames int64 // frames dropped for wrong vector lengths
	RowsWritten     int64 // rows appended to the store
	PartialBatches  int64 // readings batches discarded for gaps
	DuplicateRows   int64 // rows rejected as duplicates
	StoreErrors     int64 // other append failures
	PlayersCreated  int64
	PlayersActive   int64
}

type workerCounters struct {
	readingsFrames  atomic.Int64
	spectralFrames  atomic.Int64
	malformedFrames atomic.Int64
	rowsWritten     atomic.Int64
	partialBatches  atomic.Int64
	duplicateRows   atomic.Int64
	storeErrors     atomic.Int64
	playersCreated  atomic.Int64
	playersActive   atomic.Int64
}

// channelState is everything the worker keeps for one channel. mu makes
// ingest, backfill and registration atomic for that channel. persistMu
// orders store appends; it is taken before mu is released so rows land in
// timestamp order while mu stays free during the write.
type channelState struct {
	mu              sync.Mutex
	persistMu       sync.Mutex
	readingsTail    *ringbuf.Ring[ReadingsFrame]
	spectralTail    *ringbuf.Ring[SpectralFrame]
	readingsPlayers map[string]ReadingsSink
	spectralPlayers map[string]SpectralSink
}

// Worker is the persistence and fan-out layer between producers and players.
type Worker struct {
	store  store.Store
	cfg    WorkerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]*channelState
	closed   atomic.Bool

	stats workerCounters
}

// NewWorker creates a worker persisting to st.
func NewWorker(st store.Store, cfg WorkerConfig) (*Worker, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &Worker{
		store:    st,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "worker"),
		channels: make(map[string]*channelState),
	}, nil
}

// channel returns the state for id, creating it on first use.
func (w *Worker) channel(id string) *channelState {
	w.mu.RLock()
	ch, ok := w.channels[id]
	w.mu.RUnlock()
	if ok {
		return ch
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok = w.channels[id]; ok {
		return ch
	}
	ch = &channelState{
		readingsTail:    ringbuf.MustNew[ReadingsFrame](w.cfg.ReadingsTailFrames),
		spectralTail:    ringbuf.MustNew[SpectralFrame](w.cfg.SpectralTailFrames),
		readingsPlayers: make(map[string]ReadingsSink),
		spectralPlayers: make(map[string]SpectralSink),
	}
	w.channels[id] = ch
	return ch
}

// OnRealtimeReadings ingests one readings frame: it is pushed to every live
// player of the channel, cached in the tail and, when it completes a 100 ms
// row of contiguous frames, persisted.
func (w *Worker) OnRealtimeReadings(channelID string, frame ReadingsFrame) {
	if w.closed.Load() {
		return
	}
	if channelID == "" || !frame.Valid() {
		w.stats.malformedFrames.Add(1)
		w.logger.Debug("dropping malformed readings frame", "channel", channelID, "timestamp", frame.Timestamp)
		return
	}
	w.stats.readingsFrames.Add(1)

	ch := w.channel(channelID)
	ch.mu.Lock()

	for _, p := range ch.readingsPlayers {
		p.OnRealtimeReadings(channelID, frame)
	}
	ch.readingsTail.AddLast(frame)

	if !closesRow(frame.Timestamp) {
		ch.mu.Unlock()
		return
	}
	row, ok := w.readingsRow(channelID, ch, frame.Timestamp)
	if !ok {
		ch.mu.Unlock()
		return
	}

	// frames of a row still in flight are served from the tail on backfill
	ch.persistMu.Lock()
	ch.mu.Unlock()
	defer ch.persistMu.Unlock()
	w.recordAppend(channelID, row.Timestamp, w.store.AppendReadings(context.Background(), row))
}

// closesRow reports whether ts is the last frame slot of a row.
func closesRow(ts int64) bool {
	return (ts-rowCloseOffsetMs)%RowSpanMs == 0
}

// readingsRow builds the row ending at lastTs if the tail holds all of its
// frames back to back. Callers hold ch.mu.
func (w *Worker) readingsRow(channelID string, ch *channelState, lastTs int64) (store.ReadingsRow, bool) {
	frames := ch.readingsTail.LastN(RowFrames)
	rowTs := lastTs - rowCloseOffsetMs

	complete := len(frames) == RowFrames
	for i := 0; complete && i < len(frames); i++ {
		complete = frames[i].Timestamp == rowTs+int64(i*ReadingFrameMs)
	}
	if !complete {
		w.stats.partialBatches.Add(1)
		w.logger.Debug("discarding partial readings batch", "channel", channelID, "row_timestamp", rowTs)
		return store.ReadingsRow{}, false
	}

	row := store.ReadingsRow{
		ChannelID: channelID,
		Timestamp: rowTs,
		Readings:  make([]float32, 0, RowFrames*ReadingsPerFrame),
		Noises:    make([]float32, 0, RowFrames*ReadingsPerFrame),
	}
	for _, f := range frames {
		row.Readings = append(row.Readings, f.Readings...)
		if len(f.Noises) == ReadingsPerFrame {
			row.Noises = append(row.Noises, f.Noises...)
		} else {
			row.Noises = append(row.Noises, make([]float32, ReadingsPerFrame)...)
		}
	}
	return row, true
}

// OnRealtimeFrame ingests one spectral frame: fan-out, tail cache and a
// one-frame row.
func (w *Worker) OnRealtimeFrame(channelID string, frame SpectralFrame) {
	if w.closed.Load() {
		return
	}
	if channelID == "" || !frame.Valid() {
		w.stats.malformedFrames.Add(1)
		w.logger.Debug("dropping malformed spectral frame", "channel", channelID, "timestamp", frame.Timestamp)
		return
	}
	w.stats.spectralFrames.Add(1)

	ch := w.channel(channelID)
	ch.mu.Lock()

	for _, p := range ch.spectralPlayers {
		p.OnRealtimeFrame(channelID, frame)
	}
	ch.spectralTail.AddLast(frame)

	ch.persistMu.Lock()
	ch.mu.Unlock()
	defer ch.persistMu.Unlock()
	err := w.store.AppendSpectral(context.Background(), store.SpectralRow{
		ChannelID: channelID,
		Timestamp: frame.Timestamp,
		LowBand:   frame.LowBand,
		HighBand:  frame.HighBand,
	})
	w.recordAppend(channelID, frame.Timestamp, err)
}

func (w *Worker) recordAppend(channelID string, ts int64, err error) {
	switch {
	case err == nil:
		w.stats.rowsWritten.Add(1)
	case errors.Is(err, store.ErrDuplicateRow):
		w.stats.duplicateRows.Add(1)
		w.logger.Warn("dropping duplicate row", "channel", channelID, "timestamp", ts, "err", err)
	default:
		w.stats.storeErrors.Add(1)
		w.logger.Error("failed to persist row", "channel", channelID, "timestamp", ts, "err", err)
	}
}

// backfillFrom returns the earliest row timestamp whose span can overlap a
// window starting at start.
func backfillFrom(start int64, spanMs, cadenceMs int64) int64 {
	if start < math.MinInt64+spanMs {
		return math.MinInt64
	}
	return start - spanMs + cadenceMs
}

func (w *Worker) playerOptions(ch *channelState, id string, spectral bool) PlayerOptions {
	opts := PlayerOptions{
		ID:            id,
		Logger:        w.cfg.Logger,
		Interpolation: w.cfg.Interpolation,
		Filter:        w.cfg.Filter,
	}
	if spectral {
		opts.Interpolation = InterpLinear
		opts.Filter = FilterSpec{Stages: w.cfg.SpectralFilterStages}
		opts.OnDispose = func() { w.unregister(ch, id, true) }
	} else {
		opts.OnDispose = func() { w.unregister(ch, id, false) }
	}
	return opts
}

func (w *Worker) unregister(ch *channelState, id string, spectral bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var removed bool
	if spectral {
		_, removed = ch.spectralPlayers[id]
		delete(ch.spectralPlayers, id)
	} else {
		_, removed = ch.readingsPlayers[id]
		delete(ch.readingsPlayers, id)
	}
	if removed {
		w.stats.playersActive.Add(-1)
	}
}

type readingsListener interface {
	ReadingsSink
	Dispose()
}

type spectralListener interface {
	SpectralSink
	Dispose()
}

// attachReadings builds a player, replays persisted rows and the tail
// cache into it and registers it for live frames, all under the channel lock.
func attachReadings[P readingsListener](ctx context.Context, w *Worker, channelID string, spec WindowSpec, build func(PlayerOptions) (P, error)) (P, error) {
	var zero P
	if w.closed.Load() {
		return zero, ErrClosed
	}
	if channelID == "" {
		return zero, ErrInvalidChannel
	}
	if err := spec.Validate(); err != nil {
		return zero, err
	}

	ch := w.channel(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	id := uuid.New().String()
	p, err := build(w.playerOptions(ch, id, false))
	if err != nil {
		return zero, err
	}

	from := backfillFrom(spec.StartTimestampMs, RowSpanMs, ReadingFrameMs)
	rows, err := w.store.ReadingsRange(ctx, channelID, from, spec.EndTimestampMs())
	if err != nil {
		return zero, fmt.Errorf("backfill %s: %w", channelID, err)
	}

	last := int64(math.MinInt64)
	replayed := 0
	for _, row := range rows {
		n := len(row.Readings) / ReadingsPerFrame
		for i := range n {
			frame := ReadingsFrame{
				Timestamp: row.Timestamp + int64(i*ReadingFrameMs),
				Readings:  row.Readings[i*ReadingsPerFrame : (i+1)*ReadingsPerFrame],
			}
			if len(row.Noises) == len(row.Readings) {
				frame.Noises = row.Noises[i*ReadingsPerFrame : (i+1)*ReadingsPerFrame]
			}
			p.OnRealtimeReadings(channelID, frame)
			last = frame.Timestamp
			replayed++
		}
	}
	ch.readingsTail.Do(func(_ int, f ReadingsFrame) {
		if f.Timestamp > last && f.Timestamp >= from {
			p.OnRealtimeReadings(channelID, f)
			last = f.Timestamp
			replayed++
		}
	})

	ch.readingsPlayers[id] = p
	w.stats.playersCreated.Add(1)
	w.stats.playersActive.Add(1)
	w.logger.Info("player created",
		"channel", channelID,
		"id", id,
		"rows", len(rows),
		"frames_replayed", replayed,
		"sample_count", spec.SampleCount,
		"duration_ms", spec.DurationMs)
	return p, nil
}

// attachSpectral is attachReadings for spectral players. Spectral rows hold
// one frame each.
func attachSpectral[P spectralListener](ctx context.Context, w *Worker, channelID string, spec WindowSpec, build func(PlayerOptions) (P, error)) (P, error) {
	var zero P
	if w.closed.Load() {
		return zero, ErrClosed
	}
	if channelID == "" {
		return zero, ErrInvalidChannel
	}
	if err := spec.Validate(); err != nil {
		return zero, err
	}

	ch := w.channel(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	id := uuid.New().String()
	p, err := build(w.playerOptions(ch, id, true))
	if err != nil {
		return zero, err
	}

	from := spec.StartTimestampMs
	rows, err := w.store.SpectralRange(ctx, channelID, from, spec.EndTimestampMs())
	if err != nil {
		return zero, fmt.Errorf("backfill %s: %w", channelID, err)
	}

	last := int64(math.MinInt64)
	for _, row := range rows {
		p.OnRealtimeFrame(channelID, SpectralFrame{Timestamp: row.Timestamp, LowBand: row.LowBand, HighBand: row.HighBand})
		last = row.Timestamp
	}
	ch.spectralTail.Do(func(_ int, f SpectralFrame) {
		if f.Timestamp > last && f.Timestamp >= from {
			p.OnRealtimeFrame(channelID, f)
			last = f.Timestamp
		}
	})

	ch.spectralPlayers[id] = p
	w.stats.playersCreated.Add(1)
	w.stats.playersActive.Add(1)
	w.logger.Info("player created",
		"channel", channelID,
		"id", id,
		"rows", len(rows),
		"sample_count", spec.SampleCount,
		"duration_ms", spec.DurationMs)
	return p, nil
}

// CreateStrainGraphPlayer creates a backfilled strain graph player.
func (w *Worker) CreateStrainGraphPlayer(ctx context.Context, channelID string, spec WindowSpec) (*StrainGraphPlayer, error) {
	return attachReadings(ctx, w, channelID, spec, func(opts PlayerOptions) (*StrainGraphPlayer, error) {
		return NewStrainGraphPlayer(channelID, spec, opts)
	})
}

// CreateReadingsPlayer creates a backfilled duration-trimmed readings player.
func (w *Worker) CreateReadingsPlayer(ctx context.Context, channelID string, spec WindowSpec) (*ReadingsPlayer, error) {
	return attachReadings(ctx, w, channelID, spec, func(opts PlayerOptions) (*ReadingsPlayer, error) {
		return NewReadingsPlayer(channelID, spec, opts)
	})
}

// CreateSpectrogramPlayer creates a backfilled spectrogram player. axis may be nil.
func (w *Worker) CreateSpectrogramPlayer(ctx context.Context, channelID string, spec WindowSpec, axis *FrequencyAxis) (*SpectrogramPlayer, error) {
	return attachSpectral(ctx, w, channelID, spec, func(opts PlayerOptions) (*SpectrogramPlayer, error) {
		return NewSpectrogramPlayer(channelID, spec, axis, opts)
	})
}

// CreateFFTPlayer creates a backfilled FFT player.
func (w *Worker) CreateFFTPlayer(ctx context.Context, channelID string, spec WindowSpec) (*FFTPlayer, error) {
	return attachSpectral(ctx, w, channelID, spec, func(opts PlayerOptions) (*FFTPlayer, error) {
		return NewFFTPlayer(channelID, spec, opts)
	})
}

// PlayerFactory creates players for an Orchestrator.
type PlayerFactory[T any] interface {
	CreatePlayer(ctx context.Context, channelID string, spec WindowSpec) (Player[T], error)
}

// PlayerFactoryFunc adapts a function to PlayerFactory.
type PlayerFactoryFunc[T any] func(ctx context.Context, channelID string, spec WindowSpec) (Player[T], error)

// CreatePlayer calls f.
func (f PlayerFactoryFunc[T]) CreatePlayer(ctx context.Context, channelID string, spec WindowSpec) (Player[T], error) {
	return f(ctx, channelID, spec)
}

// StrainGraphFactory returns a factory of backfilled strain graph players.
func (w *Worker) StrainGraphFactory() PlayerFactory[Sample] {
	return PlayerFactoryFunc[Sample](func(ctx context.Context, channelID string, spec WindowSpec) (Player[Sample], error) {
		p, err := w.CreateStrainGraphPlayer(ctx, channelID, spec)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// ReadingsFactory returns a factory of backfilled duration-trimmed readings players.
func (w *Worker) ReadingsFactory() PlayerFactory[Sample] {
	return PlayerFactoryFunc[Sample](func(ctx context.Context, channelID string, spec WindowSpec) (Player[Sample], error) {
		p, err := w.CreateReadingsPlayer(ctx, channelID, spec)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// SpectrogramFactory returns a factory of backfilled spectrogram players
// sharing one frequency axis. axis may be nil.
func (w *Worker) SpectrogramFactory(axis *FrequencyAxis) PlayerFactory[SpectralSample] {
	return PlayerFactoryFunc[SpectralSample](func(ctx context.Context, channelID string, spec WindowSpec) (Player[SpectralSample], error) {
		p, err := w.CreateSpectrogramPlayer(ctx, channelID, spec, axis)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// FFTFactory returns a factory of backfilled FFT players.
func (w *Worker) FFTFactory() PlayerFactory[SpectralSample] {
	return PlayerFactoryFunc[SpectralSample](func(ctx context.Context, channelID string, spec WindowSpec) (Player[SpectralSample], error) {
		p, err := w.CreateFFTPlayer(ctx, channelID, spec)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ReadingsFrames:  w.stats.readingsFrames.Load(),
		SpectralFrames:  w.stats.spectralFrames.Load(),
		MalformedFrames: w.stats.malformedFrames.Load(),
		RowsWritten:     w.stats.rowsWritten.Load(),
		PartialBatches:  w.stats.partialBatches.Load(),
		DuplicateRows:   w.stats.duplicateRows.Load(),
		StoreErrors:     w.stats.storeErrors.Load(),
		PlayersCreated:  w.stats.playersCreated.Load(),
		PlayersActive:   w.stats.playersActive.Load(),
	}
}

// Channels returns the IDs of channels that have received frames or players.
func (w *Worker) Channels() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]string, 0, len(w.channels))
	for id := range w.channels {
		ids = append(ids, id)
	}
	return ids
}

// Close stops ingest and closes the store. Players stay valid but receive
// no further frames.
func (w *Worker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.store.Close()
}
