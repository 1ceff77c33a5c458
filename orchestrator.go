package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// DurationMs is the visible time span of every player.
	DurationMs float64

	// Width is the number of output samples per window, usually the plot
	// width in pixels.
	Width int

	// ResizeDebounce delays player recreation after Resize. Zero means 200ms.
	ResizeDebounce time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Validate checks the configuration.
func (c *OrchestratorConfig) Validate() error {
	if err := (WindowSpec{DurationMs: c.DurationMs, SampleCount: c.Width}).Validate(); err != nil {
		return err
	}
	if c.ResizeDebounce < 0 {
		return fmt.Errorf("%w: negative resize debounce %v", ErrInvalidConfig, c.ResizeDebounce)
	}
	return nil
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.ResizeDebounce == 0 {
		c.ResizeDebounce = DefaultResizeDebounce
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// OrchestratorStats is a snapshot of orchestrator counters.
type OrchestratorStats struct {
	Draws           int64 // completed draw ticks
	SkippedDraws    int64 // ticks skipped because a draw was in flight
	PlayersCreated  int64
	PlayersDisposed int64
	CreateErrors    int64 // failed player creations, retried on the next tick
	Resizes         int64 // debounced recreations that ran
}

type orchestratorCounters struct {
	draws           atomic.Int64
	skippedDraws    atomic.Int64
	playersCreated  atomic.Int64
	playersDisposed atomic.Int64
	createErrors    atomic.Int64
	resizes         atomic.Int64
}

// Orchestrator keeps one player per displayed channel in sync with the
// channel selection and the plot geometry. Player creation runs in the
// background so a slow backfill never holds up a draw.
type Orchestrator[T any] struct {
	factory PlayerFactory[T]
	cfg     OrchestratorConfig
	logger  *slog.Logger

	// drawMu serializes draws; a tick that cannot take it is skipped.
	drawMu sync.Mutex

	// createMu serializes factory calls.
	createMu sync.Mutex

	// mu guards everything below.
	mu      sync.Mutex
	players map[string]Player[T]
	pending map[string]struct{} // channels with a creation in flight
	idle    *sync.Cond          // signaled when pending shrinks
	want    map[string]struct{}

	// width and durationMs are the latest requested geometry; applied is
	// the geometry players are built with.
	durationMs float64
	width      int
	applied    WindowSpec

	timer  *time.Timer
	gen    uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	stats orchestratorCounters
}

// NewOrchestrator creates an orchestrator building players with factory.
func NewOrchestrator[T any](factory PlayerFactory[T], cfg OrchestratorConfig) (*Orchestrator[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: player factory is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator[T]{
		factory:    factory,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "orchestrator"),
		players:    make(map[string]Player[T]),
		pending:    make(map[string]struct{}),
		want:       make(map[string]struct{}),
		durationMs: cfg.DurationMs,
		width:      cfg.Width,
		applied:    WindowSpec{DurationMs: cfg.DurationMs, SampleCount: cfg.Width},
		ctx:        ctx,
		cancel:     cancel,
	}
	o.idle = sync.NewCond(&o.mu)
	return o, nil
}

// windowSpec returns the spec for a player created now with the applied
// geometry. Callers hold mu.
func (o *Orchestrator[T]) windowSpec() WindowSpec {
	now := o.cfg.Now().UnixMilli()
	return WindowSpec{
		DurationMs:       o.applied.DurationMs,
		SampleCount:      o.applied.SampleCount,
		StartTimestampMs: now - int64(math.Ceil(o.applied.DurationMs)),
	}
}

// Draw reconciles the players with desired and drains every desired
// channel that has a player. Newly selected channels get a player in the
// background and show up on a later draw. It returns false without doing
// anything when another draw is still running, ctx is done or the
// orchestrator is closed.
func (o *Orchestrator[T]) Draw(ctx context.Context, desired []Channel) (map[string][]T, bool) {
	if !o.drawMu.TryLock() {
		o.stats.skippedDraws.Add(1)
		o.logger.Debug("draw in flight, skipping tick")
		return nil, false
	}
	defer o.drawMu.Unlock()
	if ctx.Err() != nil {
		return nil, false
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, false
	}

	want := make(map[string]struct{}, len(desired))
	for _, c := range desired {
		want[c.ID] = struct{}{}
	}
	o.want = want

	for id, p := range o.players {
		if _, ok := want[id]; ok {
			continue
		}
		p.Dispose()
		delete(o.players, id)
		o.stats.playersDisposed.Add(1)
		o.logger.Debug("channel deselected", "channel", id)
	}

	spec := o.windowSpec()
	live := make(map[string]Player[T], len(want))
	for _, c := range desired {
		if p, ok := o.players[c.ID]; ok {
			live[c.ID] = p
			continue
		}
		o.startCreateLocked(c.ID, spec)
	}
	o.mu.Unlock()

	out := make(map[string][]T, len(live))
	for id, p := range live {
		out[id] = p.GetNewData()
	}
	o.stats.draws.Add(1)
	return out, true
}

// startCreateLocked launches a background creation for id unless one is
// already in flight. Callers hold mu.
func (o *Orchestrator[T]) startCreateLocked(id string, spec WindowSpec) {
	if _, ok := o.pending[id]; ok {
		return
	}
	o.pending[id] = struct{}{}
	go o.create(id, spec)
}

func (o *Orchestrator[T]) create(id string, spec WindowSpec) {
	o.createMu.Lock()
	p, err := o.factory.CreatePlayer(o.ctx, id, spec)
	o.createMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, id)
	defer o.idle.Broadcast()

	if err != nil {
		o.stats.createErrors.Add(1)
		o.logger.Error("failed to create player", "channel", id, "err", err)
		return
	}

	// the selection or geometry may have moved on while the backfill ran
	_, wanted := o.want[id]
	stale := spec.SampleCount != o.applied.SampleCount || spec.DurationMs != o.applied.DurationMs
	if o.closed || !wanted || stale {
		p.Dispose()
		o.logger.Debug("discarding outdated player", "channel", id, "stale_geometry", stale)
		return
	}
	o.players[id] = p
	o.stats.playersCreated.Add(1)
}

// WaitIdle blocks until no player creation is in flight.
func (o *Orchestrator[T]) WaitIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.pending) > 0 {
		o.idle.Wait()
	}
}

// Resize records a new geometry. Players are recreated once no further
// Resize has arrived for ResizeDebounce. A request equal to the geometry
// the players already use cancels any pending recreation.
func (o *Orchestrator[T]) Resize(width int, durationMs float64) error {
	if err := (WindowSpec{DurationMs: durationMs, SampleCount: width}).Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if width == o.width && durationMs == o.durationMs {
		return nil
	}

	o.width, o.durationMs = width, durationMs
	o.gen++
	gen := o.gen
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if width == o.applied.SampleCount && durationMs == o.applied.DurationMs {
		o.logger.Debug("resize reverted, keeping players", "width", width, "duration_ms", durationMs)
		return nil
	}
	o.timer = time.AfterFunc(o.cfg.ResizeDebounce, func() { o.recreate(gen) })

	o.logger.Debug("resize scheduled", "width", width, "duration_ms", durationMs, "debounce", o.cfg.ResizeDebounce)
	return nil
}

// recreate disposes every player and rebuilds it in the background for the
// requested geometry, unless a newer Resize superseded generation gen.
func (o *Orchestrator[T]) recreate(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.gen {
		return
	}

	o.applied = WindowSpec{DurationMs: o.durationMs, SampleCount: o.width}
	spec := o.windowSpec()
	ids := o.activeLocked()
	for _, id := range ids {
		o.players[id].Dispose()
		delete(o.players, id)
		o.stats.playersDisposed.Add(1)
		o.startCreateLocked(id, spec)
	}
	o.stats.resizes.Add(1)
	o.logger.Info("recreating players",
		"players", len(ids),
		"width", spec.SampleCount,
		"duration_ms", spec.DurationMs)
}

func (o *Orchestrator[T]) activeLocked() []string {
	ids := make([]string, 0, len(o.players))
	for id := range o.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Active returns the channel IDs that currently have a player, sorted.
func (o *Orchestrator[T]) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked()
}

// Player returns the player for channelID.
func (o *Orchestrator[T]) Player(channelID string) (Player[T], bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.players[channelID]
	return p, ok
}

// Geometry returns the latest requested width and duration. Players pick
// it up once the debounced recreation has run.
func (o *Orchestrator[T]) Geometry() (width int, durationMs float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width, o.durationMs
}

// Stats returns a snapshot of the orchestrator counters.
func (o *Orchestrator[T]) Stats() OrchestratorStats {
	return OrchestratorStats{
		Draws:           o.stats.draws.Load(),
		SkippedDraws:    o.stats.skippedDraws.Load(),
		PlayersCreated:  o.stats.playersCreated.Load(),
		PlayersDisposed: o.stats.playersDisposed.Load(),
		CreateErrors:    o.stats.createErrors.Load(),
		Resizes:         o.stats.resizes.Load(),
	}
}

// Close stops any pending resize, cancels in-flight creations, waits for
// them and disposes every player.
func (o *Orchestrator[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
	}
	o.cancel()

	for id, p := range o.players {
		p.Dispose()
		delete(o.players, id)
		o.stats.playersDisposed.Add(1)
	}
	for len(o.pending) > 0 {
		o.idle.Wait()
	}
}
