package playback

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-sensor-playback/internal/store"
)

var errFactory = errors.New("factory failure")

type fakePlayer struct {
	id       string
	channel  string
	spec     WindowSpec
	disposed atomic.Int32

	// when set, GetNewData signals drained and waits for resume
	drained chan struct{}
	resume  chan struct{}
}

func (p *fakePlayer) ID() string { return p.id }
func (p *fakePlayer) ChannelID() string { return p.channel }
func (p *fakePlayer) Spec() WindowSpec { return p.spec }
func (p *fakePlayer) Dispose() { p.disposed.Add(1) }
func (p *fakePlayer) isDisposed() bool { return p.disposed.Load() > 0 }
func (p *fakePlayer) disposeCalls() int32 { return p.disposed.Load() }

func (p *fakePlayer) GetNewData() []int {
	if p.drained != nil {
		p.drained <- struct{}{}
		<-p.resume
	}
	return []int{p.spec.SampleCount}
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakePlayer
	failing map[string]bool
	calls   atomic.Int32

	// when set, creating blockOn signals entered and waits for release
	blockOn string
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFactory) CreatePlayer(_ context.Context, channelID string, spec WindowSpec) (Player[int], error) {
	f.calls.Add(1)
	if f.entered != nil && channelID == f.blockOn {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[channelID] {
		return nil, errFactory
	}
	p := &fakePlayer{id: channelID + "-" + strconv.Itoa(len(f.created)), channel: channelID, spec: spec}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeFactory) setFailing(channelID string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = make(map[string]bool)
	}
	f.failing[channelID] = fail
}

func (f *fakeFactory) players() []*fakePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePlayer(nil), f.created...)
}

func channels(ids ...string) []Channel {
	out := make([]Channel, len(ids))
	for i, id := range ids {
		out[i] = Channel{ID: id, Label: "label " + id}
	}
	return out
}

func fixedNow() time.Time { return time.UnixMilli(10_000) }

func newTestOrchestrator(t *testing.T, f PlayerFactory[int]) *Orchestrator[int] {
	t.Helper()
	o, err := NewOrchestrator(f, OrchestratorConfig{
		DurationMs:     1000,
		Width:          100,
		ResizeDebounce: 20 * time.Millisecond,
		Now:            fixedNow,
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func TestOrchestratorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OrchestratorConfig
		wantErr error
	}{
		{"valid", OrchestratorConfig{DurationMs: 1000, Width: 10}, nil},
		{"zero width", OrchestratorConfig{DurationMs: 1000}, ErrInvalidWindow},
		{"zero duration", OrchestratorConfig{Width: 10}, ErrInvalidWindow},
		{"negative debounce", OrchestratorConfig{DurationMs: 1000, Width: 10, ResizeDebounce: -time.Second}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	_, err := NewOrchestrator[int](nil, OrchestratorConfig{DurationMs: 1000, Width: 10})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// drawSettled draws once to start creations, waits for them and draws
// again so new players are drained.
func drawSettled[T any](t *testing.T, o *Orchestrator[T], desired []Channel) map[string][]T {
	t.Helper()
	_, ok := o.Draw(context.Background(), desired)
	require.True(t, ok)
	o.WaitIdle()
	out, ok := o.Draw(context.Background(), desired)
	require.True(t, ok)
	return out
}

func TestOrchestrator_DrawDiff(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	out, ok := o.Draw(ctx, channels("A", "B"))
	require.True(t, ok)
	assert.Empty(t, out, "players are created in the background")
	o.WaitIdle()
	assert.Equal(t, []string{"A", "B"}, o.Active())

	a, _ := o.Player("A")
	b, _ := o.Player("B")
	assert.Equal(t, WindowSpec{DurationMs: 1000, SampleCount: 100, StartTimestampMs: 9000}, a.Spec())

	out, ok = o.Draw(ctx, channels("B", "C"))
	require.True(t, ok)
	assert.Contains(t, out, "B")
	assert.NotContains(t, out, "A")
	assert.True(t, a.(*fakePlayer).isDisposed(), "A disposed")

	o.WaitIdle()
	assert.Equal(t, []string{"B", "C"}, o.Active())
	out, ok = o.Draw(ctx, channels("B", "C"))
	require.True(t, ok)
	assert.Contains(t, out, "B")
	assert.Contains(t, out, "C")

	assert.False(t, b.(*fakePlayer).isDisposed(), "B untouched")
	stillB, _ := o.Player("B")
	assert.Same(t, b, stillB)
	assert.Len(t, f.players(), 3)

	stats := o.Stats()
	assert.Equal(t, int64(3), stats.Draws)
	assert.Equal(t, int64(3), stats.PlayersCreated)
	assert.Equal(t, int64(1), stats.PlayersDisposed)
}

func TestOrchestrator_DuplicateChannelsCreateOnePlayer(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)

	out := drawSettled(t, o, channels("A", "A"))
	assert.Len(t, f.players(), 1)
	assert.Equal(t, []int{100}, out["A"])
}

func TestOrchestrator_CreateFailureRetriesNextTick(t *testing.T) {
	f := &fakeFactory{}
	f.setFailing("X", true)
	o := newTestOrchestrator(t, f)

	out := drawSettled(t, o, channels("X"))
	assert.NotContains(t, out, "X")
	o.WaitIdle()
	assert.Equal(t, int64(2), o.Stats().CreateErrors, "each tick retries")

	f.setFailing("X", false)
	out = drawSettled(t, o, channels("X"))
	assert.Contains(t, out, "X")
	assert.Equal(t, []string{"X"}, o.Active())
}

func TestOrchestrator_SkipsDrawInFlight(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	drawSettled(t, o, channels("A"))
	p := f.players()[0]
	p.drained = make(chan struct{})
	p.resume = make(chan struct{})

	done := make(chan bool)
	go func() {
		_, ok := o.Draw(ctx, channels("A"))
		done <- ok
	}()
	<-p.drained

	out, ok := o.Draw(ctx, channels("A"))
	assert.False(t, ok)
	assert.Nil(t, out)
	assert.Equal(t, int64(1), o.Stats().SkippedDraws)

	close(p.resume)
	assert.True(t, <-done)
	assert.Equal(t, int64(3), o.Stats().Draws)
	assert.Len(t, f.players(), 1)
}

func TestOrchestrator_SlowCreateDoesNotBlockDraw(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	drawSettled(t, o, channels("B"))
	f.blockOn = "C"
	f.entered = make(chan struct{})
	f.release = make(chan struct{})

	out, ok := o.Draw(ctx, channels("B", "C"))
	require.True(t, ok)
	assert.Equal(t, []int{100}, out["B"])
	<-f.entered

	// C's backfill is still running
	for range 3 {
		out, ok = o.Draw(ctx, channels("B", "C"))
		require.True(t, ok)
		assert.Equal(t, []int{100}, out["B"])
		assert.NotContains(t, out, "C")
	}
	assert.Equal(t, int32(2), f.calls.Load(), "no second creation for C while one is in flight")
	assert.Zero(t, o.Stats().SkippedDraws)

	close(f.release)
	o.WaitIdle()
	out, ok = o.Draw(ctx, channels("B", "C"))
	require.True(t, ok)
	assert.Contains(t, out, "C")
	assert.Len(t, f.players(), 2)
}

func TestOrchestrator_RecreationDoesNotBlockDraw(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	drawSettled(t, o, channels("A", "B"))
	f.blockOn = "A"
	f.entered = make(chan struct{})
	f.release = make(chan struct{})

	require.NoError(t, o.Resize(200, 1000))
	<-f.entered

	out, ok := o.Draw(ctx, channels("A", "B"))
	require.True(t, ok, "draw runs while players are being rebuilt")
	assert.Empty(t, out)
	assert.Zero(t, o.Stats().SkippedDraws)

	close(f.release)
	o.WaitIdle()
	out, ok = o.Draw(ctx, channels("A", "B"))
	require.True(t, ok)
	assert.Equal(t, []int{200}, out["A"])
	assert.Equal(t, []int{200}, out["B"])
}

func TestOrchestrator_DeselectedWhileCreating(t *testing.T) {
	f := &fakeFactory{blockOn: "A", entered: make(chan struct{}), release: make(chan struct{})}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	_, ok := o.Draw(ctx, channels("A"))
	require.True(t, ok)
	<-f.entered

	_, ok = o.Draw(ctx, nil)
	require.True(t, ok)
	close(f.release)
	o.WaitIdle()

	assert.Empty(t, o.Active())
	require.Len(t, f.players(), 1)
	assert.True(t, f.players()[0].isDisposed())
}

func TestOrchestrator_DebouncedResize(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	drawSettled(t, o, channels("A", "B"))
	first := f.players()

	require.NoError(t, o.Resize(150, 1000))
	require.NoError(t, o.Resize(200, 1000))
	require.NoError(t, o.Resize(300, 2000))

	width, duration := o.Geometry()
	assert.Equal(t, 300, width)
	assert.InDelta(t, 2000.0, duration, 0)

	require.Eventually(t, func() bool { return o.Stats().Resizes == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return o.Stats().Resizes > 1 }, 60*time.Millisecond, 5*time.Millisecond)
	o.WaitIdle()

	for _, p := range first {
		assert.Equal(t, int32(1), p.disposeCalls(), "player %s replaced once", p.id)
	}
	for _, id := range []string{"A", "B"} {
		p, ok := o.Player(id)
		require.True(t, ok)
		assert.Equal(t, WindowSpec{DurationMs: 2000, SampleCount: 300, StartTimestampMs: 8000}, p.Spec())
	}

	out, ok := o.Draw(ctx, channels("A", "B"))
	require.True(t, ok)
	assert.Equal(t, []int{300}, out["A"])
}

func TestOrchestrator_ResizeRevertedKeepsPlayers(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)

	drawSettled(t, o, channels("A"))
	require.NoError(t, o.Resize(200, 1000))
	require.NoError(t, o.Resize(100, 1000))

	assert.Never(t, func() bool { return o.Stats().Resizes > 0 }, 60*time.Millisecond, 5*time.Millisecond)
	require.Len(t, f.players(), 1)
	assert.False(t, f.players()[0].isDisposed())

	width, _ := o.Geometry()
	assert.Equal(t, 100, width)
}

func TestOrchestrator_ResizeNoOp(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFactory{})

	require.NoError(t, o.Resize(100, 1000))
	assert.Never(t, func() bool { return o.Stats().Resizes > 0 }, 60*time.Millisecond, 5*time.Millisecond)

	assert.ErrorIs(t, o.Resize(0, 1000), ErrInvalidWindow)
}

func TestOrchestrator_Close(t *testing.T) {
	f := &fakeFactory{}
	o := newTestOrchestrator(t, f)
	ctx := context.Background()

	_, ok := o.Draw(ctx, channels("A"))
	require.True(t, ok)
	require.NoError(t, o.Resize(10, 1000))

	o.Close()
	o.Close()

	for _, p := range f.players() {
		assert.Equal(t, int32(1), p.disposeCalls())
	}
	assert.Empty(t, o.Active())

	_, ok = o.Draw(ctx, channels("A"))
	assert.False(t, ok)
	assert.ErrorIs(t, o.Resize(20, 1000), ErrClosed)
	assert.Never(t, func() bool { return o.Stats().Resizes > 0 }, 60*time.Millisecond, 5*time.Millisecond)
}

func TestOrchestrator_WithWorker(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	now := time.UnixMilli(1_000)
	o, err := NewOrchestrator(w.StrainGraphFactory(), OrchestratorConfig{
		DurationMs: 1000,
		Width:      100,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)

	// history persisted before the channel is selected
	for ts := int64(0); ts < 500; ts += ReadingFrameMs {
		w.OnRealtimeReadings(testChannel, readingsFrame(ts, sine))
	}

	out := drawSettled(t, o, channels(testChannel))
	backfilled := out[testChannel]
	require.NotEmpty(t, backfilled)
	assert.InDelta(t, 0.0, backfilled[0].Timestamp, 1e-9)

	w.OnRealtimeReadings(testChannel, readingsFrame(500, sine))
	out, ok := o.Draw(context.Background(), channels(testChannel))
	require.True(t, ok)
	require.Len(t, out[testChannel], 1)
	assert.InDelta(t, 500.0, out[testChannel][0].Timestamp, 1e-9)

	_, ok = o.Draw(context.Background(), nil)
	require.True(t, ok)
	assert.Zero(t, w.Stats().PlayersActive)
}
