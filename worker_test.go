package playback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-sensor-playback/internal/store"
)

func newTestWorker(t *testing.T, st store.Store, logs *bytes.Buffer) *Worker {
	t.Helper()
	cfg := WorkerConfig{}
	if logs != nil {
		cfg.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	w, err := NewWorker(st, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func sine(tMs float64) float64 { return math.Sin(2 * math.Pi * 7 * tMs / 1000) }

// failingStore rejects every append with err.
type failingStore struct {
	*store.Memory
	err error
}

func (s failingStore) AppendReadings(context.Context, store.ReadingsRow) error { return s.err }

// gatedStore holds every readings append until release is closed.
type gatedStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) AppendReadings(ctx context.Context, row store.ReadingsRow) error {
	s.entered <- struct{}{}
	<-s.release
	return s.Memory.AppendReadings(ctx, row)
}

func TestWorkerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WorkerConfig
		wantErr bool
	}{
		{"defaults", WorkerConfig{}, false},
		{"tail shorter than a row", WorkerConfig{ReadingsTailFrames: 5}, true},
		{"negative spectral tail", WorkerConfig{SpectralTailFrames: -1}, true},
		{"negative stages", WorkerConfig{SpectralFilterStages: -1}, true},
		{"bad filter", WorkerConfig{Filter: FilterSpec{Stages: 99}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewWorker(nil, WorkerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWorker_BatchesContiguousFrames(t *testing.T) {
	st := store.NewMemory()
	w := newTestWorker(t, st, nil)

	for ts := int64(0); ts < 300; ts += ReadingFrameMs {
		if ts == 150 {
			continue // breaks the second row
		}
		w.OnRealtimeReadings(testChannel, readingsFrame(ts, sine))
	}

	rows, err := st.ReadingsRange(context.Background(), testChannel, 0, 1000)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].Timestamp)
	assert.Equal(t, int64(200), rows[1].Timestamp)

	for _, row := range rows {
		assert.Len(t, row.Readings, RowFrames*ReadingsPerFrame)
		assert.Len(t, row.Noises, RowFrames*ReadingsPerFrame)
		assert.Equal(t, float32(sine(float64(row.Timestamp))), row.Readings[0])
		assert.Equal(t, float32(sine(float64(row.Timestamp)+99.5)), row.Readings[len(row.Readings)-1])
	}

	stats := w.Stats()
	assert.Equal(t, int64(29), stats.ReadingsFrames)
	assert.Equal(t, int64(2), stats.RowsWritten)
	assert.Equal(t, int64(1), stats.PartialBatches)
}

func TestWorker_KeepsNoises(t *testing.T) {
	st := store.NewMemory()
	w := newTestWorker(t, st, nil)

	for ts := int64(0); ts < 100; ts += ReadingFrameMs {
		f := readingsFrame(ts, constant(1))
		f.Noises = make([]float32, ReadingsPerFrame)
		for j := range f.Noises {
			f.Noises[j] = float32(ts)
		}
		w.OnRealtimeReadings(testChannel, f)
	}

	rows, err := st.ReadingsRange(context.Background(), testChannel, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float32(90), rows[0].Noises[len(rows[0].Noises)-1])
}

func TestWorker_DuplicateRowIsLoggedAndDropped(t *testing.T) {
	var logs bytes.Buffer
	st := store.NewMemory()
	w := newTestWorker(t, st, &logs)

	for range 2 {
		for ts := int64(0); ts < 100; ts += ReadingFrameMs {
			w.OnRealtimeReadings(testChannel, readingsFrame(ts, constant(1)))
		}
	}

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.RowsWritten)
	assert.Equal(t, int64(1), stats.DuplicateRows)
	assert.Contains(t, logs.String(), "duplicate row")

	// batching continues after the duplicate
	for ts := int64(100); ts < 200; ts += ReadingFrameMs {
		w.OnRealtimeReadings(testChannel, readingsFrame(ts, constant(1)))
	}
	assert.Equal(t, int64(2), w.Stats().RowsWritten)
}

func TestWorker_StoreErrorIsCounted(t *testing.T) {
	var logs bytes.Buffer
	w := newTestWorker(t, failingStore{Memory: store.NewMemory(), err: errors.New("disk full")}, &logs)

	for ts := int64(0); ts < 100; ts += ReadingFrameMs {
		w.OnRealtimeReadings(testChannel, readingsFrame(ts, constant(1)))
	}

	assert.Equal(t, int64(1), w.Stats().StoreErrors)
	assert.Contains(t, logs.String(), "disk full")
}

func TestWorker_DropsMalformedFrames(t *testing.T) {
	st := store.NewMemory()
	w := newTestWorker(t, st, nil)

	w.OnRealtimeReadings(testChannel, ReadingsFrame{Timestamp: 0, Readings: make([]float32, 3)})
	w.OnRealtimeReadings("", readingsFrame(0, constant(1)))
	w.OnRealtimeFrame(testChannel, SpectralFrame{Timestamp: 0, LowBand: make([]float32, 10)})

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.MalformedFrames)
	assert.Zero(t, stats.ReadingsFrames)
	assert.Zero(t, stats.SpectralFrames)
}

func TestWorker_SpectralRows(t *testing.T) {
	st := store.NewMemory()
	w := newTestWorker(t, st, nil)

	for ts := int64(0); ts < 500; ts += SpectralFrameMs {
		w.OnRealtimeFrame(testChannel, spectralFrame(ts, 1, 2))
	}

	rows, err := st.SpectralRange(context.Background(), testChannel, 100, 300)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(100), rows[0].Timestamp)
	assert.Len(t, rows[0].HighBand, HighBandBins)
	assert.Equal(t, int64(5), w.Stats().RowsWritten)
}

func TestWorker_FansOutToLivePlayers(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	ctx := context.Background()
	spec := WindowSpec{DurationMs: 50, SampleCount: 100}

	a, err := w.CreateStrainGraphPlayer(ctx, testChannel, spec)
	require.NoError(t, err)
	other, err := w.CreateStrainGraphPlayer(ctx, "ch-2", spec)
	require.NoError(t, err)

	w.OnRealtimeReadings(testChannel, readingsFrame(0, constant(1)))

	assert.Equal(t, ReadingsPerFrame, a.Pending())
	assert.Zero(t, other.Pending())
	assert.Equal(t, int64(2), w.Stats().PlayersActive)
	assert.ElementsMatch(t, []string{testChannel, "ch-2"}, w.Channels())
}

func TestWorker_DisposeUnregisters(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	ctx := context.Background()

	p, err := w.CreateFFTPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Stats().PlayersActive)

	p.Dispose()
	p.Dispose()
	assert.Zero(t, w.Stats().PlayersActive)

	w.OnRealtimeFrame(testChannel, spectralFrame(0, 1, 2))
	assert.Zero(t, p.Pending())

	// the channel can immediately host a new player
	q, err := w.CreateFFTPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 10})
	require.NoError(t, err)
	assert.NotEqual(t, p.ID(), q.ID())
	assert.Equal(t, int64(1), w.Stats().PlayersActive)
}

func TestWorker_CreateErrors(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	ctx := context.Background()

	_, err := w.CreateStrainGraphPlayer(ctx, "", WindowSpec{DurationMs: 1000, SampleCount: 10})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = w.CreateReadingsPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = w.CreateStrainGraphPlayer(canceled, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 10})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, w.Close())
	_, err = w.CreateFFTPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 10})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorker_BackfillMatchesLivePlayer(t *testing.T) {
	stores := map[string]func(t *testing.T) store.Store{
		"memory": func(*testing.T) store.Store { return store.NewMemory() },
		"bolt": func(t *testing.T) store.Store {
			b, cleanup, err := store.OpenTemp(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = cleanup() })
			return b
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			w := newTestWorker(t, open(t), nil)
			ctx := context.Background()
			spec := WindowSpec{DurationMs: 1000, SampleCount: 200, StartTimestampMs: 0}

			live, err := w.CreateStrainGraphPlayer(ctx, testChannel, spec)
			require.NoError(t, err)

			// 55 frames: five persisted rows plus five frames only in the tail
			for ts := int64(0); ts < 550; ts += ReadingFrameMs {
				w.OnRealtimeReadings(testChannel, readingsFrame(ts, sine))
			}
			require.Equal(t, int64(5), w.Stats().RowsWritten)

			backfilled, err := w.CreateStrainGraphPlayer(ctx, testChannel, spec)
			require.NoError(t, err)

			want := live.GetNewData()
			got := backfilled.GetNewData()
			require.NotEmpty(t, want)
			assert.Equal(t, want, got)

			// both keep streaming identically
			w.OnRealtimeReadings(testChannel, readingsFrame(550, sine))
			assert.Equal(t, live.GetNewData(), backfilled.GetNewData())
		})
	}
}

func TestWorker_BackfillSpectral(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	ctx := context.Background()
	spec := WindowSpec{DurationMs: 1000, SampleCount: 10, StartTimestampMs: 200}
	axis := &FrequencyAxis{MaxFrequency: 20000, Bins: 40}

	live, err := w.CreateSpectrogramPlayer(ctx, testChannel, spec, axis)
	require.NoError(t, err)

	for ts := int64(200); ts < 1000; ts += SpectralFrameMs {
		w.OnRealtimeFrame(testChannel, spectralFrame(ts, float32(ts), 1))
	}

	backfilled, err := w.CreateSpectrogramPlayer(ctx, testChannel, spec, axis)
	require.NoError(t, err)

	want := live.GetNewData()
	require.Len(t, want, 8)
	assert.Equal(t, want, backfilled.GetNewData())
}

func TestWorker_ConcurrentIngestAndCreate(t *testing.T) {
	w := newTestWorker(t, store.NewMemory(), nil)
	ctx := context.Background()
	spec := WindowSpec{DurationMs: 1000, SampleCount: 100}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for ts := int64(0); ts < 2000; ts += ReadingFrameMs {
			w.OnRealtimeReadings(testChannel, readingsFrame(ts, sine))
		}
	}()
	go func() {
		defer wg.Done()
		for range 20 {
			p, err := w.CreateStrainGraphPlayer(ctx, testChannel, spec)
			if !assert.NoError(t, err) {
				return
			}
			p.GetNewData()
			p.Dispose()
		}
	}()
	wg.Wait()

	stats := w.Stats()
	assert.Equal(t, int64(200), stats.ReadingsFrames)
	assert.Equal(t, int64(20), stats.RowsWritten)
	assert.Zero(t, stats.PlayersActive)
}

func TestWorker_DisposeDoesNotWaitForStore(t *testing.T) {
	st := &gatedStore{Memory: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	w := newTestWorker(t, st, nil)
	ctx := context.Background()

	p, err := w.CreateStrainGraphPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 100})
	require.NoError(t, err)

	ingested := make(chan struct{})
	go func() {
		defer close(ingested)
		for ts := int64(0); ts < RowSpanMs; ts += ReadingFrameMs {
			w.OnRealtimeReadings(testChannel, readingsFrame(ts, constant(1)))
		}
	}()
	<-st.entered

	disposed := make(chan struct{})
	go func() {
		p.Dispose()
		close(disposed)
	}()
	select {
	case <-disposed:
	case <-time.After(time.Second):
		t.Fatal("dispose blocked behind a pending row append")
	}
	assert.Zero(t, w.Stats().PlayersActive)

	// a player created mid-append still sees the row's frames through the tail
	late, err := w.CreateReadingsPlayer(ctx, testChannel, WindowSpec{DurationMs: 1000, SampleCount: 2000})
	require.NoError(t, err)
	assert.Len(t, late.GetNewData(), RowFrames*ReadingsPerFrame)

	close(st.release)
	<-ingested
	rows, err := st.ReadingsRange(ctx, testChannel, 0, RowSpanMs)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int64(1), w.Stats().RowsWritten)
}
