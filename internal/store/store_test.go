package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	b, cleanup, err := OpenTemp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   b,
	}
}

func readingsRow(channel string, ts int64) ReadingsRow {
	return ReadingsRow{
		ChannelID: channel,
		Timestamp: ts,
		Readings:  []float32{float32(ts), 1.5, -2},
		Noises:    []float32{0.1, 0.2, 0.3},
	}
}

func TestStore_ReadingsRange(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// out of order on purpose, including negative timestamps
			for _, ts := range []int64{300, 100, -100, 0, 200} {
				require.NoError(t, s.AppendReadings(ctx, readingsRow("a", ts)))
			}
			require.NoError(t, s.AppendReadings(ctx, readingsRow("b", 100)))

			rows, err := s.ReadingsRange(ctx, "a", 0, 200)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			for i, want := range []int64{0, 100, 200} {
				assert.Equal(t, want, rows[i].Timestamp)
				assert.Equal(t, readingsRow("a", want), rows[i])
			}

			rows, err = s.ReadingsRange(ctx, "a", -1000, 1000)
			require.NoError(t, err)
			assert.Len(t, rows, 5)
			assert.Equal(t, int64(-100), rows[0].Timestamp)

			rows, err = s.ReadingsRange(ctx, "a", 101, 199)
			require.NoError(t, err)
			assert.Empty(t, rows)

			rows, err = s.ReadingsRange(ctx, "a", 300, 0)
			require.NoError(t, err)
			assert.Empty(t, rows)

			rows, err = s.ReadingsRange(ctx, "missing", 0, 1000)
			require.NoError(t, err)
			assert.Empty(t, rows)

			rows, err = s.ReadingsRange(ctx, "b", 0, 1000)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestStore_SpectralRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			row := SpectralRow{ChannelID: "x", Timestamp: 1_700_000_000_100, LowBand: []float32{1, 2}, HighBand: []float32{3}}
			require.NoError(t, s.AppendSpectral(ctx, row))

			rows, err := s.SpectralRange(ctx, "x", row.Timestamp, row.Timestamp)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, row, rows[0])

			readings, err := s.ReadingsRange(ctx, "x", 0, row.Timestamp)
			require.NoError(t, err)
			assert.Empty(t, readings, "row kinds are separate")
		})
	}
}

func TestStore_DuplicateRow(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AppendReadings(ctx, readingsRow("a", 100)))
			err := s.AppendReadings(ctx, readingsRow("a", 100))
			require.ErrorIs(t, err, ErrDuplicateRow)

			require.NoError(t, s.AppendReadings(ctx, readingsRow("other", 100)), "same timestamp, other channel")

			require.NoError(t, s.AppendSpectral(ctx, SpectralRow{ChannelID: "a", Timestamp: 100}))
			require.ErrorIs(t, s.AppendSpectral(ctx, SpectralRow{ChannelID: "a", Timestamp: 100}), ErrDuplicateRow)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadingsRange(ctx, "a", 0, 1)
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.AppendReadings(context.Background(), readingsRow("a", 0)), ErrClosed)
	_, err := m.SpectralRange(context.Background(), "a", 0, 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestBolt_Reopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/rows.db"

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.AppendReadings(ctx, readingsRow("a", 42)))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, path, b.Path())
	rows, err := b.ReadingsRange(ctx, "a", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, readingsRow("a", 42), rows[0])
}

func TestTimestampKeyOrdering(t *testing.T) {
	values := []int64{-1 << 62, -5, -1, 0, 1, 5, 1 << 62}
	for i := 1; i < len(values); i++ {
		prev, cur := timestampKey(values[i-1]), timestampKey(values[i])
		assert.Equal(t, -1, bytes.Compare(prev, cur), "key order at %d", values[i])
		assert.Equal(t, values[i], keyTimestamp(cur))
	}
}
