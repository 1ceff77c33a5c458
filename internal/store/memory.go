package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// series keeps rows sorted by timestamp.
type series[R any] struct {
	keys []int64
	rows []R
}

func (s *series[R]) insert(ts int64, row R) bool {
	i, found := slices.BinarySearch(s.keys, ts)
	if found {
		return false
	}
	s.keys = slices.Insert(s.keys, i, ts)
	s.rows = slices.Insert(s.rows, i, row)
	return true
}

func (s *series[R]) between(from, to int64) []R {
	lo, _ := slices.BinarySearch(s.keys, from)
	hi, found := slices.BinarySearch(s.keys, to)
	if found {
		hi++
	}
	if lo >= hi {
		return nil
	}
	return slices.Clone(s.rows[lo:hi])
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	readings map[string]*series[ReadingsRow]
	spectral map[string]*series[SpectralRow]
	closed   bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		readings: make(map[string]*series[ReadingsRow]),
		spectral: make(map[string]*series[SpectralRow]),
	}
}

func appendRow[R any](m *Memory, byChannel map[string]*series[R], channelID string, ts int64, row R) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	s, ok := byChannel[channelID]
	if !ok {
		s = &series[R]{}
		byChannel[channelID] = s
	}
	if !s.insert(ts, row) {
		return fmt.Errorf("%w: channel %s at %d", ErrDuplicateRow, channelID, ts)
	}
	return nil
}

func rangeRows[R any](ctx context.Context, m *Memory, byChannel map[string]*series[R], channelID string, from, to int64) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	s, ok := byChannel[channelID]
	if !ok || from > to {
		return nil, nil
	}
	return s.between(from, to), nil
}

// AppendReadings stores a readings row.
func (m *Memory) AppendReadings(_ context.Context, row ReadingsRow) error {
	return appendRow(m, m.readings, row.ChannelID, row.Timestamp, row)
}

// AppendSpectral stores a spectral row.
func (m *Memory) AppendSpectral(_ context.Context, row SpectralRow) error {
	return appendRow(m, m.spectral, row.ChannelID, row.Timestamp, row)
}

// ReadingsRange returns readings rows with from <= Timestamp <= to.
func (m *Memory) ReadingsRange(ctx context.Context, channelID string, from, to int64) ([]ReadingsRow, error) {
	return rangeRows(ctx, m, m.readings, channelID, from, to)
}

// SpectralRange returns spectral rows with from <= Timestamp <= to.
func (m *Memory) SpectralRange(ctx context.Context, channelID string, from, to int64) ([]SpectralRow, error) {
	return rangeRows(ctx, m, m.spectral, channelID, from, to)
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
