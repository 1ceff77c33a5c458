// Package store persists batched sensor rows and serves them back by
// inclusive timestamp range for player backfill.
package store

import (
	"context"
	"errors"
)

// Errors returned by stores.
var (
	// ErrDuplicateRow is returned when a row with the same channel and timestamp exists.
	ErrDuplicateRow = errors.New("duplicate row")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// ReadingsRow packs a run of contiguous readings frames. Readings and
// Noises are the concatenated per-frame slices in timestamp order.
type ReadingsRow struct {
	ChannelID string    `msgpack:"channel"`
	Timestamp int64     `msgpack:"ts"`
	Readings  []float32 `msgpack:"readings"`
	Noises    []float32 `msgpack:"noises"`
}

// SpectralRow holds one spectral frame.
type SpectralRow struct {
	ChannelID string    `msgpack:"channel"`
	Timestamp int64     `msgpack:"ts"`
	LowBand   []float32 `msgpack:"low"`
	HighBand  []float32 `msgpack:"high"`
}

// Store is an append-only row store keyed by (channel, timestamp).
// Range queries are inclusive on both ends and return rows in timestamp order.
type Store interface {
	AppendReadings(ctx context.Context, row ReadingsRow) error
	AppendSpectral(ctx context.Context, row SpectralRow) error
	ReadingsRange(ctx context.Context, channelID string, from, to int64) ([]ReadingsRow, error)
	SpectralRange(ctx context.Context, channelID string, from, to int64) ([]SpectralRow, error)
	Close() error
}
