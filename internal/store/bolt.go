package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	readingsBucket = []byte("readings")
	spectralBucket = []byte("spectral")
)

const (
	// signBit flips int64 ordering into unsigned byte ordering.
	signBit = uint64(1) << 63

	defaultOpenTimeout = time.Second
	rangeCheckInterval = 256
)

// Bolt is a Store backed by a bbolt file. Each row kind has a top-level
// bucket with one nested bucket per channel; keys are big-endian
// sign-flipped timestamps so cursor order equals time order. Values are
// msgpack-encoded rows.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{readingsBucket, spectralBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Path returns the database file path.
func (b *Bolt) Path() string { return b.db.Path() }

func timestampKey(ts int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(ts)^signBit)
	return k[:]
}

func keyTimestamp(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k) ^ signBit)
}

func (b *Bolt) put(ctx context.Context, kind []byte, channelID string, ts int64, row any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := msgpack.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		ch, err := tx.Bucket(kind).CreateBucketIfNotExists([]byte(channelID))
		if err != nil {
			return err
		}
		key := timestampKey(ts)
		if ch.Get(key) != nil {
			return fmt.Errorf("%w: channel %s at %d", ErrDuplicateRow, channelID, ts)
		}
		return ch.Put(key, value)
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func scan[R any](ctx context.Context, b *Bolt, kind []byte, channelID string, from, to int64) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from > to {
		return nil, nil
	}

	var rows []R
	err := b.db.View(func(tx *bolt.Tx) error {
		ch := tx.Bucket(kind).Bucket([]byte(channelID))
		if ch == nil {
			return nil
		}

		end := timestampKey(to)
		c := ch.Cursor()
		n := 0
		for k, v := c.Seek(timestampKey(from)); k != nil && bytes.Compare(k, end) <= 0; k, v = c.Next() {
			if n++; n%rangeCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			var row R
			if err := msgpack.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode row at %d: %w", keyTimestamp(k), err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	}
	return rows, err
}

// AppendReadings stores a readings row.
func (b *Bolt) AppendReadings(ctx context.Context, row ReadingsRow) error {
	return b.put(ctx, readingsBucket, row.ChannelID, row.Timestamp, row)
}

// AppendSpectral stores a spectral row.
func (b *Bolt) AppendSpectral(ctx context.Context, row SpectralRow) error {
	return b.put(ctx, spectralBucket, row.ChannelID, row.Timestamp, row)
}

// ReadingsRange returns readings rows with from <= Timestamp <= to.
func (b *Bolt) ReadingsRange(ctx context.Context, channelID string, from, to int64) ([]ReadingsRow, error) {
	return scan[ReadingsRow](ctx, b, readingsBucket, channelID, from, to)
}

// SpectralRange returns spectral rows with from <= Timestamp <= to.
func (b *Bolt) SpectralRange(ctx context.Context, channelID string, from, to int64) ([]SpectralRow, error) {
	return scan[SpectralRow](ctx, b, spectralBucket, channelID, from, to)
}

// Close closes the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// OpenTemp opens a Bolt store in a fresh temporary file. The file is
// removed when the store is closed through the returned cleanup func.
func OpenTemp(dir string) (*Bolt, func() error, error) {
	f, err := os.CreateTemp(dir, "playback-*.db")
	if err != nil {
		return nil, nil, err
	}
	path := f.Name()
	_ = f.Close()

	b, err := OpenBolt(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, nil, err
	}
	cleanup := func() error {
		return errors.Join(b.Close(), os.Remove(path))
	}
	return b, cleanup, nil
}
