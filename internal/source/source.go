// Package source produces realtime sensor frames for simulation and
// offline replay: a synthetic generator and a WAV file reader.
package source

import (
	"errors"

	playback "github.com/tphakala/go-sensor-playback"
)

// ErrInvalidConfig indicates invalid source configuration.
var ErrInvalidConfig = errors.New("invalid source configuration")

// Sink receives produced frames. *playback.Worker implements it.
type Sink interface {
	OnRealtimeReadings(channelID string, frame playback.ReadingsFrame)
	OnRealtimeFrame(channelID string, frame playback.SpectralFrame)
}

// Stats counts what a source emitted.
type Stats struct {
	ReadingsFrames int // readings frames delivered
	SpectralFrames int // spectral frames delivered
	Dropped        int // readings frames deliberately skipped
}

// Full-scale values per PCM bit depth.
const (
	maxInt8  = 127.0
	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0
)

// fullScale returns the maximum sample value for the given bit depth.
func fullScale(bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return maxInt8
	case 24:
		return maxInt24
	case 32:
		return maxInt32
	default:
		return maxInt16
	}
}
