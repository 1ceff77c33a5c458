package playback

import "time"

// Readings stream layout.
const (
	ReadingsPerFrame = 20     // readings in one frame
	ReadingFrameMs   = 10     // frame cadence in ms
	ReadingsRate     = 2000.0 // Hz
)

// Spectral stream layout.
const (
	LowBandBins     = 200 // 0-2 kHz
	HighBandBins    = 360 // 2-20 kHz
	SpectralBins    = LowBandBins + HighBandBins
	SpectralFrameMs = 100  // frame cadence in ms
	SpectralRate    = 10.0 // Hz

	LowBandResolutionHz  = 10.0
	HighBandResolutionHz = 50.0
	HighBandStartHz      = 2000.0
	MaxFrequencyHz       = 20000.0
)

// Persistence layout.
const (
	// RowFrames is the number of readings frames packed into one row.
	RowFrames = 10

	// RowSpanMs is the time covered by one readings row.
	RowSpanMs = RowFrames * ReadingFrameMs

	// rowCloseOffsetMs is the offset within a row of the frame that completes it.
	rowCloseOffsetMs = RowSpanMs - ReadingFrameMs
)

// Defaults.
const (
	DefaultReadingsTailFrames = 50
	DefaultSpectralTailFrames = 5
	DefaultResizeDebounce     = 200 * time.Millisecond
)

const msPerSecond = 1000.0
