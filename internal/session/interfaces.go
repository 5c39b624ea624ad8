package session

import (
	"context"

	"rapidcast/internal/pixfmt"
	"rapidcast/pkg/models"
)

// VideoConfig is what the video encoder is configured with at open
type VideoConfig struct {
	Width     int
	Height    int
	FrameRate int
	Bitrate   int
	GOPSize   int
	Profile   string // e.g. "main"
	Preset    string // e.g. "ultrafast"
	Tune      string // e.g. "film"
}

// AudioConfig is what the audio encoder is configured with at open
type AudioConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int
}

// VideoEncoder compresses planar frames.
type VideoEncoder interface {
	// Configure opens the encoder and returns its stream parameters.
	Configure(cfg VideoConfig) (*models.CodecInfo, error)

	// Encode compresses one frame. pts is the frame counter and only
	// drives rate control. A nil error with an empty payload means the
	// encoder kept the frame and has nothing to emit yet. The frame is
	// only valid for the duration of the call.
	Encode(frame *pixfmt.PlanarFrame, pts int64) (payload []byte, keyFrame bool, err error)

	Close() error
}

// AudioEncoder compresses fixed-size blocks of interleaved 16-bit samples.
type AudioEncoder interface {
	// Configure opens the encoder and returns its stream parameters.
	Configure(cfg AudioConfig) (*models.CodecInfo, error)

	// FrameSize is the number of samples per channel in one block.
	// Only valid after Configure.
	FrameSize() int

	// Encode compresses one block of FrameSize*channels samples. The block
	// is a view into the session's buffer and must not be retained.
	Encode(block []int16) ([]byte, error)

	Close() error
}

// Muxer serializes encoded packets into a container and delivers it.
type Muxer interface {
	// OpenOutput connects the sink addressed by url.
	OpenOutput(ctx context.Context, url string) error

	// WriteHeader announces the streams. audio is nil when audio is disabled.
	WriteHeader(video, audio *models.CodecInfo) error

	// WritePacket writes one packet. Packets arrive in submission order
	// with non-decreasing timestamps across both streams.
	WritePacket(pkt *models.EncodedPacket) error

	WriteTrailer() error
	CloseOutput() error
}
