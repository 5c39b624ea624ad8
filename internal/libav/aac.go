package libav

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

// AACEncoder encodes interleaved signed 16-bit PCM with the native FFmpeg
// AAC encoder. Samples are converted to planar float through swresample.
type AACEncoder struct {
	log       logrus.FieldLogger
	cc        *astiav.CodecContext
	swr       *astiav.SoftwareResampleContext
	src       *astiav.Frame
	dst       *astiav.Frame
	pkt       *astiav.Packet
	layout    astiav.ChannelLayout
	frameSize int
	channels  int
	pts       int64

	pcm     []byte
	pending []packet
}

// NewAACEncoder returns an unconfigured encoder
func NewAACEncoder(log logrus.FieldLogger) *AACEncoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AACEncoder{log: log.WithField("encoder", "aac")}
}

func channelLayout(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// Configure opens the AAC encoder. The block size the session must feed is
// available from FrameSize afterwards.
func (e *AACEncoder) Configure(cfg session.AudioConfig) (*models.CodecInfo, error) {
	layout, err := channelLayout(cfg.Channels)
	if err != nil {
		return nil, err
	}

	codec := astiav.FindEncoder(astiav.CodecIDAac)
	if codec == nil {
		return nil, fmt.Errorf("aac encoder not available")
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("failed to allocate aac codec context")
	}
	cc.SetSampleRate(cfg.SampleRate)
	cc.SetChannelLayout(layout)
	cc.SetSampleFormat(astiav.SampleFormatFltp)
	cc.SetTimeBase(astiav.NewRational(1, cfg.SampleRate))
	cc.SetBitRate(int64(cfg.Bitrate))
	cc.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("failed to open aac encoder: %w", err)
	}

	frameSize := cc.FrameSize()
	if frameSize <= 0 {
		cc.Free()
		return nil, fmt.Errorf("aac encoder reported frame size %d", frameSize)
	}

	src := astiav.AllocFrame()
	src.SetSampleFormat(astiav.SampleFormatS16)
	src.SetChannelLayout(layout)
	src.SetSampleRate(cfg.SampleRate)
	src.SetNbSamples(frameSize)

	dst := astiav.AllocFrame()
	dst.SetSampleFormat(astiav.SampleFormatFltp)
	dst.SetChannelLayout(layout)
	dst.SetSampleRate(cfg.SampleRate)
	dst.SetNbSamples(frameSize)

	for _, f := range []*astiav.Frame{src, dst} {
		if err := f.AllocBuffer(0); err != nil {
			src.Free()
			dst.Free()
			cc.Free()
			return nil, fmt.Errorf("failed to allocate audio frame: %w", err)
		}
	}

	e.cc = cc
	e.swr = astiav.AllocSoftwareResampleContext()
	e.src = src
	e.dst = dst
	e.pkt = astiav.AllocPacket()
	e.layout = layout
	e.frameSize = frameSize
	e.channels = cfg.Channels
	e.pts = 0
	e.pcm = make([]byte, frameSize*cfg.Channels*2)
	e.pending = nil

	e.log.WithFields(logrus.Fields{
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"bitrate":     cfg.Bitrate,
		"frame_size":  frameSize,
	}).Info("AAC encoder opened")

	return &models.CodecInfo{
		Codec:       "aac",
		AudioConfig: append([]byte(nil), cc.ExtraData()...),
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		FrameSize:   frameSize,
		Bitrate:     cfg.Bitrate,
	}, nil
}

// FrameSize returns the samples per channel the encoder consumes per call
func (e *AACEncoder) FrameSize() int {
	return e.frameSize
}

// Encode encodes exactly one block of FrameSize*channels samples
func (e *AACEncoder) Encode(block []int16) ([]byte, error) {
	if e.cc == nil {
		return nil, ErrEncoderClosed
	}
	if len(block) != e.frameSize*e.channels {
		return nil, fmt.Errorf("block of %d samples, want %d", len(block), e.frameSize*e.channels)
	}

	for i, s := range block {
		binary.LittleEndian.PutUint16(e.pcm[i*2:], uint16(s))
	}
	if err := e.src.MakeWritable(); err != nil {
		return nil, fmt.Errorf("make source writable: %w", err)
	}
	if err := e.src.Data().SetBytes(e.pcm, 0); err != nil {
		return nil, fmt.Errorf("fill source frame: %w", err)
	}
	if err := e.dst.MakeWritable(); err != nil {
		return nil, fmt.Errorf("make destination writable: %w", err)
	}
	if err := e.swr.ConvertFrame(e.src, e.dst); err != nil {
		return nil, fmt.Errorf("convert samples: %w", err)
	}
	e.dst.SetPts(e.pts)
	e.pts += int64(e.frameSize)

	if err := e.cc.SendFrame(e.dst); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}

	var err error
	if e.pending, err = drain(e.cc, e.pkt, e.pending); err != nil {
		return nil, err
	}
	if len(e.pending) == 0 {
		return nil, nil
	}
	out := e.pending[0]
	e.pending = e.pending[1:]
	return out.data, nil
}

// Close frees the encoder
func (e *AACEncoder) Close() error {
	if e.cc == nil {
		return nil
	}
	e.swr.Free()
	e.src.Free()
	e.dst.Free()
	e.pkt.Free()
	e.cc.Free()
	e.cc, e.swr, e.src, e.dst, e.pkt = nil, nil, nil, nil, nil
	e.pcm = nil
	e.pending = nil
	return nil
}

var (
	_ session.VideoEncoder = (*H264Encoder)(nil)
	_ session.AudioEncoder = (*AACEncoder)(nil)
)
