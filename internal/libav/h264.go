package libav

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/muxer"
	"rapidcast/internal/pixfmt"
	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

// H264Encoder encodes planar 4:2:0 frames with libx264
type H264Encoder struct {
	log   logrus.FieldLogger
	cc    *astiav.CodecContext
	frame *astiav.Frame
	pkt   *astiav.Packet

	image   []byte // contiguous Y, U, V planes handed to FFmpeg
	pending []packet
	sps     []byte
	pps     []byte
}

// NewH264Encoder returns an unconfigured encoder
func NewH264Encoder(log logrus.FieldLogger) *H264Encoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &H264Encoder{log: log.WithField("encoder", "h264")}
}

// Configure opens libx264 for low latency live output with global headers
func (e *H264Encoder) Configure(cfg session.VideoConfig) (*models.CodecInfo, error) {
	codec := astiav.FindEncoderByName("libx264")
	if codec == nil {
		return nil, fmt.Errorf("libx264 encoder not available")
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("failed to allocate h264 codec context")
	}
	cc.SetWidth(cfg.Width)
	cc.SetHeight(cfg.Height)
	cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	cc.SetTimeBase(astiav.NewRational(1, cfg.FrameRate))
	cc.SetFramerate(astiav.NewRational(cfg.FrameRate, 1))
	cc.SetGopSize(cfg.GOPSize)
	cc.SetBitRate(int64(cfg.Bitrate))
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	dict, err := newDictionary([]option{
		{"profile", cfg.Profile},
		{"preset", cfg.Preset},
		{"tune", cfg.Tune},
		{"bf", "0"},
		{"qmin", "10"},
		{"qmax", "51"},
		{"refs", "3"},
		{"x264-params", "rc-lookahead=0"},
	})
	if err != nil {
		cc.Free()
		return nil, err
	}
	defer dict.Free()

	if err := cc.Open(codec, dict); err != nil {
		cc.Free()
		return nil, fmt.Errorf("failed to open libx264: %w", err)
	}

	sps, pps, err := muxer.ExtractSPSandPPS(cc.ExtraData())
	if err != nil || sps == nil || pps == nil {
		cc.Free()
		return nil, fmt.Errorf("libx264 extradata carries no parameter sets: %v", err)
	}

	frame := astiav.AllocFrame()
	frame.SetWidth(cfg.Width)
	frame.SetHeight(cfg.Height)
	frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := frame.AllocBuffer(0); err != nil {
		frame.Free()
		cc.Free()
		return nil, fmt.Errorf("failed to allocate video frame: %w", err)
	}

	e.cc = cc
	e.frame = frame
	e.pkt = astiav.AllocPacket()
	e.image = make([]byte, pixfmt.FrameSize(cfg.Width, cfg.Height))
	e.pending = nil
	e.sps = sps
	e.pps = pps

	e.log.WithFields(logrus.Fields{
		"size":    fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps":     cfg.FrameRate,
		"bitrate": cfg.Bitrate,
		"profile": cfg.Profile,
		"preset":  cfg.Preset,
	}).Info("H.264 encoder opened")

	return &models.CodecInfo{
		Codec:     "h264",
		SPS:       sps,
		PPS:       pps,
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: float64(cfg.FrameRate),
		Bitrate:   cfg.Bitrate,
	}, nil
}

// Encode submits one frame and returns at most one Annex-B access unit.
// Additional packets stay queued for the following calls.
func (e *H264Encoder) Encode(frame *pixfmt.PlanarFrame, pts int64) ([]byte, bool, error) {
	if e.cc == nil {
		return nil, false, ErrEncoderClosed
	}

	n := copy(e.image, frame.Y)
	n += copy(e.image[n:], frame.U)
	copy(e.image[n:], frame.V)

	if err := e.frame.MakeWritable(); err != nil {
		return nil, false, fmt.Errorf("make frame writable: %w", err)
	}
	if err := e.frame.Data().SetBytes(e.image, 1); err != nil {
		return nil, false, fmt.Errorf("fill frame: %w", err)
	}
	e.frame.SetPts(pts)

	if err := e.cc.SendFrame(e.frame); err != nil {
		return nil, false, fmt.Errorf("send frame: %w", err)
	}

	var err error
	if e.pending, err = drain(e.cc, e.pkt, e.pending); err != nil {
		return nil, false, err
	}
	if len(e.pending) == 0 {
		return nil, false, nil
	}

	out := e.pending[0]
	e.pending = e.pending[1:]
	if out.key {
		return e.withParameterSets(out.data), true, nil
	}
	return out.data, false, nil
}

// withParameterSets makes a keyframe decodable on its own. With global
// headers libx264 only puts SPS/PPS in the extradata.
func (e *H264Encoder) withParameterSets(au []byte) []byte {
	nalus, err := muxer.SplitAnnexB(au)
	if err != nil || muxer.HasParameterSets(nalus) {
		return au
	}
	return muxer.PrependSPSPPSAnnexB(au, [][]byte{e.sps}, [][]byte{e.pps})
}

// Close frees the codec context. Queued packets are discarded.
func (e *H264Encoder) Close() error {
	if e.cc == nil {
		return nil
	}
	if len(e.pending) > 0 {
		e.log.WithField("packets", len(e.pending)).Debug("Discarding queued video packets")
	}
	e.pkt.Free()
	e.frame.Free()
	e.cc.Free()
	e.cc, e.frame, e.pkt = nil, nil, nil
	e.image = nil
	e.pending = nil
	return nil
}
