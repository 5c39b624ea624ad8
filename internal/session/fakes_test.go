package session

import (
	"context"
	"errors"

	"rapidcast/internal/pixfmt"
	"rapidcast/pkg/models"
)

var errBoom = errors.New("boom")

type recorder struct {
	events []string
}

func (r *recorder) add(e string) {
	if r != nil {
		r.events = append(r.events, e)
	}
}

type encodedFrame struct {
	pts     int64
	y, u, v []byte
	strides [3]int
}

type fakeVideoEncoder struct {
	rec          *recorder
	configureErr error
	delay        int          // frames swallowed before output starts
	failAt       map[int]bool // call index -> return an error
	keyEvery     int

	cfg    VideoConfig
	calls  int
	frames []encodedFrame
	closed int
}

func (f *fakeVideoEncoder) Configure(cfg VideoConfig) (*models.CodecInfo, error) {
	f.rec.add("video.configure")
	if f.configureErr != nil {
		return nil, f.configureErr
	}
	f.cfg = cfg
	return &models.CodecInfo{
		Codec:     "h264",
		SPS:       []byte{0x67, 0x4d, 0x00, 0x1e},
		PPS:       []byte{0x68, 0xee},
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: float64(cfg.FrameRate),
		Bitrate:   cfg.Bitrate,
	}, nil
}

func (f *fakeVideoEncoder) Encode(frame *pixfmt.PlanarFrame, pts int64) ([]byte, bool, error) {
	call := f.calls
	f.calls++
	f.frames = append(f.frames, encodedFrame{
		pts:     pts,
		y:       append([]byte(nil), frame.Y...),
		u:       append([]byte(nil), frame.U...),
		v:       append([]byte(nil), frame.V...),
		strides: [3]int{frame.StrideY, frame.StrideU, frame.StrideV},
	})

	if f.failAt[call] {
		return nil, false, errBoom
	}
	if call < f.delay {
		return nil, false, nil
	}
	key := f.keyEvery > 0 && call%f.keyEvery == 0
	return []byte{0, 0, 0, 1, 0x65, byte(pts)}, key, nil
}

func (f *fakeVideoEncoder) Close() error {
	f.rec.add("video.close")
	f.closed++
	return nil
}

type fakeAudioEncoder struct {
	rec          *recorder
	configureErr error
	frameSize    int
	delay        int
	failAt       map[int]bool
	closeErr     error

	cfg    AudioConfig
	calls  int
	blocks [][]int16
	closed int
}

func (f *fakeAudioEncoder) Configure(cfg AudioConfig) (*models.CodecInfo, error) {
	f.rec.add("audio.configure")
	if f.configureErr != nil {
		return nil, f.configureErr
	}
	f.cfg = cfg
	return &models.CodecInfo{
		Codec:       "aac",
		AudioConfig: []byte{0x12, 0x08},
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		FrameSize:   f.frameSize,
		Bitrate:     cfg.Bitrate,
	}, nil
}

func (f *fakeAudioEncoder) FrameSize() int {
	return f.frameSize
}

func (f *fakeAudioEncoder) Encode(block []int16) ([]byte, error) {
	call := f.calls
	f.calls++
	f.blocks = append(f.blocks, append([]int16(nil), block...))

	if f.failAt[call] {
		return nil, errBoom
	}
	if call < f.delay {
		return nil, nil
	}
	return []byte{0x21, byte(call), byte(len(block) >> 8), byte(len(block))}, nil
}

func (f *fakeAudioEncoder) Close() error {
	f.rec.add("audio.close")
	f.closed++
	return f.closeErr
}

type fakeMuxer struct {
	rec        *recorder
	openErr    error
	headerErr  error
	trailerErr error
	writeErr   func(pkt *models.EncodedPacket) error

	url        string
	video      *models.CodecInfo
	audio      *models.CodecInfo
	packets    []*models.EncodedPacket
	trailers   int
	closeCalls int
}

func (m *fakeMuxer) OpenOutput(_ context.Context, url string) error {
	m.rec.add("mux.open")
	if m.openErr != nil {
		return m.openErr
	}
	m.url = url
	return nil
}

func (m *fakeMuxer) WriteHeader(video, audio *models.CodecInfo) error {
	m.rec.add("mux.header")
	if m.headerErr != nil {
		return m.headerErr
	}
	m.video = video
	m.audio = audio
	return nil
}

func (m *fakeMuxer) WritePacket(pkt *models.EncodedPacket) error {
	if m.writeErr != nil {
		if err := m.writeErr(pkt); err != nil {
			return err
		}
	}
	m.packets = append(m.packets, pkt)
	return nil
}

func (m *fakeMuxer) WriteTrailer() error {
	m.rec.add("mux.trailer")
	m.trailers++
	return m.trailerErr
}

func (m *fakeMuxer) CloseOutput() error {
	m.rec.add("mux.close")
	m.closeCalls++
	return nil
}

func (m *fakeMuxer) byStream(id models.StreamID) []*models.EncodedPacket {
	var out []*models.EncodedPacket
	for _, p := range m.packets {
		if p.Stream == id {
			out = append(out, p)
		}
	}
	return out
}
