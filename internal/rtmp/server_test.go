package rtmp

import (
	"io"
	"net"
	"sync"
	"testing"

	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

type receivedTag struct {
	timestamp uint32
	sequence  bool
	keyFrame  bool
	end       bool
	data      []byte
}

// ingest is a minimal RTMP server recording what a publisher sends
type ingest struct {
	server   *rtmp.Server
	listener net.Listener

	mu       sync.Mutex
	app      string
	key      string
	metadata []byte
	video    []receivedTag
	audio    []receivedTag
	closed   bool
}

func startIngest(t *testing.T) *ingest {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	in := &ingest{listener: l}
	in.server = rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: &ingestHandler{in: in},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})
	go in.server.Serve(l)

	t.Cleanup(func() { in.server.Close() })
	return in
}

func (in *ingest) addr() string {
	return in.listener.Addr().String()
}

func (in *ingest) snapshot() (video, audio []receivedTag, metadata []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]receivedTag(nil), in.video...), append([]receivedTag(nil), in.audio...), in.metadata
}

type ingestHandler struct {
	rtmp.DefaultHandler
	in *ingest
}

func (h *ingestHandler) OnConnect(timestamp uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.in.mu.Lock()
	h.in.app = cmd.Command.App
	h.in.mu.Unlock()
	return nil
}

func (h *ingestHandler) OnPublish(ctx *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	h.in.mu.Lock()
	h.in.key = cmd.PublishingName
	h.in.mu.Unlock()
	return nil
}

func (h *ingestHandler) OnSetDataFrame(timestamp uint32, data *rtmpmsg.NetStreamSetDataFrame) error {
	h.in.mu.Lock()
	h.in.metadata = append([]byte(nil), data.Payload...)
	h.in.mu.Unlock()
	return nil
}

func (h *ingestHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return nil
	}
	data, err := io.ReadAll(video.Data)
	if err != nil {
		return err
	}

	tag := receivedTag{
		timestamp: timestamp,
		sequence:  video.AVCPacketType == flvtag.AVCPacketTypeSequenceHeader,
		keyFrame:  video.FrameType == flvtag.FrameTypeKeyFrame,
		end:       video.AVCPacketType == flvtag.AVCPacketTypeEOS,
		data:      data,
	}
	h.in.mu.Lock()
	h.in.video = append(h.in.video, tag)
	h.in.mu.Unlock()
	return nil
}

func (h *ingestHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	var audio flvtag.AudioData
	if err := flvtag.DecodeAudioData(payload, &audio); err != nil || audio.SoundFormat != flvtag.SoundFormatAAC {
		return nil
	}
	data, err := io.ReadAll(audio.Data)
	if err != nil {
		return err
	}

	h.in.mu.Lock()
	h.in.audio = append(h.in.audio, receivedTag{
		timestamp: timestamp,
		sequence:  audio.AACPacketType == flvtag.AACPacketTypeSequenceHeader,
		data:      data,
	})
	h.in.mu.Unlock()
	return nil
}

func (h *ingestHandler) OnClose() {
	h.in.mu.Lock()
	h.in.closed = true
	h.in.mu.Unlock()
}
