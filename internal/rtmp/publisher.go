// Package rtmp publishes a session to an RTMP ingest as FLV tags.
package rtmp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-amf0"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"rapidcast/internal/metrics"
	"rapidcast/internal/muxer"
	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

const (
	defaultPort = "1935"
	chunkSize   = 128

	audioChunkStreamID = 5
	videoChunkStreamID = 6
	dataChunkStreamID  = 8
)

var ErrNotConnected = errors.New("rtmp publisher is not connected")

// Endpoint is a parsed rtmp:// URL
type Endpoint struct {
	Addr      string // host:port
	App       string
	StreamKey string // publishing name, including any query string
	TCURL     string
}

// ParseURL splits rtmp://host[:port]/app[/...]/key into its parts
func ParseURL(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid RTMP URL: %w", err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("RTMP URL has no host")
	}

	path := strings.Trim(u.Path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return nil, fmt.Errorf("RTMP URL must name an app and a stream key: %s", raw)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	key := path[i+1:]
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}

	return &Endpoint{
		Addr:      host,
		App:       path[:i],
		StreamKey: key,
		TCURL:     fmt.Sprintf("rtmp://%s/%s", u.Host, path[:i]),
	}, nil
}

// Publisher is a session muxer writing FLV tags over an RTMP connection
type Publisher struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu       sync.Mutex
	endpoint *Endpoint
	client   *rtmp.ClientConn
	stream   *rtmp.Stream
	hasVideo bool
}

// NewPublisher creates an unconnected publisher. m may be nil.
func NewPublisher(log logrus.FieldLogger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{log: log.WithField("output", "rtmp"), metrics: m}
}

// OpenOutput connects, creates a stream and starts publishing as live
func (p *Publisher) OpenOutput(ctx context.Context, rawURL string) error {
	ep, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := rtmp.Dial("rtmp", ep.Addr, &rtmp.ConnConfig{
		Logger: p.log,
	})
	if err != nil {
		p.recordError()
		return fmt.Errorf("failed to dial %s: %w", ep.Addr, err)
	}

	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      ep.App,
			Type:     "nonprivate",
			FlashVer: "FMLE/3.0 (compatible; rapidcast)",
			TCURL:    ep.TCURL,
		},
	}); err != nil {
		client.Close()
		p.recordError()
		return fmt.Errorf("connect to app %s failed: %w", ep.App, err)
	}

	stream, err := client.CreateStream(nil, chunkSize)
	if err != nil {
		client.Close()
		p.recordError()
		return fmt.Errorf("create stream failed: %w", err)
	}

	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: ep.StreamKey,
		PublishingType: "live",
	}); err != nil {
		client.Close()
		p.recordError()
		return fmt.Errorf("publish %s failed: %w", ep.StreamKey, err)
	}

	p.endpoint = ep
	p.client = client
	p.stream = stream
	if p.metrics != nil {
		p.metrics.RecordOutputConnection("rtmp")
	}

	p.log.WithFields(logrus.Fields{
		"addr": ep.Addr,
		"app":  ep.App,
	}).Info("Publishing to RTMP server")
	return nil
}

// WriteHeader sends onMetaData followed by the AVC and AAC sequence headers
func (p *Publisher) WriteHeader(video, audio *models.CodecInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotConnected
	}

	meta, err := encodeMetadata(video, audio)
	if err != nil {
		return err
	}
	if err := p.stream.Write(dataChunkStreamID, 0, &rtmpmsg.DataMessage{
		Name:     "@setDataFrame",
		Encoding: rtmpmsg.EncodingTypeAMF0,
		Body:     bytes.NewReader(meta),
	}); err != nil {
		return fmt.Errorf("failed to send metadata: %w", err)
	}

	if video != nil {
		record, err := muxer.NewAVCDecoderConfigurationRecord(video.SPS, video.PPS)
		if err != nil {
			return err
		}
		body, err := muxer.VideoTagBody(true, flvtag.AVCPacketTypeSequenceHeader, 0, record.Marshal())
		if err != nil {
			return err
		}
		if err := p.writeVideo(0, body); err != nil {
			return fmt.Errorf("failed to send AVC sequence header: %w", err)
		}
		p.hasVideo = true
	}

	if audio != nil {
		body, err := muxer.AudioTagBody(flvtag.AACPacketTypeSequenceHeader, audio.AudioConfig)
		if err != nil {
			return err
		}
		if err := p.writeAudio(0, body); err != nil {
			return fmt.Errorf("failed to send AAC sequence header: %w", err)
		}
	}
	return nil
}

// WritePacket sends one encoded packet as an FLV tag
func (p *Publisher) WritePacket(pkt *models.EncodedPacket) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotConnected
	}

	ts := uint32(pkt.Timestamp)
	switch pkt.Stream {
	case models.StreamVideo:
		avcc := pkt.Payload
		if muxer.IsAnnexBFormat(pkt.Payload) {
			var err error
			if avcc, err = muxer.ConvertAnnexBToAVCC(pkt.Payload); err != nil {
				return err
			}
		}
		body, err := muxer.VideoTagBody(pkt.KeyFrame, flvtag.AVCPacketTypeNALU, 0, avcc)
		if err != nil {
			return err
		}
		return p.writeVideo(ts, body)

	case models.StreamAudio:
		body, err := muxer.AudioTagBody(flvtag.AACPacketTypeRaw, pkt.Payload)
		if err != nil {
			return err
		}
		return p.writeAudio(ts, body)

	default:
		return fmt.Errorf("unknown stream %d", pkt.Stream)
	}
}

// WriteTrailer sends the AVC end of sequence marker
func (p *Publisher) WriteTrailer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotConnected
	}
	if !p.hasVideo {
		return nil
	}
	body, err := muxer.VideoTagBody(true, flvtag.AVCPacketTypeEOS, 0, nil)
	if err != nil {
		return err
	}
	return p.writeVideo(0, body)
}

// CloseOutput closes the connection
func (p *Publisher) CloseOutput() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	p.stream = nil
	p.hasVideo = false
	p.log.Info("RTMP connection closed")
	return err
}

func (p *Publisher) writeVideo(ts uint32, body []byte) error {
	if err := p.stream.Write(videoChunkStreamID, ts, &rtmpmsg.VideoMessage{
		Payload: bytes.NewReader(body),
	}); err != nil {
		p.recordError()
		return err
	}
	p.recordBytes(len(body))
	return nil
}

func (p *Publisher) writeAudio(ts uint32, body []byte) error {
	if err := p.stream.Write(audioChunkStreamID, ts, &rtmpmsg.AudioMessage{
		Payload: bytes.NewReader(body),
	}); err != nil {
		p.recordError()
		return err
	}
	p.recordBytes(len(body))
	return nil
}

func (p *Publisher) recordError() {
	if p.metrics != nil {
		p.metrics.RecordOutputError("rtmp")
	}
}

func (p *Publisher) recordBytes(n int) {
	if p.metrics != nil {
		p.metrics.RecordOutputBytes("rtmp", n)
	}
}

// encodeMetadata builds the AMF0 body of an @setDataFrame message
func encodeMetadata(video, audio *models.CodecInfo) ([]byte, error) {
	meta := amf0.ECMAArray{
		"encoder":  "rapidcast",
		"duration": 0.0,
	}
	if video != nil {
		meta["width"] = float64(video.Width)
		meta["height"] = float64(video.Height)
		meta["framerate"] = video.FrameRate
		meta["videocodecid"] = float64(flvtag.CodecIDAVC)
		meta["videodatarate"] = float64(video.Bitrate) / 1000
	}
	if audio != nil {
		meta["audiocodecid"] = float64(flvtag.SoundFormatAAC)
		meta["audiosamplerate"] = float64(audio.SampleRate)
		meta["audiosamplesize"] = 16.0
		meta["audiodatarate"] = float64(audio.Bitrate) / 1000
		meta["stereo"] = audio.Channels > 1
	}

	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	if err := enc.Encode("onMetaData"); err != nil {
		return nil, err
	}
	if err := enc.Encode(meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ session.Muxer = (*Publisher)(nil)
