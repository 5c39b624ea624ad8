// Package session owns one capture-to-stream pipeline: the pixel format
// converter, the audio re-blocking buffer, the shared timeline and the two
// encode paths, all writing to one muxer in submission order.
//
// A Session performs no locking. When video and audio are produced on
// different goroutines the caller must serialize every call.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/audiobuf"
	"rapidcast/internal/metrics"
	"rapidcast/internal/pixfmt"
	"rapidcast/internal/timeline"
	"rapidcast/pkg/models"
)

var (
	ErrNotOpen     = errors.New("session is not open")
	ErrAlreadyOpen = errors.New("session is already open")
	ErrClosed      = errors.New("session is closed")
)

// Options describe the negotiated formats and the output of a session
type Options struct {
	Width         int
	Height        int
	FrameRate     int
	VideoBitrate  int
	GOPSize       int
	Profile       string
	Preset        string
	Tune          string
	AudioEnabled  bool
	SampleRate    int
	Channels      int
	AudioBitrate  int
	AudioCapacity int // audio buffer capacity in samples
	OutputURL     string
}

// DefaultOptions returns the encoder settings used for live streaming
func DefaultOptions() Options {
	return Options{
		Width:         640,
		Height:        480,
		FrameRate:     30,
		VideoBitrate:  3200000,
		GOPSize:       12,
		Profile:       "main",
		Preset:        "ultrafast",
		Tune:          "film",
		AudioEnabled:  true,
		SampleRate:    44100,
		Channels:      1,
		AudioBitrate:  128000,
		AudioCapacity: audiobuf.DefaultCapacity,
	}
}

// Validate checks the options before any resource is acquired
func (o Options) Validate() error {
	if o.OutputURL == "" {
		return fmt.Errorf("output URL is required")
	}
	if err := pixfmt.CheckSize(o.Width, o.Height); err != nil {
		return err
	}
	if o.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %d", o.FrameRate)
	}
	if o.AudioEnabled {
		if o.SampleRate <= 0 {
			return fmt.Errorf("invalid sample rate %d", o.SampleRate)
		}
		if o.Channels <= 0 {
			return fmt.Errorf("invalid channel count %d", o.Channels)
		}
	}
	return nil
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics records session activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithID overrides the generated session ID
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is a single-use pipeline from raw frames to a muxed output.
type Session struct {
	id      string
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	info    *models.SessionInfo

	videoEnc VideoEncoder
	audioEnc AudioEncoder
	muxer    Muxer

	state models.SessionState
	opts  Options

	clock     *timeline.Clock
	converter *pixfmt.Converter
	buffer    *audiobuf.Buffer
	video     *videoPath
	audio     *audioPath
}

// New creates an unopened session. audio may be nil when the session will
// be opened with audio disabled.
func New(video VideoEncoder, audio AudioEncoder, muxer Muxer, opts ...Option) *Session {
	s := &Session{
		videoEnc: video,
		audioEnc: audio,
		muxer:    muxer,
		state:    models.SessionStateUnopened,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("session", s.id)
	s.info = &models.SessionInfo{ID: s.id, State: models.SessionStateUnopened}
	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Info returns the session's registry record. It is safe to read from
// other goroutines.
func (s *Session) Info() *models.SessionInfo {
	return s.info
}

// Options returns the options the session was opened with
func (s *Session) Options() Options {
	return s.opts
}

// Open configures both encoders, opens the output, writes the container
// header and resets the timeline. Everything acquired is released again
// if any step fails, leaving the session unopened.
func (s *Session) Open(ctx context.Context, opts Options) (err error) {
	switch s.state {
	case models.SessionStateOpen:
		return ErrAlreadyOpen
	case models.SessionStateClosed:
		return ErrClosed
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid session options: %w", err)
	}
	if opts.AudioEnabled && s.audioEnc == nil {
		return fmt.Errorf("audio enabled without an audio encoder")
	}

	var release []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(release) - 1; i >= 0; i-- {
			if rerr := release[i](); rerr != nil {
				s.log.WithError(rerr).Warn("Release after failed open")
			}
		}
		if s.metrics != nil {
			s.metrics.RecordSessionFailure()
		}
	}()

	converter, err := pixfmt.NewConverter(opts.Width, opts.Height)
	if err != nil {
		return err
	}

	videoInfo, err := s.videoEnc.Configure(VideoConfig{
		Width:     opts.Width,
		Height:    opts.Height,
		FrameRate: opts.FrameRate,
		Bitrate:   opts.VideoBitrate,
		GOPSize:   opts.GOPSize,
		Profile:   opts.Profile,
		Preset:    opts.Preset,
		Tune:      opts.Tune,
	})
	if err != nil {
		return fmt.Errorf("failed to open video encoder: %w", err)
	}
	release = append(release, s.videoEnc.Close)

	var audioInfo *models.CodecInfo
	frameSize := 0
	if opts.AudioEnabled {
		audioInfo, err = s.audioEnc.Configure(AudioConfig{
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
			Bitrate:    opts.AudioBitrate,
		})
		if err != nil {
			return fmt.Errorf("failed to open audio encoder: %w", err)
		}
		release = append(release, s.audioEnc.Close)

		frameSize = s.audioEnc.FrameSize()
		if frameSize <= 0 {
			return fmt.Errorf("audio encoder reported frame size %d", frameSize)
		}
		if opts.AudioCapacity <= 0 {
			opts.AudioCapacity = audiobuf.DefaultCapacity
		}
		if opts.AudioCapacity < 2*frameSize*opts.Channels {
			return fmt.Errorf("audio buffer capacity %d below two blocks of %d samples", opts.AudioCapacity, frameSize*opts.Channels)
		}
	}

	if err := s.muxer.OpenOutput(ctx, opts.OutputURL); err != nil {
		return fmt.Errorf("failed to open output %s: %w", opts.OutputURL, err)
	}
	release = append(release, s.muxer.CloseOutput)

	if err := s.muxer.WriteHeader(videoInfo, audioInfo); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	s.opts = opts
	s.converter = converter
	s.clock = timeline.New(opts.SampleRate, opts.FrameRate, opts.AudioEnabled)
	s.clock.Reset()

	s.video = &videoPath{
		enc:   s.videoEnc,
		conv:  converter,
		clock: s.clock,
		sink:  s.writePacket,
		log:   s.log,
	}
	if opts.AudioEnabled {
		s.buffer = audiobuf.New(opts.AudioCapacity, s.log)
		s.buffer.Clear()
		s.audio = &audioPath{
			enc:       s.audioEnc,
			buf:       s.buffer,
			clock:     s.clock,
			frameSize: frameSize,
			channels:  opts.Channels,
			sink:      s.writePacket,
			log:       s.log,
		}
	}

	s.state = models.SessionStateOpen
	s.info.SetOpened(opts.OutputURL, videoInfo, audioInfo)
	s.info.SetState(models.SessionStateOpen)
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}

	fields := logrus.Fields{
		"output":      opts.OutputURL,
		"size":        fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"sample_rate": opts.SampleRate,
		"frame_size":  frameSize,
		"audio":       opts.AudioEnabled,
	}
	if s.buffer != nil {
		fields["audio_buffer"] = s.buffer.Capacity()
	}
	s.log.WithFields(fields).Info("Session opened")
	return nil
}

// EncodeVideoFrame converts and encodes one raw semi-planar frame. The
// returned error is only set when the session is not open; encoder and
// muxer problems are reported through the Result.
func (s *Session) EncodeVideoFrame(raw []byte) (Result, error) {
	if s.state != models.SessionStateOpen {
		return Result{Outcome: Failed, Err: ErrNotOpen}, ErrNotOpen
	}

	s.info.RecordInput(models.StreamVideo, 0)
	if s.metrics != nil {
		s.metrics.RecordInput("video")
	}

	res := s.video.encode(raw)
	switch res.Outcome {
	case NoOutputYet:
		s.info.RecordNoOutput()
		if s.metrics != nil {
			s.metrics.RecordNoOutput("video")
		}
	case Failed:
		s.info.RecordEncodeFailure()
		if s.metrics != nil {
			s.metrics.RecordEncodeFailure("video")
		}
	}
	return res, nil
}

// EncodeAudioChunk buffers samples and encodes every full block. The
// returned error is only set when the session is not open.
func (s *Session) EncodeAudioChunk(samples []int16) (AudioResult, error) {
	if s.state != models.SessionStateOpen {
		return AudioResult{}, ErrNotOpen
	}
	if s.audio == nil {
		return AudioResult{}, nil
	}

	s.info.RecordInput(models.StreamAudio, len(samples))
	if s.metrics != nil {
		s.metrics.RecordInput("audio")
	}

	res := s.audio.encode(samples)
	if res.Dropped {
		s.info.RecordDroppedChunk()
		if s.metrics != nil {
			s.metrics.RecordAudioDropped()
		}
	}
	for i := 0; i < res.NoOutput; i++ {
		s.info.RecordNoOutput()
	}
	for i := 0; i < res.Failures; i++ {
		s.info.RecordEncodeFailure()
	}
	s.info.SetBufferedSamples(s.BufferedSamples())
	if s.metrics != nil {
		s.metrics.RecordNoOutputN("audio", res.NoOutput)
		s.metrics.RecordEncodeFailureN("audio", res.Failures)
	}
	return res, nil
}

// AudioTimestamp returns the most recent audio timestamp in milliseconds
func (s *Session) AudioTimestamp() int64 {
	if s.clock == nil {
		return 0
	}
	return s.clock.AudioTimestamp()
}

// BufferedSamples returns the samples waiting for a full block
func (s *Session) BufferedSamples() int {
	if s.buffer == nil {
		return 0
	}
	return s.buffer.Size()
}

// Shutdown writes the trailer, closes both encoders and the output and
// releases the scratch buffers. All steps run even if earlier ones fail.
func (s *Session) Shutdown() error {
	if s.state != models.SessionStateOpen {
		return ErrNotOpen
	}

	var result *multierror.Error
	if err := s.muxer.WriteTrailer(); err != nil {
		result = multierror.Append(result, fmt.Errorf("write trailer: %w", err))
	}
	if err := s.videoEnc.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close video encoder: %w", err))
	}
	if s.opts.AudioEnabled {
		if err := s.audioEnc.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close audio encoder: %w", err))
		}
	}
	if err := s.muxer.CloseOutput(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close output: %w", err))
	}

	s.converter = nil
	s.buffer = nil
	s.video = nil
	s.audio = nil
	s.state = models.SessionStateClosed
	s.info.SetState(models.SessionStateClosed)

	started, _ := s.info.Times()
	if s.metrics != nil {
		s.metrics.RecordSessionStop(time.Since(started).Seconds())
	}

	stats := s.info.Snapshot()
	s.log.WithFields(logrus.Fields{
		"video_packets": stats.VideoPackets,
		"audio_packets": stats.AudioPackets,
		"bytes":         stats.BytesOut,
		"last_ts":       stats.LastTimestamp,
	}).Info("Session closed")

	return result.ErrorOrNil()
}

// writePacket hands a packet to the muxer. Write failures are logged and
// the packet is dropped; the stream continues.
func (s *Session) writePacket(pkt *models.EncodedPacket) error {
	stream := pkt.Stream.String()

	if err := s.muxer.WritePacket(pkt); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"stream":    stream,
			"timestamp": pkt.Timestamp,
		}).Error("Failed to write packet")
		s.info.RecordMuxError()
		if s.metrics != nil {
			s.metrics.RecordMuxError(stream)
		}
		return err
	}

	s.info.RecordPacket(pkt)
	if s.metrics != nil {
		s.metrics.RecordPacket(stream, len(pkt.Payload), pkt.KeyFrame)
		if pkt.Stream == models.StreamAudio {
			s.metrics.RecordAudioTimestamp(pkt.Timestamp)
		}
	}
	return nil
}
