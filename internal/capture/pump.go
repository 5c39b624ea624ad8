package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rapidcast/internal/pixfmt"
	"rapidcast/internal/session"
)

// DefaultChunkSamples is the audio chunk size handed to the session
const DefaultChunkSamples = 2048

// Session is the part of session.Session the pump drives
type Session interface {
	EncodeVideoFrame(raw []byte) (session.Result, error)
	EncodeAudioChunk(samples []int16) (session.AudioResult, error)
	Shutdown() error
}

// Config describes the raw formats coming from the sources
type Config struct {
	Width        int
	Height       int
	FrameRate    int
	SampleRate   int
	Channels     int
	ChunkSamples int  // samples per channel in one audio chunk
	Realtime     bool // pace the sources at their nominal rate

	// BufferCapacity is the session's audio buffer size in samples. When
	// set it must hold two interleaved chunks.
	BufferCapacity int
}

// Pump feeds a session from one video and one optional audio producer.
// Both producers run concurrently and share one lock around the session.
type Pump struct {
	cfg   Config
	sess  Session
	video VideoSource
	audio AudioSource
	log   logrus.FieldLogger

	mu sync.Mutex
}

// NewPump creates a pump. audio may be nil for a video-only session.
func NewPump(cfg Config, sess Session, video VideoSource, audio AudioSource, log logrus.FieldLogger) (*Pump, error) {
	if video == nil {
		return nil, fmt.Errorf("video source is required")
	}
	if err := pixfmt.CheckSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", cfg.FrameRate)
	}
	if audio != nil && (cfg.SampleRate <= 0 || cfg.Channels <= 0) {
		return nil, fmt.Errorf("invalid audio format %d Hz x%d", cfg.SampleRate, cfg.Channels)
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = DefaultChunkSamples
	}
	if audio != nil && cfg.BufferCapacity > 0 && cfg.BufferCapacity < 2*cfg.ChunkSamples*cfg.Channels {
		return nil, fmt.Errorf("audio buffer capacity %d must hold two chunks of %d samples x%d channels",
			cfg.BufferCapacity, cfg.ChunkSamples, cfg.Channels)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pump{
		cfg:   cfg,
		sess:  sess,
		video: video,
		audio: audio,
		log:   log,
	}, nil
}

// Run pumps until both sources are exhausted or ctx is cancelled, then
// shuts the session down. A failing producer stops the other one.
func (p *Pump) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.runVideo(ctx)
	})

	if p.audio != nil {
		g.Go(func() error {
			return p.runAudio(ctx)
		})
	}

	err := g.Wait()

	p.mu.Lock()
	serr := p.sess.Shutdown()
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("shutdown: %w", serr)
	}
	return nil
}

func (p *Pump) runVideo(ctx context.Context) error {
	frame := make([]byte, pixfmt.FrameSize(p.cfg.Width, p.cfg.Height))
	tick := p.ticker(time.Second / time.Duration(p.cfg.FrameRate))
	defer tick.stop()

	var frames int
	for {
		if err := tick.wait(ctx); err != nil {
			return nil
		}

		if err := p.video.ReadFrame(frame); err != nil {
			if errors.Is(err, io.EOF) {
				p.log.WithField("frames", frames).Info("Video source finished")
				return nil
			}
			return fmt.Errorf("read video: %w", err)
		}

		p.mu.Lock()
		res, err := p.sess.EncodeVideoFrame(frame)
		p.mu.Unlock()
		if err != nil {
			return fmt.Errorf("encode video: %w", err)
		}
		if res.Outcome == session.Failed {
			p.log.WithError(res.Err).WithField("frame", frames).Debug("Video frame not encoded")
		}
		frames++
	}
}

func (p *Pump) runAudio(ctx context.Context) error {
	chunk := make([]int16, p.cfg.ChunkSamples*p.cfg.Channels)
	period := time.Duration(p.cfg.ChunkSamples) * time.Second / time.Duration(p.cfg.SampleRate)
	tick := p.ticker(period)
	defer tick.stop()

	var samples int
	for {
		if err := tick.wait(ctx); err != nil {
			return nil
		}

		n, err := p.audio.ReadSamples(chunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.WithField("samples", samples).Info("Audio source finished")
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
		if n == 0 {
			continue
		}

		p.mu.Lock()
		res, err := p.sess.EncodeAudioChunk(chunk[:n])
		p.mu.Unlock()
		if err != nil {
			return fmt.Errorf("encode audio: %w", err)
		}
		if res.Dropped {
			p.log.WithField("samples", n).Debug("Audio chunk dropped")
		}
		samples += n
	}
}

// pacer waits between reads; without realtime pacing it only checks ctx
type pacer struct {
	t *time.Ticker
}

func (p *Pump) ticker(period time.Duration) *pacer {
	if !p.cfg.Realtime || period <= 0 {
		return &pacer{}
	}
	return &pacer{t: time.NewTicker(period)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.t == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.t.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p.t != nil {
		p.t.Stop()
	}
}
